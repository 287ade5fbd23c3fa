package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/kyc"
	"github.com/rawblock/utxo-provenance/pkg/models"
)

type kycTraceRequest struct {
	ExchangeTxid       string `json:"exchange_txid" form:"exchange_txid"`
	DestinationAddress string `json:"destination_address" form:"destination_address"`
	DepthPreset        string `json:"depth_preset" form:"depth_preset"`
	Async              bool   `json:"async" form:"async"`
}

var presetsByName = map[string]models.DepthPreset{
	"quick":    models.PresetQuick,
	"standard": models.PresetStandard,
	"deep":     models.PresetDeep,
	"thorough": models.PresetThorough,
}

// handleKYCTrace serves GET|POST /kyc/trace.
func (h *Handler) handleKYCTrace(c *gin.Context) {
	var req kycTraceRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			detail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	} else {
		_ = c.ShouldBindQuery(&req)
	}
	if req.ExchangeTxid == "" || req.DestinationAddress == "" {
		detail(c, http.StatusBadRequest, "exchange_txid and destination_address are required")
		return
	}
	preset, ok := presetsByName[req.DepthPreset]
	if req.DepthPreset == "" {
		preset = models.PresetStandard
	} else if !ok {
		detail(c, http.StatusBadRequest, "depth_preset must be one of quick, standard, deep, thorough")
		return
	}

	if req.Async && h.Jobs != nil {
		requestJSON, _ := json.Marshal(req)
		job := h.Jobs.Dispatch(c.Request.Context(), "kyc_trace", string(requestJSON), h.kycTraceRunner(req.ExchangeTxid, req.DestinationAddress, preset))
		c.JSON(http.StatusAccepted, job)
		return
	}

	result, err := h.KYC.TraceKYCWithdrawal(c.Request.Context(), req.ExchangeTxid, req.DestinationAddress, preset)
	if err != nil {
		fail(c, classifyRPCErr("kyc trace failed", err))
		return
	}
	c.JSON(http.StatusOK, result)
}

// kycTraceRunner adapts a KYC trace into a jobs.Runner: the result is
// marshaled to JSON so it round-trips through AnalysisJob.Result as a
// plain string, the same way the runner has no other way to report a
// structured payload back to a poller.
func (h *Handler) kycTraceRunner(exchangeTxid, destinationAddress string, preset models.DepthPreset) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		result, err := h.KYC.TraceKYCWithdrawal(ctx, exchangeTxid, destinationAddress, preset)
		if err != nil {
			return "", err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(payload), nil
	}
}

// handleKYCQuickCheck serves GET /kyc/quick-check?exchange_txid&destination_address,
// a fixed-depth ("quick" preset) convenience wrapper around the same trace.
func (h *Handler) handleKYCQuickCheck(c *gin.Context) {
	exchangeTxid := c.Query("exchange_txid")
	destinationAddress := c.Query("destination_address")
	if exchangeTxid == "" || destinationAddress == "" {
		detail(c, http.StatusBadRequest, "exchange_txid and destination_address are required")
		return
	}
	result, err := h.KYC.TraceKYCWithdrawal(c.Request.Context(), exchangeTxid, destinationAddress, models.PresetQuick)
	if err != nil {
		fail(c, classifyRPCErr("kyc trace failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"overallPrivacyScore": result.OverallPrivacyScore,
		"privacyRating":       result.Rating,
		"coinjoinsEncountered": result.CoinjoinsEncountered,
		"destinationCount":    len(result.Destinations),
	})
}

// handleKYCPresets serves GET /kyc/presets.
func (h *Handler) handleKYCPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"presets": gin.H{
			"quick":    models.DepthForPreset(models.PresetQuick),
			"standard": models.DepthForPreset(models.PresetStandard),
			"deep":     models.DepthForPreset(models.PresetDeep),
			"thorough": models.DepthForPreset(models.PresetThorough),
		},
		"minDepth": kyc.MinDepth,
		"maxDepth": kyc.MaxDepth,
	})
}
