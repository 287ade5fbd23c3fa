package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/apierr"
)

// handleGetTransaction serves GET /transactions/{txid}. resolve_inputs is
// accepted for API compatibility but input resolution already happens
// wherever the engine itself needs input attributes (change detection);
// the transaction returned here is the node's own decoded view.
func (h *Handler) handleGetTransaction(c *gin.Context) {
	txid := c.Param("txid")
	if txid == "" {
		detail(c, http.StatusBadRequest, "txid is required")
		return
	}
	tx, err := h.RPC.GetRawTransaction(txid)
	if err != nil {
		fail(c, classifyRPCErr("node RPC unavailable", err))
		return
	}
	if tx == nil {
		fail(c, apierr.New(apierr.NotFound, "transaction not found"))
		return
	}
	c.JSON(http.StatusOK, tx)
}
