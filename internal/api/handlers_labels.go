package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/store"
	"github.com/rawblock/utxo-provenance/pkg/models"
)

var validCategories = map[models.LabelCategory]bool{
	models.CategoryExchange: true,
	models.CategoryPersonal: true,
	models.CategoryMerchant: true,
	models.CategoryMixer:    true,
	models.CategoryOther:    true,
}

type upsertLabelRequest struct {
	Address  string `json:"address"`
	Label    string `json:"label"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

func (h *Handler) requireStore(c *gin.Context) bool {
	if h.Store == nil {
		detail(c, http.StatusServiceUnavailable, "label store is not configured")
		return false
	}
	return true
}

// handleUpsertLabel serves POST /addresses/labels.
func (h *Handler) handleUpsertLabel(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	var req upsertLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Address == "" || req.Label == "" {
		detail(c, http.StatusBadRequest, "address and label are required")
		return
	}
	category := models.LabelCategory(req.Category)
	if category == "" {
		category = models.CategoryOther
	}
	if !validCategories[category] {
		detail(c, http.StatusBadRequest, "category must be one of exchange, personal, merchant, mixer, other")
		return
	}
	label := models.AddressLabel{Address: req.Address, Label: req.Label, Category: category, Notes: req.Notes}
	if err := h.Store.UpsertLabel(c.Request.Context(), label); err != nil {
		detail(c, http.StatusInternalServerError, "failed to save label: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, label)
}

// handleGetLabel serves GET /addresses/{address}/label and
// GET /addresses/labels/{address}.
func (h *Handler) handleGetLabel(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	addr := c.Param("address")
	label, err := h.Store.GetLabel(c.Request.Context(), addr)
	if errors.Is(err, store.ErrNotFound) {
		detail(c, http.StatusNotFound, "no label for this address")
		return
	}
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to fetch label: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, label)
}

// handleListLabels serves GET /addresses/labels.
func (h *Handler) handleListLabels(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	labels, err := h.Store.ListLabels(c.Request.Context())
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to list labels: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels})
}

// handleDeleteLabel serves DELETE /addresses/labels/{address}.
func (h *Handler) handleDeleteLabel(c *gin.Context) {
	if !h.requireStore(c) {
		return
	}
	addr := c.Param("address")
	if err := h.Store.DeleteLabel(c.Request.Context(), addr); err != nil {
		detail(c, http.StatusInternalServerError, "failed to delete label: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}
