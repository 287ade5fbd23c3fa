package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleHealth serves GET /health.
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleElectrsStatus serves GET /electrs/status.
func (h *Handler) handleElectrsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.ElectrumEnabled})
}
