package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/render"
	"github.com/rawblock/utxo-provenance/pkg/models"
)

// handleVisualization returns a handler rendering a trace result in the
// given format. The three route prefixes (timeline, flow-diagram, graph)
// all share the same underlying TraceResult structure, so they share one
// handler factory keyed only on output format.
func (h *Handler) handleVisualization(format string) gin.HandlerFunc {
	return func(c *gin.Context) {
		txid := c.Query("txid")
		if txid == "" {
			detail(c, http.StatusBadRequest, "txid is required")
			return
		}
		var result *models.TraceResult
		var err error
		if c.Query("direction") == "backward" {
			result, err = h.Engine.TraceBackward(c.Request.Context(), txid, h.queryDepth(c), nil)
		} else {
			vout, ok := h.queryVout(c)
			if !ok {
				detail(c, http.StatusBadRequest, "vout must be a non-negative integer")
				return
			}
			result, err = h.Engine.TraceForward(c.Request.Context(), txid, vout, h.queryDepth(c), nil)
		}
		if err != nil {
			detail(c, http.StatusInternalServerError, "trace failed: "+err.Error())
			return
		}

		switch format {
		case "ascii":
			c.String(http.StatusOK, render.ASCII(result))
		case "mermaid":
			c.String(http.StatusOK, render.Mermaid(result))
		case "html":
			c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(render.HTML(result)))
		default:
			out, err := render.JSON(result)
			if err != nil {
				detail(c, http.StatusInternalServerError, "failed to render graph: "+err.Error())
				return
			}
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(out))
		}
	}
}
