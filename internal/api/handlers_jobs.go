package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/utxo-provenance/internal/apierr"
	"github.com/rawblock/utxo-provenance/internal/store"
)

// handleJobStatus serves GET /analysis/jobs/{id}: the polling endpoint for
// work dispatched through h.Jobs. The in-memory Manager answers first since
// it reflects state the store might not have flushed yet; a job that has
// aged out of memory (process restart) falls back to the durable record
// when a database is configured.
func (h *Handler) handleJobStatus(c *gin.Context) {
	id := c.Param("id")

	if h.Jobs != nil {
		if job, ok := h.Jobs.Get(id); ok {
			c.JSON(http.StatusOK, job)
			return
		}
	}

	if h.Store != nil {
		job, err := h.Store.GetJob(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, job)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			fail(c, apierr.Wrap(apierr.DependencyUnavailable, "job lookup failed", err))
			return
		}
	}

	fail(c, apierr.New(apierr.NotFound, "job not found"))
}
