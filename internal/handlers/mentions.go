package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type scanRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1"`
}

// ScanMentions handles POST /api/admin/mentions/scan
func (h *AdminHandler) ScanMentions(c *gin.Context) {
	var req scanRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.scanTimeout)
	defer cancel()

	result, err := h.scanner.Scan(ctx, req.Limit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && result.Total > 0 {
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error":   "Scan timed out before all mentions were stored",
				"created": result.Created,
				"skipped": result.Skipped,
				"failed":  result.Failed,
				"total":   result.Total,
			})
			return
		}
		if result.Total > 0 {
			// Keep the counts visible when persistence failed across the batch.
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to store discovered mentions",
				"created": result.Created,
				"skipped": result.Skipped,
				"failed":  result.Failed,
				"total":   result.Total,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListMentions handles GET /api/admin/mentions
func (h *AdminHandler) ListMentions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	mentions, err := h.shares.ListMentions(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"mentions": mentions})
}

// AcknowledgeMention handles POST /api/admin/mentions/:id/acknowledge
func (h *AdminHandler) AcknowledgeMention(c *gin.Context) {
	id, ok := shareID(c)
	if !ok {
		return
	}

	share, err := h.shares.Acknowledge(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "share": share})
}
