package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"tarot-talks/internal/signals"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultScanTimeout = 2 * time.Minute

// MentionScanner runs one mention ingestion pass.
type MentionScanner interface {
	Scan(ctx context.Context, limit int) (signals.ScanResult, error)
}

// AdminHandler serves the admin JSON API for shares and mentions
type AdminHandler struct {
	shares      *signals.Controller
	scanner     MentionScanner
	scanTimeout time.Duration
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(shares *signals.Controller, scanner MentionScanner) *AdminHandler {
	return &AdminHandler{
		shares:      shares,
		scanner:     scanner,
		scanTimeout: defaultScanTimeout,
	}
}

// AdminAuth middleware for basic password protection
func AdminAuth(password string) gin.HandlerFunc {
	return gin.BasicAuth(gin.Accounts{
		"admin": password,
	})
}

// respondError renders err as {"error": message} with a status derived
// from its kind. Unclassified errors are logged and hidden.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, signals.ErrConfiguration):
		status = http.StatusServiceUnavailable
	case errors.Is(err, signals.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, signals.ErrInvalidTransition), errors.Is(err, signals.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, signals.ErrUpstream):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Int("status", status).Msg("Admin request failed")
	}
	if status == http.StatusInternalServerError || status == http.StatusGatewayTimeout {
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.JSON(status, gin.H{"error": signals.Message(err)})
}

// shareID parses the :id path parameter, rendering 400 when it is malformed.
func shareID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid share id"})
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON binds a JSON body when one is present. An empty body,
// including an empty chunked one, leaves obj untouched.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return false
	}
	return true
}
