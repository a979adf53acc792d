package handlers

import (
	"net/http"
	"strconv"
	"time"

	"tarot-talks/internal/models"
	"tarot-talks/internal/signals"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createShareRequest struct {
	Platform          models.Platform    `json:"platform" binding:"required,share_platform"`
	Status            models.ShareStatus `json:"status" binding:"omitempty,share_status"`
	PostURL           string             `json:"post_url" binding:"max=2048"`
	AtURI             string             `json:"at_uri" binding:"omitempty,startswith=at://"`
	SharedURL         string             `json:"shared_url" binding:"max=2048"`
	CardID            *uuid.UUID         `json:"card_id"`
	TalkID            *uuid.UUID         `json:"talk_id"`
	Notes             string             `json:"notes"`
	AuthorHandle      string             `json:"author_handle" binding:"max=253"`
	AuthorDID         string             `json:"author_did"`
	AuthorDisplayName string             `json:"author_display_name"`
	SpeakerName       string             `json:"speaker_name"`
	SpeakerHandle     string             `json:"speaker_handle" binding:"max=253"`
	PostedAt          *time.Time         `json:"posted_at"`
}

type updateShareRequest struct {
	Platform          *models.Platform    `json:"platform" binding:"omitempty,share_platform"`
	Status            *models.ShareStatus `json:"status" binding:"omitempty,share_status"`
	PostURL           *string             `json:"post_url" binding:"omitempty,max=2048"`
	SharedURL         *string             `json:"shared_url" binding:"omitempty,max=2048"`
	CardID            *uuid.UUID          `json:"card_id"`
	TalkID            *uuid.UUID          `json:"talk_id"`
	ClearLink         bool                `json:"clear_link"`
	Notes             *string             `json:"notes"`
	AuthorHandle      *string             `json:"author_handle" binding:"omitempty,max=253"`
	AuthorDisplayName *string             `json:"author_display_name"`
	SpeakerName       *string             `json:"speaker_name"`
	SpeakerHandle     *string             `json:"speaker_handle" binding:"omitempty,max=253"`
	PostedAt          *time.Time          `json:"posted_at"`
}

type metricsRequest struct {
	LikeCount   *int `json:"likeCount"`
	RepostCount *int `json:"repostCount"`
	ReplyCount  *int `json:"replyCount"`
}

type relationshipRequest struct {
	Following *bool `json:"following"`
}

type resolveRequest struct {
	URL string `json:"url" binding:"required"`
}

// ListShares handles GET /api/admin/shares
func (h *AdminHandler) ListShares(c *gin.Context) {
	filter := signals.ShareFilter{
		Platform:        models.Platform(c.Query("platform")),
		Status:          models.ShareStatus(c.Query("status")),
		Search:          c.Query("search"),
		SortBy:          signals.SortOrder(c.DefaultQuery("sortBy", string(signals.SortPostedAt))),
		IncludeMentions: c.Query("includeMentions") == "true",
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	for param, target := range map[string]**time.Time{"dateFrom": &filter.DateFrom, "dateTo": &filter.DateTo} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param + ": use YYYY-MM-DD or RFC 3339"})
			return
		}
		*target = &t
	}

	shares, err := h.shares.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": shares, "count": len(shares)})
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

// GetShare handles GET /api/admin/shares/:id
func (h *AdminHandler) GetShare(c *gin.Context) {
	id, ok := shareID(c)
	if !ok {
		return
	}

	share, err := h.shares.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, share)
}

// CreateShare handles POST /api/admin/shares
func (h *AdminHandler) CreateShare(c *gin.Context) {
	var req createShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	share, err := h.shares.Create(c.Request.Context(), signals.NewShare{
		Platform:          req.Platform,
		Status:            req.Status,
		PostURL:           req.PostURL,
		AtURI:             req.AtURI,
		SharedURL:         req.SharedURL,
		CardID:            req.CardID,
		TalkID:            req.TalkID,
		Notes:             req.Notes,
		AuthorHandle:      req.AuthorHandle,
		AuthorDID:         req.AuthorDID,
		AuthorDisplayName: req.AuthorDisplayName,
		SpeakerName:       req.SpeakerName,
		SpeakerHandle:     req.SpeakerHandle,
		PostedAt:          req.PostedAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, share)
}

// UpdateShare handles PUT /api/admin/shares/:id
func (h *AdminHandler) UpdateShare(c *gin.Context) {
	id, ok := shareID(c)
	if !ok {
		return
	}

	var req updateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	share, err := h.shares.Update(c.Request.Context(), id, signals.SharePatch{
		Platform:          req.Platform,
		Status:            req.Status,
		PostURL:           req.PostURL,
		SharedURL:         req.SharedURL,
		CardID:            req.CardID,
		TalkID:            req.TalkID,
		ClearLink:         req.ClearLink,
		Notes:             req.Notes,
		AuthorHandle:      req.AuthorHandle,
		AuthorDisplayName: req.AuthorDisplayName,
		SpeakerName:       req.SpeakerName,
		SpeakerHandle:     req.SpeakerHandle,
		PostedAt:          req.PostedAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, share)
}

// DeleteShare handles DELETE /api/admin/shares/:id
func (h *AdminHandler) DeleteShare(c *gin.Context) {
	id, ok := shareID(c)
	if !ok {
		return
	}

	if err := h.shares.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ShareStats handles GET /api/admin/shares/stats
func (h *AdminHandler) ShareStats(c *gin.Context) {
	stats, err := h.shares.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// TopShares handles GET /api/admin/shares/top
func (h *AdminHandler) TopShares(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))

	shares, err := h.shares.TopShares(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": shares})
}

// RefreshMetrics handles POST /api/admin/shares/:id/metrics. A body with
// all three counts records them manually; an empty body fetches live.
func (h *AdminHandler) RefreshMetrics(c *gin.Context) {
	id, ok := shareID(c)
	if !ok {
		return
	}

	var req metricsRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	var manual *signals.PostMetrics
	if req.LikeCount != nil || req.RepostCount != nil || req.ReplyCount != nil {
		if req.LikeCount == nil || req.RepostCount == nil || req.ReplyCount == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "likeCount, repostCount and replyCount must all be provided"})
			return
		}
		manual = &signals.PostMetrics{
			LikeCount:   *req.LikeCount,
			RepostCount: *req.RepostCount,
			ReplyCount:  *req.ReplyCount,
		}
	}

	share, err := h.shares.RefreshMetrics(c.Request.Context(), id, manual)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "share": share})
}

// RefreshRelationship handles POST /api/admin/shares/:id/relationship
func (h *AdminHandler) RefreshRelationship(c *gin.Context) {
	id, ok := shareID(c)
	if !ok {
		return
	}

	var req relationshipRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	share, err := h.shares.RefreshRelationship(c.Request.Context(), id, req.Following)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "share": share})
}

// ResolveURL handles POST /api/admin/shares/resolve
func (h *AdminHandler) ResolveURL(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	c.JSON(http.StatusOK, h.shares.Resolve(c.Request.Context(), req.URL))
}
