package signals

import (
	"context"
	"strings"
	"time"

	"tarot-talks/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// NewShare is an operator-created share.
type NewShare struct {
	Platform          models.Platform
	Status            models.ShareStatus
	PostURL           string
	AtURI             string
	SharedURL         string
	CardID            *uuid.UUID
	TalkID            *uuid.UUID
	Notes             string
	AuthorHandle      string
	AuthorDID         string
	AuthorDisplayName string
	SpeakerName       string
	SpeakerHandle     string
	PostedAt          *time.Time
}

// SharePatch is a partial operator edit. Nil fields are left untouched.
// Setting CardID or TalkID clears the other link; ClearLink removes both.
type SharePatch struct {
	Platform          *models.Platform
	Status            *models.ShareStatus
	PostURL           *string
	SharedURL         *string
	CardID            *uuid.UUID
	TalkID            *uuid.UUID
	ClearLink         bool
	Notes             *string
	AuthorHandle      *string
	AuthorDisplayName *string
	SpeakerName       *string
	SpeakerHandle     *string
	PostedAt          *time.Time
}

// Controller owns every state change of a share after creation.
type Controller struct {
	store         Store
	resolver      *Resolver
	metrics       MetricsFetcher
	relationships RelationshipChecker
	isLivePost    PostURLValidator
	now           func() time.Time
}

// NewController creates a new lifecycle controller
func NewController(store Store, resolver *Resolver, metrics MetricsFetcher, relationships RelationshipChecker, isLivePost PostURLValidator, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	if isLivePost == nil {
		isLivePost = func(string) bool { return false }
	}
	return &Controller{
		store:         store,
		resolver:      resolver,
		metrics:       metrics,
		relationships: relationships,
		isLivePost:    isLivePost,
		now:           now,
	}
}

// NormalizeHandle strips whitespace and a leading "@".
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// IsValidPlatform reports whether p is one of the known platforms.
func IsValidPlatform(p models.Platform) bool {
	return lo.Contains(models.Platforms, p)
}

func (c *Controller) Resolve(ctx context.Context, rawURL string) Resolution {
	return c.resolver.Resolve(ctx, rawURL)
}

func (c *Controller) Get(ctx context.Context, id uuid.UUID) (*models.Share, error) {
	return c.store.Get(ctx, id)
}

func (c *Controller) List(ctx context.Context, filter ShareFilter) ([]models.Share, error) {
	return c.store.List(ctx, filter)
}

func (c *Controller) ListMentions(ctx context.Context, limit int) ([]models.Share, error) {
	return c.store.ListMentions(ctx, limit)
}

func (c *Controller) Stats(ctx context.Context) (ShareStats, error) {
	return c.store.Stats(ctx, c.now())
}

// TopShares returns the most engaged self-authored shares of the last week.
func (c *Controller) TopShares(ctx context.Context, limit int) ([]models.Share, error) {
	return c.store.Top(ctx, c.now().AddDate(0, 0, -7), limit)
}

func (c *Controller) Delete(ctx context.Context, id uuid.UUID) error {
	return c.store.Delete(ctx, id)
}

// Create stores an operator share. Only self-track statuses are accepted;
// mentions are created by the ingestion pipeline alone.
func (c *Controller) Create(ctx context.Context, in NewShare) (*models.Share, error) {
	if in.Platform == "" {
		return nil, validation("platform is required")
	}
	if !IsValidPlatform(in.Platform) {
		return nil, validation("unknown platform %q", in.Platform)
	}
	if in.Status == "" {
		in.Status = models.StatusPosted
	}
	state, err := ParseSelfState(in.Status)
	if err != nil {
		return nil, err
	}
	if err := checkExclusiveLink(in.CardID, in.TalkID); err != nil {
		return nil, err
	}

	share := &models.Share{
		Platform:          in.Platform,
		Status:            state.Status(),
		PostURL:           strings.TrimSpace(in.PostURL),
		SharedURL:         strings.TrimSpace(in.SharedURL),
		CardID:            in.CardID,
		TalkID:            in.TalkID,
		Notes:             in.Notes,
		AuthorHandle:      NormalizeHandle(in.AuthorHandle),
		AuthorDID:         strings.TrimSpace(in.AuthorDID),
		AuthorDisplayName: in.AuthorDisplayName,
		SpeakerName:       in.SpeakerName,
		SpeakerHandle:     NormalizeHandle(in.SpeakerHandle),
		PostedAt:          in.PostedAt,
	}
	if uri := strings.TrimSpace(in.AtURI); uri != "" {
		share.AtURI = &uri
	}

	if share.SharedURL != "" && share.CardID == nil && share.TalkID == nil {
		res := c.resolver.Resolve(ctx, share.SharedURL)
		share.CardID, share.TalkID = res.CardID, res.TalkID
	}

	if err := c.store.Create(ctx, share); err != nil {
		return nil, err
	}
	log.Info().Str("share_id", share.ID.String()).Str("platform", string(share.Platform)).Msg("Created share")
	return c.store.Get(ctx, share.ID)
}

// Update applies an operator edit. Status edits stay within the
// self-authored track; mentions only move through Acknowledge.
func (c *Controller) Update(ctx context.Context, id uuid.UUID, patch SharePatch) (*models.Share, error) {
	current, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.CardID != nil && patch.TalkID != nil {
		return nil, validation("a share can reference a card or a talk, not both")
	}

	fields := map[string]any{}

	if patch.Status != nil && *patch.Status != current.Status {
		next, err := c.nextStatus(current.Status, *patch.Status)
		if err != nil {
			return nil, err
		}
		fields["status"] = next
	}
	if patch.Platform != nil {
		if !IsValidPlatform(*patch.Platform) {
			return nil, validation("unknown platform %q", *patch.Platform)
		}
		fields["platform"] = *patch.Platform
	}

	setString := func(column string, value *string, normalize func(string) string) {
		if value == nil {
			return
		}
		fields[column] = normalize(*value)
	}
	keep := func(s string) string { return s }
	setString("post_url", patch.PostURL, strings.TrimSpace)
	setString("shared_url", patch.SharedURL, strings.TrimSpace)
	setString("notes", patch.Notes, keep)
	setString("author_handle", patch.AuthorHandle, NormalizeHandle)
	setString("author_display_name", patch.AuthorDisplayName, keep)
	setString("speaker_name", patch.SpeakerName, keep)
	setString("speaker_handle", patch.SpeakerHandle, NormalizeHandle)
	if patch.PostedAt != nil {
		fields["posted_at"] = patch.PostedAt
	}

	switch {
	case patch.CardID != nil:
		fields["card_id"], fields["talk_id"] = patch.CardID, (*uuid.UUID)(nil)
	case patch.TalkID != nil:
		fields["card_id"], fields["talk_id"] = (*uuid.UUID)(nil), patch.TalkID
	case patch.ClearLink:
		fields["card_id"], fields["talk_id"] = (*uuid.UUID)(nil), (*uuid.UUID)(nil)
	case patch.SharedURL != nil && strings.TrimSpace(*patch.SharedURL) != "":
		if res := c.resolver.Resolve(ctx, *patch.SharedURL); res.Type != ResolvedNone {
			fields["card_id"], fields["talk_id"] = res.CardID, res.TalkID
		}
	}

	return c.store.Update(ctx, id, fields)
}

func (c *Controller) nextStatus(from, to models.ShareStatus) (models.ShareStatus, error) {
	state, err := ParseState(from)
	if err != nil {
		return "", err
	}
	switch current := state.(type) {
	case SelfState:
		next, err := ParseSelfState(to)
		if err != nil {
			return "", err
		}
		return current.Edit(next).Status(), nil
	default:
		return "", invalidTransition("status of a discovered mention cannot be edited (current status %q)", from)
	}
}

// Acknowledge marks a discovered mention as seen.
func (c *Controller) Acknowledge(ctx context.Context, id uuid.UUID) (*models.Share, error) {
	share, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	state, err := ParseState(share.Status)
	if err != nil {
		return nil, err
	}
	mention, ok := state.(MentionState)
	if !ok {
		return nil, invalidTransition("can only acknowledge discovered mentions (current status %q)", share.Status)
	}
	next, err := mention.Acknowledge()
	if err != nil {
		return nil, err
	}

	moved, err := c.store.TransitionStatus(ctx, id, mention.Status(), next.Status())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, invalidTransition("mention %s changed status concurrently", id)
	}

	log.Info().Str("share_id", id.String()).Msg("Acknowledged mention")
	return c.store.Get(ctx, id)
}

// RefreshMetrics overwrites the engagement counts, either from manual values
// or from a live fetch. A failed fetch leaves stored values untouched.
func (c *Controller) RefreshMetrics(ctx context.Context, id uuid.UUID, manual *PostMetrics) (*models.Share, error) {
	share, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if manual != nil {
		if manual.LikeCount < 0 || manual.RepostCount < 0 || manual.ReplyCount < 0 {
			return nil, validation("metrics cannot be negative")
		}
		refreshTotal.WithLabelValues("metrics", "manual", "ok").Inc()
		return c.writeMetrics(ctx, id, *manual)
	}

	if share.Platform != models.PlatformBluesky || !c.isLivePost(share.PostURL) {
		return nil, validation("manual metrics required for shares without a Bluesky post URL")
	}

	fetched, err := c.metrics.FetchMetricsForPost(ctx, share.PostURL)
	if err != nil {
		refreshTotal.WithLabelValues("metrics", "live", "error").Inc()
		return nil, upstream("failed to fetch metrics from Bluesky", err)
	}
	if fetched == nil {
		refreshTotal.WithLabelValues("metrics", "live", "unknown").Inc()
		return nil, upstream("could not determine metrics from Bluesky; the post may have been deleted", nil)
	}

	refreshTotal.WithLabelValues("metrics", "live", "ok").Inc()
	return c.writeMetrics(ctx, id, *fetched)
}

func (c *Controller) writeMetrics(ctx context.Context, id uuid.UUID, m PostMetrics) (*models.Share, error) {
	now := c.now()
	return c.store.Update(ctx, id, map[string]any{
		"like_count":         m.LikeCount,
		"repost_count":       m.RepostCount,
		"reply_count":        m.ReplyCount,
		"metrics_updated_at": &now,
	})
}

// RefreshRelationship records whether the site account follows the speaker
// (or, for mentions, the author).
func (c *Controller) RefreshRelationship(ctx context.Context, id uuid.UUID, manual *bool) (*models.Share, error) {
	share, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if manual != nil {
		refreshTotal.WithLabelValues("relationship", "manual", "ok").Inc()
		return c.writeRelationship(ctx, id, *manual)
	}

	if share.Platform != models.PlatformBluesky {
		return nil, validation("manual following status required for non-Bluesky shares")
	}

	handle := lo.CoalesceOrEmpty(NormalizeHandle(share.SpeakerHandle), NormalizeHandle(share.AuthorHandle))
	if handle == "" {
		return nil, validation("no handle available to check follow status")
	}

	following, err := c.relationships.CheckFollowing(ctx, handle)
	if err != nil {
		refreshTotal.WithLabelValues("relationship", "live", "error").Inc()
		return nil, upstream("failed to check follow status on Bluesky", err)
	}
	if following == nil {
		refreshTotal.WithLabelValues("relationship", "live", "unknown").Inc()
		return nil, upstream("could not determine follow status on Bluesky", nil)
	}

	refreshTotal.WithLabelValues("relationship", "live", "ok").Inc()
	return c.writeRelationship(ctx, id, *following)
}

func (c *Controller) writeRelationship(ctx context.Context, id uuid.UUID, following bool) (*models.Share, error) {
	now := c.now()
	return c.store.Update(ctx, id, map[string]any{
		"following":               &following,
		"relationship_updated_at": &now,
	})
}

// RefreshSummary counts the outcome of a batch refresh.
type RefreshSummary struct {
	Shares        int `json:"shares"`
	Metrics       int `json:"metrics"`
	Relationships int `json:"relationships"`
	Failed        int `json:"failed"`
}

// RefreshStale refreshes metrics and relationships of Bluesky shares not
// refreshed within olderThan. Shares without a live post URL or a handle
// skip the part they cannot refresh. Failures are logged per share and counted.
func (c *Controller) RefreshStale(ctx context.Context, olderThan time.Duration, limit int) (RefreshSummary, error) {
	var summary RefreshSummary

	shares, err := c.store.ListStale(ctx, models.PlatformBluesky, c.now().Add(-olderThan), limit)
	if err != nil {
		return summary, err
	}
	summary.Shares = len(shares)
	cutoff := c.now().Add(-olderThan)

	for _, share := range shares {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		logger := log.With().Str("share_id", share.ID.String()).Logger()

		if c.isLivePost(share.PostURL) && (share.MetricsUpdatedAt == nil || share.MetricsUpdatedAt.Before(cutoff)) {
			if _, err := c.RefreshMetrics(ctx, share.ID, nil); err != nil {
				logger.Warn().Err(err).Msg("Failed to refresh metrics")
				summary.Failed++
			} else {
				summary.Metrics++
			}
		}
		hasHandle := share.SpeakerHandle != "" || share.AuthorHandle != ""
		if hasHandle && (share.RelationshipUpdatedAt == nil || share.RelationshipUpdatedAt.Before(cutoff)) {
			if _, err := c.RefreshRelationship(ctx, share.ID, nil); err != nil {
				logger.Warn().Err(err).Msg("Failed to refresh relationship")
				summary.Failed++
			} else {
				summary.Relationships++
			}
		}
	}

	log.Info().
		Int("shares", summary.Shares).
		Int("metrics", summary.Metrics).
		Int("relationships", summary.Relationships).
		Int("failed", summary.Failed).
		Msg("Stale share refresh complete")
	return summary, nil
}
