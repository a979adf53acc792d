package signals

import (
	"context"
	"fmt"
	"time"

	"tarot-talks/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const (
	DefaultScanLimit = 100
	maxScanLimit     = 100
)

// ScanResult summarises one mention scan.
type ScanResult struct {
	Message string `json:"message"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
}

// Pipeline ingests mentions from the platform search into the share store.
type Pipeline struct {
	store    Store
	fetcher  MentionFetcher
	resolver *Resolver
	detector LanguageDetector
	now      func() time.Time
}

// NewPipeline creates a new ingestion pipeline. detector may be nil.
func NewPipeline(store Store, fetcher MentionFetcher, resolver *Resolver, detector LanguageDetector, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		store:    store,
		fetcher:  fetcher,
		resolver: resolver,
		detector: detector,
		now:      now,
	}
}

// Scan fetches up to limit mentions and stores the ones not seen before.
// Individual mentions that fail are logged and counted; only a failing
// search (or missing credentials) aborts the scan.
func (p *Pipeline) Scan(ctx context.Context, limit int) (ScanResult, error) {
	if !p.fetcher.Configured() {
		return ScanResult{}, configurationError(
			"Bluesky credentials not configured. Set BLUESKY_IDENTIFIER and BLUESKY_APP_PASSWORD to enable mention scanning.",
		)
	}
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	if limit > maxScanLimit {
		limit = maxScanLimit
	}

	start := p.now()
	defer func() { scanDuration.Observe(time.Since(start).Seconds()) }()

	mentions, err := p.fetcher.SearchMentions(ctx, limit)
	if err != nil {
		return ScanResult{}, upstream("Failed to search Bluesky for mentions", err)
	}

	result := ScanResult{Total: len(mentions)}
	if len(mentions) == 0 {
		result.Message = "No mentions found"
		return result, nil
	}

	log.Info().Int("count", len(mentions)).Msg("Processing mentions from search")

	for _, mention := range mentions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome := p.ingest(ctx, mention)
		scanMentionsTotal.WithLabelValues(string(outcome)).Inc()
		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	log.Info().
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Msg("Mention scan complete")

	if result.Failed > 0 && result.Created == 0 && result.Failed == result.Total-result.Skipped {
		result.Message = "Scan failed"
		return result, fmt.Errorf("all %d new mentions failed to persist", result.Failed)
	}

	result.Message = "Scan complete"
	return result, nil
}

type ingestOutcome string

const (
	outcomeCreated ingestOutcome = "created"
	outcomeSkipped ingestOutcome = "skipped"
	outcomeFailed  ingestOutcome = "failed"
)

func (p *Pipeline) ingest(ctx context.Context, mention Mention) ingestOutcome {
	logger := log.With().Str("at_uri", mention.URI).Str("author", mention.AuthorHandle).Logger()

	if mention.URI == "" {
		logger.Warn().Msg("Mention has no post identifier, skipping")
		return outcomeFailed
	}

	exists, err := p.store.ExistsByAtURI(ctx, mention.URI)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to check for existing mention")
		return outcomeFailed
	}
	if exists {
		return outcomeSkipped
	}

	share := p.buildShare(ctx, mention)

	created, err := p.store.CreateIfAbsent(ctx, share)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store mention")
		return outcomeFailed
	}
	if !created {
		// another scan stored it between the check and the insert
		return outcomeSkipped
	}

	logger.Info().Str("share_id", share.ID.String()).Str("shared_url", share.SharedURL).Msg("Stored new mention")
	return outcomeCreated
}

func (p *Pipeline) buildShare(ctx context.Context, mention Mention) *models.Share {
	discoveredAt := p.now()
	postedAt := discoveredAt
	if !mention.CreatedAt.IsZero() {
		postedAt = mention.CreatedAt
	}
	atURI := mention.URI

	share := &models.Share{
		Platform:          models.PlatformBluesky,
		Status:            Discovered.Status(),
		PostURL:           mention.PostURL,
		AtURI:             &atURI,
		AuthorDID:         mention.AuthorDID,
		AuthorHandle:      mention.AuthorHandle,
		AuthorDisplayName: mention.AuthorDisplayName,
		Notes:             mention.Text,
		LikeCount:         mention.LikeCount,
		RepostCount:       mention.RepostCount,
		ReplyCount:        mention.ReplyCount,
		MetricsUpdatedAt:  &discoveredAt,
		PostedAt:          &postedAt,
		DiscoveredAt:      &discoveredAt,
		Links:             mention.Links,
	}

	sharedURL, res := p.resolveMention(ctx, mention)
	share.SharedURL = sharedURL
	switch res.Type {
	case ResolvedCard:
		share.CardID = res.CardID
	case ResolvedTalk:
		share.TalkID = res.TalkID
	}

	if p.detector != nil {
		share.Language = p.detector.Detect(mention.Text)
	}
	return share
}

// resolveMention tries the URL written in the text first, then any site
// links carried in the post's facets or embed. The first candidate is kept
// as the shared URL even when nothing resolves.
func (p *Pipeline) resolveMention(ctx context.Context, mention Mention) (string, Resolution) {
	var candidates []string
	if u, ok := p.resolver.ExtractSiteURL(mention.Text); ok {
		candidates = append(candidates, u)
	}
	candidates = append(candidates, lo.Filter(mention.Links, func(link string, _ int) bool {
		return p.resolver.IsSiteURL(link)
	})...)
	candidates = lo.Uniq(candidates)

	if len(candidates) == 0 {
		return "", unresolved
	}
	for _, candidate := range candidates {
		if res := p.resolver.Resolve(ctx, candidate); res.Type != ResolvedNone {
			return candidate, res
		}
	}
	return candidates[0], unresolved
}
