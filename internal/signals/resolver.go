package signals

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tarot-talks/internal/models"

	"github.com/dgraph-io/ristretto"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ResolutionType tags what a URL resolved to.
type ResolutionType string

const (
	ResolvedCard ResolutionType = "card"
	ResolvedTalk ResolutionType = "talk"
	ResolvedNone ResolutionType = "none"
)

// Resolution is the tagged result of resolving a site URL.
type Resolution struct {
	Type   ResolutionType `json:"type"`
	CardID *uuid.UUID     `json:"cardId,omitempty"`
	TalkID *uuid.UUID     `json:"talkId,omitempty"`
	Name   string         `json:"name,omitempty"`
}

var unresolved = Resolution{Type: ResolvedNone}

// ContentLookup finds cards and talks by slug. Missing rows are (nil, nil).
type ContentLookup interface {
	CardBySlug(ctx context.Context, slug string) (*models.Card, error)
	TalkBySlug(ctx context.Context, slug string) (*models.Talk, error)
	// Exists reports whether the row with id is still in the card or talk table.
	Exists(ctx context.Context, kind ResolutionType, id uuid.UUID) (bool, error)
}

// GormContentLookup reads the card and talk tables.
type GormContentLookup struct {
	db *gorm.DB
}

// NewGormContentLookup creates a new GormContentLookup
func NewGormContentLookup(db *gorm.DB) *GormContentLookup {
	return &GormContentLookup{db: db}
}

func (l *GormContentLookup) CardBySlug(ctx context.Context, slug string) (*models.Card, error) {
	var card models.Card
	err := l.db.WithContext(ctx).Where("slug = ?", slug).First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (l *GormContentLookup) TalkBySlug(ctx context.Context, slug string) (*models.Talk, error) {
	var talk models.Talk
	err := l.db.WithContext(ctx).Where("slug = ?", slug).First(&talk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &talk, nil
}

func (l *GormContentLookup) Exists(ctx context.Context, kind ResolutionType, id uuid.UUID) (bool, error) {
	var model any
	switch kind {
	case ResolvedCard:
		model = &models.Card{}
	case ResolvedTalk:
		model = &models.Talk{}
	default:
		return false, nil
	}
	var count int64
	if err := l.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

const resolutionTTL = 10 * time.Minute

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Resolver maps site URLs to the card or talk they point at.
type Resolver struct {
	domain string
	lookup ContentLookup
	cache  *cache.Cache[Resolution]
	inText *regexp.Regexp
}

// NewResolver creates a resolver for the given site domain. Successful slug
// lookups are cached in memory.
func NewResolver(domain string, lookup ContentLookup) (*Resolver, error) {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if domain == "" {
		return nil, fmt.Errorf("site domain is required")
	}

	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution cache: %w", err)
	}

	return &Resolver{
		domain: domain,
		lookup: lookup,
		cache:  cache.New[Resolution](ristretto_store.NewRistretto(client)),
		inText: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(domain) + `/[^\s)>"\]]+`),
	}, nil
}

// Resolve never fails: anything that is not a known card or talk page on
// this site resolves to ResolvedNone.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Resolution {
	kind, slug, ok := r.parse(rawURL)
	if !ok {
		return unresolved
	}

	key := kind + ":" + slug
	if cached, err := r.cache.Get(ctx, key); err == nil && cached.Type != "" {
		if r.stillExists(ctx, cached) {
			return cached
		}
		// The row was deleted or its slug reassigned since it was cached.
		_ = r.cache.Delete(ctx, key)
	}

	var res Resolution
	switch kind {
	case "cards":
		card, err := r.lookup.CardBySlug(ctx, slug)
		if err != nil {
			log.Warn().Err(err).Str("slug", slug).Msg("Card lookup failed while resolving URL")
			return unresolved
		}
		if card == nil {
			return unresolved
		}
		id := card.ID
		res = Resolution{Type: ResolvedCard, CardID: &id, Name: card.Name}
	case "talks":
		talk, err := r.lookup.TalkBySlug(ctx, slug)
		if err != nil {
			log.Warn().Err(err).Str("slug", slug).Msg("Talk lookup failed while resolving URL")
			return unresolved
		}
		if talk == nil {
			return unresolved
		}
		id := talk.ID
		name := talk.Title
		if talk.SpeakerName != "" {
			name = fmt.Sprintf("%s (%s)", talk.Title, talk.SpeakerName)
		}
		res = Resolution{Type: ResolvedTalk, TalkID: &id, Name: name}
	default:
		return unresolved
	}

	if err := r.cache.Set(ctx, key, res, store.WithExpiration(resolutionTTL), store.WithCost(1)); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Failed to cache URL resolution")
	}
	return res
}

// stillExists re-checks a cached resolution by primary key. Card and talk
// rows are owned elsewhere and can disappear at any time.
func (r *Resolver) stillExists(ctx context.Context, res Resolution) bool {
	id := res.CardID
	if res.Type == ResolvedTalk {
		id = res.TalkID
	}
	if id == nil {
		return false
	}
	ok, err := r.lookup.Exists(ctx, res.Type, *id)
	if err != nil {
		log.Warn().Err(err).Str("type", string(res.Type)).Msg("Existence check failed for cached resolution")
		return false
	}
	return ok
}

// parse splits a site URL into its route ("cards" or "talks") and slug.
func (r *Resolver) parse(rawURL string) (string, string, bool) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != r.domain {
		return "", "", false
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 {
		return "", "", false
	}
	kind := strings.ToLower(segments[0])
	slug := strings.ToLower(segments[1])
	if kind != "cards" && kind != "talks" {
		return "", "", false
	}
	if !slugPattern.MatchString(slug) {
		return "", "", false
	}
	return kind, slug, true
}

// ExtractSiteURL finds the first "<domain>/<path>" occurrence in free text
// and returns it as an https URL.
func (r *Resolver) ExtractSiteURL(text string) (string, bool) {
	match := r.inText.FindString(text)
	if match == "" {
		return "", false
	}
	match = strings.TrimRight(match, ".,;:!?'…")
	return "https://" + match, true
}

// IsSiteURL reports whether a link points anywhere on this site.
func (r *Resolver) IsSiteURL(link string) bool {
	raw := link
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") == r.domain
}
