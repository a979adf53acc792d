package signals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tarot-talks/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// SortOrder selects how share listings are ordered.
type SortOrder string

const (
	SortPostedAt   SortOrder = "postedAt"
	SortEngagement SortOrder = "engagement"
)

// ShareFilter narrows a share listing. Zero values mean "no constraint".
type ShareFilter struct {
	Platform models.Platform
	Status   models.ShareStatus
	Search   string
	DateFrom *time.Time
	DateTo   *time.Time
	SortBy   SortOrder
	Limit    int
	Offset   int
	// IncludeMentions keeps discovered/acknowledged shares in an unfiltered listing.
	IncludeMentions bool
}

// ShareStats counts shares by posting date.
type ShareStats struct {
	Today    int64 `json:"today"`
	ThisWeek int64 `json:"thisWeek"`
	Total    int64 `json:"total"`
}

// Store is the persistence boundary for shares.
type Store interface {
	Create(ctx context.Context, share *models.Share) error
	CreateIfAbsent(ctx context.Context, share *models.Share) (bool, error)
	ExistsByAtURI(ctx context.Context, atURI string) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Share, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) (*models.Share, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.ShareStatus) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter ShareFilter) ([]models.Share, error)
	ListMentions(ctx context.Context, limit int) ([]models.Share, error)
	ListStale(ctx context.Context, platform models.Platform, before time.Time, limit int) ([]models.Share, error)
	Stats(ctx context.Context, now time.Time) (ShareStats, error)
	Top(ctx context.Context, since time.Time, limit int) ([]models.Share, error)
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GormStore
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// checkExclusiveLink enforces that a share points at a card or a talk, not both.
func checkExclusiveLink(cardID, talkID *uuid.UUID) error {
	if cardID != nil && talkID != nil {
		return validation("a share can reference a card or a talk, not both")
	}
	return nil
}

func (s *GormStore) Create(ctx context.Context, share *models.Share) error {
	if err := checkExclusiveLink(share.CardID, share.TalkID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(share).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return validation("a share for this post already exists")
		}
		return fmt.Errorf("failed to create share: %w", err)
	}
	return nil
}

// CreateIfAbsent inserts the share unless another row already holds its
// at_uri. The unique index decides, so concurrent scans cannot both insert.
func (s *GormStore) CreateIfAbsent(ctx context.Context, share *models.Share) (bool, error) {
	if err := checkExclusiveLink(share.CardID, share.TalkID); err != nil {
		return false, err
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "at_uri"}}, DoNothing: true}).
		Create(share)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert share: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) ExistsByAtURI(ctx context.Context, atURI string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Share{}).Where("at_uri = ?", atURI).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up at_uri: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) Get(ctx context.Context, id uuid.UUID) (*models.Share, error) {
	var share models.Share
	err := s.db.WithContext(ctx).Preload("Card").Preload("Talk").Where("id = ?", id).First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("share %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load share: %w", err)
	}
	return &share, nil
}

// Update writes only the given columns. A map is used so that explicit
// zero values and NULLs are persisted.
func (s *GormStore) Update(ctx context.Context, id uuid.UUID, fields map[string]any) (*models.Share, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	cardID, talkID := current.CardID, current.TalkID
	if v, ok := fields["card_id"]; ok {
		cardID, _ = v.(*uuid.UUID)
	}
	if v, ok := fields["talk_id"]; ok {
		talkID, _ = v.(*uuid.UUID)
	}
	if err := checkExclusiveLink(cardID, talkID); err != nil {
		return nil, err
	}

	if len(fields) > 0 {
		err := s.db.WithContext(ctx).Model(&models.Share{}).Where("id = ?", id).Updates(fields).Error
		if err != nil {
			return nil, fmt.Errorf("failed to update share: %w", err)
		}
	}
	return s.Get(ctx, id)
}

// TransitionStatus moves a share from one status to another only if it is
// still in the expected status.
func (s *GormStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.ShareStatus) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Share{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update share status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Share{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete share: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("share %s not found", id)
	}
	return nil
}

const engagementExpr = "(COALESCE(like_count, 0) + COALESCE(repost_count, 0) + COALESCE(reply_count, 0))"

var mentionStatuses = []models.ShareStatus{models.StatusDiscovered, models.StatusAcknowledged}

func (s *GormStore) List(ctx context.Context, filter ShareFilter) ([]models.Share, error) {
	q := s.db.WithContext(ctx).Model(&models.Share{}).Preload("Card").Preload("Talk")

	if filter.Platform != "" {
		q = q.Where("platform = ?", filter.Platform)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	} else if !filter.IncludeMentions {
		q = q.Where("status NOT IN ?", mentionStatuses)
	}
	if filter.DateFrom != nil {
		q = q.Where("posted_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		q = q.Where("posted_at <= ?", *filter.DateTo)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		q = q.Where(
			"LOWER(notes) LIKE ? OR LOWER(speaker_name) LIKE ? OR LOWER(speaker_handle) LIKE ? OR LOWER(author_handle) LIKE ? OR LOWER(author_display_name) LIKE ?",
			pattern, pattern, pattern, pattern, pattern,
		)
	}

	if filter.SortBy == SortEngagement {
		q = q.Order(engagementExpr + " DESC").Order("created_at DESC")
	} else {
		q = q.Order("posted_at DESC").Order("created_at DESC")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var shares []models.Share
	if err := q.Limit(limit).Find(&shares).Error; err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	return shares, nil
}

func (s *GormStore) ListMentions(ctx context.Context, limit int) ([]models.Share, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var shares []models.Share
	err := s.db.WithContext(ctx).Preload("Card").Preload("Talk").
		Where("status = ?", models.StatusDiscovered).
		Order("discovered_at DESC").
		Limit(limit).
		Find(&shares).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	return shares, nil
}

// ListStale returns shares on a platform whose metrics or relationship were
// never refreshed or were last refreshed before the cutoff. Metrics only
// count as stale when there is a post URL, relationships only when there is
// a handle to check.
func (s *GormStore) ListStale(ctx context.Context, platform models.Platform, before time.Time, limit int) ([]models.Share, error) {
	var shares []models.Share
	err := s.db.WithContext(ctx).
		Where("platform = ?", platform).
		Where(
			"(COALESCE(post_url, '') <> '' AND (metrics_updated_at IS NULL OR metrics_updated_at < ?)) OR "+
				"((COALESCE(speaker_handle, '') <> '' OR COALESCE(author_handle, '') <> '') AND (relationship_updated_at IS NULL OR relationship_updated_at < ?))",
			before, before,
		).
		Order("metrics_updated_at ASC").
		Limit(limit).
		Find(&shares).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale shares: %w", err)
	}
	return shares, nil
}

func (s *GormStore) Stats(ctx context.Context, now time.Time) (ShareStats, error) {
	var stats ShareStats
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := todayStart.AddDate(0, 0, -7)

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Share{}).Count(&stats.Total).Error; err != nil {
		return stats, fmt.Errorf("failed to count shares: %w", err)
	}
	if err := db.Model(&models.Share{}).Where("posted_at >= ?", todayStart).Count(&stats.Today).Error; err != nil {
		return stats, fmt.Errorf("failed to count today's shares: %w", err)
	}
	if err := db.Model(&models.Share{}).Where("posted_at >= ?", weekStart).Count(&stats.ThisWeek).Error; err != nil {
		return stats, fmt.Errorf("failed to count this week's shares: %w", err)
	}
	return stats, nil
}

// Top returns self-authored shares posted since the cutoff, most engaged first.
func (s *GormStore) Top(ctx context.Context, since time.Time, limit int) ([]models.Share, error) {
	if limit <= 0 {
		limit = 5
	}
	var shares []models.Share
	err := s.db.WithContext(ctx).Preload("Card").Preload("Talk").
		Where("posted_at >= ?", since).
		Where("status NOT IN ?", mentionStatuses).
		Order(engagementExpr + " DESC").
		Limit(limit).
		Find(&shares).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load top shares: %w", err)
	}
	return shares, nil
}
