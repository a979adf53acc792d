package signals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"tarot-talks/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 6, 11, 15, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

type fixtures struct {
	db       *gorm.DB
	store    *GormStore
	resolver *Resolver
	card     models.Card
	talk     models.Talk
}

func setupFixtures(t *testing.T) *fixtures {
	t.Helper()
	db := setupTestDB(t)

	card := models.Card{Slug: "the-fool", Name: "The Fool"}
	require.NoError(t, db.Create(&card).Error)
	talk := models.Talk{Slug: "reading-the-room", Title: "Reading the Room", SpeakerName: "Ada Lovelace"}
	require.NoError(t, db.Create(&talk).Error)

	resolver, err := NewResolver("tarottalks.app", NewGormContentLookup(db))
	require.NoError(t, err)

	return &fixtures{
		db:       db,
		store:    NewGormStore(db),
		resolver: resolver,
		card:     card,
		talk:     talk,
	}
}

// fakeMentionFetcher returns a fixed batch of mentions.
type fakeMentionFetcher struct {
	configured bool
	mentions   []Mention
	err        error
	calls      int
	lastLimit  int
}

func (f *fakeMentionFetcher) Configured() bool { return f.configured }

func (f *fakeMentionFetcher) SearchMentions(_ context.Context, limit int) ([]Mention, error) {
	f.calls++
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.mentions, nil
}

// MockMetricsFetcher is a mock implementation of MetricsFetcher
type MockMetricsFetcher struct {
	mock.Mock
}

func (m *MockMetricsFetcher) FetchMetricsForPost(ctx context.Context, postURL string) (*PostMetrics, error) {
	args := m.Called(ctx, postURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PostMetrics), args.Error(1)
}

// MockRelationshipChecker is a mock implementation of RelationshipChecker
type MockRelationshipChecker struct {
	mock.Mock
}

func (m *MockRelationshipChecker) CheckFollowing(ctx context.Context, handle string) (*bool, error) {
	args := m.Called(ctx, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bool), args.Error(1)
}

// failingInsertStore wraps a Store and fails every insert.
type failingInsertStore struct {
	Store
}

func (failingInsertStore) CreateIfAbsent(context.Context, *models.Share) (bool, error) {
	return false, errors.New("disk full")
}

// staleExistsStore wraps a Store whose existence check never sees a row,
// as when another scan inserts between the check and the insert.
type staleExistsStore struct {
	Store
}

func (staleExistsStore) ExistsByAtURI(context.Context, string) (bool, error) {
	return false, nil
}

func isBlueskyPost(postURL string) bool {
	return strings.HasPrefix(postURL, "https://bsky.app/profile/")
}
