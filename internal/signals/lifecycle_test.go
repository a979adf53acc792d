package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"tarot-talks/internal/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type controllerFixture struct {
	*fixtures
	controller    *Controller
	metrics       *MockMetricsFetcher
	relationships *MockRelationshipChecker
}

func setupController(t *testing.T) *controllerFixture {
	t.Helper()
	f := setupFixtures(t)
	metrics := &MockMetricsFetcher{}
	relationships := &MockRelationshipChecker{}
	t.Cleanup(func() {
		metrics.AssertExpectations(t)
		relationships.AssertExpectations(t)
	})
	return &controllerFixture{
		fixtures:      f,
		controller:    NewController(f.store, f.resolver, metrics, relationships, isBlueskyPost, fixedClock),
		metrics:       metrics,
		relationships: relationships,
	}
}

func (cf *controllerFixture) insert(t *testing.T, share *models.Share) *models.Share {
	t.Helper()
	require.NoError(t, cf.store.Create(context.Background(), share))
	return share
}

func TestController_Create(t *testing.T) {
	cf := setupController(t)
	ctx := context.Background()

	t.Run("defaults to posted and resolves the shared url", func(t *testing.T) {
		share, err := cf.controller.Create(ctx, NewShare{
			Platform:      models.PlatformBluesky,
			SharedURL:     "https://tarottalks.app/cards/the-fool",
			SpeakerHandle: "@ada.bsky.social",
			AuthorHandle:  " @tarottalks.bsky.social ",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPosted, share.Status)
		require.NotNil(t, share.CardID)
		assert.Equal(t, cf.card.ID, *share.CardID)
		require.NotNil(t, share.Card)
		assert.Equal(t, "The Fool", share.Card.Name)
		assert.Equal(t, "ada.bsky.social", share.SpeakerHandle)
		assert.Equal(t, "tarottalks.bsky.social", share.AuthorHandle)
	})

	t.Run("explicit link wins over url resolution", func(t *testing.T) {
		share, err := cf.controller.Create(ctx, NewShare{
			Platform:  models.PlatformX,
			Status:    models.StatusDraft,
			SharedURL: "https://tarottalks.app/cards/the-fool",
			TalkID:    &cf.talk.ID,
		})
		require.NoError(t, err)
		assert.Nil(t, share.CardID)
		require.NotNil(t, share.TalkID)
		assert.Equal(t, cf.talk.ID, *share.TalkID)
	})

	t.Run("both links rejected", func(t *testing.T) {
		_, err := cf.controller.Create(ctx, NewShare{
			Platform: models.PlatformBluesky,
			CardID:   &cf.card.ID,
			TalkID:   &cf.talk.ID,
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("platform required and known", func(t *testing.T) {
		_, err := cf.controller.Create(ctx, NewShare{})
		assert.ErrorIs(t, err, ErrValidation)

		_, err = cf.controller.Create(ctx, NewShare{Platform: "myspace"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("mention statuses are reserved", func(t *testing.T) {
		_, err := cf.controller.Create(ctx, NewShare{Platform: models.PlatformBluesky, Status: models.StatusDiscovered})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = cf.controller.Create(ctx, NewShare{Platform: models.PlatformBluesky, Status: models.StatusAcknowledged})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestController_Update(t *testing.T) {
	cf := setupController(t)
	ctx := context.Background()

	t.Run("partial update only touches given fields", func(t *testing.T) {
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusDraft, Notes: "keep", LikeCount: 9})

		updated, err := cf.controller.Update(ctx, share.ID, SharePatch{
			Status:      lo.ToPtr(models.StatusVerified),
			SpeakerName: lo.ToPtr("Ada"),
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusVerified, updated.Status)
		assert.Equal(t, "Ada", updated.SpeakerName)
		assert.Equal(t, "keep", updated.Notes)
		assert.Equal(t, 9, updated.LikeCount)
	})

	t.Run("setting a talk clears the card", func(t *testing.T) {
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, CardID: &cf.card.ID})

		updated, err := cf.controller.Update(ctx, share.ID, SharePatch{TalkID: &cf.talk.ID})
		require.NoError(t, err)
		assert.Nil(t, updated.CardID)
		require.NotNil(t, updated.TalkID)
	})

	t.Run("new shared url re-resolves", func(t *testing.T) {
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, TalkID: &cf.talk.ID})

		updated, err := cf.controller.Update(ctx, share.ID, SharePatch{SharedURL: lo.ToPtr("tarottalks.app/cards/the-fool")})
		require.NoError(t, err)
		require.NotNil(t, updated.CardID)
		assert.Nil(t, updated.TalkID)
		assert.Equal(t, "tarottalks.app/cards/the-fool", updated.SharedURL)
	})

	t.Run("clear link", func(t *testing.T) {
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, CardID: &cf.card.ID})

		updated, err := cf.controller.Update(ctx, share.ID, SharePatch{ClearLink: true})
		require.NoError(t, err)
		assert.Nil(t, updated.CardID)
		assert.Nil(t, updated.TalkID)
	})

	t.Run("both links rejected", func(t *testing.T) {
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted})

		_, err := cf.controller.Update(ctx, share.ID, SharePatch{CardID: &cf.card.ID, TalkID: &cf.talk.ID})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("self share cannot move to mention track", func(t *testing.T) {
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted})

		_, err := cf.controller.Update(ctx, share.ID, SharePatch{Status: lo.ToPtr(models.StatusAcknowledged)})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("mention status cannot be edited", func(t *testing.T) {
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusDiscovered})

		_, err := cf.controller.Update(ctx, share.ID, SharePatch{Status: lo.ToPtr(models.StatusPosted)})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = cf.controller.Update(ctx, share.ID, SharePatch{Status: lo.ToPtr(models.StatusAcknowledged)})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		// Non-status edits on mentions are fine.
		updated, err := cf.controller.Update(ctx, share.ID, SharePatch{Notes: lo.ToPtr("follow up")})
		require.NoError(t, err)
		assert.Equal(t, models.StatusDiscovered, updated.Status)
	})

	t.Run("missing share", func(t *testing.T) {
		_, err := cf.controller.Update(ctx, uuid.New(), SharePatch{Notes: lo.ToPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestController_Acknowledge(t *testing.T) {
	cf := setupController(t)
	ctx := context.Background()

	t.Run("discovered becomes acknowledged", func(t *testing.T) {
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusDiscovered})

		acked, err := cf.controller.Acknowledge(ctx, share.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAcknowledged, acked.Status)
	})

	for _, status := range []models.ShareStatus{models.StatusAcknowledged, models.StatusDraft, models.StatusPosted, models.StatusVerified} {
		t.Run("rejected from "+string(status), func(t *testing.T) {
			share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: status, Notes: "unchanged"})
			before, err := cf.store.Get(ctx, share.ID)
			require.NoError(t, err)

			_, err = cf.controller.Acknowledge(ctx, share.ID)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			after, err := cf.store.Get(ctx, share.ID)
			require.NoError(t, err)
			assert.Equal(t, before.Status, after.Status)
			assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
		})
	}

	t.Run("missing share", func(t *testing.T) {
		_, err := cf.controller.Acknowledge(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestController_RefreshMetrics(t *testing.T) {
	ctx := context.Background()
	postURL := "https://bsky.app/profile/alice.bsky.social/post/3kabc"

	t.Run("live fetch overwrites counts", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, PostURL: postURL, LikeCount: 100, RepostCount: 50, ReplyCount: 25})
		cf.metrics.On("FetchMetricsForPost", mock.Anything, postURL).
			Return(&PostMetrics{LikeCount: 3, RepostCount: 0, ReplyCount: 1}, nil).Once()

		updated, err := cf.controller.RefreshMetrics(ctx, share.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, updated.LikeCount)
		assert.Equal(t, 0, updated.RepostCount)
		assert.Equal(t, 1, updated.ReplyCount)
		require.NotNil(t, updated.MetricsUpdatedAt)
		assert.True(t, updated.MetricsUpdatedAt.Equal(testNow))
	})

	t.Run("undetermined fetch keeps prior values", func(t *testing.T) {
		cf := setupController(t)
		earlier := testNow.Add(-time.Hour)
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, PostURL: postURL, LikeCount: 10, MetricsUpdatedAt: &earlier})
		cf.metrics.On("FetchMetricsForPost", mock.Anything, postURL).Return(nil, nil).Once()

		_, err := cf.controller.RefreshMetrics(ctx, share.ID, nil)
		assert.ErrorIs(t, err, ErrUpstream)

		after, err := cf.store.Get(ctx, share.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, after.LikeCount)
		assert.True(t, after.MetricsUpdatedAt.Equal(earlier))
	})

	t.Run("failed fetch keeps prior values", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, PostURL: postURL, LikeCount: 10})
		cf.metrics.On("FetchMetricsForPost", mock.Anything, postURL).Return(nil, errors.New("timeout")).Once()

		_, err := cf.controller.RefreshMetrics(ctx, share.ID, nil)
		assert.ErrorIs(t, err, ErrUpstream)

		after, err := cf.store.Get(ctx, share.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, after.LikeCount)
		assert.Nil(t, after.MetricsUpdatedAt)
	})

	t.Run("manual values on any platform", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformLinkedIn, Status: models.StatusPosted, LikeCount: 10})

		updated, err := cf.controller.RefreshMetrics(ctx, share.ID, &PostMetrics{LikeCount: 0, RepostCount: 4, ReplyCount: 2})
		require.NoError(t, err)
		assert.Equal(t, 0, updated.LikeCount)
		assert.Equal(t, 4, updated.RepostCount)
		assert.Equal(t, 2, updated.ReplyCount)
		require.NotNil(t, updated.MetricsUpdatedAt)
	})

	t.Run("negative manual values rejected", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformX, Status: models.StatusPosted})

		_, err := cf.controller.RefreshMetrics(ctx, share.ID, &PostMetrics{LikeCount: -1})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("manual required without live post url", func(t *testing.T) {
		cf := setupController(t)
		x := cf.insert(t, &models.Share{Platform: models.PlatformX, Status: models.StatusPosted, PostURL: "https://x.com/a/status/1"})
		noURL := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted})

		_, err := cf.controller.RefreshMetrics(ctx, x.ID, nil)
		assert.ErrorIs(t, err, ErrValidation)
		_, err = cf.controller.RefreshMetrics(ctx, noURL.ID, nil)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, Message(err), "manual metrics required")
	})
}

func TestController_RefreshRelationship(t *testing.T) {
	ctx := context.Background()

	t.Run("checks speaker before author", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, SpeakerHandle: "ada.bsky.social", AuthorHandle: "tarottalks.bsky.social"})
		cf.relationships.On("CheckFollowing", mock.Anything, "ada.bsky.social").Return(lo.ToPtr(true), nil).Once()

		updated, err := cf.controller.RefreshRelationship(ctx, share.ID, nil)
		require.NoError(t, err)
		require.NotNil(t, updated.Following)
		assert.True(t, *updated.Following)
		require.NotNil(t, updated.RelationshipUpdatedAt)
	})

	t.Run("falls back to author handle", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusDiscovered, AuthorHandle: "@bob.bsky.social"})
		cf.relationships.On("CheckFollowing", mock.Anything, "bob.bsky.social").Return(lo.ToPtr(false), nil).Once()

		updated, err := cf.controller.RefreshRelationship(ctx, share.ID, nil)
		require.NoError(t, err)
		require.NotNil(t, updated.Following)
		assert.False(t, *updated.Following)
	})

	t.Run("undetermined is an upstream error", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, SpeakerHandle: "ada.bsky.social"})
		cf.relationships.On("CheckFollowing", mock.Anything, "ada.bsky.social").Return(nil, nil).Once()

		_, err := cf.controller.RefreshRelationship(ctx, share.ID, nil)
		assert.ErrorIs(t, err, ErrUpstream)

		after, err := cf.store.Get(ctx, share.ID)
		require.NoError(t, err)
		assert.Nil(t, after.Following)
	})

	t.Run("no handle available", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted})

		_, err := cf.controller.RefreshRelationship(ctx, share.ID, nil)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, Message(err), "no handle available")
	})

	t.Run("non-bluesky needs manual value", func(t *testing.T) {
		cf := setupController(t)
		share := cf.insert(t, &models.Share{Platform: models.PlatformThreads, Status: models.StatusPosted, SpeakerHandle: "ada"})

		_, err := cf.controller.RefreshRelationship(ctx, share.ID, nil)
		assert.ErrorIs(t, err, ErrValidation)

		updated, err := cf.controller.RefreshRelationship(ctx, share.ID, lo.ToPtr(true))
		require.NoError(t, err)
		assert.True(t, *updated.Following)
	})
}

func TestController_RefreshStale(t *testing.T) {
	cf := setupController(t)
	ctx := context.Background()
	postURL := "https://bsky.app/profile/alice.bsky.social/post/3kabc"

	stale := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, PostURL: postURL, SpeakerHandle: "ada.bsky.social"})
	cf.insert(t, &models.Share{
		Platform:              models.PlatformBluesky,
		Status:                models.StatusPosted,
		MetricsUpdatedAt:      lo.ToPtr(testNow),
		RelationshipUpdatedAt: lo.ToPtr(testNow),
	})
	noHandle := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusDiscovered, PostURL: postURL, MetricsUpdatedAt: lo.ToPtr(testNow)})
	cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusDraft})
	badURL := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusDraft, PostURL: "https://example.com/not-a-post", SpeakerHandle: "bob.bsky.social"})
	failing := cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, AuthorHandle: "gone.bsky.social", MetricsUpdatedAt: lo.ToPtr(testNow)})

	cf.metrics.On("FetchMetricsForPost", mock.Anything, postURL).Return(&PostMetrics{LikeCount: 8}, nil).Once()
	cf.relationships.On("CheckFollowing", mock.Anything, "ada.bsky.social").Return(lo.ToPtr(true), nil).Once()
	cf.relationships.On("CheckFollowing", mock.Anything, "bob.bsky.social").Return(lo.ToPtr(false), nil).Once()
	cf.relationships.On("CheckFollowing", mock.Anything, "gone.bsky.social").Return((*bool)(nil), nil).Once()

	summary, err := cf.controller.RefreshStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, RefreshSummary{Shares: 3, Metrics: 1, Relationships: 2, Failed: 1}, summary)
	cf.metrics.AssertNumberOfCalls(t, "FetchMetricsForPost", 1)

	skipped, err := cf.store.Get(ctx, badURL.ID)
	require.NoError(t, err)
	assert.Nil(t, skipped.MetricsUpdatedAt)
	assert.False(t, *skipped.Following)

	stillUnknown, err := cf.store.Get(ctx, failing.ID)
	require.NoError(t, err)
	assert.Nil(t, stillUnknown.Following)

	refreshed, err := cf.store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, refreshed.LikeCount)
	assert.True(t, *refreshed.Following)

	untouched, err := cf.store.Get(ctx, noHandle.ID)
	require.NoError(t, err)
	assert.Nil(t, untouched.Following)
}

func TestController_Queries(t *testing.T) {
	cf := setupController(t)
	ctx := context.Background()

	recent := testNow.Add(-time.Hour)
	cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusPosted, PostedAt: &recent, LikeCount: 4})
	cf.insert(t, &models.Share{Platform: models.PlatformBluesky, Status: models.StatusDiscovered, PostedAt: &recent, DiscoveredAt: &recent})

	stats, err := cf.controller.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)

	top, err := cf.controller.TopShares(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	mentions, err := cf.controller.ListMentions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, mentions, 1)

	res := cf.controller.Resolve(ctx, "https://tarottalks.app/talks/reading-the-room")
	assert.Equal(t, ResolvedTalk, res.Type)
}
