package bluesky

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tarot-talks/internal/signals"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Fetcher adapts a Client to the signal engine's capability interfaces.
type Fetcher struct {
	client     *Client
	siteDomain string
	siteHandle string
}

var (
	_ signals.MentionFetcher      = (*Fetcher)(nil)
	_ signals.MetricsFetcher      = (*Fetcher)(nil)
	_ signals.RelationshipChecker = (*Fetcher)(nil)
)

// NewFetcher searches for siteDomain and checks follows from siteHandle.
func NewFetcher(client *Client, siteDomain, siteHandle string) *Fetcher {
	return &Fetcher{
		client:     client,
		siteDomain: siteDomain,
		siteHandle: strings.TrimPrefix(siteHandle, "@"),
	}
}

func (f *Fetcher) Configured() bool {
	return f.client.HasCredentials()
}

// SearchMentions returns the latest posts mentioning the site domain.
// An empty slice means the search ran and found nothing.
func (f *Fetcher) SearchMentions(ctx context.Context, limit int) ([]signals.Mention, error) {
	resp, err := f.client.SearchPosts(ctx, f.siteDomain, "latest", limit)
	if err != nil {
		return nil, fmt.Errorf("search mentions: %w", err)
	}

	return lo.Map(resp.Posts, func(post Post, _ int) signals.Mention {
		return toMention(&post)
	}), nil
}

func toMention(post *Post) signals.Mention {
	return signals.Mention{
		URI:               post.URI,
		PostURL:           PostURLFromURI(post.Author.Handle, post.URI),
		AuthorDID:         post.Author.DID,
		AuthorHandle:      post.Author.Handle,
		AuthorDisplayName: lo.CoalesceOrEmpty(post.Author.DisplayName, post.Author.Handle),
		Text:              post.Record.Text,
		CreatedAt:         parseTimestamp(post.Record.CreatedAt, post.IndexedAt),
		LikeCount:         lo.FromPtr(post.LikeCount),
		RepostCount:       lo.FromPtr(post.RepostCount),
		ReplyCount:        lo.FromPtr(post.ReplyCount),
		Links:             ExtractLinks(post),
	}
}

func parseTimestamp(values ...string) time.Time {
	for _, v := range values {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FetchMetricsForPost returns nil metrics when the post cannot be found or
// the URL cannot be mapped to a record.
func (f *Fetcher) FetchMetricsForPost(ctx context.Context, postURL string) (*signals.PostMetrics, error) {
	actor, rkey, ok := ParsePostURL(postURL)
	if !ok {
		return nil, nil
	}

	did := actor
	if !strings.HasPrefix(actor, "did:") {
		resolved, err := f.client.ResolveHandle(ctx, actor)
		if IsNotFound(err) {
			log.Debug().Str("handle", actor).Msg("Handle did not resolve")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		did = resolved
	}

	post, err := f.client.GetPost(ctx, PostURI(did, rkey))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &signals.PostMetrics{
		LikeCount:   lo.FromPtr(post.LikeCount),
		RepostCount: lo.FromPtr(post.RepostCount),
		ReplyCount:  lo.FromPtr(post.ReplyCount),
	}, nil
}

// CheckFollowing reports whether the site account follows handle. It
// returns nil when handle is not a Bluesky handle or the account is unknown.
func (f *Fetcher) CheckFollowing(ctx context.Context, handle string) (*bool, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if !strings.Contains(handle, ".") && !strings.HasPrefix(handle, "did:") {
		return nil, nil
	}

	relationships, err := f.client.GetRelationships(ctx, f.siteHandle, handle)
	if err != nil {
		return nil, err
	}
	if len(relationships) == 0 || relationships[0].NotFound || strings.HasSuffix(relationships[0].Type, "#notFoundActor") {
		return nil, nil
	}

	return lo.ToPtr(relationships[0].Following != ""), nil
}
