package signals

import (
	"context"
	"time"
)

// Mention is a raw post returned by the mention search.
type Mention struct {
	URI               string
	PostURL           string
	AuthorDID         string
	AuthorHandle      string
	AuthorDisplayName string
	Text              string
	CreatedAt         time.Time
	LikeCount         int
	RepostCount       int
	ReplyCount        int
	// Links holds every URL found in the post's facets and embed.
	Links []string
}

// PostMetrics are engagement counts for a single post.
type PostMetrics struct {
	LikeCount   int `json:"likeCount"`
	RepostCount int `json:"repostCount"`
	ReplyCount  int `json:"replyCount"`
}

// MentionFetcher searches the platform for posts mentioning the site.
type MentionFetcher interface {
	// Configured reports whether credentials for the search exist.
	Configured() bool
	SearchMentions(ctx context.Context, limit int) ([]Mention, error)
}

// MetricsFetcher returns nil metrics when the counts could not be determined.
type MetricsFetcher interface {
	FetchMetricsForPost(ctx context.Context, postURL string) (*PostMetrics, error)
}

// RelationshipChecker returns nil when the follow state could not be determined.
type RelationshipChecker interface {
	CheckFollowing(ctx context.Context, handle string) (*bool, error)
}

// PostURLValidator reports whether a post URL can be used for live lookups.
type PostURLValidator func(postURL string) bool

// LanguageDetector returns an ISO 639-1 code or "" when unsure.
type LanguageDetector interface {
	Detect(text string) string
}
