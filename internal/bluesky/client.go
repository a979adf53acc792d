package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultServiceURL = "https://bsky.social"
	DefaultPublicURL  = "https://public.api.bsky.app"

	// sessionRefreshMargin is how close to expiry an access token may get
	// before the client logs in again.
	sessionRefreshMargin = time.Minute
)

// ErrNotAuthenticated is returned by calls that need a session when no
// credentials are configured.
var ErrNotAuthenticated = errors.New("bluesky: no credentials configured")

// Config configures a Client.
type Config struct {
	ServiceURL  string
	PublicURL   string
	Identifier  string
	AppPassword string
	HTTPClient  *http.Client
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Client talks XRPC to the authenticated PDS and the public AppView.
type Client struct {
	serviceURL  string
	publicURL   string
	identifier  string
	appPassword string
	httpClient  *http.Client
	executor    failsafe.Executor[*response]

	mu      sync.Mutex
	session *Session
	now     func() time.Time
}

// Session represents an authenticated Bluesky session
type Session struct {
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`

	expiresAt time.Time
}

// Post represents a Bluesky post view
type Post struct {
	URI         string `json:"uri"`
	CID         string `json:"cid"`
	Author      Author `json:"author"`
	Record      Record `json:"record"`
	Embed       *Embed `json:"embed,omitempty"`
	ReplyCount  *int   `json:"replyCount,omitempty"`
	RepostCount *int   `json:"repostCount,omitempty"`
	LikeCount   *int   `json:"likeCount,omitempty"`
	IndexedAt   string `json:"indexedAt"`
}

// Author represents a post author
type Author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Record represents the content of a post
type Record struct {
	Type      string  `json:"$type"`
	Text      string  `json:"text"`
	CreatedAt string  `json:"createdAt"`
	Facets    []Facet `json:"facets,omitempty"`
	Embed     *Embed  `json:"embed,omitempty"`
}

// Facet represents a facet in a post (links, mentions, etc.)
type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// ByteSlice represents a byte range
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// Feature represents a feature in a facet
type Feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Embed represents embedded content in a post
type Embed struct {
	Type     string         `json:"$type"`
	External *ExternalEmbed `json:"external,omitempty"`
}

// ExternalEmbed represents an external link embed
type ExternalEmbed struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SearchPostsResponse is the app.bsky.feed.searchPosts output.
type SearchPostsResponse struct {
	Posts     []Post `json:"posts"`
	Cursor    string `json:"cursor,omitempty"`
	HitsTotal int    `json:"hitsTotal,omitempty"`
}

type threadResponse struct {
	Thread struct {
		Type string `json:"$type"`
		Post *Post  `json:"post,omitempty"`
	} `json:"thread"`
}

// Relationship is one entry of app.bsky.graph.getRelationships. Following
// holds the follow record URI when the actor follows the subject.
type Relationship struct {
	Type       string `json:"$type"`
	DID        string `json:"did"`
	Actor      string `json:"actor,omitempty"`
	Following  string `json:"following,omitempty"`
	FollowedBy string `json:"followedBy,omitempty"`
	NotFound   bool   `json:"notFound,omitempty"`
}

type relationshipsResponse struct {
	Actor         string         `json:"actor"`
	Relationships []Relationship `json:"relationships"`
}

// APIError is a non-2xx XRPC response.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bluesky: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("bluesky: %d %s", e.Status, e.Code)
}

// IsNotFound reports whether err is an XRPC response rejecting the request
// itself, such as an unknown handle or a deleted post. Auth failures and
// rate limits are not included.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500
}

// response is a fully read HTTP response, so retries never leak bodies.
type response struct {
	status int
	body   []byte
}

// NewClient creates a new Bluesky client
func NewClient(cfg Config) *Client {
	if cfg.ServiceURL == "" {
		cfg.ServiceURL = DefaultServiceURL
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = DefaultPublicURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = 5 * time.Second
	}

	return &Client{
		serviceURL:  strings.TrimRight(cfg.ServiceURL, "/"),
		publicURL:   strings.TrimRight(cfg.PublicURL, "/"),
		identifier:  cfg.Identifier,
		appPassword: cfg.AppPassword,
		httpClient:  cfg.HTTPClient,
		executor:    failsafe.With[*response](newRetryPolicy(cfg)),
		now:         time.Now,
	}
}

func newRetryPolicy(cfg Config) retrypolicy.RetryPolicy[*response] {
	return retrypolicy.NewBuilder[*response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(max(cfg.MaxRetries, 0)).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		Build()
}

// shouldRetry retries network errors, 5xx and 429.
func shouldRetry(resp *response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return true
	}
	return resp.status == http.StatusTooManyRequests || resp.status >= http.StatusInternalServerError
}

// HasCredentials reports whether an identifier and app password are set.
func (c *Client) HasCredentials() bool {
	return c.identifier != "" && c.appPassword != ""
}

// CreateSession authenticates with Bluesky and caches the session.
func (c *Client) CreateSession(ctx context.Context) (*Session, error) {
	if !c.HasCredentials() {
		return nil, ErrNotAuthenticated
	}

	var session Session
	err := c.call(ctx, http.MethodPost, c.serviceURL, "com.atproto.server.createSession", nil, map[string]string{
		"identifier": c.identifier,
		"password":   c.appPassword,
	}, "", &session)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	expiresAt, err := tokenExpiry(session.AccessJWT)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read access token expiry; session will be renewed on next call")
		expiresAt = c.now()
	}
	session.expiresAt = expiresAt

	c.mu.Lock()
	c.session = &session
	c.mu.Unlock()

	log.Info().Str("handle", session.Handle).Msg("Bluesky session created")
	return &session, nil
}

// accessToken returns a token valid for at least sessionRefreshMargin.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session != nil && c.now().Add(sessionRefreshMargin).Before(session.expiresAt) {
		return session.AccessJWT, nil
	}

	session, err := c.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	return session.AccessJWT, nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}

// SearchPosts runs app.bsky.feed.searchPosts on the authenticated service.
func (c *Client) SearchPosts(ctx context.Context, query, sort string, limit int) (*SearchPostsResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	if sort != "" {
		params.Set("sort", sort)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var out SearchPostsResponse
	if err := c.authedGet(ctx, "app.bsky.feed.searchPosts", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) authedGet(ctx context.Context, method string, params url.Values, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	err = c.call(ctx, http.MethodGet, c.serviceURL, method, params, nil, token, out)

	// The server may revoke a token before its exp; log in once more.
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.dropSession()
		if token, err = c.accessToken(ctx); err != nil {
			return err
		}
		err = c.call(ctx, http.MethodGet, c.serviceURL, method, params, nil, token, out)
	}
	return err
}

// GetPost fetches a single post view via app.bsky.feed.getPostThread.
func (c *Client) GetPost(ctx context.Context, atURI string) (*Post, error) {
	params := url.Values{}
	params.Set("uri", atURI)
	params.Set("depth", "0")

	var out threadResponse
	if err := c.call(ctx, http.MethodGet, c.publicURL, "app.bsky.feed.getPostThread", params, nil, "", &out); err != nil {
		return nil, err
	}
	if out.Thread.Post == nil {
		return nil, &APIError{Status: http.StatusNotFound, Code: "NotFound", Message: "thread has no post"}
	}
	return out.Thread.Post, nil
}

// ResolveHandle returns the DID for a handle.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	params := url.Values{}
	params.Set("handle", handle)

	var out struct {
		DID string `json:"did"`
	}
	if err := c.call(ctx, http.MethodGet, c.publicURL, "com.atproto.identity.resolveHandle", params, nil, "", &out); err != nil {
		return "", err
	}
	if out.DID == "" {
		return "", &APIError{Status: http.StatusNotFound, Code: "NotFound", Message: "handle did not resolve"}
	}
	return out.DID, nil
}

// GetRelationships returns actor's relationships to each of others.
func (c *Client) GetRelationships(ctx context.Context, actor string, others ...string) ([]Relationship, error) {
	params := url.Values{}
	params.Set("actor", actor)
	for _, other := range others {
		params.Add("others", other)
	}

	var out relationshipsResponse
	if err := c.call(ctx, http.MethodGet, c.publicURL, "app.bsky.graph.getRelationships", params, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Relationships, nil
}

func (c *Client) call(ctx context.Context, httpMethod, baseURL, method string, params url.Values, body any, token string, out any) error {
	endpoint := baseURL + "/xrpc/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	resp, err := c.executor.WithContext(ctx).Get(func() (*response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, err
		}
		return &response{status: httpResp.StatusCode, body: data}, nil
	})
	if resp != nil && resp.status != http.StatusOK {
		return decodeError(resp)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

func decodeError(resp *response) error {
	apiErr := &APIError{Status: resp.status}
	if err := json.Unmarshal(resp.body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.status)
	}
	return apiErr
}
