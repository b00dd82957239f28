package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"go.uber.org/zap"

	"github.com/kevinmichaelchen/mcp-discover/internal/httpcache"
	"github.com/kevinmichaelchen/mcp-discover/internal/models"
	"github.com/kevinmichaelchen/mcp-discover/internal/schema"
)

const (
	defaultBaseURL = "https://api.github.com/"

	// mediaTypeTopics unlocks topic qualifiers on the search endpoint.
	mediaTypeTopics = "application/vnd.github.mercy-preview+json"
	mediaTypeJSON   = "application/vnd.github+json"

	// maxPerPage is the largest page the search API serves.
	maxPerPage = 100
)

// ErrInvalidArgument marks calls that can only come from a programming
// mistake. Operational failures never produce it.
var ErrInvalidArgument = errors.New("invalid argument")

// Fetcher performs a (possibly cached) GET.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*httpcache.Response, error)
}

// Client is a thin wrapper around the GitHub REST API.
type Client struct {
	fetch   Fetcher
	baseURL *url.URL
	token   string
	source  Source
	log     *zap.Logger
}

type Option func(*Client) error

// WithBaseURL points the client at another API root, such as a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		u, err := parseBaseURL(baseURL)
		if err != nil {
			return err
		}
		c.baseURL = u
		return nil
	}
}

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithSource selects the endpoint FetchFile reads from.
func WithSource(s Source) Option {
	return func(c *Client) error {
		if s == nil {
			return fmt.Errorf("%w: nil source", ErrInvalidArgument)
		}
		c.source = s
		return nil
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) error {
		c.log = log
		return nil
	}
}

func NewClient(fetch Fetcher, opts ...Option) (*Client, error) {
	if fetch == nil {
		return nil, fmt.Errorf("%w: nil fetcher", ErrInvalidArgument)
	}
	base, _ := url.Parse(defaultBaseURL)

	c := &Client{
		fetch:   fetch,
		baseURL: base,
		source:  ContentsSource{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TopicQuery describes a repository search restricted to one topic.
type TopicQuery struct {
	Topic    string
	Language string
}

func (q TopicQuery) String() string {
	s := "topic:" + q.Topic
	if q.Language != "" {
		s += " language:" + q.Language
	}
	return s
}

// SearchOptions are the query parameters of GET /search/repositories.
type SearchOptions struct {
	Query   string `url:"q"`
	PerPage int    `url:"per_page"`
	Page    int    `url:"page"`
}

// SearchByTopic pages through the search API until limit repositories have
// been collected or the provider runs out. A failing page ends pagination
// and the repositories gathered so far are returned without error; only
// invalid arguments and context cancellation produce an error.
func (c *Client) SearchByTopic(ctx context.Context, q TopicQuery, limit int) ([]models.RepositorySummary, error) {
	if strings.TrimSpace(q.Topic) == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidArgument)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, limit)
	}

	repos := make([]models.RepositorySummary, 0, min(limit, maxPerPage))

	for page := 1; len(repos) < limit; page++ {
		log := c.log.With(zap.String("query", q.String()), zap.Int("page", page))

		u, err := c.searchURL(SearchOptions{Query: q.String(), PerPage: maxPerPage, Page: page})
		if err != nil {
			return nil, err
		}

		resp, err := c.fetch.Get(ctx, u, c.headers(mediaTypeTopics))
		if err != nil {
			if ctx.Err() != nil {
				return repos, ctx.Err()
			}
			log.Error("search request failed", zap.Error(err))
			break
		}
		if !resp.OK() {
			log.Error("search returned non-success status",
				zap.Int("status", resp.StatusCode), zap.String("body", truncate(resp.Text(), 500)))
			break
		}

		rate := ParseRate(resp.Header)
		log.Info("rate limit",
			zap.Int("remaining", rate.Remaining),
			zap.Int("limit", rate.Limit),
			zap.Time("reset", rate.Reset),
			zap.Bool("cached", resp.Cached))

		result, err := schema.ParseSearchPage(resp.Body)
		if err != nil {
			log.Error("search page failed validation", zap.Error(err))
			break
		}
		if len(result.Items) == 0 {
			log.Debug("no more search results")
			break
		}

		for i, raw := range result.Items {
			if len(repos) >= limit {
				break
			}
			repo, err := schema.ParseRepository(raw)
			if err != nil {
				log.Warn("skipping invalid search item", zap.Int("index", i), zap.Error(err))
				continue
			}
			repos = append(repos, repo)
		}
		log.Info("fetched search page",
			zap.Int("collected", len(repos)),
			zap.Int64("total", result.TotalCount),
			zap.Bool("incomplete", result.IncompleteResults))
	}

	return repos, nil
}

// FetchFile returns the text of path in repo. found is false when the file
// does not exist or could not be retrieved for any operational reason; those
// cases are logged, not returned. err is reserved for invalid arguments and
// context cancellation.
func (c *Client) FetchFile(ctx context.Context, repo models.RepositorySummary, path string) (content string, found bool, err error) {
	if repo.Owner == "" || repo.Name == "" {
		return "", false, fmt.Errorf("%w: repository needs owner and name", ErrInvalidArgument)
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", false, fmt.Errorf("%w: empty file path", ErrInvalidArgument)
	}

	log := c.log.With(zap.String("repo", repo.FullName()), zap.String("path", path))

	u, err := c.source.URL(c.baseURL, repo, path)
	if err != nil {
		return "", false, err
	}

	resp, err := c.fetch.Get(ctx, u, c.headers(mediaTypeJSON))
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		log.Error("file request failed", zap.Error(err))
		return "", false, nil
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		log.Info("file not found")
		return "", false, nil
	case !resp.OK():
		log.Error("file request returned non-success status",
			zap.Int("status", resp.StatusCode), zap.String("body", truncate(resp.Text(), 500)))
		return "", false, nil
	}

	text, err := c.source.Decode(resp.Body)
	if err != nil {
		log.Warn("file response failed validation", zap.Error(err))
		return "", false, nil
	}
	return text, true, nil
}

// Rate is the rate-limit state reported by the API.
type Rate struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// ParseRate reads the X-RateLimit-* headers. Missing or malformed values are
// left at their zero value.
func ParseRate(h http.Header) Rate {
	var rate Rate
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		rate.Limit = v
	}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Remaining")); err == nil {
		rate.Remaining = v
	}
	if v, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		rate.Reset = time.Unix(v, 0).UTC()
	}
	return rate
}

// --- internal ---

func (c *Client) searchURL(opts SearchOptions) (string, error) {
	v, err := query.Values(opts)
	if err != nil {
		return "", fmt.Errorf("encoding search options: %w", err)
	}
	u, err := c.baseURL.Parse("search/repositories")
	if err != nil {
		return "", err
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

func (c *Client) headers(accept string) http.Header {
	h := http.Header{}
	h.Set("Accept", accept)
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: base URL cannot be empty", ErrInvalidArgument)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL: %v", ErrInvalidArgument, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: base URL must use http or https, got %q", ErrInvalidArgument, u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
