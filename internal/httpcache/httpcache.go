// Package httpcache wraps HTTP GETs with a content-addressed on-disk cache.
//
// Entries are keyed by the request method, URL and the headers that change
// the representation, and expire after a fixed time-to-live. An in-memory LRU
// sits in front of the disk so a request repeated inside one process is
// served without touching the filesystem again.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const memoryEntries = 256

// keyHeaders are the request headers folded into the cache key.
var keyHeaders = []string{"Accept", "Authorization"}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Cached is true when the response was served without a network call.
	Cached bool
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

func (r *Response) Text() string {
	return string(r.Body)
}

type entry struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Client is a caching GET client. It is not safe for concurrent writers to
// the same directory from several processes, which the sequential pipeline
// never does.
type Client struct {
	http *http.Client
	dir  string
	ttl  time.Duration
	mem  *lru.Cache[string, entry]
	now  func() time.Time
	log  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New returns a Client storing entries under dir. A ttl of zero or less
// disables caching entirely.
func New(dir string, ttl time.Duration, opts ...Option) (*Client, error) {
	mem, err := lru.New[string, entry](memoryEntries)
	if err != nil {
		return nil, fmt.Errorf("creating memory cache: %w", err)
	}

	c := &Client{
		http: &http.Client{Timeout: 30 * time.Second},
		dir:  dir,
		ttl:  ttl,
		mem:  mem,
		now:  time.Now,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.enabled() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	return c, nil
}

func (c *Client) enabled() bool {
	return c.ttl > 0 && c.dir != ""
}

// Get returns the cached response for the request if it is younger than the
// TTL, otherwise performs the request and stores the result. Transport
// errors are returned unchanged.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	key := Key(http.MethodGet, rawURL, header)

	if c.enabled() {
		if e, ok := c.lookup(key); ok {
			return &Response{StatusCode: e.StatusCode, Header: e.Header.Clone(), Body: e.Body, Cached: true}, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}

	if c.enabled() && storable(resp.StatusCode) {
		e := entry{
			URL:        rawURL,
			StatusCode: out.StatusCode,
			Header:     out.Header.Clone(),
			Body:       out.Body,
			StoredAt:   c.now(),
		}
		c.mem.Add(key, e)
		if err := c.write(key, e); err != nil {
			c.log.Warn("could not write cache entry", zap.String("url", rawURL), zap.Error(err))
		}
	}

	return out, nil
}

// storable excludes transient failures: server errors and rate limiting.
func storable(status int) bool {
	switch {
	case status >= 500:
		return false
	case status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}

func (c *Client) fresh(e entry) bool {
	return c.now().Sub(e.StoredAt) < c.ttl
}

func (c *Client) lookup(key string) (entry, bool) {
	if e, ok := c.mem.Get(key); ok {
		if c.fresh(e) {
			return e, true
		}
		c.mem.Remove(key)
	}

	e, err := c.read(key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("could not read cache entry", zap.String("key", key), zap.Error(err))
		}
		return entry{}, false
	}
	if !c.fresh(e) {
		return entry{}, false
	}
	c.mem.Add(key, e)
	return e, true
}

func (c *Client) path(key string) string {
	return filepath.Join(c.dir, key[:2], key+".json")
}

func (c *Client) read(key string) (entry, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return entry{}, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, fmt.Errorf("decoding %s: %w", key, err)
	}
	return e, nil
}

func (c *Client) write(key string, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	target := c.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// Key is the hex SHA-256 of the request signature.
func Key(method, rawURL string, header http.Header) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(rawURL)

	names := make([]string, 0, len(keyHeaders))
	for _, name := range keyHeaders {
		if header.Get(name) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte('\n')
		b.WriteString(strings.ToLower(name))
		b.WriteByte(':')
		b.WriteString(strings.Join(header.Values(name), ","))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
