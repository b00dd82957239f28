package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevinmichaelchen/mcp-discover/internal/denylist"
	"github.com/kevinmichaelchen/mcp-discover/internal/github"
	"github.com/kevinmichaelchen/mcp-discover/internal/httpcache"
	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

// upstream is a fake GitHub serving one search page and a set of manifests.
type upstream struct {
	mux       *http.ServeMux
	url       string
	hits      atomic.Int64
	manifests map[string]string
}

func newUpstream(t *testing.T, repos []string, manifests map[string]string) *upstream {
	t.Helper()
	u := &upstream{mux: http.NewServeMux(), manifests: manifests}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	u.url = srv.URL

	u.mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "topic:mcp-server", r.URL.Query().Get("q"))
		items := []any{}
		if r.URL.Query().Get("page") == "1" {
			for i, full := range repos {
				owner, name, _ := strings.Cut(full, "/")
				items = append(items, map[string]any{
					"id":             i + 1,
					"name":           name,
					"description":    "repo " + name,
					"owner":          map[string]any{"login": owner},
					"html_url":       "https://github.com/" + full,
					"default_branch": "main",
				})
			}
		}
		w.Header().Set("X-RateLimit-Remaining", "9")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_count":        len(repos),
			"incomplete_results": false,
			"items":              items,
		})
	})

	u.mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		full := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/repos/"), "/contents/package.json")
		body, ok := u.manifests[full]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(body)),
		})
	})
	return u
}

func newDeps(t *testing.T, baseURL, cacheDir string, ttl time.Duration, denylistPath string) Deps {
	t.Helper()
	fetch, err := httpcache.New(cacheDir, ttl)
	require.NoError(t, err)
	gh, err := github.NewClient(fetch, github.WithBaseURL(baseURL))
	require.NoError(t, err)

	return Deps{
		Search: gh,
		Files:  gh,
		Memo:   denylist.NewMemo(denylist.NewCSVStore(denylistPath), nil),
		Out:    &bytes.Buffer{},
	}
}

var defaultOpts = Options{Topic: "mcp-server", Limit: 3, ManifestPath: "package.json"}

const (
	serverManifest = `{"name":"c","bin":{"c":"dist/index.js"},"dependencies":{"@modelcontextprotocol/sdk":"^1.0.0"}}`
	cliManifest    = `{"name":"b","bin":"cli.js","dependencies":{"commander":"^12.0.0"}}`
)

func readDenylist(t *testing.T, path string) []string {
	t.Helper()
	records, err := denylist.NewCSVStore(path).Load(context.Background())
	require.NoError(t, err)
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.RepoPath
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	up := newUpstream(t,
		[]string{"acme/a", "acme/b", "acme/c"},
		map[string]string{"acme/b": cliManifest, "acme/c": serverManifest})
	denyPath := filepath.Join(t.TempDir(), "data", "denylist.csv")
	deps := newDeps(t, up.url, t.TempDir(), 0, denyPath)

	report, err := Run(context.Background(), deps, defaultOpts)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Candidates)
	assert.Equal(t, []string{"acme/c"}, report.AcceptedNames())
	assert.Equal(t, "^1.0.0", report.Accepted[0].SDKRange)
	assert.Equal(t, []string{"acme/a"}, report.NotFound)
	assert.Equal(t, []string{"acme/b"}, report.Rejected)
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, []string{"acme/b"}, readDenylist(t, denyPath), "only the rejected repo is denylisted")

	// One search page plus three manifests.
	assert.Equal(t, int64(4), up.hits.Load())
}

func TestRun_WarmCacheIsIdempotent(t *testing.T) {
	up := newUpstream(t,
		[]string{"acme/a", "acme/b", "acme/c"},
		map[string]string{"acme/b": cliManifest, "acme/c": serverManifest})
	cacheDir := t.TempDir()
	denyPath := filepath.Join(t.TempDir(), "denylist.csv")

	first, err := Run(context.Background(), newDeps(t, up.url, cacheDir, time.Hour, denyPath), defaultOpts)
	require.NoError(t, err)
	hits := up.hits.Load()

	second, err := Run(context.Background(), newDeps(t, up.url, cacheDir, time.Hour, denyPath), defaultOpts)
	require.NoError(t, err)

	assert.Equal(t, first.AcceptedNames(), second.AcceptedNames())
	assert.Equal(t, hits, up.hits.Load(), "second run is served from the cache")
	assert.Equal(t, []string{"acme/b"}, second.Denylisted)
	assert.Equal(t, []string{"acme/b"}, readDenylist(t, denyPath))
}

func TestRun_DenylistedRepoIsNeverFetched(t *testing.T) {
	up := newUpstream(t,
		[]string{"acme/b", "acme/c"},
		map[string]string{"acme/b": serverManifest, "acme/c": serverManifest})
	denyPath := filepath.Join(t.TempDir(), "denylist.csv")
	require.NoError(t, os.WriteFile(denyPath, []byte("repoPath,lastChecked\nacme/b,2024-01-01T00:00:00Z\n"), 0o644))

	var fetched []string
	up.mux.HandleFunc("/repos/acme/b/contents/package.json", func(http.ResponseWriter, *http.Request) {
		fetched = append(fetched, "acme/b")
	})

	report, err := Run(context.Background(), newDeps(t, up.url, t.TempDir(), 0, denyPath), defaultOpts)
	require.NoError(t, err)

	assert.Empty(t, fetched)
	assert.Equal(t, []string{"acme/b"}, report.Denylisted)
	assert.Equal(t, []string{"acme/c"}, report.AcceptedNames())
}

func TestRun_NamelessSearchItemIsSkipped(t *testing.T) {
	up := newUpstream(t,
		[]string{"acme/", "acme/c"},
		map[string]string{"acme/c": serverManifest})
	deps := newDeps(t, up.url, t.TempDir(), 0, filepath.Join(t.TempDir(), "denylist.csv"))

	report, err := Run(context.Background(), deps, defaultOpts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, []string{"acme/c"}, report.AcceptedNames())
}

type fakeSearch struct {
	repos []models.RepositorySummary
	err   error
}

func (f fakeSearch) SearchByTopic(context.Context, github.TopicQuery, int) ([]models.RepositorySummary, error) {
	return f.repos, f.err
}

type fakeFiles struct {
	files map[string]string
	calls []string
	err   error
}

func (f *fakeFiles) FetchFile(_ context.Context, repo models.RepositorySummary, _ string) (string, bool, error) {
	f.calls = append(f.calls, repo.FullName())
	if f.err != nil {
		return "", false, f.err
	}
	text, ok := f.files[repo.FullName()]
	return text, ok, nil
}

type fakeMemo struct {
	set      map[string]bool
	recorded []string
	err      error
}

func (m *fakeMemo) Load(context.Context) {
	if m.set == nil {
		m.set = map[string]bool{}
	}
}

func (m *fakeMemo) Has(path string) bool { return m.set[path] }

func (m *fakeMemo) Record(_ context.Context, repo models.RepositorySummary) error {
	if m.err != nil {
		return m.err
	}
	m.recorded = append(m.recorded, repo.FullName())
	m.set[repo.FullName()] = true
	return nil
}

func (m *fakeMemo) Len() int { return len(m.set) }

func repo(owner, name string) models.RepositorySummary {
	return models.RepositorySummary{Owner: owner, Name: name, DefaultBranch: "main"}
}

func TestRun_DuplicateCandidateFetchedOnce(t *testing.T) {
	files := &fakeFiles{files: map[string]string{"acme/c": serverManifest}}
	deps := Deps{
		Search: fakeSearch{repos: []models.RepositorySummary{repo("acme", "c"), repo("acme", "c")}},
		Files:  files,
		Memo:   &fakeMemo{},
	}

	report, err := Run(context.Background(), deps, defaultOpts)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/c"}, files.calls)
	assert.Equal(t, []string{"acme/c"}, report.Duplicates)
	assert.Len(t, report.Accepted, 1)
}

func TestRun_MalformedManifestIsNotDenylisted(t *testing.T) {
	memo := &fakeMemo{}
	deps := Deps{
		Search: fakeSearch{repos: []models.RepositorySummary{repo("acme", "broken"), repo("acme", "lib")}},
		Files:  &fakeFiles{files: map[string]string{"acme/broken": "{not json", "acme/lib": `{"dependencies":{"@modelcontextprotocol/sdk":"1.0.0"}}`}},
		Memo:   memo,
	}

	report, err := Run(context.Background(), deps, defaultOpts)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/broken"}, report.Malformed)
	assert.Equal(t, []string{"acme/lib"}, report.Rejected)
	assert.Equal(t, []string{"acme/lib"}, memo.recorded)
	assert.Empty(t, report.Accepted)
}

func TestRun_RecordFailureDoesNotAbort(t *testing.T) {
	deps := Deps{
		Search: fakeSearch{repos: []models.RepositorySummary{repo("acme", "lib"), repo("acme", "c")}},
		Files:  &fakeFiles{files: map[string]string{"acme/lib": `{"bin":"x.js"}`, "acme/c": serverManifest}},
		Memo:   &fakeMemo{err: errors.New("disk full")},
	}

	report, err := Run(context.Background(), deps, defaultOpts)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/c"}, report.AcceptedNames())
}

func TestRun_FetchErrorIsReturned(t *testing.T) {
	deps := Deps{
		Search: fakeSearch{repos: []models.RepositorySummary{repo("acme", "c")}},
		Files:  &fakeFiles{err: context.Canceled},
		Memo:   &fakeMemo{},
	}

	_, err := Run(context.Background(), deps, defaultOpts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidOptions(t *testing.T) {
	valid := Deps{Search: fakeSearch{}, Files: &fakeFiles{}, Memo: &fakeMemo{}}

	tests := []struct {
		name string
		deps Deps
		opts Options
	}{
		{"empty topic", valid, Options{Topic: " ", Limit: 1, ManifestPath: "package.json"}},
		{"zero limit", valid, Options{Topic: "mcp-server", ManifestPath: "package.json"}},
		{"negative limit", valid, Options{Topic: "mcp-server", Limit: -1, ManifestPath: "package.json"}},
		{"no manifest path", valid, Options{Topic: "mcp-server", Limit: 1}},
		{"missing memo", Deps{Search: fakeSearch{}, Files: &fakeFiles{}}, defaultOpts},
		{"enrich without enricher", valid, Options{Topic: "mcp-server", Limit: 1, ManifestPath: "package.json", Enrich: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.deps, tt.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestRun_FlagsOutdatedSDK(t *testing.T) {
	deps := Deps{
		Search: fakeSearch{repos: []models.RepositorySummary{repo("acme", "old"), repo("acme", "new"), repo("acme", "tag"), repo("acme", "above")}},
		Files: &fakeFiles{files: map[string]string{
			"acme/old":   `{"bin":"x.js","dependencies":{"@modelcontextprotocol/sdk":"^0.5.0"}}`,
			"acme/new":   `{"bin":"x.js","dependencies":{"@modelcontextprotocol/sdk":"^1.2.0"}}`,
			"acme/tag":   `{"bin":"x.js","dependencies":{"@modelcontextprotocol/sdk":"latest"}}`,
			"acme/above": `{"bin":"x.js","dependencies":{"@modelcontextprotocol/sdk":"^1.5.0"}}`,
		}},
		Memo: &fakeMemo{},
	}
	opts := defaultOpts
	opts.MinSDKVersion = "1.4.0"

	report, err := Run(context.Background(), deps, opts)
	require.NoError(t, err)
	require.Len(t, report.Accepted, 4)
	assert.True(t, report.Accepted[0].SDKOutdated)
	assert.False(t, report.Accepted[1].SDKOutdated)
	assert.False(t, report.Accepted[2].SDKOutdated, "unparseable ranges are not flagged")
	assert.False(t, report.Accepted[3].SDKOutdated, "ranges above the minimum are current")
}

type fakeEnricher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEnricher) Summarize(_ context.Context, srv models.Server) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if srv.Repo.Name == "flaky" {
		return "", errors.New("model unavailable")
	}
	return "Summary of " + srv.Repo.FullName(), nil
}

func TestRun_Enrich(t *testing.T) {
	enricher := &fakeEnricher{}
	deps := Deps{
		Search: fakeSearch{repos: []models.RepositorySummary{repo("acme", "c"), repo("acme", "flaky")}},
		Files: &fakeFiles{files: map[string]string{
			"acme/c":     serverManifest,
			"acme/flaky": serverManifest,
		}},
		Memo:     &fakeMemo{},
		Enricher: enricher,
	}
	opts := defaultOpts
	opts.Enrich = true
	opts.EnrichWorkers = 2

	report, err := Run(context.Background(), deps, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, enricher.calls)
	require.Len(t, report.Accepted, 2)
	require.NotNil(t, report.Accepted[0].Summary)
	assert.Equal(t, "Summary of acme/c", *report.Accepted[0].Summary)
	assert.Nil(t, report.Accepted[1].Summary, "failed summaries are left empty")
}

func TestReport_Print(t *testing.T) {
	desc := "Widget tools"
	summary := "Lets an assistant manage widgets."
	r := &Report{
		RunID:      "run-1",
		Topic:      "mcp-server",
		Candidates: 3,
		Rejected:   []string{"acme/b"},
		NotFound:   []string{"acme/a"},
		Accepted: []models.Server{{
			Repo:        models.RepositorySummary{Owner: "acme", Name: "c", URL: "https://github.com/acme/c", Description: &desc},
			SDKRange:    "^0.5.0",
			SDKOutdated: true,
			Summary:     &summary,
		}},
	}

	var buf bytes.Buffer
	r.Print(&buf)
	out := buf.String()

	assert.Contains(t, out, "1. acme/c  (sdk ^0.5.0, outdated)")
	assert.Contains(t, out, "https://github.com/acme/c")
	assert.Contains(t, out, summary)
	assert.NotContains(t, out, desc)
	assert.Contains(t, out, "Candidates: 3")
	assert.Contains(t, out, "Accepted:   1")
	assert.Contains(t, out, "Rejected:   1")
	assert.Contains(t, out, "Run: run-1")

	buf.Reset()
	(&Report{Topic: "mcp-server"}).Print(&buf)
	assert.Contains(t, buf.String(), `No MCP servers found for topic "mcp-server"`)
}
