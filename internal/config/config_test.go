package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"GITHUB_TOKEN", "GITHUB_API_URL", "MANIFEST_SOURCE", "DISCOVER_TOPIC",
		"DISCOVER_LIMIT", "MANIFEST_PATH", "CACHE_DIR", "CACHE_TTL",
		"DENYLIST_PATH", "SURREAL_URL", "LLM_API_KEY", "ENRICH_WORKERS", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "https://api.github.com/", cfg.GitHubAPIURL)
	assert.Equal(t, SourceContents, cfg.ManifestSource)
	assert.Equal(t, "mcp-server", cfg.Topic)
	assert.Equal(t, 100, cfg.Limit)
	assert.Equal(t, "package.json", cfg.ManifestPath)
	assert.Equal(t, ".cache/http", cfg.CacheDir)
	assert.Equal(t, 1000*time.Second, cfg.CacheTTL)
	assert.Equal(t, "data/denylist.csv", cfg.DenylistPath)
	assert.Equal(t, 4, cfg.EnrichWorkers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.UseSurreal())
	assert.False(t, cfg.CanEnrich())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DISCOVER_TOPIC", "model-context-protocol")
	t.Setenv("DISCOVER_LIMIT", "7")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("MANIFEST_SOURCE", "FILES")
	t.Setenv("SURREAL_URL", "ws://localhost:8000/rpc")
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg := Load()

	assert.Equal(t, "model-context-protocol", cfg.Topic)
	assert.Equal(t, 7, cfg.Limit)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, SourceFiles, cfg.ManifestSource)
	assert.Equal(t, "ws://localhost:8000", cfg.SurrealURL)
	assert.True(t, cfg.UseSurreal())
	assert.True(t, cfg.CanEnrich())
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("DISCOVER_LIMIT", "lots")
	t.Setenv("CACHE_TTL", "soon")

	cfg := Load()

	assert.Equal(t, 100, cfg.Limit)
	assert.Equal(t, 1000*time.Second, cfg.CacheTTL)
}
