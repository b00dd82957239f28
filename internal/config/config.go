package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GitHubToken    string
	GitHubAPIURL   string
	ManifestSource string
	FilesAPIURL    string

	Topic         string
	Language      string
	Limit         int
	ManifestPath  string
	MinSDKVersion string

	CacheDir     string
	CacheTTL     time.Duration
	DenylistPath string

	SurrealURL  string
	SurrealNS   string
	SurrealDB   string
	SurrealUser string
	SurrealPass string

	LLMBaseURL    string
	LLMAPIKey     string
	LLMModel      string
	EnrichWorkers int

	LogLevel string
}

const (
	SourceContents = "contents"
	SourceFiles    = "files"
)

func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		GitHubToken:    os.Getenv("GITHUB_TOKEN"),
		GitHubAPIURL:   getEnv("GITHUB_API_URL", "https://api.github.com/"),
		ManifestSource: strings.ToLower(getEnv("MANIFEST_SOURCE", SourceContents)),
		FilesAPIURL:    os.Getenv("FILES_API_URL"),

		Topic:         getEnv("DISCOVER_TOPIC", "mcp-server"),
		Language:      os.Getenv("DISCOVER_LANGUAGE"),
		Limit:         getEnvInt("DISCOVER_LIMIT", 100),
		ManifestPath:  getEnv("MANIFEST_PATH", "package.json"),
		MinSDKVersion: os.Getenv("MIN_SDK_VERSION"),

		CacheDir:     getEnv("CACHE_DIR", ".cache/http"),
		CacheTTL:     getEnvDuration("CACHE_TTL", "1000s"),
		DenylistPath: getEnv("DENYLIST_PATH", "data/denylist.csv"),

		SurrealURL:  os.Getenv("SURREAL_URL"),
		SurrealNS:   os.Getenv("SURREAL_NS"),
		SurrealDB:   os.Getenv("SURREAL_DB"),
		SurrealUser: os.Getenv("SURREAL_USER"),
		SurrealPass: os.Getenv("SURREAL_PASS"),

		LLMBaseURL:    getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:     os.Getenv("LLM_API_KEY"),
		LLMModel:      getEnv("LLM_MODEL", "gpt-4o-mini"),
		EnrichWorkers: getEnvInt("ENRICH_WORKERS", 4),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	// The SDK appends /rpc automatically
	cfg.SurrealURL = strings.TrimSuffix(cfg.SurrealURL, "/rpc")
	cfg.SurrealURL = strings.TrimSuffix(cfg.SurrealURL, "/")

	return cfg
}

// UseSurreal reports whether the denylist should live in SurrealDB instead of
// the CSV file.
func (c *Config) UseSurreal() bool {
	return c.SurrealURL != ""
}

// CanEnrich reports whether an LLM key is configured.
func (c *Config) CanEnrich() bool {
	return c.LLMAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration falls back to defaultValue when the variable does not parse.
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}
