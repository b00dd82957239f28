package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevinmichaelchen/mcp-discover/internal/config"
	"github.com/kevinmichaelchen/mcp-discover/internal/denylist"
	"github.com/kevinmichaelchen/mcp-discover/internal/github"
	"github.com/kevinmichaelchen/mcp-discover/internal/httpcache"
	"github.com/kevinmichaelchen/mcp-discover/internal/llm"
	"github.com/kevinmichaelchen/mcp-discover/internal/logging"
	"github.com/kevinmichaelchen/mcp-discover/internal/pipeline"
	"github.com/kevinmichaelchen/mcp-discover/internal/surrealdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := &cobra.Command{
		Use:          "mcp-discover",
		Short:        "Find MCP servers on GitHub by topic and package.json",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return discover(cmd.Context(), config.Load(), discoverFlags{})
		},
	}

	root.AddCommand(discoverCmd(), denylistCmd(), schemaCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type discoverFlags struct {
	topic    string
	language string
	limit    int
	refresh  bool
	enrich   bool
}

func discoverCmd() *cobra.Command {
	var f discoverFlags

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Search a topic, classify manifests and update the denylist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return discover(cmd.Context(), config.Load(), f)
		},
	}
	cmd.Flags().StringVar(&f.topic, "topic", "", "Repository topic to search (default from DISCOVER_TOPIC)")
	cmd.Flags().StringVar(&f.language, "language", "", "Restrict search to a language")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum candidates to inspect (default from DISCOVER_LIMIT)")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "Bypass the HTTP cache")
	cmd.Flags().BoolVar(&f.enrich, "enrich", false, "Summarise accepted servers with the LLM")
	return cmd
}

func discover(ctx context.Context, cfg *config.Config, f discoverFlags) error {
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	opts := pipeline.Options{
		Topic:         cfg.Topic,
		Language:      cfg.Language,
		Limit:         cfg.Limit,
		ManifestPath:  cfg.ManifestPath,
		MinSDKVersion: cfg.MinSDKVersion,
		Enrich:        f.enrich,
		EnrichWorkers: cfg.EnrichWorkers,
	}
	if f.topic != "" {
		opts.Topic = f.topic
	}
	if f.language != "" {
		opts.Language = f.language
	}
	if f.limit != 0 {
		opts.Limit = f.limit
	}

	ttl := cfg.CacheTTL
	if f.refresh {
		ttl = 0
	}
	fetch, err := httpcache.New(cfg.CacheDir, ttl, httpcache.WithLogger(log))
	if err != nil {
		return err
	}

	gh, err := newGitHubClient(cfg, fetch, log)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	deps := pipeline.Deps{
		Search: gh,
		Files:  gh,
		Memo:   denylist.NewMemo(store, log),
		Log:    log,
		Out:    os.Stdout,
	}
	if f.enrich {
		if !cfg.CanEnrich() {
			return errors.New("--enrich needs LLM_API_KEY")
		}
		deps.Enricher = llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	}

	start := time.Now()
	report, err := pipeline.Run(ctx, deps, opts)
	if err != nil {
		log.Error("discovery failed", zap.Error(err))
		return err
	}

	fmt.Println()
	report.Print(os.Stdout)
	log.Debug("discovery finished", zap.String("run", report.RunID), zap.Duration("took", time.Since(start)))
	return nil
}

func newGitHubClient(cfg *config.Config, fetch github.Fetcher, log *zap.Logger) (*github.Client, error) {
	var source github.Source = github.ContentsSource{}
	switch cfg.ManifestSource {
	case config.SourceContents:
	case config.SourceFiles:
		source = github.FilesSource{BaseURL: cfg.FilesAPIURL}
	default:
		return nil, fmt.Errorf("unknown MANIFEST_SOURCE %q", cfg.ManifestSource)
	}

	return github.NewClient(fetch,
		github.WithBaseURL(cfg.GitHubAPIURL),
		github.WithToken(cfg.GitHubToken),
		github.WithSource(source),
		github.WithLogger(log),
	)
}

// openStore picks the SurrealDB backend when SURREAL_URL is set and the CSV
// file otherwise.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (denylist.Store, func(), error) {
	if !cfg.UseSurreal() {
		return denylist.NewCSVStore(cfg.DenylistPath, denylist.WithLogger(log)), func() {}, nil
	}

	db, err := surrealdb.NewClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close(ctx)
		return nil, nil, err
	}
	return denylist.NewSurrealStore(db), func() { _ = db.Close(context.Background()) }, nil
}

func denylistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "denylist",
		Short: "List repositories rejected by earlier runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()

			store, closeStore, err := openStore(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := store.Load(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("Denylist is empty")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%-50s %s\n", r.RepoPath, r.LastChecked.Format(time.RFC3339))
			}
			fmt.Printf("\n%d entries\n", len(records))
			return nil
		},
	}
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Initialize/update SurrealDB schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()
			if !cfg.UseSurreal() {
				return errors.New("SURREAL_URL is not set; the CSV denylist needs no schema")
			}

			db, err := surrealdb.NewClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close(ctx) }()

			if err := db.InitSchema(ctx); err != nil {
				return err
			}
			fmt.Println("Schema initialized")
			return nil
		},
	}
}
