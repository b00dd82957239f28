package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kevinmichaelchen/mcp-discover/internal/github"
	"github.com/kevinmichaelchen/mcp-discover/internal/manifest"
	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

var ErrInvalidOptions = errors.New("invalid pipeline options")

const defaultEnrichWorkers = 4

type Searcher interface {
	SearchByTopic(ctx context.Context, q github.TopicQuery, limit int) ([]models.RepositorySummary, error)
}

type FileFetcher interface {
	FetchFile(ctx context.Context, repo models.RepositorySummary, path string) (string, bool, error)
}

// Memo is the rejection memo consulted before each manifest fetch.
type Memo interface {
	Load(ctx context.Context)
	Has(path string) bool
	Record(ctx context.Context, repo models.RepositorySummary) error
	Len() int
}

type Enricher interface {
	Summarize(ctx context.Context, srv models.Server) (string, error)
}

// Deps are the collaborators of a run. Enricher and Log may be nil; Out
// defaults to io.Discard.
type Deps struct {
	Search   Searcher
	Files    FileFetcher
	Memo     Memo
	Enricher Enricher
	Log      *zap.Logger
	Out      io.Writer
}

type Options struct {
	Topic         string
	Language      string
	Limit         int
	ManifestPath  string
	MinSDKVersion string
	Enrich        bool
	EnrichWorkers int
}

func (o Options) validate(d Deps) error {
	switch {
	case strings.TrimSpace(o.Topic) == "":
		return fmt.Errorf("%w: empty topic", ErrInvalidOptions)
	case o.Limit <= 0:
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidOptions, o.Limit)
	case strings.TrimSpace(o.ManifestPath) == "":
		return fmt.Errorf("%w: empty manifest path", ErrInvalidOptions)
	case d.Search == nil || d.Files == nil || d.Memo == nil:
		return fmt.Errorf("%w: search, files and memo are required", ErrInvalidOptions)
	case o.Enrich && d.Enricher == nil:
		return fmt.Errorf("%w: enrichment requested without an enricher", ErrInvalidOptions)
	}
	return nil
}

// Run searches for repositories tagged with opts.Topic, classifies each
// candidate's manifest and records rejections. Repositories are handled one
// at a time in the order the provider returned them.
func Run(ctx context.Context, deps Deps, opts Options) (*Report, error) {
	if err := opts.validate(deps); err != nil {
		return nil, err
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	report := &Report{RunID: uuid.NewString(), Topic: opts.Topic}
	log := deps.Log.With(zap.String("run", report.RunID))

	deps.Memo.Load(ctx)
	fmt.Fprintf(deps.Out, "Denylist has %d repos\n", deps.Memo.Len())

	q := github.TopicQuery{Topic: opts.Topic, Language: opts.Language}
	fmt.Fprintf(deps.Out, "Searching %q (limit %d)...\n", q.String(), opts.Limit)
	candidates, err := deps.Search.SearchByTopic(ctx, q, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("searching topic %s: %w", opts.Topic, err)
	}
	report.Candidates = len(candidates)
	fmt.Fprintf(deps.Out, "Found %d candidates\n", len(candidates))

	seen := make(map[string]struct{}, len(candidates))
	for i, repo := range candidates {
		name := repo.FullName()
		rlog := log.With(zap.String("repo", name))

		if deps.Memo.Has(name) {
			rlog.Debug("skipping denylisted repository")
			report.Denylisted = append(report.Denylisted, name)
			continue
		}
		if _, dup := seen[name]; dup {
			rlog.Debug("skipping duplicate candidate")
			report.Duplicates = append(report.Duplicates, name)
			continue
		}
		seen[name] = struct{}{}

		text, found, err := deps.Files.FetchFile(ctx, repo, opts.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("fetching %s from %s: %w", opts.ManifestPath, name, err)
		}
		if !found {
			report.NotFound = append(report.NotFound, name)
			continue
		}

		cls, err := manifest.Classify([]byte(text))
		if err != nil {
			rlog.Warn("skipping unparseable manifest", zap.Error(err))
			report.Malformed = append(report.Malformed, name)
			continue
		}

		if !cls.IsServer {
			rlog.Debug("not a server", zap.Bool("bin", cls.HasBin), zap.Bool("sdk", cls.HasSDKDependency))
			report.Rejected = append(report.Rejected, name)
			if err := deps.Memo.Record(ctx, repo); err != nil {
				rlog.Error("could not record rejection", zap.Error(err))
			}
			continue
		}

		srv := models.Server{Repo: repo, SDKRange: cls.SDKRange}
		if opts.MinSDKVersion != "" {
			srv.SDKOutdated = sdkOutdated(rlog, cls.SDKRange, opts.MinSDKVersion)
		}
		report.Accepted = append(report.Accepted, srv)
		fmt.Fprintf(deps.Out, "  [%d/%d] %s is a server\n", i+1, len(candidates), name)
	}

	if opts.Enrich && len(report.Accepted) > 0 {
		if err := enrich(ctx, deps, log, opts.EnrichWorkers, report.Accepted); err != nil {
			return nil, err
		}
	}

	return report, nil
}

// sdkOutdated reports whether the declared range stays entirely below
// minVersion. Ranges that cannot be evaluated are left unflagged.
func sdkOutdated(log *zap.Logger, sdkRange, minVersion string) bool {
	ok, err := manifest.RangeReaches(sdkRange, minVersion)
	if err != nil {
		log.Debug("cannot evaluate SDK range", zap.String("range", sdkRange), zap.Error(err))
		return false
	}
	return !ok
}

func enrich(ctx context.Context, deps Deps, log *zap.Logger, workers int, servers []models.Server) error {
	if workers <= 0 {
		workers = defaultEnrichWorkers
	}
	fmt.Fprintf(deps.Out, "Enriching %d servers with AI summaries...\n", len(servers))

	var done atomic.Int64
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range servers {
		g.Go(func() error {
			summary, err := deps.Enricher.Summarize(gCtx, servers[i])
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				log.Warn("summary failed", zap.String("repo", servers[i].Repo.FullName()), zap.Error(err))
				return nil
			}
			servers[i].Summary = &summary
			done.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("enriching servers: %w", err)
	}
	fmt.Fprintf(deps.Out, "Enrichment complete (%d/%d)\n", done.Load(), len(servers))
	return nil
}
