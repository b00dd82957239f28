package denylist

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

// Memo is the in-run view of the denylist: a set loaded once at start and
// extended as repositories are rejected.
type Memo struct {
	store Store
	set   map[string]struct{}
	now   func() time.Time
	log   *zap.Logger
}

func NewMemo(store Store, log *zap.Logger) *Memo {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memo{
		store: store,
		set:   make(map[string]struct{}),
		now:   time.Now,
		log:   log,
	}
}

// Load replaces the in-memory set with the stored records. A read failure
// is logged and leaves the set empty.
func (m *Memo) Load(ctx context.Context) {
	m.set = make(map[string]struct{})

	records, err := m.store.Load(ctx)
	if err != nil {
		m.log.Error("could not load denylist, starting empty", zap.Error(err))
		return
	}
	for _, rec := range records {
		m.set[rec.RepoPath] = struct{}{}
	}
	m.log.Debug("denylist loaded", zap.Int("entries", len(m.set)))
}

func (m *Memo) Has(path string) bool {
	_, ok := m.set[path]
	return ok
}

func (m *Memo) Len() int {
	return len(m.set)
}

// Record appends repo to the store. A record that fails validation is never
// written.
func (m *Memo) Record(ctx context.Context, repo models.RepositorySummary) error {
	rec := models.RejectionRecord{RepoPath: repo.FullName(), LastChecked: m.now().UTC()}
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := m.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("recording %s: %w", rec.RepoPath, err)
	}
	m.set[rec.RepoPath] = struct{}{}
	return nil
}
