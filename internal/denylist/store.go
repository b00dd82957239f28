// Package denylist remembers repositories that were checked and rejected so
// later runs can skip them.
package denylist

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

// Store persists rejection records. Append is the only mutation.
type Store interface {
	Load(ctx context.Context) ([]models.RejectionRecord, error)
	Append(ctx context.Context, rec models.RejectionRecord) error
}

var csvHeader = []string{"repoPath", "lastChecked"}

// CSVStore keeps the denylist in a UTF-8 CSV file with a header row.
type CSVStore struct {
	path string
	log  *zap.Logger
}

type CSVOption func(*CSVStore)

func WithLogger(log *zap.Logger) CSVOption {
	return func(s *CSVStore) {
		if log != nil {
			s.log = log
		}
	}
}

func NewCSVStore(path string, opts ...CSVOption) *CSVStore {
	s := &CSVStore{path: path, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CSVStore) Path() string {
	return s.path
}

// Load returns every valid row. A missing file is an empty denylist. Rows
// that fail to parse or whose path does not split into owner and name are
// skipped.
func (s *CSVStore) Load(_ context.Context) ([]models.RejectionRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening denylist: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var records []models.RejectionRecord
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			s.log.Warn("skipping malformed denylist row", zap.String("path", s.path), zap.Error(err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading denylist line %d: %w", line, err)
		}
		if line == 1 && len(row) > 0 && row[0] == csvHeader[0] {
			continue
		}
		if len(row) == 0 {
			continue
		}

		rec := models.RejectionRecord{RepoPath: row[0]}
		if len(row) > 1 {
			rec.LastChecked, _ = time.Parse(time.RFC3339, row[1])
		}
		if rec.Validate() != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Append writes one row, creating the file (with header) and its directory
// when absent.
func (s *CSVStore) Append(_ context.Context, rec models.RejectionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating denylist dir: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening denylist: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat denylist: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("writing denylist header: %w", err)
		}
	}
	if err := w.Write([]string{rec.RepoPath, rec.LastChecked.UTC().Format(time.RFC3339)}); err != nil {
		return fmt.Errorf("writing denylist row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing denylist: %w", err)
	}
	return f.Close()
}
