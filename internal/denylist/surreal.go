package denylist

import (
	"context"

	"github.com/kevinmichaelchen/mcp-discover/internal/models"
)

// rejectionDB is the part of the SurrealDB client the store needs.
type rejectionDB interface {
	Rejections(ctx context.Context) ([]models.RejectionRecord, error)
	InsertRejection(ctx context.Context, rec models.RejectionRecord) error
}

// SurrealStore keeps the denylist in the SurrealDB rejection table.
type SurrealStore struct {
	db rejectionDB
}

func NewSurrealStore(db rejectionDB) *SurrealStore {
	return &SurrealStore{db: db}
}

func (s *SurrealStore) Load(ctx context.Context) ([]models.RejectionRecord, error) {
	records, err := s.db.Rejections(ctx)
	if err != nil {
		return nil, err
	}
	valid := records[:0]
	for _, rec := range records {
		if rec.Validate() == nil {
			valid = append(valid, rec)
		}
	}
	return valid, nil
}

func (s *SurrealStore) Append(ctx context.Context, rec models.RejectionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.db.InsertRejection(ctx, rec)
}
