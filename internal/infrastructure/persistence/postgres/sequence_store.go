package postgres

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// SequenceStore allocates request-number sequences with an upsert
type SequenceStore struct {
	db *DB
}

// NewSequenceStore creates a new sequence store
func NewSequenceStore(db *DB) *SequenceStore {
	return &SequenceStore{db: db}
}

// Next increments the counter for the scope and returns the new value
func (s *SequenceStore) Next(ctx context.Context, businessType entity.BusinessType, code string, year int) (int64, error) {
	scope := fmt.Sprintf("%s:%s:%d", businessType, code, year)

	var value int64
	err := s.db.querier(ctx).QueryRow(ctx, `
		INSERT INTO request_sequences (scope, value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = request_sequences.value + 1
		RETURNING value
	`, scope).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("allocate sequence %s: %w", scope, err)
	}
	return value, nil
}

var _ port.SequenceGenerator = (*SequenceStore)(nil)
