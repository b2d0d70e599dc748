package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// SequenceRepository hands out request-number sequences from a counter table
type SequenceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *sqlite.DB, logger *zap.Logger) port.SequenceGenerator {
	return &SequenceRepository{
		db:     db,
		logger: logger,
	}
}

// SequenceScope is the counter key for a business type, workflow code and year
func SequenceScope(businessType entity.BusinessType, code string, year int) string {
	return fmt.Sprintf("%s:%s:%d", businessType, code, year)
}

// Next increments and returns the counter in a single statement
func (r *SequenceRepository) Next(ctx context.Context, businessType entity.BusinessType, code string, year int) (int64, error) {
	query := `
		INSERT INTO request_sequences (scope, value) VALUES (?, 1)
		ON CONFLICT(scope) DO UPDATE SET value = value + 1
		RETURNING value
	`
	scope := SequenceScope(businessType, code, year)

	var value int64
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, scope).Scan(&value); err != nil {
		r.logger.Error("Failed to allocate sequence", zap.String("scope", scope), zap.Error(err))
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return value, nil
}

var _ port.SequenceGenerator = (*SequenceRepository)(nil)
