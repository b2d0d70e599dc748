package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// TemplateStore implements port.TemplateRepository
type TemplateStore struct {
	db     *DB
	logger *zap.Logger
}

// NewTemplateStore creates a new template store
func NewTemplateStore(db *DB, logger *zap.Logger) *TemplateStore {
	return &TemplateStore{db: db, logger: logger}
}

const templateColumns = `id, code, name, description, business_type, workflow_type,
	conditions, levels, rules, selection_priority, is_active,
	effective_from, effective_to, version, created_by, created_at, updated_at`

// Create inserts tpl and assigns its ID
func (s *TemplateStore) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	conditions, levels, rules, err := encodeTemplate(tpl)
	if err != nil {
		return err
	}

	err = s.db.querier(ctx).QueryRow(ctx, `
		INSERT INTO workflow_templates (
			code, name, description, business_type, workflow_type,
			conditions, levels, rules, selection_priority, is_active,
			effective_from, effective_to, version, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`,
		tpl.Code, tpl.Name, tpl.Description, string(tpl.BusinessType), tpl.WorkflowType,
		conditions, levels, rules, tpl.SelectionPriority, tpl.IsActive,
		tpl.EffectiveFrom, tpl.EffectiveTo, tpl.Version, tpl.CreatedBy, tpl.CreatedAt, tpl.UpdatedAt,
	).Scan(&tpl.ID)
	if err != nil {
		s.logger.Error("Failed to create template", zap.String("code", tpl.Code), zap.Error(err))
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// Update overwrites the stored definition
func (s *TemplateStore) Update(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	conditions, levels, rules, err := encodeTemplate(tpl)
	if err != nil {
		return err
	}

	tag, err := s.db.querier(ctx).Exec(ctx, `
		UPDATE workflow_templates SET
			name = $1, description = $2, business_type = $3, workflow_type = $4,
			conditions = $5, levels = $6, rules = $7, selection_priority = $8, is_active = $9,
			effective_from = $10, effective_to = $11, version = $12, updated_at = $13
		WHERE id = $14
	`,
		tpl.Name, tpl.Description, string(tpl.BusinessType), tpl.WorkflowType,
		conditions, levels, rules, tpl.SelectionPriority, tpl.IsActive,
		tpl.EffectiveFrom, tpl.EffectiveTo, tpl.Version, tpl.UpdatedAt, tpl.ID,
	)
	if err != nil {
		s.logger.Error("Failed to update template", zap.Int64("id", tpl.ID), zap.Error(err))
		return fmt.Errorf("update template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %d", workflow.ErrNotFound, tpl.ID)
	}
	return nil
}

// GetByID retrieves a template by ID
func (s *TemplateStore) GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	tpl, err := scanTemplate(s.db.querier(ctx).QueryRow(ctx,
		`SELECT `+templateColumns+` FROM workflow_templates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %d", workflow.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// GetByCode retrieves a template by code
func (s *TemplateStore) GetByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error) {
	tpl, err := scanTemplate(s.db.querier(ctx).QueryRow(ctx,
		`SELECT `+templateColumns+` FROM workflow_templates WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %q", workflow.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// FindByFilter lists matching templates ordered by ID. Empty filter fields match anything.
func (s *TemplateStore) FindByFilter(ctx context.Context, filter port.TemplateFilter) ([]*entity.WorkflowTemplate, error) {
	rows, err := s.db.querier(ctx).Query(ctx, `
		SELECT `+templateColumns+`
		FROM workflow_templates
		WHERE ($1 = '' OR business_type = $1 OR business_type = 'BOTH')
		  AND ($2 = '' OR workflow_type = $2)
		  AND (NOT $3 OR is_active)
		  AND ($4::timestamptz IS NULL OR (
		        (effective_from IS NULL OR effective_from <= $4) AND
		        (effective_to IS NULL OR effective_to >= $4)))
		ORDER BY id
	`, string(filter.BusinessType), filter.WorkflowType, filter.ActiveOnly, filter.At)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []*entity.WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func scanTemplate(row pgx.Row) (*entity.WorkflowTemplate, error) {
	var tpl entity.WorkflowTemplate
	var businessType string
	var conditions, levels, rules []byte

	if err := row.Scan(
		&tpl.ID, &tpl.Code, &tpl.Name, &tpl.Description, &businessType, &tpl.WorkflowType,
		&conditions, &levels, &rules, &tpl.SelectionPriority, &tpl.IsActive,
		&tpl.EffectiveFrom, &tpl.EffectiveTo, &tpl.Version, &tpl.CreatedBy, &tpl.CreatedAt, &tpl.UpdatedAt,
	); err != nil {
		return nil, err
	}
	tpl.BusinessType = entity.BusinessType(businessType)

	if err := json.Unmarshal(conditions, &tpl.Conditions); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	if err := json.Unmarshal(levels, &tpl.Levels); err != nil {
		return nil, fmt.Errorf("decode levels: %w", err)
	}
	if err := json.Unmarshal(rules, &tpl.Rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return &tpl, nil
}

func encodeTemplate(tpl *entity.WorkflowTemplate) (conditions, levels, rules []byte, err error) {
	if conditions, err = json.Marshal(tpl.Conditions); err != nil {
		return nil, nil, nil, fmt.Errorf("encode conditions: %w", err)
	}
	if levels, err = json.Marshal(tpl.Levels); err != nil {
		return nil, nil, nil, fmt.Errorf("encode levels: %w", err)
	}
	if rules, err = json.Marshal(tpl.Rules); err != nil {
		return nil, nil, nil, fmt.Errorf("encode rules: %w", err)
	}
	return conditions, levels, rules, nil
}

var _ port.TemplateRepository = (*TemplateStore)(nil)
