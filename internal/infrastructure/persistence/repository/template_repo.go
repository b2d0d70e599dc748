package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/sqlite"
)

// TemplateRepository implements port.TemplateRepository on sqlite
type TemplateRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sqlite.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

const templateColumns = `id, code, name, description, business_type, workflow_type,
	conditions, levels, rules, selection_priority, is_active,
	effective_from, effective_to, version, created_by, created_at, updated_at`

// Create inserts a new template and assigns its ID
func (r *TemplateRepository) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	conditions, levels, rules, err := encodeTemplate(tpl)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_templates (
			code, name, description, business_type, workflow_type,
			conditions, levels, rules, selection_priority, is_active,
			effective_from, effective_to, version, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		tpl.Code, tpl.Name, tpl.Description, tpl.BusinessType, tpl.WorkflowType,
		conditions, levels, rules, tpl.SelectionPriority, tpl.IsActive,
		nullTime(tpl.EffectiveFrom), nullTime(tpl.EffectiveTo), tpl.Version, tpl.CreatedBy,
		tpl.CreatedAt.UTC(), tpl.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create template", zap.String("code", tpl.Code), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	tpl.ID = id
	return nil
}

// Update overwrites the stored template definition
func (r *TemplateRepository) Update(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	conditions, levels, rules, err := encodeTemplate(tpl)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_templates SET
			name = ?, description = ?, business_type = ?, workflow_type = ?,
			conditions = ?, levels = ?, rules = ?, selection_priority = ?, is_active = ?,
			effective_from = ?, effective_to = ?, version = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		tpl.Name, tpl.Description, tpl.BusinessType, tpl.WorkflowType,
		conditions, levels, rules, tpl.SelectionPriority, tpl.IsActive,
		nullTime(tpl.EffectiveFrom), nullTime(tpl.EffectiveTo), tpl.Version, tpl.UpdatedAt.UTC(),
		tpl.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update template", zap.Int64("id", tpl.ID), zap.Error(err))
		return fmt.Errorf("failed to update template: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: template %d", workflow.ErrNotFound, tpl.ID)
	}
	return nil
}

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM workflow_templates WHERE id = ?`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %d", workflow.ErrNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get template by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

// GetByCode retrieves a template by its unique code
func (r *TemplateRepository) GetByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM workflow_templates WHERE code = ?`, code)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: template %q", workflow.ErrNotFound, code)
	}
	if err != nil {
		r.logger.Error("Failed to get template by code", zap.String("code", code), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

// FindByFilter lists templates matching filter ordered by ID.
// The effective window is checked in Go since sqlite compares timestamps as text.
func (r *TemplateRepository) FindByFilter(ctx context.Context, filter port.TemplateFilter) ([]*entity.WorkflowTemplate, error) {
	var where []string
	var args []interface{}
	if filter.BusinessType != "" {
		where = append(where, "(business_type = ? OR business_type = ?)")
		args = append(args, filter.BusinessType, entity.BusinessTypeBoth)
	}
	if filter.WorkflowType != "" {
		where = append(where, "workflow_type = ?")
		args = append(args, filter.WorkflowType)
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}

	query := `SELECT ` + templateColumns + ` FROM workflow_templates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query templates", zap.Error(err))
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var out []*entity.WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		if filter.At != nil && !tpl.IsEffectiveAt(*filter.At) {
			continue
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row rowScanner) (*entity.WorkflowTemplate, error) {
	var tpl entity.WorkflowTemplate
	var conditions, levels, rules string
	var from, to sql.NullTime

	if err := row.Scan(
		&tpl.ID, &tpl.Code, &tpl.Name, &tpl.Description, &tpl.BusinessType, &tpl.WorkflowType,
		&conditions, &levels, &rules, &tpl.SelectionPriority, &tpl.IsActive,
		&from, &to, &tpl.Version, &tpl.CreatedBy, &tpl.CreatedAt, &tpl.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := fromJSONColumn(conditions, &tpl.Conditions); err != nil {
		return nil, err
	}
	if err := fromJSONColumn(levels, &tpl.Levels); err != nil {
		return nil, err
	}
	if err := fromJSONColumn(rules, &tpl.Rules); err != nil {
		return nil, err
	}
	tpl.EffectiveFrom = timePtr(from)
	tpl.EffectiveTo = timePtr(to)
	return &tpl, nil
}

func encodeTemplate(tpl *entity.WorkflowTemplate) (conditions, levels, rules string, err error) {
	if conditions, err = jsonColumn(tpl.Conditions); err != nil {
		return
	}
	if levels, err = jsonColumn(tpl.Levels); err != nil {
		return
	}
	rules, err = jsonColumn(tpl.Rules)
	return
}

var _ port.TemplateRepository = (*TemplateRepository)(nil)
