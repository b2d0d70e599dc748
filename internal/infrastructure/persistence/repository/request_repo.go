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

// RequestRepository implements port.RequestRepository on sqlite.
// Nested structures are stored as JSON text; pending approvers of the
// current level are denormalized into their own column for lookups.
type RequestRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sqlite.DB, logger *zap.Logger) port.RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

// requestFields are the mutable columns, in the order requestArgs emits them
var requestFields = []string{
	"request_number", "template_id", "template_code", "business_type", "workflow_type",
	"title", "description", "requested_by", "department", "amount", "currency", "urgency",
	"justification", "attachments", "related_to", "rules",
	"status", "current_level", "total_levels", "approval_chain", "actions", "pending_approvers",
	"resubmission_count", "previous_versions",
	"is_escalated", "escalation_date", "escalated_to",
	"submitted_date", "due_date", "approved_date", "rejected_date", "cancelled_date", "completed_date",
	"rejection_reason", "cancel_reason", "hold_reason",
	"version", "created_at", "updated_at",
}

var requestSelect = "SELECT id, " + strings.Join(requestFields, ", ") + " FROM approval_requests"

func requestArgs(req *entity.ApprovalRequest, version int64) ([]interface{}, error) {
	var encoded [8]string
	var err error
	for i, v := range []interface{}{
		req.Attachments, req.RelatedTo, req.Rules, req.ApprovalChain, req.Actions,
		req.PendingApproverIDs(), req.PreviousVersions, req.EscalatedTo,
	} {
		if encoded[i], err = jsonColumn(v); err != nil {
			return nil, err
		}
	}

	return []interface{}{
		req.RequestNumber, req.TemplateID, req.TemplateCode, req.BusinessType, req.WorkflowType,
		req.Title, req.Description, req.RequestedBy, req.Department, req.Amount, req.Currency, req.Urgency,
		req.Justification, encoded[0], encoded[1], encoded[2],
		req.Status, req.CurrentLevel, req.TotalLevels, encoded[3], encoded[4], encoded[5],
		req.ResubmissionCount, encoded[6],
		req.IsEscalated, nullTime(req.EscalationDate), encoded[7],
		req.SubmittedDate.UTC(), nullTime(req.DueDate), nullTime(req.ApprovedDate), nullTime(req.RejectedDate), nullTime(req.CancelledDate), nullTime(req.CompletedDate),
		req.RejectionReason, req.CancelReason, req.HoldReason,
		version, req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
	}, nil
}

// Create inserts req at version 1 and assigns its ID
func (r *RequestRepository) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	args, err := requestArgs(req, 1)
	if err != nil {
		return err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(requestFields)), ", ")
	query := "INSERT INTO approval_requests (" + strings.Join(requestFields, ", ") + ") VALUES (" + placeholders + ")"

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to create request", zap.String("request_number", req.RequestNumber), zap.Error(err))
		return fmt.Errorf("failed to create request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	req.ID = id
	req.Version = 1
	return nil
}

// Update writes req when the stored version still equals req.Version
func (r *RequestRepository) Update(ctx context.Context, req *entity.ApprovalRequest) error {
	args, err := requestArgs(req, req.Version+1)
	if err != nil {
		return err
	}

	sets := make([]string, len(requestFields))
	for i, f := range requestFields {
		sets[i] = f + " = ?"
	}
	query := "UPDATE approval_requests SET " + strings.Join(sets, ", ") + " WHERE id = ? AND version = ?"
	args = append(args, req.ID, req.Version)

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update request", zap.Int64("id", req.ID), zap.Error(err))
		return fmt.Errorf("failed to update request: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return r.missOrConflict(ctx, req.ID)
	}
	req.Version++
	return nil
}

// missOrConflict tells a deleted row apart from a stale version
func (r *RequestRepository) missOrConflict(ctx context.Context, id int64) error {
	var exists int
	err := r.db.Executor(ctx).QueryRowContext(ctx, `SELECT 1 FROM approval_requests WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: request %d", workflow.ErrNotFound, id)
	}
	return fmt.Errorf("%w: request %d", workflow.ErrConcurrentModification, id)
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	req, err := scanRequest(r.db.Executor(ctx).QueryRowContext(ctx, requestSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %d", workflow.ErrNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get request by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// GetByNumber retrieves a request by its human-readable number
func (r *RequestRepository) GetByNumber(ctx context.Context, requestNumber string) (*entity.ApprovalRequest, error) {
	req, err := scanRequest(r.db.Executor(ctx).QueryRowContext(ctx, requestSelect+" WHERE request_number = ?", requestNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %q", workflow.ErrNotFound, requestNumber)
	}
	if err != nil {
		r.logger.Error("Failed to get request by number", zap.String("request_number", requestNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// FindPendingForApprover lists In Progress requests waiting on userID at their current level
func (r *RequestRepository) FindPendingForApprover(ctx context.Context, userID string, businessType entity.BusinessType) ([]*entity.ApprovalRequest, error) {
	query := requestSelect + `
		WHERE status = ?
		  AND EXISTS (SELECT 1 FROM json_each(approval_requests.pending_approvers) WHERE json_each.value = ?)`
	args := []interface{}{entity.RequestStatusInProgress, userID}
	if businessType != "" {
		query += " AND business_type = ?"
		args = append(args, businessType)
	}
	query += " ORDER BY id"

	return r.queryRequests(ctx, query, args...)
}

// ListInProgress pages through In Progress requests by ascending ID
func (r *RequestRepository) ListInProgress(ctx context.Context, afterID int64, limit int) ([]*entity.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryRequests(ctx, requestSelect+" WHERE status = ? AND id > ? ORDER BY id LIMIT ?",
		entity.RequestStatusInProgress, afterID, limit)
}

func (r *RequestRepository) queryRequests(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalRequest, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query requests", zap.Error(err))
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []*entity.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	var attachments, relatedTo, rules, chain, actions, pending, previous, escalatedTo string
	var escalationDate, dueDate, approvedDate, rejectedDate, cancelledDate, completedDate sql.NullTime

	if err := row.Scan(
		&req.ID,
		&req.RequestNumber, &req.TemplateID, &req.TemplateCode, &req.BusinessType, &req.WorkflowType,
		&req.Title, &req.Description, &req.RequestedBy, &req.Department, &req.Amount, &req.Currency, &req.Urgency,
		&req.Justification, &attachments, &relatedTo, &rules,
		&req.Status, &req.CurrentLevel, &req.TotalLevels, &chain, &actions, &pending,
		&req.ResubmissionCount, &previous,
		&req.IsEscalated, &escalationDate, &escalatedTo,
		&req.SubmittedDate, &dueDate, &approvedDate, &rejectedDate, &cancelledDate, &completedDate,
		&req.RejectionReason, &req.CancelReason, &req.HoldReason,
		&req.Version, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}

	for _, c := range []struct {
		raw string
		dst interface{}
	}{
		{attachments, &req.Attachments},
		{relatedTo, &req.RelatedTo},
		{rules, &req.Rules},
		{chain, &req.ApprovalChain},
		{actions, &req.Actions},
		{previous, &req.PreviousVersions},
		{escalatedTo, &req.EscalatedTo},
	} {
		if err := fromJSONColumn(c.raw, c.dst); err != nil {
			return nil, err
		}
	}

	req.EscalationDate = timePtr(escalationDate)
	req.DueDate = timePtr(dueDate)
	req.ApprovedDate = timePtr(approvedDate)
	req.RejectedDate = timePtr(rejectedDate)
	req.CancelledDate = timePtr(cancelledDate)
	req.CompletedDate = timePtr(completedDate)
	return &req, nil
}

var _ port.RequestRepository = (*RequestRepository)(nil)
