package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// RequestStore implements port.RequestRepository.
// Nested structures live in JSONB columns; pending_approvers mirrors the
// current level's open approvers so inbox lookups can use a GIN index.
type RequestStore struct {
	db     *DB
	logger *zap.Logger
}

// NewRequestStore creates a new request store
func NewRequestStore(db *DB, logger *zap.Logger) *RequestStore {
	return &RequestStore{db: db, logger: logger}
}

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

func requestArgs(req *entity.ApprovalRequest, version int64) ([]any, error) {
	var encoded [8][]byte
	for i, v := range []any{
		nonNil(req.Attachments), req.RelatedTo, req.Rules, req.ApprovalChain, req.Actions,
		nonNil(req.PendingApproverIDs()), req.PreviousVersions, nonNil(req.EscalatedTo),
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		encoded[i] = b
	}

	return []any{
		req.RequestNumber, req.TemplateID, req.TemplateCode, string(req.BusinessType), req.WorkflowType,
		req.Title, req.Description, req.RequestedBy, req.Department, req.Amount, req.Currency, string(req.Urgency),
		req.Justification, encoded[0], encoded[1], encoded[2],
		string(req.Status), req.CurrentLevel, req.TotalLevels, encoded[3], encoded[4], encoded[5],
		req.ResubmissionCount, encoded[6],
		req.IsEscalated, req.EscalationDate, encoded[7],
		req.SubmittedDate, req.DueDate, req.ApprovedDate, req.RejectedDate, req.CancelledDate, req.CompletedDate,
		req.RejectionReason, req.CancelReason, req.HoldReason,
		version, req.CreatedAt, req.UpdatedAt,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func placeholders(from, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("$%d", from+i)
	}
	return out
}

// Create inserts req at version 1 and assigns its ID
func (s *RequestStore) Create(ctx context.Context, req *entity.ApprovalRequest) error {
	args, err := requestArgs(req, 1)
	if err != nil {
		return err
	}

	query := "INSERT INTO approval_requests (" + strings.Join(requestFields, ", ") + ") VALUES (" +
		strings.Join(placeholders(1, len(requestFields)), ", ") + ") RETURNING id"
	if err := s.db.querier(ctx).QueryRow(ctx, query, args...).Scan(&req.ID); err != nil {
		s.logger.Error("Failed to create request", zap.String("request_number", req.RequestNumber), zap.Error(err))
		return fmt.Errorf("insert request: %w", err)
	}
	req.Version = 1
	return nil
}

// Update writes req when the stored version still equals req.Version
func (s *RequestStore) Update(ctx context.Context, req *entity.ApprovalRequest) error {
	args, err := requestArgs(req, req.Version+1)
	if err != nil {
		return err
	}

	ph := placeholders(1, len(requestFields))
	sets := make([]string, len(requestFields))
	for i, f := range requestFields {
		sets[i] = f + " = " + ph[i]
	}
	n := len(requestFields)
	query := fmt.Sprintf("UPDATE approval_requests SET %s WHERE id = $%d AND version = $%d",
		strings.Join(sets, ", "), n+1, n+2)
	args = append(args, req.ID, req.Version)

	tag, err := s.db.querier(ctx).Exec(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to update request", zap.Int64("id", req.ID), zap.Error(err))
		return fmt.Errorf("update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.querier(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1)`, req.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check request: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: request %d", workflow.ErrNotFound, req.ID)
		}
		return fmt.Errorf("%w: request %d", workflow.ErrConcurrentModification, req.ID)
	}
	req.Version++
	return nil
}

// GetByID retrieves a request by ID
func (s *RequestStore) GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	req, err := scanRequest(s.db.querier(ctx).QueryRow(ctx, requestSelect+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %d", workflow.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// GetByNumber retrieves a request by its request number
func (s *RequestStore) GetByNumber(ctx context.Context, requestNumber string) (*entity.ApprovalRequest, error) {
	req, err := scanRequest(s.db.querier(ctx).QueryRow(ctx, requestSelect+" WHERE request_number = $1", requestNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %q", workflow.ErrNotFound, requestNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// FindPendingForApprover lists In Progress requests waiting on userID
func (s *RequestStore) FindPendingForApprover(ctx context.Context, userID string, businessType entity.BusinessType) ([]*entity.ApprovalRequest, error) {
	return s.queryRequests(ctx, requestSelect+`
		WHERE status = $1
		  AND pending_approvers @> jsonb_build_array($2::text)
		  AND ($3 = '' OR business_type = $3)
		ORDER BY id`,
		string(entity.RequestStatusInProgress), userID, string(businessType))
}

// ListInProgress pages through In Progress requests by ascending ID
func (s *RequestStore) ListInProgress(ctx context.Context, afterID int64, limit int) ([]*entity.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRequests(ctx, requestSelect+" WHERE status = $1 AND id > $2 ORDER BY id LIMIT $3",
		string(entity.RequestStatusInProgress), afterID, limit)
}

func (s *RequestStore) queryRequests(ctx context.Context, query string, args ...any) ([]*entity.ApprovalRequest, error) {
	rows, err := s.db.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []*entity.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

func scanRequest(row pgx.Row) (*entity.ApprovalRequest, error) {
	var req entity.ApprovalRequest
	var businessType, urgency, status string
	var attachments, relatedTo, rules, chain, actions, pending, previous, escalatedTo []byte

	if err := row.Scan(
		&req.ID,
		&req.RequestNumber, &req.TemplateID, &req.TemplateCode, &businessType, &req.WorkflowType,
		&req.Title, &req.Description, &req.RequestedBy, &req.Department, &req.Amount, &req.Currency, &urgency,
		&req.Justification, &attachments, &relatedTo, &rules,
		&status, &req.CurrentLevel, &req.TotalLevels, &chain, &actions, &pending,
		&req.ResubmissionCount, &previous,
		&req.IsEscalated, &req.EscalationDate, &escalatedTo,
		&req.SubmittedDate, &req.DueDate, &req.ApprovedDate, &req.RejectedDate, &req.CancelledDate, &req.CompletedDate,
		&req.RejectionReason, &req.CancelReason, &req.HoldReason,
		&req.Version, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.BusinessType = entity.BusinessType(businessType)
	req.Urgency = entity.Urgency(urgency)
	req.Status = entity.RequestStatus(status)

	for _, c := range []struct {
		raw []byte
		dst any
	}{
		{attachments, &req.Attachments},
		{relatedTo, &req.RelatedTo},
		{rules, &req.Rules},
		{chain, &req.ApprovalChain},
		{actions, &req.Actions},
		{previous, &req.PreviousVersions},
		{escalatedTo, &req.EscalatedTo},
	} {
		if err := json.Unmarshal(c.raw, c.dst); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
	}
	return &req, nil
}

var _ port.RequestRepository = (*RequestStore)(nil)
