package port

import (
	"context"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// TemplateFilter narrows template lookups. Zero values do not filter.
type TemplateFilter struct {
	BusinessType entity.BusinessType
	WorkflowType string
	ActiveOnly   bool
	// At restricts to templates whose effective window contains it (nil = no window check)
	At *time.Time
}

// TemplateRepository defines persistence operations for WorkflowTemplate
type TemplateRepository interface {
	Create(ctx context.Context, tpl *entity.WorkflowTemplate) error
	Update(ctx context.Context, tpl *entity.WorkflowTemplate) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	GetByCode(ctx context.Context, code string) (*entity.WorkflowTemplate, error)
	// FindByFilter matches BusinessType against the template's type or BOTH
	FindByFilter(ctx context.Context, filter TemplateFilter) ([]*entity.WorkflowTemplate, error)
}

// RequestRepository defines persistence operations for ApprovalRequest
type RequestRepository interface {
	// Create assigns ID and sets Version to 1
	Create(ctx context.Context, req *entity.ApprovalRequest) error
	GetByID(ctx context.Context, id int64) (*entity.ApprovalRequest, error)
	GetByNumber(ctx context.Context, requestNumber string) (*entity.ApprovalRequest, error)
	// Update writes req only if the stored version equals req.Version, then bumps req.Version.
	// A stale version returns workflow.ErrConcurrentModification.
	Update(ctx context.Context, req *entity.ApprovalRequest) error
	// FindPendingForApprover returns In Progress requests whose current level lists userID as pending
	FindPendingForApprover(ctx context.Context, userID string, businessType entity.BusinessType) ([]*entity.ApprovalRequest, error)
	// ListInProgress pages through In Progress requests ordered by ID, starting after afterID
	ListInProgress(ctx context.Context, afterID int64, limit int) ([]*entity.ApprovalRequest, error)
}

// SequenceGenerator hands out request-number sequence values.
// Next must be atomic: concurrent callers never receive the same value for a key.
// scope is the workflow code printed in the request number.
type SequenceGenerator interface {
	Next(ctx context.Context, businessType entity.BusinessType, scope string, year int) (int64, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
