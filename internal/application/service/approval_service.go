package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CreateRequestParams is the input of CreateRequest
type CreateRequestParams struct {
	BusinessType  entity.BusinessType `json:"business_type"`
	WorkflowType  string              `json:"workflow_type"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	RequestedBy   string              `json:"requested_by"`
	Department    string              `json:"department"`
	Amount        float64             `json:"amount"`
	Currency      string              `json:"currency"`
	Urgency       entity.Urgency      `json:"urgency"`
	Justification string              `json:"justification"`
	Attachments   []string            `json:"attachments"`
	RelatedTo     entity.RelatedTo    `json:"related_to"`
	DueDate       *time.Time          `json:"due_date"`
}

// ApprovalService runs approval requests through their chains
type ApprovalService interface {
	CreateRequest(ctx context.Context, params CreateRequestParams) (*entity.ApprovalRequest, error)
	Approve(ctx context.Context, requestID int64, approverID, comments string, attachments []string) (*entity.ApprovalRequest, error)
	Reject(ctx context.Context, requestID int64, approverID, reason, comments string, attachments []string) (*entity.ApprovalRequest, error)
	Cancel(ctx context.Context, requestID int64, userID, reason string) (*entity.ApprovalRequest, error)
	Resubmit(ctx context.Context, requestID int64, userID string, update workflow.RequestUpdate, justification string) (*entity.ApprovalRequest, error)
	Delegate(ctx context.Context, requestID int64, approverID, delegateTo, comments string) (*entity.ApprovalRequest, error)
	SkipLevel(ctx context.Context, requestID int64, userID, reason string) (*entity.ApprovalRequest, error)
	Hold(ctx context.Context, requestID int64, userID, reason string) (*entity.ApprovalRequest, error)
	Resume(ctx context.Context, requestID int64, userID string) (*entity.ApprovalRequest, error)
	// Escalate marks the request escalated if it is due; escalated is false when it was not
	Escalate(ctx context.Context, requestID int64) (escalated bool, err error)
	GetRequest(ctx context.Context, id int64) (*entity.ApprovalRequest, error)
	GetRequestByNumber(ctx context.Context, requestNumber string) (*entity.ApprovalRequest, error)
	GetPendingApprovalsForUser(ctx context.Context, userID string, businessType entity.BusinessType) ([]*entity.ApprovalRequest, error)
}

type approvalServiceImpl struct {
	requestRepo port.RequestRepository
	templates   TemplateService
	directory   port.ApproverDirectory
	sequence    port.SequenceGenerator
	txManager   port.TransactionManager
	dispatcher  dispatcher.Dispatcher
	metrics     port.MetricsRecorder
	logger      Logger
	now         func() time.Time
	maxRetries  int
}

// ApprovalOption configures the approval service
type ApprovalOption func(*approvalServiceImpl)

// WithClock overrides the time source
func WithClock(now func() time.Time) ApprovalOption {
	return func(s *approvalServiceImpl) {
		s.now = now
	}
}

// WithDispatcher publishes request events after every committed change
func WithDispatcher(d dispatcher.Dispatcher) ApprovalOption {
	return func(s *approvalServiceImpl) {
		s.dispatcher = d
	}
}

// WithMetrics records transitions and conflict retries
func WithMetrics(m port.MetricsRecorder) ApprovalOption {
	return func(s *approvalServiceImpl) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxConflictRetries bounds re-read attempts after a version conflict
func WithMaxConflictRetries(n int) ApprovalOption {
	return func(s *approvalServiceImpl) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	requestRepo port.RequestRepository,
	templates TemplateService,
	directory port.ApproverDirectory,
	sequence port.SequenceGenerator,
	txManager port.TransactionManager,
	logger Logger,
	opts ...ApprovalOption,
) ApprovalService {
	s := &approvalServiceImpl{
		requestRepo: requestRepo,
		templates:   templates,
		directory:   directory,
		sequence:    sequence,
		txManager:   txManager,
		metrics:     port.NopMetrics{},
		logger:      logger,
		now:         time.Now,
		maxRetries:  3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest resolves a template, snapshots its chain and submits the request
func (s *approvalServiceImpl) CreateRequest(ctx context.Context, params CreateRequestParams) (*entity.ApprovalRequest, error) {
	if params.Urgency == "" {
		params.Urgency = entity.UrgencyNormal
	}
	if err := validateCreateParams(params); err != nil {
		return nil, err
	}

	tpl, err := s.templates.FindApplicableTemplate(ctx, SelectionCriteria{
		BusinessType: params.BusinessType,
		WorkflowType: params.WorkflowType,
		Amount:       params.Amount,
		Department:   params.Department,
		Urgency:      params.Urgency,
	})
	if err != nil {
		return nil, err
	}

	if tpl.Rules.RequiresJustification && strings.TrimSpace(params.Justification) == "" {
		return nil, fmt.Errorf("%w: template %s requires a justification", workflow.ErrValidation, tpl.Code)
	}
	if tpl.Rules.RequiresAttachment && len(params.Attachments) == 0 {
		return nil, fmt.Errorf("%w: template %s requires at least one attachment", workflow.ErrValidation, tpl.Code)
	}

	resolved, err := s.resolveApprovers(ctx, tpl, params.Department)
	if err != nil {
		return nil, err
	}
	chain, err := workflow.BuildChain(tpl.Levels, resolved)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req := &entity.ApprovalRequest{
		TemplateID:    tpl.ID,
		TemplateCode:  tpl.Code,
		BusinessType:  params.BusinessType,
		WorkflowType:  params.WorkflowType,
		Title:         params.Title,
		Description:   params.Description,
		RequestedBy:   params.RequestedBy,
		Department:    params.Department,
		Amount:        params.Amount,
		Currency:      params.Currency,
		Urgency:       params.Urgency,
		Justification: params.Justification,
		Attachments:   params.Attachments,
		RelatedTo:     params.RelatedTo,
		Rules:         tpl.Rules,
		Status:        entity.RequestStatusPending,
		ApprovalChain: chain,
		DueDate:       params.DueDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// auto-approval runs before anything is persisted or announced
	out, err := workflow.Submit(req, now)
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		// the counter is keyed by the acronym the number prints, so workflow types sharing initials share one sequence
		acronym := workflowAcronym(req.WorkflowType)
		seq, err := s.sequence.Next(txCtx, req.BusinessType, acronym, now.Year())
		if err != nil {
			return fmt.Errorf("failed to allocate request number: %w", err)
		}
		req.RequestNumber = FormatRequestNumber(req.BusinessType, req.WorkflowType, now.Year(), seq)
		if err := s.requestRepo.Create(txCtx, req); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create request", "error", err, "template", tpl.Code, "requested_by", params.RequestedBy)
		return nil, err
	}

	s.logger.Info("Request created",
		"id", req.ID,
		"request_number", req.RequestNumber,
		"template", tpl.Code,
		"levels", req.TotalLevels,
		"auto_approved_levels", len(out.AutoApproved),
	)
	s.metrics.TransitionRecorded("create")

	events := []*event.Event{event.NewEvent(event.TypeRequestSubmitted, req.Clone(), nil)}
	if out.Completed {
		events = append(events, event.NewEvent(event.TypeRequestApproved, req.Clone(), nil))
	}
	s.publish(ctx, events)
	return req, nil
}

// Approve records an approval from approverID on the current level
func (s *approvalServiceImpl) Approve(ctx context.Context, requestID int64, approverID, comments string, attachments []string) (*entity.ApprovalRequest, error) {
	return s.mutate(ctx, requestID, "approve", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		out, err := workflow.Approve(req, approverID, comments, attachments, now)
		if err != nil {
			return nil, err
		}
		return outcomeEvents(req, out, approverID), nil
	})
}

// Reject ends the chain at the current level
func (s *approvalServiceImpl) Reject(ctx context.Context, requestID int64, approverID, reason, comments string, attachments []string) (*entity.ApprovalRequest, error) {
	return s.mutate(ctx, requestID, "reject", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		if err := workflow.Reject(req, approverID, reason, comments, attachments, now); err != nil {
			return nil, err
		}
		return []*event.Event{event.NewEvent(event.TypeRequestRejected, req.Clone(), map[string]interface{}{
			event.PayloadActor:  approverID,
			event.PayloadReason: reason,
		})}, nil
	})
}

// Cancel withdraws a request on behalf of its requester
func (s *approvalServiceImpl) Cancel(ctx context.Context, requestID int64, userID, reason string) (*entity.ApprovalRequest, error) {
	return s.mutate(ctx, requestID, "cancel", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		waiting := req.PendingApproverIDs()
		if err := workflow.Cancel(req, userID, reason, now); err != nil {
			return nil, err
		}
		return []*event.Event{event.NewEvent(event.TypeRequestCancelled, req.Clone(), map[string]interface{}{
			event.PayloadActor:   userID,
			event.PayloadReason:  reason,
			event.PayloadTargets: waiting,
		})}, nil
	})
}

// Resubmit restarts a rejected request under the resubmission rules it was created with
func (s *approvalServiceImpl) Resubmit(ctx context.Context, requestID int64, userID string, update workflow.RequestUpdate, justification string) (*entity.ApprovalRequest, error) {
	return s.mutate(ctx, requestID, "resubmit", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		// policy captured at creation; later template edits do not reach in-flight requests
		out, err := workflow.Resubmit(req, userID, update, justification, req.Rules, now)
		if err != nil {
			return nil, err
		}
		events := []*event.Event{event.NewEvent(event.TypeRequestResubmitted, req.Clone(), map[string]interface{}{
			event.PayloadActor: userID,
		})}
		if out.Completed {
			events = append(events, event.NewEvent(event.TypeRequestApproved, req.Clone(), nil))
		}
		return events, nil
	})
}

// Delegate hands an approver's pending slot to someone else
func (s *approvalServiceImpl) Delegate(ctx context.Context, requestID int64, approverID, delegateTo, comments string) (*entity.ApprovalRequest, error) {
	return s.mutate(ctx, requestID, "delegate", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		if err := workflow.Delegate(req, approverID, delegateTo, comments, now); err != nil {
			return nil, err
		}
		return []*event.Event{event.NewEvent(event.TypeApprovalDelegated, req.Clone(), map[string]interface{}{
			event.PayloadActor:      approverID,
			event.PayloadDelegateTo: delegateTo,
		})}, nil
	})
}

// SkipLevel completes an optional current level
func (s *approvalServiceImpl) SkipLevel(ctx context.Context, requestID int64, userID, reason string) (*entity.ApprovalRequest, error) {
	return s.mutate(ctx, requestID, "skip", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		out, err := workflow.SkipLevel(req, userID, reason, now)
		if err != nil {
			return nil, err
		}
		return outcomeEvents(req, out, userID), nil
	})
}

// Hold pauses a request
func (s *approvalServiceImpl) Hold(ctx context.Context, requestID int64, userID, reason string) (*entity.ApprovalRequest, error) {
	return s.mutate(ctx, requestID, "hold", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		if err := workflow.Hold(req, userID, reason, now); err != nil {
			return nil, err
		}
		return []*event.Event{event.NewEvent(event.TypeRequestHeld, req.Clone(), map[string]interface{}{
			event.PayloadActor:  userID,
			event.PayloadReason: reason,
		})}, nil
	})
}

// Resume continues a held request
func (s *approvalServiceImpl) Resume(ctx context.Context, requestID int64, userID string) (*entity.ApprovalRequest, error) {
	return s.mutate(ctx, requestID, "resume", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		if err := workflow.Resume(req, userID, now); err != nil {
			return nil, err
		}
		return []*event.Event{event.NewEvent(event.TypeRequestResumed, req.Clone(), map[string]interface{}{
			event.PayloadActor: userID,
		})}, nil
	})
}

// Escalate marks one request escalated through the same optimistic write path as approvals
func (s *approvalServiceImpl) Escalate(ctx context.Context, requestID int64) (bool, error) {
	escalated := false
	_, err := s.mutate(ctx, requestID, "escalate", func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error) {
		escalated = false
		if !workflow.EscalationDue(req, now) {
			return nil, errNothingToDo
		}
		targets, err := workflow.Escalate(req, now)
		if err != nil {
			return nil, err
		}
		escalated = true
		return []*event.Event{event.NewEvent(event.TypeRequestEscalated, req.Clone(), map[string]interface{}{
			event.PayloadActor:   entity.SystemPrincipal,
			event.PayloadTargets: targets,
		})}, nil
	})
	if errors.Is(err, errNothingToDo) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.metrics.EscalationRecorded()
	return escalated, nil
}

// GetRequest retrieves a request by ID
func (s *approvalServiceImpl) GetRequest(ctx context.Context, id int64) (*entity.ApprovalRequest, error) {
	return s.requestRepo.GetByID(ctx, id)
}

// GetRequestByNumber retrieves a request by its human-readable number
func (s *approvalServiceImpl) GetRequestByNumber(ctx context.Context, requestNumber string) (*entity.ApprovalRequest, error) {
	return s.requestRepo.GetByNumber(ctx, requestNumber)
}

// GetPendingApprovalsForUser lists requests waiting on userID at their current level
func (s *approvalServiceImpl) GetPendingApprovalsForUser(ctx context.Context, userID string, businessType entity.BusinessType) ([]*entity.ApprovalRequest, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", workflow.ErrValidation)
	}
	if businessType != "" && !businessType.IsValidForRequest() {
		return nil, fmt.Errorf("%w: unknown business type %q", workflow.ErrValidation, businessType)
	}
	return s.requestRepo.FindPendingForApprover(ctx, userID, businessType)
}

// errNothingToDo aborts a mutation without writing
var errNothingToDo = errors.New("nothing to do")

// mutate is the read-validate-write loop shared by every transition.
// A version conflict re-reads the request and re-runs fn against the fresh state.
func (s *approvalServiceImpl) mutate(
	ctx context.Context,
	requestID int64,
	action string,
	fn func(req *entity.ApprovalRequest, now time.Time) ([]*event.Event, error),
) (*entity.ApprovalRequest, error) {
	for attempt := 0; ; attempt++ {
		req, err := s.requestRepo.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}

		now := s.now()
		events, err := fn(req, now)
		if err != nil {
			return nil, err
		}
		req.UpdatedAt = now

		err = s.requestRepo.Update(ctx, req)
		if err == nil {
			s.logger.Info("Request updated",
				"action", action,
				"id", req.ID,
				"request_number", req.RequestNumber,
				"status", req.Status,
				"current_level", req.CurrentLevel,
				"version", req.Version,
			)
			s.metrics.TransitionRecorded(action)
			s.publish(ctx, events)
			return req, nil
		}

		if !errors.Is(err, workflow.ErrConcurrentModification) || attempt >= s.maxRetries {
			s.logger.Error("Failed to update request", "action", action, "id", requestID, "attempt", attempt+1, "error", err)
			return nil, err
		}
		s.metrics.ConflictRetried(action)
		s.logger.Info("Version conflict, retrying", "action", action, "id", requestID, "attempt", attempt+1)
	}
}

func (s *approvalServiceImpl) publish(ctx context.Context, events []*event.Event) {
	if s.dispatcher == nil {
		return
	}
	for _, evt := range events {
		s.dispatcher.DispatchAsync(ctx, evt)
	}
}

// resolveApprovers turns every level's selectors into an ordered, de-duplicated user list.
func (s *approvalServiceImpl) resolveApprovers(ctx context.Context, tpl *entity.WorkflowTemplate, department string) (map[int][]string, error) {
	resolved := make(map[int][]string, len(tpl.Levels))
	for _, level := range tpl.Levels {
		seen := make(map[string]bool)
		var users []string
		add := func(ids []string) {
			for _, id := range ids {
				if id != "" && !seen[id] {
					seen[id] = true
					users = append(users, id)
				}
			}
		}

		for _, sel := range level.Approvers {
			add(sel.UserIDs)
		}
		for _, sel := range level.Approvers {
			if sel.Role == "" {
				continue
			}
			dept := sel.Department
			if dept == "" {
				dept = department
			}
			if s.directory == nil {
				return nil, fmt.Errorf("%w: level %d uses role %q but no approver directory is configured", workflow.ErrConfiguration, level.Level, sel.Role)
			}
			ids, err := s.directory.Resolve(ctx, sel.Role, dept)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve role %q in %q: %w", sel.Role, dept, err)
			}
			add(ids)
		}
		resolved[level.Level] = users
	}
	return resolved, nil
}

func outcomeEvents(req *entity.ApprovalRequest, out workflow.Outcome, actor string) []*event.Event {
	payload := map[string]interface{}{event.PayloadActor: actor}
	switch {
	case out.Completed:
		return []*event.Event{event.NewEvent(event.TypeRequestApproved, req.Clone(), payload)}
	case out.Advanced:
		return []*event.Event{event.NewEvent(event.TypeLevelAdvanced, req.Clone(), payload)}
	}
	return nil
}

func validateCreateParams(p CreateRequestParams) error {
	var problems []string
	if strings.TrimSpace(p.Title) == "" {
		problems = append(problems, "title is required")
	}
	if p.RequestedBy == "" {
		problems = append(problems, "requested_by is required")
	}
	if !p.BusinessType.IsValidForRequest() {
		problems = append(problems, fmt.Sprintf("business type must be A or B, got %q", p.BusinessType))
	}
	if p.WorkflowType == "" {
		problems = append(problems, "workflow type is required")
	}
	if p.Amount < 0 {
		problems = append(problems, "amount must not be negative")
	}
	if !p.Urgency.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown urgency %q", p.Urgency))
	}
	if err := p.RelatedTo.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", workflow.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// FormatRequestNumber renders {BT}-{ACRONYM}-{YYYY}-{SEQ:05d}, e.g. A-PR-2026-00001
func FormatRequestNumber(businessType entity.BusinessType, workflowType string, year int, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d-%05d", businessType, workflowAcronym(workflowType), year, seq)
}

// workflowAcronym takes the initial of every word: "Purchase Request" -> "PR", "purchase_order" -> "PO".
func workflowAcronym(workflowType string) string {
	words := strings.FieldsFunc(workflowType, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	for _, w := range words {
		b.WriteRune(unicode.ToUpper([]rune(w)[0]))
	}
	if b.Len() == 0 {
		return "WF"
	}
	return b.String()
}
