package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

// SelectionCriteria describes the request a template is being chosen for
type SelectionCriteria struct {
	BusinessType entity.BusinessType `json:"business_type"`
	WorkflowType string              `json:"workflow_type"`
	Amount       float64             `json:"amount"`
	Department   string              `json:"department"`
	Urgency      entity.Urgency      `json:"urgency"`
}

// TemplateService resolves and administers workflow templates
type TemplateService interface {
	FindApplicableTemplate(ctx context.Context, criteria SelectionCriteria) (*entity.WorkflowTemplate, error)
	CreateTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error)
	UpdateTemplate(ctx context.Context, id int64, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error)
	DeactivateTemplate(ctx context.Context, id int64) error
	GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	ListTemplates(ctx context.Context, filter port.TemplateFilter) ([]*entity.WorkflowTemplate, error)
	// SeedTemplates creates templates whose code is unknown and leaves existing ones alone
	SeedTemplates(ctx context.Context, templates []entity.WorkflowTemplate) (int, error)
}

type templateServiceImpl struct {
	repo   port.TemplateRepository
	logger Logger
	now    func() time.Time
}

// TemplateOption configures the template service
type TemplateOption func(*templateServiceImpl)

// WithTemplateClock overrides the time source used for effective-window checks
func WithTemplateClock(now func() time.Time) TemplateOption {
	return func(s *templateServiceImpl) {
		s.now = now
	}
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(repo port.TemplateRepository, logger Logger, opts ...TemplateOption) TemplateService {
	s := &templateServiceImpl{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindApplicableTemplate picks the highest selection priority among matching templates.
// Ties go to the most recently created template, then the highest ID.
func (s *templateServiceImpl) FindApplicableTemplate(ctx context.Context, criteria SelectionCriteria) (*entity.WorkflowTemplate, error) {
	now := s.now()
	candidates, err := s.repo.FindByFilter(ctx, port.TemplateFilter{
		BusinessType: criteria.BusinessType,
		WorkflowType: criteria.WorkflowType,
		ActiveOnly:   true,
		At:           &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	matches := make([]*entity.WorkflowTemplate, 0, len(candidates))
	for _, tpl := range candidates {
		if templateMatches(tpl, criteria, now) {
			matches = append(matches, tpl)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no active template for business type %s, workflow %q, amount %.2f",
			workflow.ErrConfiguration, criteria.BusinessType, criteria.WorkflowType, criteria.Amount)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.SelectionPriority != b.SelectionPriority {
			return a.SelectionPriority > b.SelectionPriority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return matches[0], nil
}

// templateMatches re-checks every filter so stores only need to narrow, not decide.
func templateMatches(tpl *entity.WorkflowTemplate, c SelectionCriteria, now time.Time) bool {
	return tpl.IsEffectiveAt(now) &&
		tpl.BusinessType.Matches(c.BusinessType) &&
		tpl.WorkflowType == c.WorkflowType &&
		tpl.Conditions.AcceptsAmount(c.Amount) &&
		tpl.Conditions.AcceptsDepartment(c.Department) &&
		tpl.Conditions.AcceptsUrgency(c.Urgency)
}

// CreateTemplate validates and stores a new template at version 1
func (s *templateServiceImpl) CreateTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error) {
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}
	if existing, err := s.repo.GetByCode(ctx, tpl.Code); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: template code %q already exists", workflow.ErrValidation, tpl.Code)
	} else if err != nil && !errors.Is(err, workflow.ErrNotFound) {
		return nil, fmt.Errorf("failed to check template code: %w", err)
	}

	now := s.now()
	tpl.Version = 1
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	if err := s.repo.Create(ctx, tpl); err != nil {
		s.logger.Error("Failed to create template", "error", err, "code", tpl.Code)
		return nil, err
	}

	s.logger.Info("Template created", "id", tpl.ID, "code", tpl.Code, "levels", len(tpl.Levels))
	return tpl, nil
}

// UpdateTemplate replaces the template definition and bumps its version.
// Requests already in flight keep the chain snapshot they were built with.
func (s *templateServiceImpl) UpdateTemplate(ctx context.Context, id int64, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl.Code == "" {
		tpl.Code = existing.Code
	}
	if tpl.Code != existing.Code {
		return nil, fmt.Errorf("%w: template code cannot change", workflow.ErrValidation)
	}
	if err := ValidateTemplate(tpl); err != nil {
		return nil, err
	}

	tpl.ID = existing.ID
	tpl.Version = existing.Version + 1
	tpl.CreatedAt = existing.CreatedAt
	tpl.CreatedBy = existing.CreatedBy
	tpl.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, tpl); err != nil {
		s.logger.Error("Failed to update template", "error", err, "id", id)
		return nil, err
	}

	s.logger.Info("Template updated", "id", id, "code", tpl.Code, "version", tpl.Version)
	return tpl, nil
}

// DeactivateTemplate removes a template from selection without deleting it
func (s *templateServiceImpl) DeactivateTemplate(ctx context.Context, id int64) error {
	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !tpl.IsActive {
		return nil
	}
	tpl.IsActive = false
	tpl.Version++
	tpl.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, tpl); err != nil {
		return err
	}
	s.logger.Info("Template deactivated", "id", id, "code", tpl.Code)
	return nil
}

// GetTemplate retrieves a template by ID
func (s *templateServiceImpl) GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	return s.repo.GetByID(ctx, id)
}

// ListTemplates lists templates matching filter
func (s *templateServiceImpl) ListTemplates(ctx context.Context, filter port.TemplateFilter) ([]*entity.WorkflowTemplate, error) {
	return s.repo.FindByFilter(ctx, filter)
}

// SeedTemplates creates the given templates unless their code already exists
func (s *templateServiceImpl) SeedTemplates(ctx context.Context, templates []entity.WorkflowTemplate) (int, error) {
	created := 0
	for i := range templates {
		tpl := templates[i]
		_, err := s.repo.GetByCode(ctx, tpl.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, workflow.ErrNotFound) {
			return created, fmt.Errorf("failed to look up template %q: %w", tpl.Code, err)
		}
		if _, err := s.CreateTemplate(ctx, &tpl); err != nil {
			return created, fmt.Errorf("failed to seed template %q: %w", tpl.Code, err)
		}
		created++
	}
	return created, nil
}

// ValidateTemplate checks the structural rules of a template definition
func ValidateTemplate(tpl *entity.WorkflowTemplate) error {
	var problems []string
	if tpl.Code == "" {
		problems = append(problems, "code is required")
	}
	if tpl.Name == "" {
		problems = append(problems, "name is required")
	}
	if !tpl.BusinessType.IsValidForTemplate() {
		problems = append(problems, fmt.Sprintf("unknown business type %q", tpl.BusinessType))
	}
	if tpl.WorkflowType == "" {
		problems = append(problems, "workflow type is required")
	}
	if tpl.Conditions.MaxAmount != nil && *tpl.Conditions.MaxAmount < tpl.Conditions.MinAmount {
		problems = append(problems, "max amount is below min amount")
	}
	if tpl.Conditions.Urgency != "" && !tpl.Conditions.Urgency.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown urgency condition %q", tpl.Conditions.Urgency))
	}
	if tpl.EffectiveFrom != nil && tpl.EffectiveTo != nil && tpl.EffectiveTo.Before(*tpl.EffectiveFrom) {
		problems = append(problems, "effective window ends before it starts")
	}
	if tpl.Rules.MaxResubmissions < 0 {
		problems = append(problems, "max resubmissions must not be negative")
	}
	if len(tpl.Levels) == 0 {
		problems = append(problems, "at least one level is required")
	}

	seen := make(map[int]bool, len(tpl.Levels))
	for _, l := range tpl.Levels {
		if seen[l.Level] {
			problems = append(problems, fmt.Sprintf("level %d is defined twice", l.Level))
		}
		seen[l.Level] = true
		if !l.ApprovalType.IsValid() {
			problems = append(problems, fmt.Sprintf("level %d has unknown approval type %q", l.Level, l.ApprovalType))
		}
		if len(l.Approvers) == 0 {
			problems = append(problems, fmt.Sprintf("level %d has no approvers", l.Level))
		}
		for _, sel := range l.Approvers {
			if len(sel.UserIDs) == 0 && sel.Role == "" {
				problems = append(problems, fmt.Sprintf("level %d has an empty approver selector", l.Level))
			}
		}
		if l.MinimumApprovers < 0 {
			problems = append(problems, fmt.Sprintf("level %d minimum approvers must not be negative", l.Level))
		}
		if l.EscalationHours < 0 {
			problems = append(problems, fmt.Sprintf("level %d escalation time must not be negative", l.Level))
		}
	}
	for i := 1; i <= len(tpl.Levels); i++ {
		if !seen[i] {
			problems = append(problems, fmt.Sprintf("levels must be numbered 1..%d, missing %d", len(tpl.Levels), i))
			break
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", workflow.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}
