package entity

import "time"

// WorkflowTemplate is a versioned approval policy selected per request.
type WorkflowTemplate struct {
	ID                int64              `json:"id" yaml:"-"`
	Code              string             `json:"code" yaml:"code"`
	Name              string             `json:"name" yaml:"name"`
	Description       string             `json:"description,omitempty" yaml:"description"`
	BusinessType      BusinessType       `json:"business_type" yaml:"business_type"`
	WorkflowType      string             `json:"workflow_type" yaml:"workflow_type"`
	Conditions        TemplateConditions `json:"conditions" yaml:"conditions"`
	Levels            []TemplateLevel    `json:"levels" yaml:"levels"`
	Rules             TemplateRules      `json:"rules" yaml:"rules"`
	SelectionPriority int                `json:"selection_priority" yaml:"selection_priority"`
	IsActive          bool               `json:"is_active" yaml:"is_active"`
	EffectiveFrom     *time.Time         `json:"effective_from,omitempty" yaml:"effective_from"`
	EffectiveTo       *time.Time         `json:"effective_to,omitempty" yaml:"effective_to"`
	Version           int                `json:"version" yaml:"-"`
	CreatedBy         string             `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt         time.Time          `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time          `json:"updated_at" yaml:"-"`
}

// TemplateConditions restricts which requests a template applies to.
// A nil MaxAmount is open-ended; an empty Departments list matches any department.
type TemplateConditions struct {
	MinAmount   float64  `json:"min_amount" yaml:"min_amount"`
	MaxAmount   *float64 `json:"max_amount,omitempty" yaml:"max_amount"`
	Departments []string `json:"departments,omitempty" yaml:"departments"`
	Urgency     Urgency  `json:"urgency,omitempty" yaml:"urgency"`
}

// TemplateLevel is one step of the approval chain as configured.
type TemplateLevel struct {
	Level            int                   `json:"level" yaml:"level"`
	Name             string                `json:"name" yaml:"name"`
	Approvers        []ApproverSelector    `json:"approvers" yaml:"approvers"`
	ApprovalType     ApprovalType          `json:"approval_type" yaml:"approval_type"`
	MinimumApprovers int                   `json:"minimum_approvers,omitempty" yaml:"minimum_approvers"`
	AutoApprove      bool                  `json:"auto_approve" yaml:"auto_approve"`
	AutoConditions   AutoApproveConditions `json:"auto_approve_conditions" yaml:"auto_approve_conditions"`
	EscalationHours  int                   `json:"escalation_hours,omitempty" yaml:"escalation_hours"`
	EscalateTo       []string              `json:"escalate_to,omitempty" yaml:"escalate_to"`
	CanDelegate      bool                  `json:"can_delegate" yaml:"can_delegate"`
	CanSkip          bool                  `json:"can_skip" yaml:"can_skip"`
	IsOptional       bool                  `json:"is_optional" yaml:"is_optional"`
}

// ApproverSelector names approvers either explicitly or by role within a department.
// An empty Department resolves against the request's department; "*" matches any.
type ApproverSelector struct {
	UserIDs    []string `json:"user_ids,omitempty" yaml:"user_ids"`
	Role       string   `json:"role,omitempty" yaml:"role"`
	Department string   `json:"department,omitempty" yaml:"department"`
}

// AnyDepartment matches every department during approver resolution.
const AnyDepartment = "*"

// AutoApproveConditions all have to hold for a level to be skipped automatically.
// Zero values mean "no constraint".
type AutoApproveConditions struct {
	// AmountLessThan is a strict upper bound: an amount equal to it does not qualify
	AmountLessThan *float64 `json:"amount_less_than,omitempty" yaml:"amount_less_than"`
	Urgency        Urgency  `json:"urgency,omitempty" yaml:"urgency"`
}

// TemplateRules carries request-level policy flags.
type TemplateRules struct {
	RequiresJustification bool `json:"requires_justification" yaml:"requires_justification"`
	RequiresAttachment    bool `json:"requires_attachment" yaml:"requires_attachment"`
	AllowParallelApproval bool `json:"allow_parallel_approval" yaml:"allow_parallel_approval"`
	AllowResubmission     bool `json:"allow_resubmission" yaml:"allow_resubmission"`
	MaxResubmissions      int  `json:"max_resubmissions" yaml:"max_resubmissions"`
	NotifyOnSubmit        bool `json:"notify_on_submit" yaml:"notify_on_submit"`
	NotifyOnApproval      bool `json:"notify_on_approval" yaml:"notify_on_approval"`
	NotifyOnRejection     bool `json:"notify_on_rejection" yaml:"notify_on_rejection"`
	AutoArchiveAfterDays  int  `json:"auto_archive_after_days,omitempty" yaml:"auto_archive_after_days"`
}

// IsEffectiveAt reports whether the template is active and inside its window at t.
func (t *WorkflowTemplate) IsEffectiveAt(at time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.EffectiveFrom != nil && t.EffectiveFrom.After(at) {
		return false
	}
	if t.EffectiveTo != nil && t.EffectiveTo.Before(at) {
		return false
	}
	return true
}

// AcceptsAmount reports whether amount is within [MinAmount, MaxAmount].
func (c TemplateConditions) AcceptsAmount(amount float64) bool {
	if amount < c.MinAmount {
		return false
	}
	if c.MaxAmount != nil && amount > *c.MaxAmount {
		return false
	}
	return true
}

// AcceptsDepartment reports whether department is listed or the list is empty.
func (c TemplateConditions) AcceptsDepartment(department string) bool {
	if len(c.Departments) == 0 {
		return true
	}
	for _, d := range c.Departments {
		if d == department {
			return true
		}
	}
	return false
}

// AcceptsUrgency reports whether the urgency condition is unset or equal.
func (c TemplateConditions) AcceptsUrgency(u Urgency) bool {
	return c.Urgency == "" || c.Urgency == u
}

// Clone returns a deep copy of the template.
func (t *WorkflowTemplate) Clone() *WorkflowTemplate {
	if t == nil {
		return nil
	}
	cp := *t
	cp.EffectiveFrom = cloneTime(t.EffectiveFrom)
	cp.EffectiveTo = cloneTime(t.EffectiveTo)
	cp.Conditions.Departments = append([]string(nil), t.Conditions.Departments...)
	if t.Conditions.MaxAmount != nil {
		v := *t.Conditions.MaxAmount
		cp.Conditions.MaxAmount = &v
	}
	cp.Levels = make([]TemplateLevel, len(t.Levels))
	for i, l := range t.Levels {
		l.EscalateTo = append([]string(nil), l.EscalateTo...)
		selectors := make([]ApproverSelector, len(l.Approvers))
		for j, sel := range l.Approvers {
			sel.UserIDs = append([]string(nil), sel.UserIDs...)
			selectors[j] = sel
		}
		l.Approvers = selectors
		if l.AutoConditions.AmountLessThan != nil {
			v := *l.AutoConditions.AmountLessThan
			l.AutoConditions.AmountLessThan = &v
		}
		cp.Levels[i] = l
	}
	return &cp
}
