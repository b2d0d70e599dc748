package entity

import "time"

// ApprovalRequest is one business transaction moving through an approval chain.
type ApprovalRequest struct {
	ID            int64        `json:"id"`
	RequestNumber string       `json:"request_number"`
	TemplateID    int64        `json:"template_id"`
	TemplateCode  string       `json:"template_code"`
	BusinessType  BusinessType `json:"business_type"`
	WorkflowType  string       `json:"workflow_type"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	RequestedBy   string       `json:"requested_by"`
	Department    string       `json:"department,omitempty"`
	Amount        float64      `json:"amount"`
	Currency      string       `json:"currency,omitempty"`
	Urgency       Urgency      `json:"urgency"`
	Justification string       `json:"justification,omitempty"`
	Attachments   []string     `json:"attachments,omitempty"`
	RelatedTo     RelatedTo    `json:"related_to"`

	// Rules is the template policy captured at creation
	Rules TemplateRules `json:"rules"`

	Status        RequestStatus `json:"status"`
	CurrentLevel  int           `json:"current_level"`
	TotalLevels   int           `json:"total_levels"`
	ApprovalChain []ChainLevel  `json:"approval_chain"`
	Actions       []Action      `json:"actions"`

	ResubmissionCount int               `json:"resubmission_count"`
	PreviousVersions  []PreviousVersion `json:"previous_versions,omitempty"`

	IsEscalated    bool       `json:"is_escalated"`
	EscalationDate *time.Time `json:"escalation_date,omitempty"`
	EscalatedTo    []string   `json:"escalated_to,omitempty"`

	SubmittedDate   time.Time  `json:"submitted_date"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	ApprovedDate    *time.Time `json:"approved_date,omitempty"`
	RejectedDate    *time.Time `json:"rejected_date,omitempty"`
	CancelledDate   *time.Time `json:"cancelled_date,omitempty"`
	// CompletedDate is set when the request reaches Approved, Rejected or Cancelled
	CompletedDate   *time.Time `json:"completed_date,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	HoldReason      string     `json:"hold_reason,omitempty"`

	// Version is the optimistic concurrency token; it changes on every write.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainLevel is the per-request snapshot of a template level.
type ChainLevel struct {
	Level             int             `json:"level"`
	Name              string          `json:"name"`
	Status            LevelStatus     `json:"status"`
	ApprovalType      ApprovalType    `json:"approval_type"`
	Approvers         []ChainApprover `json:"approvers"`
	RequiredApprovals int             `json:"required_approvals"`
	ReceivedApprovals int             `json:"received_approvals"`

	AutoApprove     bool                  `json:"auto_approve"`
	AutoConditions  AutoApproveConditions `json:"auto_approve_conditions"`
	EscalationHours int                   `json:"escalation_hours,omitempty"`
	EscalateTo      []string              `json:"escalate_to,omitempty"`
	CanDelegate     bool                  `json:"can_delegate"`
	CanSkip         bool                  `json:"can_skip"`
	IsOptional      bool                  `json:"is_optional"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// ChainApprover is a concrete principal resolved when the chain was built.
type ChainApprover struct {
	UserID        string         `json:"user_id"`
	Status        ApproverStatus `json:"status"`
	ActedAt       *time.Time     `json:"acted_at,omitempty"`
	DelegatedFrom string         `json:"delegated_from,omitempty"`
}

// Action is an append-only audit entry.
type Action struct {
	Level       int        `json:"level"`
	UserID      string     `json:"user_id"`
	Kind        ActionKind `json:"kind"`
	Comments    string     `json:"comments,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
	DelegateTo  string     `json:"delegate_to,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// PreviousVersion archives the request content before a resubmission.
type PreviousVersion struct {
	Attempt         int       `json:"attempt"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Amount          float64   `json:"amount"`
	Justification   string    `json:"justification,omitempty"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	SubmittedDate   time.Time `json:"submitted_date"`
	RejectedDate    time.Time `json:"rejected_date"`
}

// CurrentChainLevel returns the level being worked on, or nil when the chain is finished.
func (r *ApprovalRequest) CurrentChainLevel() *ChainLevel {
	if r.CurrentLevel < 1 || r.CurrentLevel > len(r.ApprovalChain) {
		return nil
	}
	return &r.ApprovalChain[r.CurrentLevel-1]
}

// PendingApproverIDs lists approvers who still owe a decision on the current level.
// Only In Progress requests have pending approvers.
func (r *ApprovalRequest) PendingApproverIDs() []string {
	if r.Status != RequestStatusInProgress {
		return nil
	}
	level := r.CurrentChainLevel()
	if level == nil || level.Status != LevelStatusInProgress {
		return nil
	}
	ids := make([]string, 0, len(level.Approvers))
	for _, a := range level.Approvers {
		if a.Status == ApproverStatusPending {
			ids = append(ids, a.UserID)
		}
	}
	return ids
}

// IsTerminal reports whether no further transitions are possible.
func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status == RequestStatusApproved || r.Status == RequestStatusCancelled
}

// Approver returns the approver entry for userID on the level, if any.
func (l *ChainLevel) Approver(userID string) *ChainApprover {
	for i := range l.Approvers {
		if l.Approvers[i].UserID == userID {
			return &l.Approvers[i]
		}
	}
	return nil
}

// Clone returns a deep copy that shares no slices or pointers with r.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Attachments = append([]string(nil), r.Attachments...)
	cp.EscalatedTo = append([]string(nil), r.EscalatedTo...)
	cp.PreviousVersions = append([]PreviousVersion(nil), r.PreviousVersions...)
	cp.EscalationDate = cloneTime(r.EscalationDate)
	cp.DueDate = cloneTime(r.DueDate)
	cp.ApprovedDate = cloneTime(r.ApprovedDate)
	cp.RejectedDate = cloneTime(r.RejectedDate)
	cp.CancelledDate = cloneTime(r.CancelledDate)
	cp.CompletedDate = cloneTime(r.CompletedDate)

	cp.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		a.Attachments = append([]string(nil), a.Attachments...)
		cp.Actions[i] = a
	}

	cp.ApprovalChain = make([]ChainLevel, len(r.ApprovalChain))
	for i, l := range r.ApprovalChain {
		l.EscalateTo = append([]string(nil), l.EscalateTo...)
		l.StartDate = cloneTime(l.StartDate)
		l.EndDate = cloneTime(l.EndDate)
		if l.AutoConditions.AmountLessThan != nil {
			v := *l.AutoConditions.AmountLessThan
			l.AutoConditions.AmountLessThan = &v
		}
		approvers := make([]ChainApprover, len(l.Approvers))
		for j, a := range l.Approvers {
			a.ActedAt = cloneTime(a.ActedAt)
			approvers[j] = a
		}
		l.Approvers = approvers
		cp.ApprovalChain[i] = l
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
