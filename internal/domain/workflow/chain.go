package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// RequestData is the subset of a request that auto-approval looks at
type RequestData struct {
	Amount  float64
	Urgency entity.Urgency
}

// Outcome summarizes what a chain mutation did, for notifications and metrics.
type Outcome struct {
	// LevelCompleted is set when the acted-on level finished (approved or skipped)
	LevelCompleted bool
	// AutoApproved lists levels completed by auto-approval during the cascade
	AutoApproved []int
	// Advanced is set when a new level became In Progress
	Advanced bool
	// Completed is set when the whole chain finished and the request was approved
	Completed bool
}

// RequiredApprovals computes how many approvals a level needs.
// A positive minimum overrides the approval type.
func RequiredApprovals(approvalType entity.ApprovalType, approverCount, minimum int) int {
	if minimum > 0 {
		return minimum
	}
	switch approvalType {
	case entity.ApprovalTypeAll:
		return approverCount
	case entity.ApprovalTypeMajority:
		return (approverCount + 1) / 2
	default:
		return 1
	}
}

// BuildChain snapshots template levels into chain levels using the resolved approvers.
// resolved is keyed by template level number.
func BuildChain(levels []entity.TemplateLevel, resolved map[int][]string) ([]entity.ChainLevel, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: template has no levels", ErrConfiguration)
	}

	ordered := append([]entity.TemplateLevel{}, levels...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Level < ordered[j].Level })

	chain := make([]entity.ChainLevel, 0, len(ordered))
	for i, tl := range ordered {
		users := resolved[tl.Level]
		if len(users) == 0 {
			return nil, fmt.Errorf("%w: level %d (%s) resolved to no approvers", ErrConfiguration, tl.Level, tl.Name)
		}
		if tl.MinimumApprovers > len(users) {
			return nil, fmt.Errorf("%w: level %d needs %d approvers but only %d resolved",
				ErrConfiguration, tl.Level, tl.MinimumApprovers, len(users))
		}

		approvers := make([]entity.ChainApprover, 0, len(users))
		for _, u := range users {
			approvers = append(approvers, entity.ChainApprover{UserID: u, Status: entity.ApproverStatusPending})
		}

		chain = append(chain, entity.ChainLevel{
			Level:             i + 1,
			Name:              tl.Name,
			Status:            entity.LevelStatusPending,
			ApprovalType:      tl.ApprovalType,
			Approvers:         approvers,
			RequiredApprovals: RequiredApprovals(tl.ApprovalType, len(users), tl.MinimumApprovers),
			AutoApprove:       tl.AutoApprove,
			AutoConditions:    tl.AutoConditions,
			EscalationHours:   tl.EscalationHours,
			EscalateTo:        append([]string(nil), tl.EscalateTo...),
			CanDelegate:       tl.CanDelegate,
			CanSkip:           tl.CanSkip,
			IsOptional:        tl.IsOptional,
		})
	}
	return chain, nil
}

// CheckAutoApproval reports whether a level qualifies for auto-approval.
// All configured conditions must hold; unset conditions pass.
func CheckAutoApproval(level *entity.ChainLevel, data RequestData) bool {
	if level == nil || !level.AutoApprove {
		return false
	}
	if level.AutoConditions.AmountLessThan != nil && data.Amount >= *level.AutoConditions.AmountLessThan {
		return false
	}
	if level.AutoConditions.Urgency != "" && level.AutoConditions.Urgency != data.Urgency {
		return false
	}
	return true
}

// Submit moves a freshly built request from Pending into its first level.
func Submit(req *entity.ApprovalRequest, now time.Time) (Outcome, error) {
	if err := transition(req, TriggerSubmit); err != nil {
		return Outcome{}, err
	}
	req.TotalLevels = len(req.ApprovalChain)
	req.SubmittedDate = now
	req.Actions = append(req.Actions, entity.Action{
		Level:     1,
		UserID:    req.RequestedBy,
		Kind:      entity.ActionSubmitted,
		Timestamp: now,
	})

	var out Outcome
	activate(req, 1, now, &out)
	return out, nil
}

// Approve records approverID's approval on the current level and advances when satisfied.
func Approve(req *entity.ApprovalRequest, approverID, comments string, attachments []string, now time.Time) (Outcome, error) {
	level, approver, err := pendingApprover(req, approverID)
	if err != nil {
		return Outcome{}, err
	}

	approver.Status = entity.ApproverStatusApproved
	approver.ActedAt = timePtr(now)
	level.ReceivedApprovals++
	req.Actions = append(req.Actions, entity.Action{
		Level:       level.Level,
		UserID:      approverID,
		Kind:        entity.ActionApproved,
		Comments:    comments,
		Attachments: attachments,
		Timestamp:   now,
	})

	var out Outcome
	if level.ReceivedApprovals >= level.RequiredApprovals {
		level.Status = entity.LevelStatusApproved
		level.EndDate = timePtr(now)
		out.LevelCompleted = true
		if err := advance(req, now, &out); err != nil {
			return Outcome{}, err
		}
	}
	return out, nil
}

// Reject ends the chain at the current level.
func Reject(req *entity.ApprovalRequest, approverID, reason, comments string, attachments []string, now time.Time) error {
	if reason == "" {
		return fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}
	level, approver, err := pendingApprover(req, approverID)
	if err != nil {
		return err
	}
	if err := transition(req, TriggerReject); err != nil {
		return err
	}

	approver.Status = entity.ApproverStatusRejected
	approver.ActedAt = timePtr(now)
	level.Status = entity.LevelStatusRejected
	level.EndDate = timePtr(now)
	req.RejectionReason = reason
	req.RejectedDate = timePtr(now)
	req.CompletedDate = timePtr(now)
	req.Actions = append(req.Actions, entity.Action{
		Level:       level.Level,
		UserID:      approverID,
		Kind:        entity.ActionRejected,
		Comments:    joinComments(reason, comments),
		Attachments: attachments,
		Timestamp:   now,
	})
	return nil
}

// Cancel withdraws the request. Only the requester may cancel.
func Cancel(req *entity.ApprovalRequest, userID, reason string, now time.Time) error {
	if userID != req.RequestedBy {
		return fmt.Errorf("%w: only the requester can cancel %s", ErrAuthorization, req.RequestNumber)
	}
	if err := transition(req, TriggerCancel); err != nil {
		return err
	}
	req.CancelReason = reason
	req.CancelledDate = timePtr(now)
	req.CompletedDate = timePtr(now)
	req.Actions = append(req.Actions, entity.Action{
		Level:     req.CurrentLevel,
		UserID:    userID,
		Kind:      entity.ActionCancelled,
		Comments:  reason,
		Timestamp: now,
	})
	return nil
}

// RequestUpdate carries the fields a requester may change on resubmission.
// Nil fields are left untouched.
type RequestUpdate struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Amount      *float64        `json:"amount,omitempty"`
	Urgency     *entity.Urgency `json:"urgency,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
}

// Resubmit archives the rejected or returned attempt, applies updates, and restarts the chain from level 1.
func Resubmit(req *entity.ApprovalRequest, userID string, update RequestUpdate, justification string, rules entity.TemplateRules, now time.Time) (Outcome, error) {
	if userID != req.RequestedBy {
		return Outcome{}, fmt.Errorf("%w: only the requester can resubmit %s", ErrAuthorization, req.RequestNumber)
	}
	if req.Status != entity.RequestStatusRejected && req.Status != entity.RequestStatusReturned {
		return Outcome{}, fmt.Errorf("%w: request %s is %s, only rejected or returned requests can be resubmitted", ErrState, req.RequestNumber, req.Status)
	}
	if !rules.AllowResubmission {
		return Outcome{}, fmt.Errorf("%w: template does not allow resubmission", ErrState)
	}
	if req.ResubmissionCount >= rules.MaxResubmissions {
		return Outcome{}, fmt.Errorf("%w: request %s reached %d resubmissions", ErrLimit, req.RequestNumber, rules.MaxResubmissions)
	}
	if rules.RequiresJustification && justification == "" {
		return Outcome{}, fmt.Errorf("%w: justification is required", ErrValidation)
	}
	if update.Amount != nil && *update.Amount < 0 {
		return Outcome{}, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	if update.Urgency != nil && !update.Urgency.IsValid() {
		return Outcome{}, fmt.Errorf("%w: unknown urgency %q", ErrValidation, *update.Urgency)
	}
	if rules.RequiresAttachment && update.Attachments != nil && len(update.Attachments) == 0 {
		return Outcome{}, fmt.Errorf("%w: at least one attachment is required", ErrValidation)
	}

	rejectedAt := now
	if req.RejectedDate != nil {
		rejectedAt = *req.RejectedDate
	}
	req.PreviousVersions = append(req.PreviousVersions, entity.PreviousVersion{
		Attempt:         req.ResubmissionCount + 1,
		Title:           req.Title,
		Description:     req.Description,
		Amount:          req.Amount,
		Justification:   req.Justification,
		RejectionReason: req.RejectionReason,
		SubmittedDate:   req.SubmittedDate,
		RejectedDate:    rejectedAt,
	})

	if update.Title != nil {
		req.Title = *update.Title
	}
	if update.Description != nil {
		req.Description = *update.Description
	}
	if update.Amount != nil {
		req.Amount = *update.Amount
	}
	if update.Urgency != nil {
		req.Urgency = *update.Urgency
	}
	if update.Attachments != nil {
		req.Attachments = append([]string(nil), update.Attachments...)
	}
	if justification != "" {
		req.Justification = justification
	}

	if err := transition(req, TriggerResubmit); err != nil {
		return Outcome{}, err
	}
	req.ResubmissionCount++
	req.RejectionReason = ""
	req.RejectedDate = nil
	req.CompletedDate = nil
	clearEscalation(req)
	resetChain(req)
	req.Actions = append(req.Actions, entity.Action{
		Level:     1,
		UserID:    userID,
		Kind:      entity.ActionResubmitted,
		Comments:  justification,
		Timestamp: now,
	})

	if err := transition(req, TriggerSubmit); err != nil {
		return Outcome{}, err
	}
	req.SubmittedDate = now

	var out Outcome
	activate(req, 1, now, &out)
	return out, nil
}

// Delegate hands approverID's pending slot on the current level to delegateTo.
func Delegate(req *entity.ApprovalRequest, approverID, delegateTo, comments string, now time.Time) error {
	if delegateTo == "" {
		return fmt.Errorf("%w: delegate is required", ErrValidation)
	}
	level, approver, err := pendingApprover(req, approverID)
	if err != nil {
		return err
	}
	if !level.CanDelegate {
		return fmt.Errorf("%w: level %d does not allow delegation", ErrState, level.Level)
	}
	if level.Approver(delegateTo) != nil {
		return fmt.Errorf("%w: %s is already an approver on level %d", ErrValidation, delegateTo, level.Level)
	}
	if err := transition(req, TriggerDelegate); err != nil {
		return err
	}

	approver.DelegatedFrom = approverID
	approver.UserID = delegateTo
	req.Actions = append(req.Actions, entity.Action{
		Level:      level.Level,
		UserID:     approverID,
		Kind:       entity.ActionDelegated,
		Comments:   comments,
		DelegateTo: delegateTo,
		Timestamp:  now,
	})
	return nil
}

// SkipLevel completes an optional or skippable current level without approvals.
func SkipLevel(req *entity.ApprovalRequest, userID, reason string, now time.Time) (Outcome, error) {
	if req.Status != entity.RequestStatusInProgress {
		return Outcome{}, fmt.Errorf("%w: request %s is %s", ErrState, req.RequestNumber, req.Status)
	}
	level := req.CurrentChainLevel()
	if level == nil || level.Status != entity.LevelStatusInProgress {
		return Outcome{}, fmt.Errorf("%w: no level in progress", ErrState)
	}
	if !level.CanSkip && !level.IsOptional {
		return Outcome{}, fmt.Errorf("%w: level %d cannot be skipped", ErrState, level.Level)
	}
	if !isPendingApprover(level, userID) && userID != req.RequestedBy {
		return Outcome{}, fmt.Errorf("%w: %s cannot skip level %d", ErrAuthorization, userID, level.Level)
	}

	level.Status = entity.LevelStatusSkipped
	level.EndDate = timePtr(now)
	req.Actions = append(req.Actions, entity.Action{
		Level:     level.Level,
		UserID:    userID,
		Kind:      entity.ActionSkipped,
		Comments:  reason,
		Timestamp: now,
	})

	out := Outcome{LevelCompleted: true}
	if err := advance(req, now, &out); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// Hold pauses an In Progress request. Only a pending approver on the current level may hold.
func Hold(req *entity.ApprovalRequest, userID, reason string, now time.Time) error {
	if req.Status != entity.RequestStatusInProgress {
		return fmt.Errorf("%w: request %s is %s", ErrState, req.RequestNumber, req.Status)
	}
	level := req.CurrentChainLevel()
	if level == nil || !isPendingApprover(level, userID) {
		return fmt.Errorf("%w: %s is not a pending approver of %s", ErrAuthorization, userID, req.RequestNumber)
	}
	if err := transition(req, TriggerHold); err != nil {
		return err
	}
	req.HoldReason = reason
	req.Actions = append(req.Actions, entity.Action{
		Level:     level.Level,
		UserID:    userID,
		Kind:      entity.ActionHeld,
		Comments:  reason,
		Timestamp: now,
	})
	return nil
}

// Resume returns a held request to In Progress.
// The requester or any pending approver on the current level may resume.
func Resume(req *entity.ApprovalRequest, userID string, now time.Time) error {
	if req.Status != entity.RequestStatusOnHold {
		return fmt.Errorf("%w: request %s is %s, not on hold", ErrState, req.RequestNumber, req.Status)
	}
	level := req.CurrentChainLevel()
	if userID != req.RequestedBy && (level == nil || !isPendingApprover(level, userID)) {
		return fmt.Errorf("%w: %s cannot resume %s", ErrAuthorization, userID, req.RequestNumber)
	}
	if err := transition(req, TriggerResume); err != nil {
		return err
	}
	req.HoldReason = ""
	req.Actions = append(req.Actions, entity.Action{
		Level:     req.CurrentLevel,
		UserID:    userID,
		Kind:      entity.ActionResumed,
		Timestamp: now,
	})
	return nil
}

// EscalationDue reports whether the current level has waited past its escalation time.
// Already escalated requests and levels without an escalation time never qualify.
func EscalationDue(req *entity.ApprovalRequest, now time.Time) bool {
	if req.Status != entity.RequestStatusInProgress || req.IsEscalated {
		return false
	}
	level := req.CurrentChainLevel()
	if level == nil || level.Status != entity.LevelStatusInProgress || level.EscalationHours <= 0 || level.StartDate == nil {
		return false
	}
	deadline := level.StartDate.Add(time.Duration(level.EscalationHours) * time.Hour)
	return !now.Before(deadline)
}

// EscalationTargets returns who gets notified on escalation: the level's escalateTo
// list, or its pending approvers when none is configured.
func EscalationTargets(req *entity.ApprovalRequest) []string {
	level := req.CurrentChainLevel()
	if level == nil {
		return nil
	}
	if len(level.EscalateTo) > 0 {
		return append([]string(nil), level.EscalateTo...)
	}
	return req.PendingApproverIDs()
}

// Escalate marks the request escalated. It re-checks EscalationDue so a stale read cannot double-escalate.
func Escalate(req *entity.ApprovalRequest, now time.Time) ([]string, error) {
	if !EscalationDue(req, now) {
		return nil, fmt.Errorf("%w: request %s is not due for escalation", ErrState, req.RequestNumber)
	}
	if err := transition(req, TriggerEscalate); err != nil {
		return nil, err
	}
	targets := EscalationTargets(req)
	req.IsEscalated = true
	req.EscalationDate = timePtr(now)
	req.EscalatedTo = targets
	req.Actions = append(req.Actions, entity.Action{
		Level:     req.CurrentLevel,
		UserID:    entity.SystemPrincipal,
		Kind:      entity.ActionEscalated,
		Timestamp: now,
	})
	return targets, nil
}

// pendingApprover validates that approverID can act on the current level right now.
func pendingApprover(req *entity.ApprovalRequest, approverID string) (*entity.ChainLevel, *entity.ChainApprover, error) {
	if req.Status != entity.RequestStatusInProgress {
		return nil, nil, fmt.Errorf("%w: request %s is %s", ErrState, req.RequestNumber, req.Status)
	}
	level := req.CurrentChainLevel()
	if level == nil || level.Status != entity.LevelStatusInProgress {
		return nil, nil, fmt.Errorf("%w: request %s has no level in progress", ErrState, req.RequestNumber)
	}
	approver := level.Approver(approverID)
	if approver == nil {
		return nil, nil, fmt.Errorf("%w: %s is not an approver on level %d", ErrAuthorization, approverID, level.Level)
	}
	if approver.Status != entity.ApproverStatusPending {
		return nil, nil, fmt.Errorf("%w: %s already acted on level %d", ErrState, approverID, level.Level)
	}
	return level, approver, nil
}

func isPendingApprover(level *entity.ChainLevel, userID string) bool {
	a := level.Approver(userID)
	return a != nil && a.Status == entity.ApproverStatusPending
}

// advance moves past a completed current level, finishing the request after the last one.
func advance(req *entity.ApprovalRequest, now time.Time, out *Outcome) error {
	clearEscalation(req)
	if req.CurrentLevel >= req.TotalLevels {
		if err := transition(req, TriggerComplete); err != nil {
			return err
		}
		req.ApprovedDate = timePtr(now)
		req.CompletedDate = timePtr(now)
		out.Completed = true
		return nil
	}
	if err := transition(req, TriggerAdvance); err != nil {
		return err
	}
	activate(req, req.CurrentLevel+1, now, out)
	return nil
}

// activate puts level n In Progress and cascades through auto-approvable levels.
func activate(req *entity.ApprovalRequest, n int, now time.Time, out *Outcome) {
	for {
		req.CurrentLevel = n
		level := req.CurrentChainLevel()
		level.Status = entity.LevelStatusInProgress
		level.StartDate = timePtr(now)
		if n > 1 {
			out.Advanced = true
		}

		if !CheckAutoApproval(level, RequestData{Amount: req.Amount, Urgency: req.Urgency}) {
			return
		}

		level.Status = entity.LevelStatusAutoApproved
		level.ReceivedApprovals = level.RequiredApprovals
		level.EndDate = timePtr(now)
		out.AutoApproved = append(out.AutoApproved, n)
		req.Actions = append(req.Actions, entity.Action{
			Level:     n,
			UserID:    entity.SystemPrincipal,
			Kind:      entity.ActionAutoApproved,
			Timestamp: now,
		})

		if n >= req.TotalLevels {
			// Pending/In Progress -> Approved; the request is In Progress here
			_ = transition(req, TriggerComplete)
			req.ApprovedDate = timePtr(now)
			req.CompletedDate = timePtr(now)
			out.Completed = true
			return
		}
		n++
	}
}

func resetChain(req *entity.ApprovalRequest) {
	for i := range req.ApprovalChain {
		level := &req.ApprovalChain[i]
		level.Status = entity.LevelStatusPending
		level.ReceivedApprovals = 0
		level.StartDate = nil
		level.EndDate = nil
		for j := range level.Approvers {
			level.Approvers[j].Status = entity.ApproverStatusPending
			level.Approvers[j].ActedAt = nil
		}
	}
	req.CurrentLevel = 1
}

func clearEscalation(req *entity.ApprovalRequest) {
	req.IsEscalated = false
	req.EscalationDate = nil
	req.EscalatedTo = nil
}

func joinComments(reason, comments string) string {
	if comments == "" {
		return reason
	}
	return reason + ": " + comments
}

func timePtr(t time.Time) *time.Time {
	return &t
}
