package entity

// BusinessType scopes templates and requests to a line of business.
type BusinessType string

const (
	BusinessTypeA    BusinessType = "A"
	BusinessTypeB    BusinessType = "B"
	BusinessTypeBoth BusinessType = "BOTH" // templates only
)

// IsValidForRequest reports whether a request may carry this business type.
func (b BusinessType) IsValidForRequest() bool {
	return b == BusinessTypeA || b == BusinessTypeB
}

// IsValidForTemplate reports whether a template may carry this business type.
func (b BusinessType) IsValidForTemplate() bool {
	return b == BusinessTypeA || b == BusinessTypeB || b == BusinessTypeBoth
}

// Matches reports whether a template scoped to b applies to a request of type other.
func (b BusinessType) Matches(other BusinessType) bool {
	return b == BusinessTypeBoth || b == other
}

// ApprovalType decides how many approvers a level needs.
type ApprovalType string

const (
	ApprovalTypeAny      ApprovalType = "ANY"
	ApprovalTypeAll      ApprovalType = "ALL"
	ApprovalTypeMajority ApprovalType = "MAJORITY"
)

// IsValid returns true for the known approval types
func (a ApprovalType) IsValid() bool {
	switch a {
	case ApprovalTypeAny, ApprovalTypeAll, ApprovalTypeMajority:
		return true
	}
	return false
}

// Urgency is the request-level priority. It is unrelated to template selection priority.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyNormal Urgency = "NORMAL"
	UrgencyHigh   Urgency = "HIGH"
	UrgencyUrgent Urgency = "URGENT"
)

// IsValid returns true for the four urgency levels
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyUrgent:
		return true
	}
	return false
}

// RequestStatus constants for ApprovalRequest
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "PENDING"
	RequestStatusInProgress RequestStatus = "IN_PROGRESS"
	RequestStatusApproved   RequestStatus = "APPROVED"
	RequestStatusRejected   RequestStatus = "REJECTED"
	RequestStatusCancelled  RequestStatus = "CANCELLED"
	RequestStatusOnHold     RequestStatus = "ON_HOLD"
	RequestStatusReturned   RequestStatus = "RETURNED"
)

// LevelStatus constants for a chain level
type LevelStatus string

const (
	LevelStatusPending      LevelStatus = "PENDING"
	LevelStatusInProgress   LevelStatus = "IN_PROGRESS"
	LevelStatusApproved     LevelStatus = "APPROVED"
	LevelStatusRejected     LevelStatus = "REJECTED"
	LevelStatusSkipped      LevelStatus = "SKIPPED"
	LevelStatusAutoApproved LevelStatus = "AUTO_APPROVED"
)

// IsComplete reports whether the level no longer blocks the chain.
func (s LevelStatus) IsComplete() bool {
	return s == LevelStatusApproved || s == LevelStatusSkipped || s == LevelStatusAutoApproved
}

// ApproverStatus constants for a single approver within a level
type ApproverStatus string

const (
	ApproverStatusPending  ApproverStatus = "PENDING"
	ApproverStatusApproved ApproverStatus = "APPROVED"
	ApproverStatusRejected ApproverStatus = "REJECTED"
)

// ActionKind constants for the request audit trail
type ActionKind string

const (
	ActionSubmitted    ActionKind = "SUBMITTED"
	ActionApproved     ActionKind = "APPROVED"
	ActionRejected     ActionKind = "REJECTED"
	ActionCancelled    ActionKind = "CANCELLED"
	ActionResubmitted  ActionKind = "RESUBMITTED"
	ActionAutoApproved ActionKind = "AUTO_APPROVED"
	ActionDelegated    ActionKind = "DELEGATED"
	ActionSkipped      ActionKind = "SKIPPED"
	ActionEscalated    ActionKind = "ESCALATED"
	ActionHeld         ActionKind = "HELD"
	ActionResumed      ActionKind = "RESUMED"
)

// SystemPrincipal is the actor recorded for engine-initiated actions.
const SystemPrincipal = "system"
