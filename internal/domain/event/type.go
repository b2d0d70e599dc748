package event

// Type identifies the type of domain event
type Type string

const (
	TypeRequestSubmitted   Type = "request.submitted"
	TypeLevelAdvanced      Type = "request.level_advanced"
	TypeRequestApproved    Type = "request.approved"
	TypeRequestRejected    Type = "request.rejected"
	TypeRequestCancelled   Type = "request.cancelled"
	TypeRequestResubmitted Type = "request.resubmitted"
	TypeRequestEscalated   Type = "request.escalated"
	TypeApprovalDelegated  Type = "request.delegated"
	TypeRequestHeld        Type = "request.held"
	TypeRequestResumed     Type = "request.resumed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeRequestSubmitted,
		TypeLevelAdvanced,
		TypeRequestApproved,
		TypeRequestRejected,
		TypeRequestCancelled,
		TypeRequestResubmitted,
		TypeRequestEscalated,
		TypeApprovalDelegated,
		TypeRequestHeld,
		TypeRequestResumed:
		return true
	default:
		return false
	}
}
