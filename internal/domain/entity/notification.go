package entity

// NotificationKind classifies outbound messages
type NotificationKind string

const (
	NotificationApprovalRequired NotificationKind = "APPROVAL_REQUIRED"
	NotificationApproved         NotificationKind = "REQUEST_APPROVED"
	NotificationRejected         NotificationKind = "REQUEST_REJECTED"
	NotificationCancelled        NotificationKind = "REQUEST_CANCELLED"
	NotificationEscalated        NotificationKind = "REQUEST_ESCALATED"
	NotificationDelegated        NotificationKind = "APPROVAL_DELEGATED"
)

// Notification is a single message addressed to one principal.
type Notification struct {
	UserID       string           `json:"user_id"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	BusinessType BusinessType     `json:"business_type"`
	Kind         NotificationKind `json:"kind"`
	Priority     Urgency          `json:"priority"`
	RequestID    int64            `json:"request_id"`
	RequestNo    string           `json:"request_number"`
	RelatedTo    RelatedTo        `json:"related_to"`
	ActionURL    string           `json:"action_url,omitempty"`
	Email        *EmailPayload    `json:"email,omitempty"`
}

// EmailPayload is an optional e-mail rendering of the notification.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
