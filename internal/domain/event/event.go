package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// Payload keys
const (
	PayloadActor      = "actor"
	PayloadTargets    = "targets"
	PayloadDelegateTo = "delegate_to"
	PayloadReason     = "reason"
)

// Event represents a domain event raised after a request was persisted
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	RequestID     int64                  `json:"request_id"`
	RequestNumber string                 `json:"request_number"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`

	// Request is a snapshot taken at commit time; handlers must not mutate it
	Request *entity.ApprovalRequest `json:"-"`
}

// NewEvent creates a new domain event for the request snapshot
func NewEvent(eventType Type, req *entity.ApprovalRequest, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, req, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, req *entity.ApprovalRequest, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	e := &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		Request:       req,
	}
	if req != nil {
		e.RequestID = req.ID
		e.RequestNumber = req.RequestNumber
	}
	return e
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadStrings retrieves a string slice from the payload
func (e *Event) GetPayloadStrings(key string) []string {
	switch v := e.Payload[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
