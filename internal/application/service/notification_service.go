package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// NotificationService turns request events into messages for the people involved.
// Delivery failures are logged and counted; they never fail the transition that caused them.
type NotificationService interface {
	// Register subscribes the service to every request event it reacts to
	Register(d dispatcher.Dispatcher)
	// HandleEvent sends the notifications for a single event
	HandleEvent(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	gateway       port.NotificationGateway
	metrics       port.MetricsRecorder
	logger        Logger
	actionBaseURL string
	emailOf       func(userID string) string
}

// NotificationOption configures the notification service
type NotificationOption func(*notificationServiceImpl)

// WithEmailLookup attaches an e-mail rendering to outcome notifications for
// requesters whose address lookup returns non-empty
func WithEmailLookup(lookup func(userID string) string) NotificationOption {
	return func(s *notificationServiceImpl) {
		s.emailOf = lookup
	}
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(gateway port.NotificationGateway, metrics port.MetricsRecorder, logger Logger, actionBaseURL string, opts ...NotificationOption) NotificationService {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	s := &notificationServiceImpl{
		gateway:       gateway,
		metrics:       metrics,
		logger:        logger,
		actionBaseURL: strings.TrimRight(actionBaseURL, "/"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register subscribes HandleEvent to the notifying event types
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeRequestSubmitted,
		event.TypeLevelAdvanced,
		event.TypeRequestResubmitted,
		event.TypeRequestResumed,
		event.TypeRequestApproved,
		event.TypeRequestRejected,
		event.TypeRequestCancelled,
		event.TypeRequestEscalated,
		event.TypeApprovalDelegated,
	} {
		d.SubscribeNamed(t, "notify-"+t.String(), s.HandleEvent)
	}
}

// HandleEvent builds and sends the notifications for evt
func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	req := evt.Request
	if req == nil {
		return nil
	}

	for _, n := range s.buildNotifications(evt, req) {
		if err := s.gateway.SendToUser(ctx, n); err != nil {
			s.metrics.NotificationFailed(string(n.Kind))
			s.logger.Error("Failed to send notification",
				"error", err,
				"request_number", req.RequestNumber,
				"user_id", n.UserID,
				"kind", n.Kind,
			)
			continue
		}
		s.logger.Info("Notification sent", "request_number", req.RequestNumber, "user_id", n.UserID, "kind", n.Kind)
	}
	return nil
}

func (s *notificationServiceImpl) buildNotifications(evt *event.Event, req *entity.ApprovalRequest) []entity.Notification {
	switch evt.Type {
	case event.TypeRequestSubmitted, event.TypeRequestResubmitted, event.TypeRequestResumed:
		if evt.Type == event.TypeRequestSubmitted && !req.Rules.NotifyOnSubmit {
			return nil
		}
		return s.toApprovers(req, req.PendingApproverIDs(), entity.NotificationApprovalRequired,
			"Approval required",
			fmt.Sprintf("%s (%s) from %s is waiting for your approval at level %d of %d.",
				req.Title, req.RequestNumber, req.RequestedBy, req.CurrentLevel, req.TotalLevels))

	case event.TypeLevelAdvanced:
		return s.toApprovers(req, req.PendingApproverIDs(), entity.NotificationApprovalRequired,
			"Approval required",
			fmt.Sprintf("%s (%s) reached level %d of %d and is waiting for your approval.",
				req.Title, req.RequestNumber, req.CurrentLevel, req.TotalLevels))

	case event.TypeRequestApproved:
		if !req.Rules.NotifyOnApproval {
			return nil
		}
		return s.withEmail(s.toApprovers(req, []string{req.RequestedBy}, entity.NotificationApproved,
			"Request approved",
			fmt.Sprintf("Your request %s (%s) was approved.", req.Title, req.RequestNumber)))

	case event.TypeRequestRejected:
		if !req.Rules.NotifyOnRejection {
			return nil
		}
		return s.withEmail(s.toApprovers(req, []string{req.RequestedBy}, entity.NotificationRejected,
			"Request rejected",
			fmt.Sprintf("Your request %s (%s) was rejected at level %d: %s",
				req.Title, req.RequestNumber, req.CurrentLevel, req.RejectionReason)))

	case event.TypeRequestCancelled:
		return s.toApprovers(req, evt.GetPayloadStrings(event.PayloadTargets), entity.NotificationCancelled,
			"Request cancelled",
			fmt.Sprintf("%s (%s) was cancelled by %s and no longer needs your approval.",
				req.Title, req.RequestNumber, req.RequestedBy))

	case event.TypeRequestEscalated:
		return s.toApprovers(req, evt.GetPayloadStrings(event.PayloadTargets), entity.NotificationEscalated,
			"Approval escalated",
			fmt.Sprintf("%s (%s) has waited too long at level %d and was escalated to you.",
				req.Title, req.RequestNumber, req.CurrentLevel))

	case event.TypeApprovalDelegated:
		delegate := evt.GetPayloadString(event.PayloadDelegateTo)
		if delegate == "" {
			return nil
		}
		return s.toApprovers(req, []string{delegate}, entity.NotificationDelegated,
			"Approval delegated to you",
			fmt.Sprintf("%s delegated the approval of %s (%s) to you.",
				evt.GetPayloadString(event.PayloadActor), req.Title, req.RequestNumber))
	}
	return nil
}

func (s *notificationServiceImpl) toApprovers(req *entity.ApprovalRequest, users []string, kind entity.NotificationKind, title, message string) []entity.Notification {
	out := make([]entity.Notification, 0, len(users))
	for _, u := range users {
		out = append(out, entity.Notification{
			UserID:       u,
			Title:        title,
			Message:      message,
			BusinessType: req.BusinessType,
			Kind:         kind,
			Priority:     req.Urgency,
			RequestID:    req.ID,
			RequestNo:    req.RequestNumber,
			RelatedTo:    req.RelatedTo,
			ActionURL:    s.actionURL(req),
		})
	}
	return out
}

func (s *notificationServiceImpl) withEmail(ns []entity.Notification) []entity.Notification {
	if s.emailOf == nil {
		return ns
	}
	for i := range ns {
		if addr := s.emailOf(ns[i].UserID); addr != "" {
			body := ns[i].Message
			if ns[i].ActionURL != "" {
				body += "\n\n" + ns[i].ActionURL
			}
			ns[i].Email = &entity.EmailPayload{
				To:      addr,
				Subject: fmt.Sprintf("[%s] %s", ns[i].RequestNo, ns[i].Title),
				Body:    body,
			}
		}
	}
	return ns
}

func (s *notificationServiceImpl) actionURL(req *entity.ApprovalRequest) string {
	if s.actionBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/requests/%d", s.actionBaseURL, req.ID)
}
