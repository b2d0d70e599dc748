package port

import (
	"context"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// NotificationGateway delivers a notification to one principal.
// Delivery is best effort; callers log failures and move on.
type NotificationGateway interface {
	SendToUser(ctx context.Context, n entity.Notification) error
}

// ApproverDirectory resolves a role within a department into concrete user IDs.
// department "*" matches every department.
type ApproverDirectory interface {
	Resolve(ctx context.Context, role, department string) ([]string, error)
}

// LarkMessageSender defines message sending operations
type LarkMessageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) error
}
