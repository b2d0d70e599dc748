// Package notify holds notification gateways that need no external service.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
)

// LogGateway writes notifications to the log and keeps the most recent ones in memory
type LogGateway struct {
	logger *zap.Logger
	keep   int

	mu   sync.Mutex
	sent []entity.Notification
}

// NewLogGateway creates a gateway that retains up to keep notifications
func NewLogGateway(logger *zap.Logger, keep int) *LogGateway {
	return &LogGateway{logger: logger, keep: keep}
}

func (g *LogGateway) SendToUser(ctx context.Context, n entity.Notification) error {
	g.logger.Info("Notification",
		zap.String("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("request_number", n.RequestNo),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	)

	if g.keep <= 0 {
		return nil
	}
	g.mu.Lock()
	g.sent = append(g.sent, n)
	if len(g.sent) > g.keep {
		g.sent = g.sent[len(g.sent)-g.keep:]
	}
	g.mu.Unlock()
	return nil
}

// Sent returns a copy of the retained notifications, oldest first
func (g *LogGateway) Sent() []entity.Notification {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]entity.Notification(nil), g.sent...)
}

var _ port.NotificationGateway = (*LogGateway)(nil)
