package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

type sentMessage struct {
	receiveIDType, receiveID, msgType, content string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{receiveIDType, receiveID, msgType, content})
	return nil
}

func TestGateway_SendToUser(t *testing.T) {
	sender := &fakeSender{}
	gw := NewGateway(sender, "", zap.NewNop())

	err := gw.SendToUser(context.Background(), entity.Notification{
		UserID:    "bob",
		Title:     "Approval required",
		Message:   `Laptop "Pro" needs you`,
		Kind:      entity.NotificationApprovalRequired,
		Priority:  entity.UrgencyHigh,
		RequestNo: "A-PR-2026-00001",
		RelatedTo: entity.RelatedTo{Kind: entity.RelatedPurchaseRequest, ID: "PR-9"},
		ActionURL: "https://approvals.example.com/requests/1",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "user_id", msg.receiveIDType)
	assert.Equal(t, "bob", msg.receiveID)
	assert.Equal(t, "interactive", msg.msgType)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.content), &decoded), "card must be valid JSON even with quotes in the message")
	header := decoded["header"].(map[string]interface{})
	assert.Equal(t, "orange", header["template"])
	assert.Contains(t, msg.content, "PR-9")
	assert.Contains(t, msg.content, "https://approvals.example.com/requests/1")
}

func TestGateway_EmailCopy(t *testing.T) {
	sender := &fakeSender{}
	gw := NewGateway(sender, "open_id", zap.NewNop())

	err := gw.SendToUser(context.Background(), entity.Notification{
		UserID: "ou_123",
		Title:  "Request approved",
		Kind:   entity.NotificationApproved,
		Email:  &entity.EmailPayload{To: "alice@example.com", Subject: "Approved", Body: "All done"},
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "open_id", sender.sent[0].receiveIDType)
	assert.Equal(t, "email", sender.sent[1].receiveIDType)
	assert.Equal(t, "alice@example.com", sender.sent[1].receiveID)
}

func TestGateway_Errors(t *testing.T) {
	gw := NewGateway(&fakeSender{}, "", zap.NewNop())
	assert.Error(t, gw.SendToUser(context.Background(), entity.Notification{}))

	failing := NewGateway(&fakeSender{err: errors.New("rate limited")}, "", zap.NewNop())
	assert.Error(t, failing.SendToUser(context.Background(), entity.Notification{UserID: "bob"}))
}

func TestHeaderColor(t *testing.T) {
	tests := []struct {
		n    entity.Notification
		want string
	}{
		{entity.Notification{Kind: entity.NotificationApproved}, "green"},
		{entity.Notification{Kind: entity.NotificationRejected}, "red"},
		{entity.Notification{Kind: entity.NotificationEscalated}, "orange"},
		{entity.Notification{Kind: entity.NotificationApprovalRequired, Priority: entity.UrgencyUrgent}, "orange"},
		{entity.Notification{Kind: entity.NotificationApprovalRequired, Priority: entity.UrgencyLow}, "blue"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, headerColor(tt.n), string(tt.n.Kind))
	}
}
