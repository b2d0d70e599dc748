package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/infrastructure/directory"
)

type recordingGateway struct {
	mu     sync.Mutex
	sent   []entity.Notification
	failTo map[string]bool
}

func (g *recordingGateway) SendToUser(ctx context.Context, n entity.Notification) error {
	if g.failTo[n.UserID] {
		return errors.New("gateway unavailable")
	}
	g.mu.Lock()
	g.sent = append(g.sent, n)
	g.mu.Unlock()
	return nil
}

func (g *recordingGateway) users() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.sent))
	for _, n := range g.sent {
		out = append(out, n.UserID)
	}
	return out
}

func (g *recordingGateway) reset() {
	g.mu.Lock()
	g.sent = nil
	g.mu.Unlock()
}

func submittedRequest(t *testing.T) (*engine, *entity.ApprovalRequest) {
	t.Helper()
	e := newEngine(t)
	return e, e.create(t, 1500)
}

func TestNotificationService_ApproversAreToldWhenWorkArrives(t *testing.T) {
	ctx := context.Background()
	e, req := submittedRequest(t)
	gw := &recordingGateway{}
	svc := NewNotificationService(gw, nil, &mockLogger{}, "https://approvals.example.com/")

	require.NoError(t, svc.HandleEvent(ctx, event.NewEvent(event.TypeRequestSubmitted, req, nil)))
	assert.Equal(t, []string{"mgr-1", "mgr-2"}, gw.users())
	first := gw.sent[0]
	assert.Equal(t, entity.NotificationApprovalRequired, first.Kind)
	assert.Equal(t, req.RequestNumber, first.RequestNo)
	assert.Equal(t, entity.BusinessTypeA, first.BusinessType)
	assert.Equal(t, entity.UrgencyNormal, first.Priority)
	assert.Equal(t, "https://approvals.example.com/requests/1", first.ActionURL)
	assert.Nil(t, first.Email)

	gw.reset()
	advanced, err := e.svc.Approve(ctx, req.ID, "mgr-1", "", nil)
	require.NoError(t, err)
	require.NoError(t, svc.HandleEvent(ctx, e.dispatcher.last()))
	assert.Equal(t, []string{"cfo", "controller"}, gw.users())
	assert.Contains(t, gw.sent[0].Message, "level 2 of 2")
	assert.Equal(t, 2, advanced.CurrentLevel)
}

func TestNotificationService_SubmitNotificationFollowsRule(t *testing.T) {
	_, req := submittedRequest(t)
	req.Rules.NotifyOnSubmit = false
	gw := &recordingGateway{}
	svc := NewNotificationService(gw, nil, &mockLogger{}, "")

	require.NoError(t, svc.HandleEvent(context.Background(), event.NewEvent(event.TypeRequestSubmitted, req, nil)))
	assert.Empty(t, gw.users())
}

func TestNotificationService_OutcomesGoToRequesterWithEmail(t *testing.T) {
	ctx := context.Background()
	e, req := submittedRequest(t)
	dir := directory.NewStaticDirectory(members())
	gw := &recordingGateway{}
	svc := NewNotificationService(gw, nil, &mockLogger{}, "https://approvals.example.com", WithEmailLookup(dir.Email))

	rejected, err := e.svc.Reject(ctx, req.ID, "mgr-2", "missing quote", "", nil)
	require.NoError(t, err)
	require.NoError(t, svc.HandleEvent(ctx, e.dispatcher.last()))

	require.Len(t, gw.sent, 1)
	n := gw.sent[0]
	assert.Equal(t, "alice", n.UserID)
	assert.Equal(t, entity.NotificationRejected, n.Kind)
	assert.Contains(t, n.Message, "missing quote")
	require.NotNil(t, n.Email)
	assert.Equal(t, "alice@example.com", n.Email.To)
	assert.Equal(t, "["+rejected.RequestNumber+"] Request rejected", n.Email.Subject)
	assert.Contains(t, n.Email.Body, "https://approvals.example.com/requests/1")

	rejected.Rules.NotifyOnRejection = false
	gw.reset()
	require.NoError(t, svc.HandleEvent(ctx, event.NewEvent(event.TypeRequestRejected, rejected, nil)))
	assert.Empty(t, gw.users())
}

func TestNotificationService_CancelEscalateDelegateTargets(t *testing.T) {
	ctx := context.Background()
	_, req := submittedRequest(t)
	gw := &recordingGateway{}
	svc := NewNotificationService(gw, nil, &mockLogger{}, "")

	tests := []struct {
		name  string
		evt   *event.Event
		users []string
		kind  entity.NotificationKind
	}{
		{
			name:  "cancel tells whoever was waiting",
			evt:   event.NewEvent(event.TypeRequestCancelled, req, map[string]interface{}{event.PayloadTargets: []string{"mgr-1", "mgr-2"}}),
			users: []string{"mgr-1", "mgr-2"},
			kind:  entity.NotificationCancelled,
		},
		{
			name:  "escalation goes to the targets",
			evt:   event.NewEvent(event.TypeRequestEscalated, req, map[string]interface{}{event.PayloadTargets: []string{"director"}}),
			users: []string{"director"},
			kind:  entity.NotificationEscalated,
		},
		{
			name:  "delegation tells the delegate",
			evt:   event.NewEvent(event.TypeApprovalDelegated, req, map[string]interface{}{event.PayloadActor: "mgr-1", event.PayloadDelegateTo: "deputy"}),
			users: []string{"deputy"},
			kind:  entity.NotificationDelegated,
		},
		{
			name:  "hold is silent",
			evt:   event.NewEvent(event.TypeRequestHeld, req, nil),
			users: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw.reset()
			require.NoError(t, svc.HandleEvent(ctx, tt.evt))
			assert.Equal(t, tt.users, gw.users())
			for _, n := range gw.sent {
				assert.Equal(t, tt.kind, n.Kind)
			}
		})
	}
}

func TestNotificationService_FailuresAreCountedNotReturned(t *testing.T) {
	_, req := submittedRequest(t)
	gw := &recordingGateway{failTo: map[string]bool{"mgr-1": true}}
	metrics := newCountingMetrics()
	svc := NewNotificationService(gw, metrics, &mockLogger{}, "")

	err := svc.HandleEvent(context.Background(), event.NewEvent(event.TypeRequestSubmitted, req, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-2"}, gw.users())
	assert.Equal(t, 1, metrics.notifyFails[string(entity.NotificationApprovalRequired)])
}

func TestNotificationService_RegisterSubscribesThroughDispatcher(t *testing.T) {
	_, req := submittedRequest(t)
	gw := &recordingGateway{}
	d := dispatcher.NewDispatcher()
	defer d.Close()

	svc := NewNotificationService(gw, nil, &mockLogger{}, "")
	svc.Register(d)

	assert.Len(t, d.ListHandlers(event.TypeRequestSubmitted), 1)
	assert.Empty(t, d.ListHandlers(event.TypeRequestHeld))

	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeRequestSubmitted, req, nil)))
	assert.Equal(t, []string{"mgr-1", "mgr-2"}, gw.users())
}
