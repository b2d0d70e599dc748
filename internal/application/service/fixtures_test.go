package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/infrastructure/directory"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingDispatcher delivers nothing and keeps every published event in order
type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(event.Type, dispatcher.Handler)              {}
func (d *recordingDispatcher) SubscribeNamed(event.Type, string, dispatcher.Handler) {}
func (d *recordingDispatcher) ListHandlers(event.Type) []dispatcher.HandlerInfo      { return nil }
func (d *recordingDispatcher) Close() error                                          { return nil }

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.Lock()
	d.events = append(d.events, evt)
	d.mu.Unlock()
	return nil
}

func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	_ = d.Dispatch(ctx, evt)
}

func (d *recordingDispatcher) types() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]event.Type, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Type)
	}
	return out
}

func (d *recordingDispatcher) last() *event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) == 0 {
		return nil
	}
	return d.events[len(d.events)-1]
}

type countingMetrics struct {
	mu          sync.Mutex
	transitions map[string]int
	retries     map[string]int
	escalations int
	notifyFails map[string]int
	sweeps      int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		transitions: map[string]int{},
		retries:     map[string]int{},
		notifyFails: map[string]int{},
	}
}

func (m *countingMetrics) TransitionRecorded(action string) {
	m.mu.Lock()
	m.transitions[action]++
	m.mu.Unlock()
}

func (m *countingMetrics) ConflictRetried(action string) {
	m.mu.Lock()
	m.retries[action]++
	m.mu.Unlock()
}

func (m *countingMetrics) EscalationRecorded() {
	m.mu.Lock()
	m.escalations++
	m.mu.Unlock()
}

func (m *countingMetrics) NotificationFailed(kind string) {
	m.mu.Lock()
	m.notifyFails[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) SweepObserved(time.Duration, int, int, int) {
	m.mu.Lock()
	m.sweeps++
	m.mu.Unlock()
}

// conflictOnceStore bumps the stored version behind the caller's back before the first update
type conflictOnceStore struct {
	*memory.RequestStore
	mu       sync.Mutex
	armed    bool
	injected int
}

func (s *conflictOnceStore) Update(ctx context.Context, req *entity.ApprovalRequest) error {
	s.mu.Lock()
	fire := s.armed
	s.armed = false
	s.mu.Unlock()
	if fire {
		other, err := s.RequestStore.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		other.Description = "touched concurrently"
		if err := s.RequestStore.Update(ctx, other); err != nil {
			return err
		}
		s.injected++
	}
	return s.RequestStore.Update(ctx, req)
}

const purchaseRequest = "Purchase Request"

func members() []directory.Member {
	return []directory.Member{
		{UserID: "mgr-2", Email: "mgr2@example.com", Roles: []string{"manager"}, Departments: []string{"ENG"}},
		{UserID: "mgr-1", Email: "mgr1@example.com", Roles: []string{"manager"}, Departments: []string{"ENG"}},
		{UserID: "mgr-ops", Roles: []string{"manager"}, Departments: []string{"OPS"}},
		{UserID: "alice", Email: "alice@example.com", Departments: []string{"ENG"}},
	}
}

// standardTemplate: level 1 any ENG manager with 24h escalation, level 2 both finance approvers
func standardTemplate() entity.WorkflowTemplate {
	return entity.WorkflowTemplate{
		Code:         "PR-STD",
		Name:         "Standard purchase",
		BusinessType: entity.BusinessTypeA,
		WorkflowType: purchaseRequest,
		IsActive:     true,
		Levels: []entity.TemplateLevel{
			{
				Level:           1,
				Name:            "Manager",
				Approvers:       []entity.ApproverSelector{{Role: "manager"}},
				ApprovalType:    entity.ApprovalTypeAny,
				EscalationHours: 24,
				EscalateTo:      []string{"director"},
				CanDelegate:     true,
			},
			{
				Level:        2,
				Name:         "Finance",
				Approvers:    []entity.ApproverSelector{{UserIDs: []string{"cfo", "controller"}}},
				ApprovalType: entity.ApprovalTypeAll,
				IsOptional:   true,
			},
		},
		Rules: entity.TemplateRules{
			AllowResubmission: true,
			MaxResubmissions:  1,
			NotifyOnSubmit:    true,
			NotifyOnApproval:  true,
			NotifyOnRejection: true,
		},
	}
}

type engine struct {
	clock      *fakeClock
	requests   port.RequestRepository
	templates  *memory.TemplateStore
	dispatcher *recordingDispatcher
	metrics    *countingMetrics
	tplSvc     TemplateService
	svc        ApprovalService
}

func newEngine(t *testing.T, tpls ...entity.WorkflowTemplate) *engine {
	t.Helper()
	return newEngineWithRepo(t, memory.NewRequestStore(), tpls...)
}

func newEngineWithRepo(t *testing.T, requests port.RequestRepository, tpls ...entity.WorkflowTemplate) *engine {
	t.Helper()
	e := &engine{
		clock:      &fakeClock{now: t0},
		requests:   requests,
		templates:  memory.NewTemplateStore(),
		dispatcher: &recordingDispatcher{},
		metrics:    newCountingMetrics(),
	}
	e.tplSvc = NewTemplateService(e.templates, &mockLogger{}, WithTemplateClock(e.clock.Now))
	if len(tpls) == 0 {
		tpls = []entity.WorkflowTemplate{standardTemplate()}
	}
	_, err := e.tplSvc.SeedTemplates(context.Background(), tpls)
	require.NoError(t, err)

	e.svc = NewApprovalService(
		requests,
		e.tplSvc,
		directory.NewStaticDirectory(members()),
		memory.NewSequenceStore(),
		memory.TxManager{},
		&mockLogger{},
		WithClock(e.clock.Now),
		WithDispatcher(e.dispatcher),
		WithMetrics(e.metrics),
	)
	return e
}

func (e *engine) create(t *testing.T, amount float64) *entity.ApprovalRequest {
	t.Helper()
	req, err := e.svc.CreateRequest(context.Background(), CreateRequestParams{
		BusinessType: entity.BusinessTypeA,
		WorkflowType: purchaseRequest,
		Title:        "Laptops",
		RequestedBy:  "alice",
		Department:   "ENG",
		Amount:       amount,
		Currency:     "USD",
	})
	require.NoError(t, err)
	return req
}

