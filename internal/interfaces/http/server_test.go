package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/directory"
	"github.com/garyjia/approval-engine/internal/infrastructure/metrics"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/memory"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

const templateJSON = `{
  "code": "PR-STD",
  "name": "Standard purchase",
  "business_type": "A",
  "workflow_type": "Purchase Request",
  "is_active": true,
  "levels": [
    {"level": 1, "name": "Manager", "approval_type": "ANY", "approvers": [{"role": "manager"}]},
    {"level": 2, "name": "Finance", "approval_type": "ANY", "approvers": [{"user_ids": ["cfo"]}]}
  ],
  "rules": {"allow_resubmission": true, "max_resubmissions": 2}
}`

func newTestServer(t *testing.T, health HealthChecker) *Server {
	t.Helper()
	logger := &mockLogger{}
	requests := memory.NewRequestStore()
	templates := memory.NewTemplateStore()
	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	tplSvc := service.NewTemplateService(templates, logger)
	dir := directory.NewStaticDirectory([]directory.Member{
		{UserID: "mgr-1", Roles: []string{"manager"}, Departments: []string{"ENG"}},
	})
	approvals := service.NewApprovalService(requests, tplSvc, dir,
		memory.NewSequenceStore(), memory.TxManager{}, logger, service.WithMetrics(recorder))
	escalations := service.NewEscalationService(requests, approvals, logger, service.WithSweepMetrics(recorder))

	return NewServer(DefaultServerConfig(), Services{
		Approvals:   approvals,
		Templates:   tplSvc,
		Escalations: escalations,
	}, reg, health, logger)
}

func do(t *testing.T, s *Server, method, path, user, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func dataAs(t *testing.T, resp Response, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)
	w, resp := do(t, s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	var health HealthResponse
	dataAs(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)

	down := newTestServer(t, func(context.Context) error { return errors.New("database unreachable") })
	w, resp = do(t, down, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	dataAs(t, resp, &health)
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "database unreachable", health.Detail)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	w, resp := do(t, s, http.MethodPost, "/api/templates", "admin", templateJSON)
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)

	w, resp = do(t, s, http.MethodPost, "/api/requests", "alice",
		`{"business_type":"A","workflow_type":"Purchase Request","title":"Laptops","department":"ENG","amount":1200}`)
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	var req entity.ApprovalRequest
	dataAs(t, resp, &req)
	assert.Regexp(t, `^A-PR-\d{4}-00001$`, req.RequestNumber)
	assert.Equal(t, "alice", req.RequestedBy, "requester comes from the header")
	assert.Equal(t, entity.RequestStatusInProgress, req.Status)

	w, resp = do(t, s, http.MethodGet, "/api/approvals/pending", "mgr-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var pending []entity.ApprovalRequest
	dataAs(t, resp, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	path := fmt.Sprintf("/api/requests/%d", req.ID)
	w, resp = do(t, s, http.MethodPost, path+"/approve", "alice", `{"comments":"self"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, resp.Success)

	w, _ = do(t, s, http.MethodPost, path+"/approve", "mgr-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = do(t, s, http.MethodPost, path+"/reject", "cfo", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "reason is required")

	w, _ = do(t, s, http.MethodPost, path+"/reject", "cfo", `{"reason":"no budget"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = do(t, s, http.MethodPost, path+"/resubmit", "alice", `{"update":{"amount":800},"justification":"smaller order"}`)
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	dataAs(t, resp, &req)
	assert.Equal(t, 800.0, req.Amount)
	assert.Equal(t, 1, req.ResubmissionCount)

	w, _ = do(t, s, http.MethodPost, path+"/cancel", "alice", `{"reason":"bought elsewhere"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, http.MethodPost, path+"/cancel", "alice", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp = do(t, s, http.MethodGet, "/api/requests/"+req.RequestNumber, "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	dataAs(t, resp, &req)
	assert.Equal(t, entity.RequestStatusCancelled, req.Status)

	w, _ = do(t, s, http.MethodGet, "/api/requests/999", "alice", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, nil)
	w, _ := do(t, s, http.MethodGet, "/health", "", "")
	assert.Len(t, w.Header().Get(HeaderRequestID), 36, "generated when absent")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "trace-123")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(HeaderRequestID))
}

func TestRequestsRequireUserHeader(t *testing.T) {
	s := newTestServer(t, nil)
	w, resp := do(t, s, http.MethodPost, "/api/requests", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, resp.Error, HeaderUserID)

	w, _ = do(t, s, http.MethodGet, "/api/approvals/pending", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateRequestWithoutTemplate(t *testing.T) {
	s := newTestServer(t, nil)
	w, resp := do(t, s, http.MethodPost, "/api/requests", "alice",
		`{"business_type":"B","workflow_type":"Leave","title":"Holiday"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, resp.Error, "configuration error")
}

func TestBadInput(t *testing.T) {
	s := newTestServer(t, nil)
	w, _ := do(t, s, http.MethodPost, "/api/requests/abc/approve", "mgr-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, s, http.MethodPost, "/api/requests", "alice", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplateRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	w, resp := do(t, s, http.MethodPost, "/api/templates", "admin", templateJSON)
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	var tpl entity.WorkflowTemplate
	dataAs(t, resp, &tpl)
	assert.Equal(t, "admin", tpl.CreatedBy)

	w, _ = do(t, s, http.MethodPost, "/api/templates", "admin", templateJSON)
	assert.Equal(t, http.StatusBadRequest, w.Code, "duplicate code")

	w, resp = do(t, s, http.MethodPost, "/api/templates/resolve", "",
		`{"business_type":"A","workflow_type":"Purchase Request","amount":10,"urgency":"NORMAL"}`)
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	var resolved entity.WorkflowTemplate
	dataAs(t, resp, &resolved)
	assert.Equal(t, tpl.ID, resolved.ID)

	updated := strings.Replace(templateJSON, "Standard purchase", "Renamed", 1)
	w, resp = do(t, s, http.MethodPut, fmt.Sprintf("/api/templates/%d", tpl.ID), "admin", updated)
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	dataAs(t, resp, &tpl)
	assert.Equal(t, "Renamed", tpl.Name)
	assert.Equal(t, 2, tpl.Version)

	w, _ = do(t, s, http.MethodPost, fmt.Sprintf("/api/templates/%d/deactivate", tpl.ID), "admin", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = do(t, s, http.MethodGet, "/api/templates?active=true", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []entity.WorkflowTemplate
	dataAs(t, resp, &list)
	assert.Empty(t, list)

	w, _ = do(t, s, http.MethodGet, "/api/templates/42", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEscalationSweepAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	w, resp := do(t, s, http.MethodPost, "/api/escalations/sweep", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var result service.SweepResult
	dataAs(t, resp, &result)
	assert.Equal(t, service.SweepResult{}, result)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "approval_engine_escalation_sweep_duration_seconds")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", workflow.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: x", workflow.ErrAuthorization), http.StatusForbidden},
		{fmt.Errorf("%w: x", workflow.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", workflow.ErrState), http.StatusConflict},
		{fmt.Errorf("%w: x", workflow.ErrConcurrentModification), http.StatusConflict},
		{fmt.Errorf("%w: x", workflow.ErrConfiguration), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", workflow.ErrLimit), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
