package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/memory"
)

func TestApprovalService_CreateRequest(t *testing.T) {
	e := newEngine(t)
	req := e.create(t, 1500)

	assert.Equal(t, "A-PR-2026-00001", req.RequestNumber)
	assert.Equal(t, entity.RequestStatusInProgress, req.Status)
	assert.Equal(t, 1, req.CurrentLevel)
	assert.Equal(t, 2, req.TotalLevels)
	assert.Equal(t, int64(1), req.Version)
	assert.Equal(t, "PR-STD", req.TemplateCode)
	assert.Equal(t, []string{"mgr-1", "mgr-2"}, req.PendingApproverIDs())
	assert.Equal(t, 2, req.ApprovalChain[1].RequiredApprovals)
	require.NoError(t, workflow.CheckInvariants(req))

	second := e.create(t, 10)
	assert.Equal(t, "A-PR-2026-00002", second.RequestNumber)

	assert.Equal(t, []event.Type{event.TypeRequestSubmitted, event.TypeRequestSubmitted}, e.dispatcher.types())
	assert.Equal(t, 2, e.metrics.transitions["create"])
}

func TestApprovalService_CreateRequest_Errors(t *testing.T) {
	withJustification := standardTemplate()
	withJustification.Code = "PR-JUST"
	withJustification.WorkflowType = "Purchase Order"
	withJustification.Rules.RequiresJustification = true

	noApprovers := standardTemplate()
	noApprovers.Code = "PR-EMPTY"
	noApprovers.WorkflowType = "Goods Receipt"
	noApprovers.Levels[0].Approvers = []entity.ApproverSelector{{Role: "auditor"}}

	e := newEngine(t, standardTemplate(), withJustification, noApprovers)

	tests := []struct {
		name   string
		params CreateRequestParams
		want   error
	}{
		{
			name:   "missing title",
			params: CreateRequestParams{BusinessType: entity.BusinessTypeA, WorkflowType: purchaseRequest, RequestedBy: "alice"},
			want:   workflow.ErrValidation,
		},
		{
			name:   "BOTH is not a request business type",
			params: CreateRequestParams{BusinessType: entity.BusinessTypeBoth, WorkflowType: purchaseRequest, Title: "x", RequestedBy: "alice"},
			want:   workflow.ErrValidation,
		},
		{
			name:   "negative amount",
			params: CreateRequestParams{BusinessType: entity.BusinessTypeA, WorkflowType: purchaseRequest, Title: "x", RequestedBy: "alice", Amount: -1},
			want:   workflow.ErrValidation,
		},
		{
			name:   "no template for business type",
			params: CreateRequestParams{BusinessType: entity.BusinessTypeB, WorkflowType: purchaseRequest, Title: "x", RequestedBy: "alice"},
			want:   workflow.ErrConfiguration,
		},
		{
			name:   "justification required by template",
			params: CreateRequestParams{BusinessType: entity.BusinessTypeA, WorkflowType: "Purchase Order", Title: "x", RequestedBy: "alice", Department: "ENG"},
			want:   workflow.ErrValidation,
		},
		{
			name:   "role resolves to nobody",
			params: CreateRequestParams{BusinessType: entity.BusinessTypeA, WorkflowType: "Goods Receipt", Title: "x", RequestedBy: "alice", Department: "ENG"},
			want:   workflow.ErrConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateRequest(context.Background(), tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, e.dispatcher.types())
}

func TestApprovalService_CreateRequest_AutoApprovesWholeChain(t *testing.T) {
	small := entity.WorkflowTemplate{
		Code:         "PR-SMALL",
		Name:         "Small purchase",
		BusinessType: entity.BusinessTypeBoth,
		WorkflowType: purchaseRequest,
		IsActive:     true,
		Levels: []entity.TemplateLevel{{
			Level:          1,
			Name:           "Manager",
			Approvers:      []entity.ApproverSelector{{Role: "manager"}},
			ApprovalType:   entity.ApprovalTypeAny,
			AutoApprove:    true,
			AutoConditions: entity.AutoApproveConditions{AmountLessThan: floatPtr(100)},
		}},
		Rules: entity.TemplateRules{NotifyOnApproval: true},
	}
	e := newEngine(t, small)

	req := e.create(t, 50)
	assert.Equal(t, entity.RequestStatusApproved, req.Status)
	assert.Equal(t, entity.LevelStatusAutoApproved, req.ApprovalChain[0].Status)
	assert.NotNil(t, req.ApprovedDate)
	assert.Equal(t, []event.Type{event.TypeRequestSubmitted, event.TypeRequestApproved}, e.dispatcher.types())

	stored, err := e.svc.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusApproved, stored.Status)

	over := e.create(t, 150)
	assert.Equal(t, entity.RequestStatusInProgress, over.Status)

	atThreshold := e.create(t, 100)
	assert.Equal(t, entity.RequestStatusInProgress, atThreshold.Status)
	assert.Equal(t, 1, atThreshold.CurrentLevel)
	assert.Equal(t, entity.LevelStatusInProgress, atThreshold.ApprovalChain[0].Status)
	assert.Nil(t, atThreshold.ApprovedDate)
}

func TestApprovalService_ApproveThroughChain(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	req := e.create(t, 1500)

	req, err := e.svc.Approve(ctx, req.ID, "mgr-2", "ok", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, req.CurrentLevel)
	assert.Equal(t, int64(2), req.Version)
	assert.Equal(t, []string{"cfo", "controller"}, req.PendingApproverIDs())
	assert.Equal(t, event.TypeLevelAdvanced, e.dispatcher.last().Type)

	_, err = e.svc.Approve(ctx, req.ID, "mgr-1", "", nil)
	assert.ErrorIs(t, err, workflow.ErrAuthorization, "level 1 approvers cannot act on level 2")

	req, err = e.svc.Approve(ctx, req.ID, "cfo", "", nil)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusInProgress, req.Status)
	assert.Equal(t, []string{"controller"}, req.PendingApproverIDs())

	_, err = e.svc.Approve(ctx, req.ID, "cfo", "", nil)
	assert.ErrorIs(t, err, workflow.ErrState, "an approver acts once per level")

	assert.Nil(t, req.CompletedDate)

	e.clock.Advance(time.Hour)
	req, err = e.svc.Approve(ctx, req.ID, "controller", "", nil)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusApproved, req.Status)
	require.NotNil(t, req.CompletedDate)
	assert.Equal(t, t0.Add(time.Hour), *req.CompletedDate)
	assert.Equal(t, event.TypeRequestApproved, e.dispatcher.last().Type)
	require.NoError(t, workflow.CheckInvariants(req))

	_, err = e.svc.Approve(ctx, req.ID, "controller", "", nil)
	assert.ErrorIs(t, err, workflow.ErrState)

	_, err = e.svc.Approve(ctx, 999, "cfo", "", nil)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestApprovalService_RejectAndResubmit(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	req := e.create(t, 1500)

	_, err := e.svc.Reject(ctx, req.ID, "mgr-1", "", "", nil)
	assert.ErrorIs(t, err, workflow.ErrValidation, "reason is mandatory")

	req, err = e.svc.Reject(ctx, req.ID, "mgr-1", "over budget", "", nil)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusRejected, req.Status)
	assert.Equal(t, "over budget", req.RejectionReason)
	assert.Empty(t, req.PendingApproverIDs())
	require.NotNil(t, req.CompletedDate)

	_, err = e.svc.Resubmit(ctx, req.ID, "mgr-1", workflow.RequestUpdate{}, "")
	assert.ErrorIs(t, err, workflow.ErrAuthorization)

	lower := 900.0
	req, err = e.svc.Resubmit(ctx, req.ID, "alice", workflow.RequestUpdate{Amount: &lower}, "trimmed the order")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusInProgress, req.Status)
	assert.Equal(t, 1, req.CurrentLevel)
	assert.Equal(t, 1, req.ResubmissionCount)
	assert.Equal(t, 900.0, req.Amount)
	require.Len(t, req.PreviousVersions, 1)
	assert.Equal(t, 1500.0, req.PreviousVersions[0].Amount)
	assert.Equal(t, "over budget", req.PreviousVersions[0].RejectionReason)
	assert.Empty(t, req.RejectionReason)
	assert.Nil(t, req.CompletedDate)
	assert.Equal(t, []string{"mgr-1", "mgr-2"}, req.PendingApproverIDs())

	_, err = e.svc.Reject(ctx, req.ID, "mgr-2", "still too much", "", nil)
	require.NoError(t, err)
	_, err = e.svc.Resubmit(ctx, req.ID, "alice", workflow.RequestUpdate{}, "")
	assert.ErrorIs(t, err, workflow.ErrLimit)
}

func TestApprovalService_ResubmitUsesRulesCapturedAtCreation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	req := e.create(t, 1500)
	require.True(t, req.Rules.AllowResubmission)

	_, err := e.svc.Reject(ctx, req.ID, "mgr-1", "over budget", "", nil)
	require.NoError(t, err)

	tpl, err := e.tplSvc.GetTemplate(ctx, req.TemplateID)
	require.NoError(t, err)
	tpl.Rules.AllowResubmission = false
	tpl.Rules.MaxResubmissions = 0
	_, err = e.tplSvc.UpdateTemplate(ctx, tpl.ID, tpl)
	require.NoError(t, err)

	resubmitted, err := e.svc.Resubmit(ctx, req.ID, "alice", workflow.RequestUpdate{}, "same order")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusInProgress, resubmitted.Status)
	assert.True(t, resubmitted.Rules.AllowResubmission)

	// new requests pick up the edited policy
	fresh := e.create(t, 1500)
	assert.False(t, fresh.Rules.AllowResubmission)
}

func TestApprovalService_ResubmitNotAllowed(t *testing.T) {
	tpl := standardTemplate()
	tpl.Rules.AllowResubmission = false
	e := newEngine(t, tpl)
	ctx := context.Background()

	req := e.create(t, 10)
	_, err := e.svc.Reject(ctx, req.ID, "mgr-1", "no", "", nil)
	require.NoError(t, err)

	_, err = e.svc.Resubmit(ctx, req.ID, "alice", workflow.RequestUpdate{}, "")
	assert.ErrorIs(t, err, workflow.ErrState)
}

func TestApprovalService_Cancel(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	req := e.create(t, 10)

	_, err := e.svc.Cancel(ctx, req.ID, "mgr-1", "not mine")
	assert.ErrorIs(t, err, workflow.ErrAuthorization)

	req, err = e.svc.Cancel(ctx, req.ID, "alice", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusCancelled, req.Status)
	assert.NotNil(t, req.CancelledDate)
	assert.Equal(t, req.CancelledDate, req.CompletedDate)

	last := e.dispatcher.last()
	assert.Equal(t, event.TypeRequestCancelled, last.Type)
	assert.Equal(t, []string{"mgr-1", "mgr-2"}, last.GetPayloadStrings(event.PayloadTargets))

	_, err = e.svc.Cancel(ctx, req.ID, "alice", "again")
	assert.ErrorIs(t, err, workflow.ErrState)
	_, err = e.svc.Approve(ctx, req.ID, "mgr-1", "", nil)
	assert.ErrorIs(t, err, workflow.ErrState)
}

func TestApprovalService_DelegateSkipHoldResume(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	req := e.create(t, 10)

	req, err := e.svc.Delegate(ctx, req.ID, "mgr-1", "deputy", "on leave")
	require.NoError(t, err)
	assert.Equal(t, []string{"deputy", "mgr-2"}, req.PendingApproverIDs())
	assert.Equal(t, "deputy", e.dispatcher.last().GetPayloadString(event.PayloadDelegateTo))

	_, err = e.svc.Delegate(ctx, req.ID, "deputy", "mgr-2", "")
	assert.ErrorIs(t, err, workflow.ErrValidation, "delegate already on the level")

	_, err = e.svc.SkipLevel(ctx, req.ID, "alice", "")
	assert.ErrorIs(t, err, workflow.ErrState, "level 1 is neither optional nor skippable")

	req, err = e.svc.Hold(ctx, req.ID, "deputy", "waiting on quote")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusOnHold, req.Status)
	assert.Empty(t, req.PendingApproverIDs())

	_, err = e.svc.Approve(ctx, req.ID, "mgr-2", "", nil)
	assert.ErrorIs(t, err, workflow.ErrState)

	_, err = e.svc.Resume(ctx, req.ID, "stranger")
	assert.ErrorIs(t, err, workflow.ErrAuthorization)

	req, err = e.svc.Resume(ctx, req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusInProgress, req.Status)

	req, err = e.svc.Approve(ctx, req.ID, "deputy", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, req.CurrentLevel)

	req, err = e.svc.SkipLevel(ctx, req.ID, "cfo", "not needed under 100")
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusApproved, req.Status)
	assert.Equal(t, entity.LevelStatusSkipped, req.ApprovalChain[1].Status)
	require.NoError(t, workflow.CheckInvariants(req))
}

func TestApprovalService_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictOnceStore{RequestStore: memory.NewRequestStore()}
	e := newEngineWithRepo(t, store)
	req := e.create(t, 10)

	store.armed = true
	req, err := e.svc.Approve(ctx, req.ID, "mgr-1", "", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, store.injected)
	assert.Equal(t, 1, e.metrics.retries["approve"])
	assert.Equal(t, "touched concurrently", req.Description, "retry runs against the fresh state")
	assert.Equal(t, 2, req.CurrentLevel)
	assert.Equal(t, int64(3), req.Version)
}

func TestApprovalService_ConcurrentApprovalsOnAnyLevel(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	req := e.create(t, 10)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, approver := range []string{"mgr-1", "mgr-2"} {
		wg.Add(1)
		go func(i int, approver string) {
			defer wg.Done()
			_, errs[i] = e.svc.Approve(ctx, req.ID, approver, "", nil)
		}(i, approver)
	}
	wg.Wait()

	// the loser re-reads, finds level 1 closed and fails on authorization
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, workflow.ErrAuthorization)
		}
	}
	assert.Equal(t, 1, succeeded)

	stored, err := e.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentLevel)
	assert.Equal(t, 1, stored.ApprovalChain[0].ReceivedApprovals)
}

func TestApprovalService_GetPendingApprovalsForUser(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	first := e.create(t, 10)
	second := e.create(t, 20)

	_, err := e.svc.Approve(ctx, first.ID, "mgr-1", "", nil)
	require.NoError(t, err)

	pending, err := e.svc.GetPendingApprovalsForUser(ctx, "mgr-2", "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	pending, err = e.svc.GetPendingApprovalsForUser(ctx, "cfo", entity.BusinessTypeA)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	pending, err = e.svc.GetPendingApprovalsForUser(ctx, "cfo", entity.BusinessTypeB)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = e.svc.GetPendingApprovalsForUser(ctx, "", "")
	assert.ErrorIs(t, err, workflow.ErrValidation)

	byNumber, err := e.svc.GetRequestByNumber(ctx, second.RequestNumber)
	require.NoError(t, err)
	assert.Equal(t, second.ID, byNumber.ID)
}

func TestApprovalService_RequestNumbersUniqueAcrossSharedInitials(t *testing.T) {
	ctx := context.Background()
	payment := standardTemplate()
	payment.Code = "PAY-STD"
	payment.Name = "Standard payment"
	payment.WorkflowType = "Payment Request"
	e := newEngine(t, standardTemplate(), payment)

	first := e.create(t, 500)
	second, err := e.svc.CreateRequest(ctx, CreateRequestParams{
		BusinessType: entity.BusinessTypeA,
		WorkflowType: "Payment Request",
		Title:        "Vendor invoice",
		RequestedBy:  "alice",
		Department:   "ENG",
		Amount:       500,
		Currency:     "USD",
	})
	require.NoError(t, err)
	third := e.create(t, 500)

	assert.Equal(t, "A-PR-2026-00001", first.RequestNumber)
	assert.Equal(t, "A-PR-2026-00002", second.RequestNumber)
	assert.Equal(t, "A-PR-2026-00003", third.RequestNumber)
	assert.Equal(t, "PAY-STD", second.TemplateCode)

	byNumber, err := e.svc.GetRequestByNumber(ctx, second.RequestNumber)
	require.NoError(t, err)
	assert.Equal(t, second.ID, byNumber.ID)
}

func TestFormatRequestNumber(t *testing.T) {
	tests := []struct {
		bt   entity.BusinessType
		wt   string
		seq  int64
		want string
	}{
		{entity.BusinessTypeA, "Purchase Request", 1, "A-PR-2026-00001"},
		{entity.BusinessTypeB, "purchase_order", 42, "B-PO-2026-00042"},
		{entity.BusinessTypeA, "leave", 123456, "A-L-2026-123456"},
		{entity.BusinessTypeA, "--", 7, "A-WF-2026-00007"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.bt, tt.wt), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRequestNumber(tt.bt, tt.wt, 2026, tt.seq))
		})
	}
}

func floatPtr(v float64) *float64 { return &v }
