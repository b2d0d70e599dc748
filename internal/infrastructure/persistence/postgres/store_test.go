//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
	"github.com/garyjia/approval-engine/internal/infrastructure/persistence/postgres"
)

func setupTestDB(t *testing.T) (*postgres.DB, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("approvals_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := postgres.Open(ctx, connStr, 8, zap.NewNop())
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		container.Terminate(ctx)
		t.Fatalf("failed to migrate: %v", err)
	}

	return db, func() {
		db.Close()
		container.Terminate(ctx)
	}
}

func newTemplate(code string, bt entity.BusinessType) *entity.WorkflowTemplate {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &entity.WorkflowTemplate{
		Code:         code,
		Name:         code,
		BusinessType: bt,
		WorkflowType: "PURCHASE_REQUEST",
		Levels: []entity.TemplateLevel{{
			Level:        1,
			ApprovalType: entity.ApprovalTypeAny,
			Approvers:    []entity.ApproverSelector{{UserIDs: []string{"bob"}}},
		}},
		IsActive:  true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newRequest(templateID int64, number string, approvers ...string) *entity.ApprovalRequest {
	now := time.Now().UTC().Truncate(time.Microsecond)
	chain := make([]entity.ChainApprover, len(approvers))
	for i, a := range approvers {
		chain[i] = entity.ChainApprover{UserID: a, Status: entity.ApproverStatusPending}
	}
	return &entity.ApprovalRequest{
		RequestNumber: number,
		TemplateID:    templateID,
		TemplateCode:  "A-PR",
		BusinessType:  entity.BusinessTypeA,
		WorkflowType:  "PURCHASE_REQUEST",
		Title:         "Chairs",
		RequestedBy:   "alice",
		Urgency:       entity.UrgencyNormal,
		Status:        entity.RequestStatusInProgress,
		CurrentLevel:  1,
		TotalLevels:   1,
		ApprovalChain: []entity.ChainLevel{{
			Level:             1,
			Status:            entity.LevelStatusInProgress,
			ApprovalType:      entity.ApprovalTypeAny,
			Approvers:         chain,
			RequiredApprovals: 1,
		}},
		SubmittedDate: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPostgresStores(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	templates := postgres.NewTemplateStore(db, zap.NewNop())
	requests := postgres.NewRequestStore(db, zap.NewNop())
	sequences := postgres.NewSequenceStore(db)

	tplA := newTemplate("A-PR", entity.BusinessTypeA)
	tplBoth := newTemplate("SHARED", entity.BusinessTypeBoth)
	tplB := newTemplate("B-PR", entity.BusinessTypeB)
	for _, tpl := range []*entity.WorkflowTemplate{tplA, tplBoth, tplB} {
		require.NoError(t, templates.Create(ctx, tpl))
	}

	t.Run("template filter includes BOTH", func(t *testing.T) {
		now := time.Now()
		got, err := templates.FindByFilter(ctx, port.TemplateFilter{
			BusinessType: entity.BusinessTypeA,
			WorkflowType: "PURCHASE_REQUEST",
			ActiveOnly:   true,
			At:           &now,
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "A-PR", got[0].Code)
		assert.Equal(t, "SHARED", got[1].Code)
	})

	t.Run("optimistic update", func(t *testing.T) {
		req := newRequest(tplA.ID, "A-PR-2026-00001", "bob", "carol")
		require.NoError(t, requests.Create(ctx, req))

		a, err := requests.GetByID(ctx, req.ID)
		require.NoError(t, err)
		b, err := requests.GetByID(ctx, req.ID)
		require.NoError(t, err)

		completed := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
		a.Title = "first"
		a.CompletedDate = &completed
		require.NoError(t, requests.Update(ctx, a))
		b.Title = "second"
		assert.ErrorIs(t, requests.Update(ctx, b), workflow.ErrConcurrentModification)

		stored, err := requests.GetByID(ctx, req.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.CompletedDate)
		assert.True(t, stored.CompletedDate.Equal(completed))
	})

	t.Run("pending lookup", func(t *testing.T) {
		got, err := requests.FindPendingForApprover(ctx, "carol", "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "A-PR-2026-00001", got[0].RequestNumber)

		got, err = requests.FindPendingForApprover(ctx, "carol", entity.BusinessTypeB)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("sequence inside transaction", func(t *testing.T) {
		var first, second int64
		err := db.WithTransaction(ctx, func(ctx context.Context) error {
			var err error
			if first, err = sequences.Next(ctx, entity.BusinessTypeA, "PURCHASE_REQUEST", 2026); err != nil {
				return err
			}
			second, err = sequences.Next(ctx, entity.BusinessTypeA, "PURCHASE_REQUEST", 2026)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), first)
		assert.Equal(t, int64(2), second)
	})
}
