package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/workflow"
)

func TestRequestStore_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewRequestStore()
	req := &entity.ApprovalRequest{RequestNumber: "A-PR-2026-00001", Status: entity.RequestStatusInProgress}
	require.NoError(t, store.Create(ctx, req))
	assert.Equal(t, int64(1), req.Version)

	first, _ := store.GetByID(ctx, req.ID)
	second, _ := store.GetByID(ctx, req.ID)

	first.Title = "first"
	require.NoError(t, store.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Title = "second"
	err := store.Update(ctx, second)
	assert.ErrorIs(t, err, workflow.ErrConcurrentModification)

	stored, _ := store.GetByID(ctx, req.ID)
	assert.Equal(t, "first", stored.Title)
}

func TestRequestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewRequestStore()
	req := &entity.ApprovalRequest{RequestNumber: "n", Attachments: []string{"a"}}
	require.NoError(t, store.Create(ctx, req))

	got, _ := store.GetByID(ctx, req.ID)
	got.Attachments[0] = "mutated"
	again, _ := store.GetByID(ctx, req.ID)
	assert.Equal(t, "a", again.Attachments[0])

	_, err := store.GetByID(ctx, 99)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestSequenceStore_ConcurrentNextIsUnique(t *testing.T) {
	store := NewSequenceStore()
	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.Next(context.Background(), entity.BusinessTypeA, "Purchase Request", 2026)
			require.NoError(t, err)
			_, dup := seen.LoadOrStore(v, true)
			assert.False(t, dup, "duplicate sequence %d", v)
		}()
	}
	wg.Wait()

	v, _ := store.Next(context.Background(), entity.BusinessTypeA, "Purchase Request", 2027)
	assert.Equal(t, int64(1), v, "year starts a new sequence")
}
