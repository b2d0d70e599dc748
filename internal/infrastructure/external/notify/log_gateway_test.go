package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

func TestLogGateway(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gw := NewLogGateway(zap.New(core), 2)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, gw.SendToUser(ctx, entity.Notification{UserID: u, Kind: entity.NotificationApprovalRequired}))
	}

	sent := gw.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "b", sent[0].UserID)
	assert.Equal(t, "c", sent[1].UserID)
	assert.Equal(t, 3, logs.FilterMessage("Notification").Len())
}
