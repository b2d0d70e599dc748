package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWorker struct {
	name     string
	startErr error
	log      *[]string
	mu       *sync.Mutex
}

func (w *recordingWorker) record(s string) {
	w.mu.Lock()
	*w.log = append(*w.log, s)
	w.mu.Unlock()
}

func (w *recordingWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.record("start " + w.name)
	return nil
}

func (w *recordingWorker) Stop(ctx context.Context) error {
	w.record("stop " + w.name)
	return nil
}

func (w *recordingWorker) Name() string { return w.name }

func TestManager_Lifecycle(t *testing.T) {
	var log []string
	var mu sync.Mutex
	m := NewWorkerManager(zap.NewNop())
	m.Register(&recordingWorker{name: "a", log: &log, mu: &mu})
	m.Register(&recordingWorker{name: "b", log: &log, mu: &mu})
	m.Register(&recordingWorker{name: "broken", startErr: errors.New("no db"), log: &log, mu: &mu})

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, m.Running())

	assert.Error(t, m.StartAll(context.Background()), "second start must fail")

	require.NoError(t, m.StopAll(context.Background()))
	assert.False(t, m.Running())
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)

	require.NoError(t, m.StopAll(context.Background()))
}
