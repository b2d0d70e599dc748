package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.TransitionRecorded("approve")
	r.TransitionRecorded("approve")
	r.TransitionRecorded("reject")
	r.ConflictRetried("approve")
	r.EscalationRecorded()
	r.NotificationFailed("REQUEST_APPROVED")
	r.SweepObserved(150*time.Millisecond, 10, 2, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("reject")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.conflicts.WithLabelValues("approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.escalations))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifyFailed.WithLabelValues("REQUEST_APPROVED")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.sweepScanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sweepFailed))
	assert.Equal(t, 1, testutil.CollectAndCount(r.sweepDuration))
}

func TestNewRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)

	_, err = NewRecorder(reg)
	assert.Error(t, err)
}
