// Package metrics records engine measurements in Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/approval-engine/internal/application/port"
)

const namespace = "approval_engine"

// Recorder implements port.MetricsRecorder
type Recorder struct {
	transitions   *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	escalations   prometheus.Counter
	notifyFailed  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepScanned  prometheus.Counter
	sweepFailed   prometheus.Counter
}

// NewRecorder creates the collectors and registers them on reg
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed request transitions by action.",
		}, []string{"action"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Optimistic concurrency conflicts that triggered a retry.",
		}, []string{"action"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Approval levels escalated.",
		}),
		notifyFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications the gateway failed to deliver.",
		}, []string{"kind"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "escalation_sweep_duration_seconds",
			Help:      "Wall time of escalation sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		sweepScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_sweep_scanned_total",
			Help:      "Requests inspected by escalation sweeps.",
		}),
		sweepFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_sweep_failures_total",
			Help:      "Requests a sweep failed to escalate.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.transitions, r.conflicts, r.escalations, r.notifyFailed,
		r.sweepDuration, r.sweepScanned, r.sweepFailed,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) TransitionRecorded(action string) {
	r.transitions.WithLabelValues(action).Inc()
}

func (r *Recorder) ConflictRetried(action string) {
	r.conflicts.WithLabelValues(action).Inc()
}

func (r *Recorder) EscalationRecorded() {
	r.escalations.Inc()
}

func (r *Recorder) NotificationFailed(kind string) {
	r.notifyFailed.WithLabelValues(kind).Inc()
}

// SweepObserved records one sweep. Escalations are counted per request by EscalationRecorded.
func (r *Recorder) SweepObserved(d time.Duration, scanned, escalated, failed int) {
	r.sweepDuration.Observe(d.Seconds())
	r.sweepScanned.Add(float64(scanned))
	r.sweepFailed.Add(float64(failed))
}

var _ port.MetricsRecorder = (*Recorder)(nil)
