package port

import "time"

// MetricsRecorder receives engine measurements
type MetricsRecorder interface {
	TransitionRecorded(action string)
	ConflictRetried(action string)
	EscalationRecorded()
	NotificationFailed(kind string)
	SweepObserved(d time.Duration, scanned, escalated, failed int)
}

// NopMetrics discards all measurements
type NopMetrics struct{}

func (NopMetrics) TransitionRecorded(string) {}
func (NopMetrics) ConflictRetried(string) {}
func (NopMetrics) EscalationRecorded() {}
func (NopMetrics) NotificationFailed(string) {}
func (NopMetrics) SweepObserved(time.Duration, int, int, int) {}
