package orchestrator

import "time"

// MetricsRecorder records orchestrator metrics.
type MetricsRecorder interface {
	RecordRequest(op, status string, duration time.Duration)
	RecordStage(op, stage string, duration time.Duration)
	RecordRecommendation(op, recommendation string)
	RecordDegraded(op string)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordRequest(op, status string, duration time.Duration) {}
func (nopMetricsRecorder) RecordStage(op, stage string, duration time.Duration)    {}
func (nopMetricsRecorder) RecordRecommendation(op, recommendation string)          {}
func (nopMetricsRecorder) RecordDegraded(op string)                                {}
