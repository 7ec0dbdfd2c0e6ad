package orchestrator

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Stage is one step of the per-request state machine.
type Stage string

const (
	StageReceived         Stage = "received"
	StageDecoded          Stage = "decoded"
	StageValidated        Stage = "validated"
	StageContextRetrieved Stage = "context_retrieved"
	StageInterpreted      Stage = "interpreted"
	StageAnalyzed         Stage = "analyzed"
	StageEthicsGated      Stage = "ethics_gated"
	StagePersisted        Stage = "persisted"
	StageReturned         Stage = "returned"
)

var stageOrder = map[Stage]int{
	StageReceived:         0,
	StageDecoded:          1,
	StageValidated:        1,
	StageContextRetrieved: 2,
	StageInterpreted:      3,
	StageAnalyzed:         3,
	StageEthicsGated:      4,
	StagePersisted:        5,
	StageReturned:         6,
}

// tracker records stage transitions for one request. Stages only move
// forward; an attempt to revisit one is ignored.
type tracker struct {
	op      string
	span    trace.Span
	metrics MetricsRecorder
	now     func() time.Time

	start  time.Time
	last   time.Time
	stages []Stage
}

func newTracker(op string, span trace.Span, metrics MetricsRecorder, now func() time.Time) *tracker {
	t := &tracker{op: op, span: span, metrics: metrics, now: now}
	t.start = now()
	t.last = t.start
	t.stages = []Stage{StageReceived}
	span.AddEvent("stage." + string(StageReceived))
	return t
}

func (t *tracker) advance(s Stage) {
	cur := t.stages[len(t.stages)-1]
	if stageOrder[s] <= stageOrder[cur] {
		return
	}
	now := t.now()
	t.metrics.RecordStage(t.op, string(s), now.Sub(t.last))
	t.last = now
	t.stages = append(t.stages, s)
	t.span.AddEvent("stage."+string(s), trace.WithAttributes(attribute.String("stage", string(s))))
}

func (t *tracker) current() Stage {
	return t.stages[len(t.stages)-1]
}

func (t *tracker) elapsed() time.Duration {
	return t.now().Sub(t.start)
}

func (t *tracker) snapshot() []Stage {
	return append([]Stage(nil), t.stages...)
}
