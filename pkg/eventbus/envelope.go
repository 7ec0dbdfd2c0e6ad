package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neuroguard/neuroguard/pkg/record"
)

const (
	// SchemaVersionV1 is the initial record event schema.
	SchemaVersionV1 = "v1"

	// EventTypePrefix precedes the record kind in event types.
	EventTypePrefix = "record.appended."
)

// Envelope is the canonical record event envelope.
type Envelope struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	SchemaVersion string         `json:"schema_version"`
	Source        string         `json:"source,omitempty"`
	Record        *record.Record `json:"record"`
}

// EventType returns the event type for records of kind.
func EventType(kind record.Kind) string {
	return EventTypePrefix + string(kind)
}

// BuildEnvelope wraps rec in an envelope with a fresh event id.
func BuildEnvelope(source string, rec *record.Record) (Envelope, error) {
	if rec == nil {
		return Envelope{}, fmt.Errorf("eventbus: record is required")
	}
	if !rec.Kind.Valid() {
		return Envelope{}, fmt.Errorf("eventbus: unknown record kind %q", rec.Kind)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventType(rec.Kind),
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersionV1,
		Source:        source,
		Record:        rec,
	}, nil
}

// DecodeEnvelope parses and checks a raw envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("eventbus: invalid envelope json: %w", err)
	}
	if env.EventID == "" {
		return Envelope{}, fmt.Errorf("eventbus: envelope has no event id")
	}
	if env.SchemaVersion != SchemaVersionV1 {
		return Envelope{}, fmt.Errorf("eventbus: unsupported schema version %q", env.SchemaVersion)
	}
	if env.Record == nil {
		return Envelope{}, fmt.Errorf("eventbus: envelope has no record")
	}
	if env.EventType != EventType(env.Record.Kind) {
		return Envelope{}, fmt.Errorf("eventbus: event type %q does not match record kind %q", env.EventType, env.Record.Kind)
	}
	return env, nil
}
