package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"WARN", WarnLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DebugLevel, "debug"},
		{InfoLevel, "info"},
		{WarnLevel, "warn"},
		{ErrorLevel, "error"},
		{Level(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level.String() = %q, want %q", got, tt.expected)
		}
	}
}

func TestSlogLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "json", Writer: &buf})

	log.Info("record appended", "record_id", 7, "kind", "ethics_evaluation")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line %q: %v", buf.String(), err)
	}
	if entry["message"] != "record appended" {
		t.Errorf("expected message key, got %v", entry)
	}
	if entry["record_id"] != float64(7) {
		t.Errorf("expected record_id 7, got %v", entry["record_id"])
	}
}

func TestSlogLogger_SetLevelPropagatesToDerived(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "text", Writer: &buf})
	child := log.With("component", "store")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}

	log.SetLevel(DebugLevel)
	if child.GetLevel() != DebugLevel {
		t.Errorf("derived logger level = %v, want debug", child.GetLevel())
	}
	child.Debug("visible")
	if !strings.Contains(buf.String(), "visible") || !strings.Contains(buf.String(), "component=store") {
		t.Errorf("expected derived debug line, got %q", buf.String())
	}
}

func TestSlogLogger_TraceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&Config{Level: InfoLevel, Format: "json", Writer: &buf})

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	log.InfoContext(ctx, "traced")
	if !strings.Contains(buf.String(), span.SpanContext().TraceID().String()) {
		t.Errorf("expected trace_id in %q", buf.String())
	}

	buf.Reset()
	log.InfoContext(context.Background(), "untraced")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace_id in %q", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	log := Nop()
	ctx := log.WithContext(context.Background())
	if FromContext(ctx) != log {
		t.Error("expected logger stored in context")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected default logger when none in context")
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	log := Nop()
	SetDefault(log)
	if Default() != log {
		t.Error("SetDefault did not replace the default logger")
	}
	SetDefault(nil)
	if Default() != log {
		t.Error("SetDefault(nil) must be ignored")
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neuroguard.log")
	log := New(&Config{Level: InfoLevel, Format: "json", Output: path})
	log.Info("to file")
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("expected log line in file, got %q", data)
	}
}
