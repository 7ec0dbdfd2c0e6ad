package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neuroguard/neuroguard/config"
	"github.com/neuroguard/neuroguard/pkg/api/models"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/record"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Storage.Type = "memory"
	cfg.Completion.Provider = "none"
	return cfg
}

func TestNewApp_DegradedReview(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, testConfig(), logger.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close(context.Background())

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	body := `{"pattern":"110010011001 - Synaptic burst encoding - Phase alignment: Positive"}`
	resp, err := http.Post(srv.URL+"/api/v1/patterns/review", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST review: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got models.ReviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Degraded {
		t.Error("review without a provider should be degraded")
	}
	if got.Evaluation.RecordID == 0 {
		t.Error("review must carry a persisted evaluation")
	}
	if got.SafeToProceed {
		t.Error("degraded review must not be safe to proceed")
	}

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestNewApp_MetricsOnDedicatedPort(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Port = 9191

	a, err := newApp(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close(context.Background())

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("API /metrics status = %d, want 404 when a dedicated port is set", rec.Code)
	}
}

func TestNewApp_EventsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Events.Enabled = false

	a, err := newApp(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close(context.Background())

	if a.bus != nil || a.stream != nil {
		t.Error("no bus or stream expected when events are disabled")
	}
}

func TestNewApp_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown storage", func(c *config.Config) { c.Storage.Type = "tape" }},
		{"unknown provider", func(c *config.Config) { c.Completion.Provider = "oracle" }},
		{"unknown events", func(c *config.Config) { c.Events.Type = "carrier-pigeon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			if _, err := newApp(context.Background(), cfg, logger.Nop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOpenBackend_Durable(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.StorageConfig
	}{
		{"badger", config.StorageConfig{
			Type:   "badger",
			Badger: config.BadgerConfig{Path: filepath.Join(dir, "badger"), SyncWrites: true},
		}},
		{"sqlite", config.StorageConfig{
			Type:   "sqlite",
			SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "records.db")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend, err := openBackend(tt.cfg, logger.Nop())
			if err != nil {
				t.Fatalf("openBackend: %v", err)
			}
			store, err := record.Open(ctx, backend)
			if err != nil {
				t.Fatalf("record.Open: %v", err)
			}
			rec, err := store.Append(ctx, record.KindEthicsEvaluation, &record.EvaluationPayload{
				Action: "act on interpretation: steady rhythm",
				Frameworks: []record.FrameworkScore{
					{Framework: record.FrameworkUtilitarian, Score: 0.8},
					{Framework: record.FrameworkDeontological, Score: 0.8},
					{Framework: record.FrameworkVirtue, Score: 0.8},
				},
				Alignment:      0.8,
				Recommendation: record.Proceed,
			})
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			backend, err = openBackend(tt.cfg, logger.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			store, err = record.Open(ctx, backend)
			if err != nil {
				t.Fatalf("record.Open after reopen: %v", err)
			}
			defer store.Close()

			got, err := store.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get after reopen: %v", err)
			}
			if string(got.Payload) != string(rec.Payload) {
				t.Errorf("payload = %s, want %s", got.Payload, rec.Payload)
			}
		})
	}
}

func TestBuildOverrides(t *testing.T) {
	*serverPort = 9999
	*storageType = "sqlite"
	defer func() {
		*serverPort = 0
		*storageType = ""
	}()

	got := buildOverrides()
	if got["server.port"] != 9999 {
		t.Errorf("server.port = %v, want 9999", got["server.port"])
	}
	if got["storage.type"] != "sqlite" {
		t.Errorf("storage.type = %v, want sqlite", got["storage.type"])
	}
	if _, ok := got["log.level"]; ok {
		t.Error("unset flags must not produce overrides")
	}
}

func TestNewLogger_DebugMode(t *testing.T) {
	cfg := testConfig()
	cfg.App.Debug = true
	cfg.Log.Output = "stderr"

	log := newLogger(cfg)
	defer log.Close()
	if log.GetLevel() != logger.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}
}
