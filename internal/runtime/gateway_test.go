package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/health"
	"github.com/ansible/ai-connect-gateway/internal/pkg/config"
	"github.com/ansible/ai-connect-gateway/internal/server"
	"github.com/ansible/ai-connect-gateway/internal/storage/memory"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

const dummyMesh = `{
  "ModelPipelineCompletions": {"provider": "dummy", "config": {"enable_health_check": true}},
  "ModelPipelineChatBot": {"provider": "dummy", "config": {"enable_health_check": true}}
}`

func testConfig(mesh string) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{RequestTimeout: 5 * time.Second, ShutdownGrace: time.Second},
		Storage: config.StorageConfig{Type: "memory"},
		Features: config.FeatureConfig{
			MultiTaskMaxRequests: 10,
			EnableAnonymization:  true,
			TelemetryEnabled:     true,
		},
		ModelMeshConfig: mesh,
	}
}

func newTestGateway(t *testing.T, opts ...Option) (*Gateway, *telemetry.MemorySink) {
	t.Helper()
	sink := &telemetry.MemorySink{}
	opts = append([]Option{
		WithConfig(testConfig(dummyMesh)),
		WithStorage(memory.New()),
		WithTelemetrySinks(sink, telemetry.NopSink{}),
		WithVersion("1.2.3"),
	}, opts...)
	g, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g, sink
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	if _, err := New(WithConfig(nil)); err == nil {
		t.Error("New(WithConfig(nil)) succeeded")
	}

	bad := testConfig(dummyMesh)
	bad.Storage.Type = "postgres"
	if _, err := New(WithConfig(bad)); err == nil {
		t.Error("New() accepted an unknown storage type")
	}

	if _, err := New(WithConfig(testConfig(`{"ModelPipelineCompletions": {"provider": "openai"}}`))); err == nil {
		t.Error("New() accepted an unknown provider")
	}
}

func TestGateway_CompletionsEndToEnd(t *testing.T) {
	g, sink := newTestGateway(t)

	body, _ := json.Marshal(map[string]any{
		"prompt": "---\n- hosts: all\n  tasks:\n    - name: Install nginx\n",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/completions", bytes.NewReader(body))
	req.Header.Set(server.HeaderUserUUID, "5b3a8a54-4d5f-4b3c-9f7a-0c1d2e3f4a5b")
	req.Header.Set(server.HeaderOrgID, "42")
	req.Header.Set(server.HeaderUserHasSeat, "true")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Predictions  []string `json:"predictions"`
		SuggestionID string   `json:"suggestionId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Predictions) != 1 || resp.SuggestionID == "" {
		t.Errorf("response = %+v", resp)
	}

	var found bool
	for _, r := range sink.Records() {
		if r.Name == telemetry.EventCompletion {
			found = true
		}
	}
	if !found {
		t.Errorf("no %s event in %v", telemetry.EventCompletion, sink.Records())
	}
}

func TestGateway_UnconfiguredCapability(t *testing.T) {
	g, _ := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/generations/role", bytes.NewReader([]byte(`{"text":"x"}`)))
	req.Header.Set(server.HeaderUserUUID, "5b3a8a54-4d5f-4b3c-9f7a-0c1d2e3f4a5b")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404; body = %s", rec.Code, rec.Body)
	}
}

func TestGateway_HealthStatus(t *testing.T) {
	g, _ := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var report health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Version != "1.2.3" {
		t.Errorf("Version = %q", report.Version)
	}
	names := map[string]string{}
	for _, d := range report.Dependencies {
		names[d.Name] = d.Status
	}
	if names["dummy"] != health.StatusOK || names["secret-manager"] != health.StatusOK {
		t.Errorf("dependencies = %v", names)
	}
}

func TestGateway_SQLiteStorage(t *testing.T) {
	cfg := testConfig(dummyMesh)
	cfg.Storage = config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "gw.db")}}
	g, err := New(WithConfig(cfg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer g.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/telemetry", bytes.NewReader([]byte(`{"optOut":true}`)))
	req.Header.Set(server.HeaderUserUUID, "5b3a8a54-4d5f-4b3c-9f7a-0c1d2e3f4a5b")
	req.Header.Set(server.HeaderOrgID, "42")
	req.Header.Set(server.HeaderOrgAdmin, "true")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	optOut, err := g.secrets.TelemetryOptOut(context.Background(), "42")
	if err != nil || !optOut {
		t.Errorf("TelemetryOptOut() = %v, %v", optOut, err)
	}
}

func TestGateway_StartAndShutdown(t *testing.T) {
	g, _ := newTestGateway(t)

	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := g.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", g.Addr()))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case err := <-g.Err():
		if err != nil {
			t.Errorf("serve error = %v", err)
		}
	case <-ctx.Done():
		t.Error("serve loop did not stop")
	}
}
