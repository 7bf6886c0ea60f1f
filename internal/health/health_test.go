package health

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider/nop"
)

type probeProvider struct {
	nop.Pipeline
	err   error
	calls *atomic.Int32
}

func (p probeProvider) SelfTest(context.Context) *domain.HealthCheckSummary {
	p.calls.Add(1)
	s := domain.NewHealthCheckSummary(map[string]any{domain.HealthItemProvider: domain.HealthStatusOK})
	if p.err != nil {
		s.SetError(domain.HealthItemModels, p.err)
	}
	return s
}

type fakeSource struct {
	entries   map[domain.Capability]meshconfig.PipelineConfiguration
	pipelines map[domain.Capability]ports.Pipeline
}

func (f fakeSource) Get(c domain.Capability) (ports.Pipeline, error) { return f.pipelines[c], nil }

func (f fakeSource) Config(c domain.Capability) meshconfig.PipelineConfiguration {
	if e, ok := f.entries[c]; ok {
		return e
	}
	return meshconfig.PipelineConfiguration{Provider: domain.ProviderNop, Config: &meshconfig.NopConfig{}}
}

func httpEntry(url string, enabled bool) meshconfig.PipelineConfiguration {
	cfg := meshconfig.NewHTTPConfig()
	cfg.InferenceURL = url
	cfg.EnableHealthCheck = enabled
	return meshconfig.PipelineConfiguration{Provider: domain.ProviderHTTP, Config: cfg}
}

func TestProviderChecks_GroupsSharedProviders(t *testing.T) {
	var calls atomic.Int32
	p := probeProvider{calls: &calls}
	src := fakeSource{
		entries: map[domain.Capability]meshconfig.PipelineConfiguration{
			domain.CapabilityChatBot:          httpEntry("http://chat", true),
			domain.CapabilityStreamingChatBot: httpEntry("http://chat", true),
			domain.CapabilityCompletions:      httpEntry("http://other", false),
		},
		pipelines: map[domain.Capability]ports.Pipeline{
			domain.CapabilityChatBot:          p,
			domain.CapabilityStreamingChatBot: p,
			domain.CapabilityCompletions:      p,
		},
	}

	checks := ProviderChecks(src)
	if len(checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(checks))
	}

	report := NewChecker(WithChecks(checks...)).Run(context.Background())
	if !report.Healthy() || report.Status != StatusOK {
		t.Errorf("report = %+v, want healthy", report)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("SelfTest calls = %d, want 1", got)
	}

	statuses := map[string]string{}
	for _, d := range report.Dependencies {
		statuses[strings.Join(d.Capabilities, ",")] = d.Status
	}
	if statuses["ModelPipelineCompletions"] != StatusDisabled {
		t.Errorf("disabled provider status = %q", statuses["ModelPipelineCompletions"])
	}
	if statuses["ModelPipelineChatBot,ModelPipelineStreamingChatBot"] != StatusOK {
		t.Errorf("chat provider status = %q", statuses["ModelPipelineChatBot,ModelPipelineStreamingChatBot"])
	}
}

func TestChecker_CriticalFailure(t *testing.T) {
	var calls atomic.Int32
	src := fakeSource{
		entries: map[domain.Capability]meshconfig.PipelineConfiguration{
			domain.CapabilityChatBot: httpEntry("http://chat", true),
		},
		pipelines: map[domain.Capability]ports.Pipeline{
			domain.CapabilityChatBot: probeProvider{calls: &calls, err: errors.New("model not listed")},
		},
	}
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewChecker(WithChecks(ProviderChecks(src)...), WithVersion("1.0.0"), withClock(func() time.Time { return fixed }))

	report := c.Run(context.Background())
	if report.Healthy() || report.Status != StatusError {
		t.Fatalf("report = %+v, want unhealthy", report)
	}

	b, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Timestamp    string `json:"timestamp"`
		Dependencies []struct {
			Name      string            `json:"name"`
			Status    string            `json:"status"`
			Error     string            `json:"error"`
			Details   map[string]string `json:"details"`
			TimeTaken *float64          `json:"time_taken"`
		} `json:"dependencies"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Timestamp != "2024-01-02T03:04:05Z" {
		t.Errorf("timestamp = %q", decoded.Timestamp)
	}
	d := decoded.Dependencies[0]
	if d.Name != "http" || d.Error != "model not listed" || d.Details[domain.HealthItemModels] != "model not listed" {
		t.Errorf("dependency = %+v", d)
	}
	if d.TimeTaken == nil {
		t.Error("time_taken missing")
	}
}

func TestChecker_NonCriticalFailureAndConcurrency(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	wait := func(ctx context.Context) (any, error) {
		if started.Add(1) == 2 {
			close(release)
		}
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := NewChecker(
		WithTimeout(2*time.Second),
		WithChecks(
			Check{Name: "a", Critical: true, Run: wait},
			Check{Name: "b", Critical: true, Run: wait},
			Check{Name: "cache", Run: func(context.Context) (any, error) { return nil, errors.New("down") }},
		),
	)
	report := c.Run(context.Background())
	if !report.Healthy() {
		t.Errorf("report = %+v, want healthy: checks run concurrently and only non-critical failed", report)
	}
	if report.Dependencies[2].Status != StatusError {
		t.Errorf("cache status = %q, want error", report.Dependencies[2].Status)
	}
}
