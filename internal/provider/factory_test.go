package provider_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider"
	"github.com/ansible/ai-connect-gateway/internal/registration"
)

func newFactory(t *testing.T, blob string) *provider.Factory {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table := registration.RegisterAll(logger)
	cfg, err := meshconfig.Load(blob, table)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return provider.NewFactory(table, cfg, ports.Dependencies{Logger: logger})
}

func TestFactory_MemoizesPerCapability(t *testing.T) {
	f := newFactory(t, `{"ModelPipelineCompletions": {"provider": "dummy"}, "ModelPipelineChatBot": {"provider": "dummy"}}`)

	var wg sync.WaitGroup
	got := make([]ports.Pipeline, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.Get(domain.CapabilityCompletions)
			if err != nil {
				t.Errorf("Get() error = %v", err)
			}
			got[i] = p
		}(i)
	}
	wg.Wait()
	for i := range got {
		if got[i] != got[0] {
			t.Fatalf("Get() returned different instances")
		}
	}

	chat, err := f.Get(domain.CapabilityChatBot)
	if err != nil {
		t.Fatal(err)
	}
	if chat == got[0] {
		t.Error("capabilities share one instance")
	}
}

func TestFactory_UnconfiguredCapabilityIsNop(t *testing.T) {
	f := newFactory(t, `{"ModelPipelineCompletions": {"provider": "dummy"}}`)

	if f.Provider(domain.CapabilityRoleGeneration) != domain.ProviderNop {
		t.Errorf("Provider() = %q, want nop", f.Provider(domain.CapabilityRoleGeneration))
	}
	if f.Configured(domain.CapabilityRoleGeneration) {
		t.Error("Configured() = true for an unconfigured capability")
	}
	if !f.Configured(domain.CapabilityCompletions) {
		t.Error("Configured() = false for dummy completions")
	}

	p, err := f.Get(domain.CapabilityRoleGeneration)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.GenerateRole(t.Context(), &domain.RoleGenerationParameters{Text: "x"}); !errors.Is(err, domain.ErrFeatureNotAvailable) {
		t.Errorf("GenerateRole() error = %v, want ErrFeatureNotAvailable", err)
	}
}
