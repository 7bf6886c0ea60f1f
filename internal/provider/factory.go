// Package provider resolves the configured pipeline for each capability.
//
// A Factory combines the registry Table with the loaded Configuration and
// constructs, on first use, exactly one pipeline per capability. Later calls
// return the same instance.
package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
)

// Factory builds and caches capability pipelines.
type Factory struct {
	table  *registry.Table
	config *meshconfig.Configuration
	deps   ports.Dependencies

	mu        sync.Mutex
	pipelines map[domain.Capability]ports.Pipeline
}

// NewFactory creates a factory over a frozen registry and a loaded configuration.
func NewFactory(table *registry.Table, cfg *meshconfig.Configuration, deps ports.Dependencies) *Factory {
	return &Factory{
		table:     table,
		config:    cfg,
		deps:      deps,
		pipelines: make(map[domain.Capability]ports.Pipeline),
	}
}

// Get returns the pipeline serving capability, constructing it on first use.
func (f *Factory) Get(capability domain.Capability) (ports.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.pipelines[capability]; ok {
		return p, nil
	}

	entry := f.config.For(capability)
	tag := entry.Provider
	if tag == "" {
		tag = domain.ProviderNop
	}
	ctor, err := f.table.Get(tag, capability)
	if err != nil {
		return nil, err
	}
	p, err := ctor(entry.Config, f.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s pipeline for %s: %w", tag, capability, err)
	}

	f.deps.Log().Info("model pipeline created",
		slog.String("capability", string(capability)),
		slog.String("provider", string(tag)),
	)
	f.pipelines[capability] = p
	return p, nil
}

// Provider returns the provider tag configured for capability.
func (f *Factory) Provider(capability domain.Capability) domain.ProviderTag {
	tag := f.config.For(capability).Provider
	if tag == "" {
		return domain.ProviderNop
	}
	return tag
}

// Configured reports whether capability has a real implementation behind it.
func (f *Factory) Configured(capability domain.Capability) bool {
	return f.table.Implements(f.Provider(capability), capability)
}

// Config returns the configuration entry for capability.
func (f *Factory) Config(capability domain.Capability) meshconfig.PipelineConfiguration {
	return f.config.For(capability)
}
