// Package registry maps (provider tag, capability) pairs to pipeline
// constructors.
//
// # Adding a New Provider
//
// Each provider package exposes a Register function that declares its tag,
// its configuration schema and the capabilities it implements:
//
//	func Register(b *registry.Builder) {
//	    b.RegisterProvider(registry.ProviderSpec{
//	        Tag:         domain.ProviderOllama,
//	        Description: "Ollama server",
//	        NewConfig:   func() any { return meshconfig.NewOpenAICompatConfig() },
//	    })
//	    b.Register(domain.ProviderOllama, domain.CapabilityCompletions, New)
//	}
//
// registration.RegisterAll calls every Register function, fills the
// remaining cells with the nop constructor and freezes the result into a
// Table. There is no init-time registration; a Table is immutable and can be
// shared freely.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
)

// Constructor builds a pipeline from a provider config (the value returned
// by the provider's NewConfig, after decoding).
type Constructor func(cfg any, deps ports.Dependencies) (ports.Pipeline, error)

// ProviderSpec declares a provider tag.
type ProviderSpec struct {
	Tag domain.ProviderTag

	// Description provides a human-readable description of the provider
	Description string

	// NewConfig returns a default-populated config value for decoding.
	NewConfig func() any
}

type cell struct {
	tag        domain.ProviderTag
	capability domain.Capability
}

// Builder collects registrations. It is not safe for concurrent use.
type Builder struct {
	providers map[domain.ProviderTag]ProviderSpec
	cells     map[cell]Constructor
	defaulted map[cell]bool
	logger    *slog.Logger
}

// NewBuilder creates an empty builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		providers: make(map[domain.ProviderTag]ProviderSpec),
		cells:     make(map[cell]Constructor),
		defaulted: make(map[cell]bool),
		logger:    logger,
	}
}

// RegisterProvider declares a provider tag and its config schema.
// Panics if the tag is empty, unknown or already declared.
func (b *Builder) RegisterProvider(spec ProviderSpec) {
	if spec.Tag == "" {
		panic("provider tag cannot be empty")
	}
	if _, err := domain.ParseProviderTag(string(spec.Tag)); err != nil {
		panic(err.Error())
	}
	if spec.NewConfig == nil {
		panic(fmt.Sprintf("provider %q must have a NewConfig function", spec.Tag))
	}
	if _, exists := b.providers[spec.Tag]; exists {
		panic(fmt.Sprintf("provider %q already registered", spec.Tag))
	}
	b.providers[spec.Tag] = spec
}

// Register binds a constructor to one (tag, capability) cell.
// Panics on undeclared tags, unknown capabilities and duplicate cells.
func (b *Builder) Register(tag domain.ProviderTag, capability domain.Capability, ctor Constructor) {
	if _, ok := b.providers[tag]; !ok {
		panic(fmt.Sprintf("provider %q must be registered before its capabilities", tag))
	}
	if !capability.Valid() {
		panic(fmt.Sprintf("unknown capability %q", capability))
	}
	if ctor == nil {
		panic(fmt.Sprintf("nil constructor for %s/%s", tag, capability))
	}
	key := cell{tag, capability}
	if _, exists := b.cells[key]; exists {
		panic(fmt.Sprintf("%s/%s already registered", tag, capability))
	}
	b.cells[key] = ctor
}

// SetDefaults fills every empty cell of every declared provider with
// fallback and logs each substitution.
func (b *Builder) SetDefaults(fallback Constructor) {
	for _, spec := range b.sortedProviders() {
		for _, capability := range domain.Capabilities() {
			key := cell{spec.Tag, capability}
			if _, ok := b.cells[key]; ok {
				continue
			}
			b.cells[key] = fallback
			b.defaulted[key] = true
			if spec.Tag != domain.ProviderNop {
				b.logger.Warn("capability not implemented by provider, using nop",
					slog.String("provider", string(spec.Tag)),
					slog.String("capability", string(capability)),
				)
			}
		}
	}
}

// Build freezes the builder into a Table.
func (b *Builder) Build() *Table {
	t := &Table{
		providers: make(map[domain.ProviderTag]ProviderSpec, len(b.providers)),
		cells:     make(map[cell]Constructor, len(b.cells)),
		defaulted: make(map[cell]bool, len(b.defaulted)),
	}
	for k, v := range b.providers {
		t.providers[k] = v
	}
	for k, v := range b.cells {
		t.cells[k] = v
	}
	for k, v := range b.defaulted {
		t.defaulted[k] = v
	}
	return t
}

func (b *Builder) sortedProviders() []ProviderSpec {
	out := make([]ProviderSpec, 0, len(b.providers))
	for _, spec := range b.providers {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Table is the frozen registry.
type Table struct {
	providers map[domain.ProviderTag]ProviderSpec
	cells     map[cell]Constructor
	defaulted map[cell]bool
}

// Get returns the constructor for (tag, capability).
func (t *Table) Get(tag domain.ProviderTag, capability domain.Capability) (Constructor, error) {
	ctor, ok := t.cells[cell{tag, capability}]
	if !ok {
		return nil, fmt.Errorf("no pipeline registered for %s/%s (registered providers: %v)", tag, capability, t.Tags())
	}
	return ctor, nil
}

// Implements reports whether tag registered a real implementation for
// capability rather than receiving the default.
func (t *Table) Implements(tag domain.ProviderTag, capability domain.Capability) bool {
	_, ok := t.cells[cell{tag, capability}]
	return ok && !t.defaulted[cell{tag, capability}]
}

// NewConfig implements meshconfig.SchemaSource.
func (t *Table) NewConfig(tag domain.ProviderTag) (any, bool) {
	spec, ok := t.providers[tag]
	if !ok {
		return nil, false
	}
	return spec.NewConfig(), true
}

// Providers returns all declared providers sorted by tag.
func (t *Table) Providers() []ProviderSpec {
	out := make([]ProviderSpec, 0, len(t.providers))
	for _, spec := range t.providers {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Tags returns all declared provider tags sorted.
func (t *Table) Tags() []domain.ProviderTag {
	specs := t.Providers()
	out := make([]domain.ProviderTag, len(specs))
	for i, s := range specs {
		out[i] = s.Tag
	}
	return out
}
