package registry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
)

type stubPipeline struct {
	ports.Pipeline
	name string
}

func (s stubPipeline) ModelID(context.Context, *domain.User, string) (string, error) {
	return s.name, nil
}

func stubCtor(name string) Constructor {
	return func(any, ports.Dependencies) (ports.Pipeline, error) {
		return stubPipeline{name: name}, nil
	}
}

func quietBuilder() *Builder {
	return NewBuilder(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBuilder_SetDefaultsMakesTableTotal(t *testing.T) {
	b := quietBuilder()
	b.RegisterProvider(ProviderSpec{Tag: domain.ProviderNop, NewConfig: func() any { return struct{}{} }})
	b.RegisterProvider(ProviderSpec{Tag: domain.ProviderDummy, NewConfig: func() any { return struct{}{} }})
	b.Register(domain.ProviderDummy, domain.CapabilityCompletions, stubCtor("dummy"))
	b.SetDefaults(stubCtor("nop"))
	table := b.Build()

	for _, tag := range []domain.ProviderTag{domain.ProviderNop, domain.ProviderDummy} {
		for _, capability := range domain.Capabilities() {
			ctor, err := table.Get(tag, capability)
			if err != nil {
				t.Fatalf("Get(%s, %s) error = %v", tag, capability, err)
			}
			p, err := ctor(nil, ports.Dependencies{})
			if err != nil {
				t.Fatalf("ctor error = %v", err)
			}
			want := "nop"
			if tag == domain.ProviderDummy && capability == domain.CapabilityCompletions {
				want = "dummy"
			}
			if got, _ := p.ModelID(context.Background(), nil, ""); got != want {
				t.Errorf("%s/%s constructed %q, want %q", tag, capability, got, want)
			}
		}
	}

	if !table.Implements(domain.ProviderDummy, domain.CapabilityCompletions) {
		t.Error("Implements(dummy, completions) = false, want true")
	}
	if table.Implements(domain.ProviderDummy, domain.CapabilityChatBot) {
		t.Error("Implements(dummy, chat) = true, want false")
	}
}

func TestTable_GetUnknownProvider(t *testing.T) {
	table := quietBuilder().Build()
	if _, err := table.Get(domain.ProviderWCA, domain.CapabilityCompletions); err == nil {
		t.Error("Get() expected error for undeclared provider")
	}
}

func TestBuilder_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(b *Builder)
	}{
		{"empty tag", func(b *Builder) { b.RegisterProvider(ProviderSpec{NewConfig: func() any { return nil }}) }},
		{"unknown tag", func(b *Builder) {
			b.RegisterProvider(ProviderSpec{Tag: "openai", NewConfig: func() any { return nil }})
		}},
		{"duplicate provider", func(b *Builder) {
			spec := ProviderSpec{Tag: domain.ProviderBAM, NewConfig: func() any { return nil }}
			b.RegisterProvider(spec)
			b.RegisterProvider(spec)
		}},
		{"capability before provider", func(b *Builder) {
			b.Register(domain.ProviderBAM, domain.CapabilityCompletions, stubCtor("x"))
		}},
		{"duplicate cell", func(b *Builder) {
			b.RegisterProvider(ProviderSpec{Tag: domain.ProviderBAM, NewConfig: func() any { return nil }})
			b.Register(domain.ProviderBAM, domain.CapabilityCompletions, stubCtor("x"))
			b.Register(domain.ProviderBAM, domain.CapabilityCompletions, stubCtor("y"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn(quietBuilder())
		})
	}
}

func TestTable_NewConfigReturnsFreshValues(t *testing.T) {
	type cfg struct{ N int }
	b := quietBuilder()
	b.RegisterProvider(ProviderSpec{Tag: domain.ProviderBAM, NewConfig: func() any { return &cfg{N: 1} }})
	table := b.Build()

	first, ok := table.NewConfig(domain.ProviderBAM)
	if !ok {
		t.Fatal("NewConfig() ok = false")
	}
	first.(*cfg).N = 5
	second, _ := table.NewConfig(domain.ProviderBAM)
	if second.(*cfg).N != 1 {
		t.Errorf("NewConfig() shared state between calls")
	}
	if _, ok := table.NewConfig(domain.ProviderWCA); ok {
		t.Error("NewConfig(undeclared) ok = true")
	}
}
