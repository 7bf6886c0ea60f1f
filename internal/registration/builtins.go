// Package registration wires every built-in provider into a registry table.
package registration

import (
	"log/slog"

	"github.com/ansible/ai-connect-gateway/internal/provider/bam"
	"github.com/ansible/ai-connect-gateway/internal/provider/dummy"
	"github.com/ansible/ai-connect-gateway/internal/provider/httpchat"
	"github.com/ansible/ai-connect-gateway/internal/provider/llamastack"
	"github.com/ansible/ai-connect-gateway/internal/provider/nop"
	"github.com/ansible/ai-connect-gateway/internal/provider/openaicompat"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
	"github.com/ansible/ai-connect-gateway/internal/provider/wca"
)

// RegisterAll registers the built-in providers explicitly, fills every
// unimplemented cell with the nop pipeline and returns the frozen table.
// It replaces init-time side effects and is called once by the runtime and
// by tests that need a complete registry.
func RegisterAll(logger *slog.Logger) *registry.Table {
	b := registry.NewBuilder(logger)
	RegisterProviders(b)
	b.SetDefaults(nop.New)
	return b.Build()
}

// RegisterProviders declares every built-in provider on b.
func RegisterProviders(b *registry.Builder) {
	nop.Register(b)
	dummy.Register(b)
	wca.Register(b)
	httpchat.Register(b)
	openaicompat.Register(b)
	llamastack.Register(b)
	bam.Register(b)
}
