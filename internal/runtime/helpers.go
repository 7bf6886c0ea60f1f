package runtime

import (
	"context"
	"fmt"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/health"
	"github.com/ansible/ai-connect-gateway/internal/pkg/config"
	"github.com/ansible/ai-connect-gateway/internal/storage"
	"github.com/ansible/ai-connect-gateway/internal/storage/memory"
	"github.com/ansible/ai-connect-gateway/internal/storage/sqlite"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// healthProbeOrg is looked up by the secret manager check. It never holds secrets.
const healthProbeOrg = "health-check"

func newBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// newEmitter routes schema1 events to the log and the active span, and
// schema2 events to the log. Disabled telemetry drops both.
func (g *Gateway) newEmitter() *telemetry.Emitter {
	s1, s2 := g.schema1, g.schema2
	if s1 == nil || s2 == nil {
		var d1, d2 telemetry.Sink = telemetry.NopSink{}, telemetry.NopSink{}
		if g.cfg.Features.TelemetryEnabled {
			d1 = telemetry.MultiSink{
				telemetry.LogSink{Logger: g.logger, Channel: "schema1"},
				telemetry.SpanSink{},
			}
			d2 = telemetry.LogSink{Logger: g.logger, Channel: "schema2"}
		}
		if s1 == nil {
			s1 = d1
		}
		if s2 == nil {
			s2 = d2
		}
	}
	return telemetry.NewEmitter(
		telemetry.WithSchema1Sink(s1),
		telemetry.WithSchema2Sink(s2),
		telemetry.WithOptOutChecker(g.secrets),
		telemetry.WithEmitterLogger(g.logger),
	)
}

// secretManagerCheck reads a probe secret to prove the store answers.
func secretManagerCheck(secrets *storage.Manager) health.Check {
	return health.Check{
		Name:     "secret-manager",
		Critical: true,
		Run: func(ctx context.Context) (any, error) {
			if _, err := secrets.GetSecret(ctx, healthProbeOrg, domain.SecretAPIKey); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
}
