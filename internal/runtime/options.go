package runtime

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ansible/ai-connect-gateway/internal/pkg/config"
	"github.com/ansible/ai-connect-gateway/internal/storage"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithConfig uses an already loaded process configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return errors.New("config must not be nil")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfigFile loads the process configuration from path and the environment.
func WithConfigFile(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithStorage replaces the configured secret backend. The gateway closes it
// on Shutdown.
func WithStorage(backend storage.Backend) Option {
	return func(g *Gateway) error {
		g.backend = backend
		return nil
	}
}

// WithHTTPClient overrides the client every provider uses.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) error {
		g.httpClient = client
		return nil
	}
}

// WithTelemetrySinks replaces the schema1 and schema2 event sinks.
func WithTelemetrySinks(schema1, schema2 telemetry.Sink) Option {
	return func(g *Gateway) error {
		g.schema1, g.schema2 = schema1, schema2
		return nil
	}
}

// WithVersion sets the version reported by the health endpoints.
func WithVersion(version string) Option {
	return func(g *Gateway) error {
		g.version = version
		return nil
	}
}
