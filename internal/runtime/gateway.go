// Package runtime assembles the gateway from its configuration and manages
// the HTTP server lifecycle. A Gateway can be embedded in a larger
// application or run standalone by cmd/gateway.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/ansible/ai-connect-gateway/internal/anonymizer"
	"github.com/ansible/ai-connect-gateway/internal/api"
	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/health"
	"github.com/ansible/ai-connect-gateway/internal/lint"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/pipeline"
	"github.com/ansible/ai-connect-gateway/internal/pkg/config"
	"github.com/ansible/ai-connect-gateway/internal/provider"
	"github.com/ansible/ai-connect-gateway/internal/provider/wca"
	"github.com/ansible/ai-connect-gateway/internal/registration"
	"github.com/ansible/ai-connect-gateway/internal/server"
	"github.com/ansible/ai-connect-gateway/internal/storage"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// Gateway owns every long-lived collaborator of the service.
type Gateway struct {
	// Injected via options.
	cfg        *config.Config
	logger     *slog.Logger
	version    string
	backend    storage.Backend
	httpClient *http.Client
	schema1    telemetry.Sink
	schema2    telemetry.Sink

	// Built by New.
	mesh        *meshconfig.Configuration
	secrets     *storage.Manager
	metrics     *telemetry.Metrics
	emitter     *telemetry.Emitter
	factory     *provider.Factory
	completions *pipeline.Completions
	checker     *health.Checker
	server      *server.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

// New builds a Gateway. Without WithConfig the process configuration is
// loaded from config.yaml and the environment.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
	}

	if err := g.build(); err != nil {
		if g.backend != nil {
			_ = g.backend.Close()
		}
		return nil, err
	}
	return g, nil
}

func (g *Gateway) build() error {
	table := registration.RegisterAll(g.logger)
	mesh, err := meshconfig.Resolve(g.cfg.ModelMeshConfig, table, g.logger)
	if err != nil {
		return fmt.Errorf("model mesh config: %w", err)
	}
	g.mesh = mesh

	if g.backend == nil {
		backend, err := newBackend(g.cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		g.backend = backend
	}
	g.secrets = storage.NewManager(g.backend, g.logger)
	g.metrics = telemetry.NewMetrics()
	g.emitter = g.newEmitter()

	g.factory = provider.NewFactory(table, mesh, ports.Dependencies{
		Secrets:        g.secrets,
		TokenCache:     wca.NewTokenCache(),
		Metrics:        g.metrics,
		Logger:         g.logger,
		HTTPClient:     g.httpClient,
		ReturnToolCall: g.cfg.Features.ReturnToolCall,
	})

	var linter ports.Linter
	if g.cfg.Features.EnableAnsibleLint {
		linter = lint.New(lint.WithPath(g.cfg.Features.AnsibleLintPath), lint.WithLogger(g.logger))
	}
	g.completions = pipeline.NewCompletions(pipeline.Config{
		Pipelines:  g.factory,
		Anonymizer: anonymizer.New(),
		Linter:     linter,
		Emitter:    g.emitter,
		Metrics:    g.metrics,
		Logger:     g.logger,
		Options: pipeline.Options{
			EnableAnonymization:     g.cfg.Features.EnableAnonymization,
			EnableAdditionalContext: g.cfg.Features.EnableAdditionalContext,
			MultiTaskMaxRequests:    g.cfg.Features.MultiTaskMaxRequests,
		},
	})

	g.checker = health.NewChecker(
		health.WithChecks(health.ProviderChecks(g.factory)...),
		health.WithChecks(secretManagerCheck(g.secrets)),
		health.WithMetrics(g.metrics),
		health.WithVersion(g.version),
		health.WithLogger(g.logger),
	)

	handler := api.New(api.Config{
		Pipelines:   g.factory,
		Completions: g.completions,
		Secrets:     g.secrets,
		Emitter:     g.emitter,
		Metrics:     g.metrics,
		Health:      g.checker,
		Chat: api.ChatDefaults{
			Provider:     g.cfg.Chatbot.DefaultProvider,
			Model:        g.cfg.Chatbot.DefaultModel,
			SystemPrompt: g.cfg.Chatbot.SystemPrompt,
		},
		Version: g.version,
		Logger:  g.logger,
	})
	g.server = server.New(g.cfg.Server.Port, g.logger)
	handler.Mount(g.server.Router, server.TimeoutMiddleware(g.cfg.Server.RequestTimeout))

	g.logConfigured()
	return nil
}

// Handler returns the fully wired HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.server.Router }

// Config returns the process configuration in use.
func (g *Gateway) Config() *config.Config { return g.cfg }

// Start opens the listener and serves in the background. Serve errors are
// reported by Err.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener != nil {
		return errors.New("gateway already started")
	}

	ln, err := g.server.Listen()
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	g.listener = ln
	g.serveErr = make(chan error, 1)
	go func() {
		g.serveErr <- g.server.Serve(ln)
	}()

	g.logger.InfoContext(ctx, "gateway started",
		slog.String("addr", ln.Addr().String()),
		slog.String("version", g.version))
	return nil
}

// Addr is the listening address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Err delivers the result of the serve loop. It is nil before Start.
func (g *Gateway) Err() <-chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.serveErr
}

// Shutdown drains in-flight requests and closes storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := g.secrets.Close(); err != nil {
		g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

func (g *Gateway) logConfigured() {
	for _, capability := range domain.Capabilities() {
		if !g.factory.Configured(capability) {
			continue
		}
		g.logger.Info("model pipeline configured",
			slog.String("capability", string(capability)),
			slog.String("provider", string(g.factory.Provider(capability))))
	}
}
