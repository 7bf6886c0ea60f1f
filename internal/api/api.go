// Package api serves the gateway's HTTP endpoints: the model capabilities,
// WCA credential administration, telemetry preferences and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/health"
	"github.com/ansible/ai-connect-gateway/internal/pipeline"
	"github.com/ansible/ai-connect-gateway/internal/server"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// PipelineSource hands out the pipeline configured for each capability.
// *provider.Factory implements it.
type PipelineSource interface {
	Get(capability domain.Capability) (ports.Pipeline, error)
	Provider(capability domain.Capability) domain.ProviderTag
	Configured(capability domain.Capability) bool
}

// Completer runs the completion pipeline. *pipeline.Completions implements it.
type Completer interface {
	Complete(ctx context.Context, user *domain.User, body []byte) (*pipeline.CompletionResponse, error)
}

// SecretManager is the credential and preference store behind the admin endpoints.
type SecretManager interface {
	ports.SecretStore
	ports.OrgSettingsStore
}

// ChatDefaults fill chat requests that name no provider, model or system prompt.
type ChatDefaults struct {
	Provider     string
	Model        string
	SystemPrompt string
}

// Config wires a Handler.
type Config struct {
	Pipelines   PipelineSource
	Completions Completer
	Secrets     SecretManager
	Emitter     *telemetry.Emitter
	Metrics     *telemetry.Metrics
	Health      *health.Checker
	Chat        ChatDefaults
	Version     string
	Logger      *slog.Logger
}

// Handler implements the HTTP endpoints.
type Handler struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Handler.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, logger: logger}
}

// Mount registers every route on r. The API is served both at the root and
// under /api/v1. Streaming chat is registered outside timeout so long turns
// are not cut off.
func (h *Handler) Mount(r chi.Router, timeout func(http.Handler) http.Handler) {
	r.Get("/health", h.liveness)
	r.Get("/health/status", h.readiness)
	if h.cfg.Metrics != nil {
		r.Handle("/metrics", h.cfg.Metrics.Handler())
	}

	api := func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(server.IdentityMiddleware)
			r.Post("/streaming_chat", h.streamingChat)

			r.Group(func(r chi.Router) {
				if timeout != nil {
					r.Use(timeout)
				}
				r.Post("/completions", h.completions)
				r.Post("/contentmatches", h.contentMatches)
				r.Post("/generations/playbook", h.generatePlaybook)
				r.Post("/generations/role", h.generateRole)
				r.Post("/explanations", h.explainPlaybook)
				r.Post("/explanations/role", h.explainRole)
				r.Post("/chat", h.chat)

				r.Route("/wca", func(r chi.Router) {
					r.Use(requireOrgAdmin)
					r.Get("/apikey", h.getAPIKey)
					r.Post("/apikey", h.setAPIKey)
					r.Delete("/apikey", h.deleteAPIKey)
					r.Get("/apikey/test", h.testAPIKey)
					r.Get("/modelid", h.getModelID)
					r.Post("/modelid", h.setModelID)
					r.Get("/modelid/test", h.testModelID)
				})
				r.With(requireOrgAdmin).Get("/telemetry", h.getTelemetry)
				r.With(requireOrgAdmin).Post("/telemetry", h.setTelemetry)
			})
		})
	}
	r.Group(api)
	r.Route("/api/v1", api)
}

// requireOrgAdmin restricts a route to administrators of an organization.
func requireOrgAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := server.UserFrom(r.Context())
		if !user.HasOrg() || !user.IsOrgAdmin {
			fail(w, r, domain.ErrPermissionDenied("You do not have permission to perform this action."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, domain.ErrValidation("failed to read request body").WithCause(err)
	}
	if len(body) > maxBodyBytes {
		return nil, domain.ErrValidation("request body too large")
	}
	return body, nil
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.ErrValidation("invalid JSON body").WithCause(err)
	}
	return nil
}

// fail logs err on the request line and writes it.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)
	server.WriteError(w, err)
}

// pipelineFor returns the pipeline for capability, or FeatureNotAvailable
// when nothing real is configured.
func (h *Handler) pipelineFor(capability domain.Capability) (ports.Pipeline, error) {
	if !h.cfg.Pipelines.Configured(capability) {
		return nil, domain.ErrFeatureNotAvailable
	}
	p, err := h.cfg.Pipelines.Get(capability)
	if err != nil {
		return nil, domain.ErrServiceUnavailable().WithCause(err)
	}
	return p, nil
}

// observe records err on ev and emits it.
func (h *Handler) observe(ctx context.Context, ev *telemetry.Event, err error) {
	if err != nil {
		ev.SetError(domain.TranslateError(err))
	}
	h.cfg.Emitter.Emit(ctx, ev)
}

var errNoUser = errors.New("no user on request")

func userOf(r *http.Request) (*domain.User, error) {
	user := server.UserFrom(r.Context())
	if user == nil {
		return nil, domain.ErrNotAuthenticated().WithCause(errNoUser)
	}
	return user, nil
}
