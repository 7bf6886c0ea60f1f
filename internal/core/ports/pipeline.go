// Package ports defines the interfaces between the gateway core and its
// providers, stores and helpers.
package ports

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// Pipeline is a provider's implementation of the model capabilities.
// Providers support a subset; the rest return domain.ErrFeatureNotAvailable.
type Pipeline interface {
	Completions(ctx context.Context, params *domain.CompletionsParameters) (*domain.CompletionsResponse, error)
	ContentMatch(ctx context.Context, params *domain.ContentMatchParameters) (*domain.ContentMatchResponse, error)
	GeneratePlaybook(ctx context.Context, params *domain.PlaybookGenerationParameters) (*domain.PlaybookGenerationResponse, error)
	GenerateRole(ctx context.Context, params *domain.RoleGenerationParameters) (*domain.RoleGenerationResponse, error)
	ExplainPlaybook(ctx context.Context, params *domain.PlaybookExplanationParameters) (*domain.ExplanationResponse, error)
	ExplainRole(ctx context.Context, params *domain.RoleExplanationParameters) (*domain.ExplanationResponse, error)
	Chat(ctx context.Context, params *domain.ChatParameters) (*domain.ChatResponse, error)

	// StreamChat returns a channel of frames that is closed when the turn
	// ends. Upstream failures after the stream starts arrive as error frames.
	StreamChat(ctx context.Context, params *domain.ChatParameters) (<-chan domain.ChatFrame, error)

	// ModelID resolves the model a request for user would target.
	ModelID(ctx context.Context, user *domain.User, requested string) (string, error)

	// SelfTest probes the backend. A nil summary means the provider has
	// nothing to check.
	SelfTest(ctx context.Context) *domain.HealthCheckSummary
}

// CredentialValidator is implemented by providers that can check tenant
// credentials before they are stored.
type CredentialValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) error
	ValidateModelID(ctx context.Context, user *domain.User, modelID string) error
}

// TokenCache holds identity-provider tokens keyed by API key.
type TokenCache interface {
	// Fetch returns a valid cached token or calls fetch once per key among
	// concurrent callers and caches its result.
	Fetch(ctx context.Context, apiKey string, fetch func(context.Context) (*domain.IAMToken, error)) (*domain.IAMToken, error)
	Invalidate(apiKey string)
}

// Dependencies are the shared collaborators handed to provider constructors.
type Dependencies struct {
	Secrets    SecretStore
	TokenCache TokenCache
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
	// HTTPClient overrides the client built from provider TLS settings. Tests use it.
	HTTPClient *http.Client
	// ReturnToolCall keeps tool_call and tool_result frames in chat streams.
	ReturnToolCall bool
}

// Log returns the configured logger or the default one.
func (d Dependencies) Log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
