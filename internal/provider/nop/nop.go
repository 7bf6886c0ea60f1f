// Package nop provides the pipeline used for every capability a provider
// does not implement. Real providers embed Pipeline and override the
// capabilities they support.
package nop

import (
	"context"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
)

// Pipeline answers every capability with domain.ErrFeatureNotAvailable.
type Pipeline struct{}

var _ ports.Pipeline = Pipeline{}

// New is the registry constructor for the nop provider.
func New(any, ports.Dependencies) (ports.Pipeline, error) {
	return Pipeline{}, nil
}

// Register declares the nop provider. Its cells are filled by SetDefaults.
func Register(b *registry.Builder) {
	b.RegisterProvider(registry.ProviderSpec{
		Tag:         domain.ProviderNop,
		Description: "Placeholder for unconfigured capabilities",
		NewConfig:   func() any { return &meshconfig.NopConfig{} },
	})
}

func (Pipeline) Completions(context.Context, *domain.CompletionsParameters) (*domain.CompletionsResponse, error) {
	return nil, domain.ErrFeatureNotAvailable
}

func (Pipeline) ContentMatch(context.Context, *domain.ContentMatchParameters) (*domain.ContentMatchResponse, error) {
	return nil, domain.ErrFeatureNotAvailable
}

func (Pipeline) GeneratePlaybook(context.Context, *domain.PlaybookGenerationParameters) (*domain.PlaybookGenerationResponse, error) {
	return nil, domain.ErrFeatureNotAvailable
}

func (Pipeline) GenerateRole(context.Context, *domain.RoleGenerationParameters) (*domain.RoleGenerationResponse, error) {
	return nil, domain.ErrFeatureNotAvailable
}

func (Pipeline) ExplainPlaybook(context.Context, *domain.PlaybookExplanationParameters) (*domain.ExplanationResponse, error) {
	return nil, domain.ErrFeatureNotAvailable
}

func (Pipeline) ExplainRole(context.Context, *domain.RoleExplanationParameters) (*domain.ExplanationResponse, error) {
	return nil, domain.ErrFeatureNotAvailable
}

func (Pipeline) Chat(context.Context, *domain.ChatParameters) (*domain.ChatResponse, error) {
	return nil, domain.ErrFeatureNotAvailable
}

func (Pipeline) StreamChat(context.Context, *domain.ChatParameters) (<-chan domain.ChatFrame, error) {
	return nil, domain.ErrFeatureNotAvailable
}

// ModelID echoes the requested model.
func (Pipeline) ModelID(_ context.Context, _ *domain.User, requested string) (string, error) {
	return requested, nil
}

// SelfTest has nothing to probe.
func (Pipeline) SelfTest(context.Context) *domain.HealthCheckSummary {
	return nil
}
