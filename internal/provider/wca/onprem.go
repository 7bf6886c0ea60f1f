package wca

import (
	"context"
	"errors"
	"fmt"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
)

// OnPrem is a self-hosted WCA deployment. Credentials come from config only.
type OnPrem struct {
	*service
	cfg *meshconfig.WCAOnPremConfig
}

var (
	_ ports.Pipeline            = (*OnPrem)(nil)
	_ ports.CredentialValidator = (*OnPrem)(nil)
)

// NewOnPrem builds the on-prem provider from a *meshconfig.WCAOnPremConfig.
func NewOnPrem(cfg any, deps ports.Dependencies) (ports.Pipeline, error) {
	c, ok := cfg.(*meshconfig.WCAOnPremConfig)
	if !ok {
		return nil, fmt.Errorf("wca-onprem: unexpected config type %T", cfg)
	}
	httpClient, err := httpClientFor(deps, c.VerifySSL)
	if err != nil {
		return nil, err
	}
	p := &OnPrem{cfg: c}
	p.service = &service{
		tag: domain.ProviderWCAOnPrem,
		client: &client{
			baseURL:    c.InferenceURL,
			http:       httpClient,
			cfg:        &c.BaseConfig,
			retryCount: max(c.RetryCount, 0),
			backoff:    defaultBackoff,
			auth:       zenAuth{username: c.Username},
			metrics:    deps.Metrics,
			logger:     deps.Log().With("provider", string(domain.ProviderWCAOnPrem)),
		},
		creds:              p,
		anonymize:          c.EnableAnonymization,
		healthCheckAPIKey:  c.HealthCheckAPIKey,
		healthCheckModelID: c.HealthCheckModelID,
	}
	return p, nil
}

func (p *OnPrem) apiKey(context.Context, *domain.User) (string, error) {
	if p.cfg.APIKey == "" {
		return "", domain.NewModelError(domain.KindWcaKeyNotFound, "", errors.New("api_key is not configured"))
	}
	return p.cfg.APIKey, nil
}

func (p *OnPrem) ModelID(_ context.Context, _ *domain.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if p.cfg.ModelID != "" {
		return p.cfg.ModelID, nil
	}
	return "", domain.NewModelError(domain.KindWcaNoDefaultModelID, "", errors.New("model_id is not configured"))
}

// ValidateAPIKey only checks presence; on-prem keys are not exchanged.
func (p *OnPrem) ValidateAPIKey(_ context.Context, apiKey string) error {
	if apiKey == "" {
		return domain.NewModelError(domain.KindWcaKeyNotFound, "", errors.New("empty api key"))
	}
	return nil
}

func (p *OnPrem) ValidateModelID(ctx context.Context, user *domain.User, modelID string) error {
	return p.probeModel(ctx, p.cfg.APIKey, modelID, user)
}

func (p *OnPrem) SelfTest(ctx context.Context) *domain.HealthCheckSummary {
	summary := domain.NewHealthCheckSummary(map[string]any{
		domain.HealthItemProvider: string(domain.ProviderWCAOnPrem),
	})
	key := p.healthCheckAPIKey
	if key == "" {
		key = p.cfg.APIKey
	}
	model := p.healthCheckModelID
	if model == "" {
		model = p.cfg.ModelID
	}
	summary.SetError(domain.HealthItemModels, p.probeModel(ctx, key, model, nil))
	return summary
}
