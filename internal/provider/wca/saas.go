package wca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/pkg/safehttp"
)

// SaaS is the hosted WCA provider.
type SaaS struct {
	*service
	cfg     *meshconfig.WCASaaSConfig
	secrets ports.SecretStore
	auth    *bearerAuth
}

var (
	_ ports.Pipeline            = (*SaaS)(nil)
	_ ports.CredentialValidator = (*SaaS)(nil)
)

// NewSaaS builds the hosted provider from a *meshconfig.WCASaaSConfig.
func NewSaaS(cfg any, deps ports.Dependencies) (ports.Pipeline, error) {
	c, ok := cfg.(*meshconfig.WCASaaSConfig)
	if !ok {
		return nil, fmt.Errorf("wca: unexpected config type %T", cfg)
	}
	httpClient, err := httpClientFor(deps, c.VerifySSL)
	if err != nil {
		return nil, err
	}

	cache := deps.TokenCache
	if cache == nil {
		cache = NewTokenCache()
	}
	idp := c.IdpURL
	if idp == "" {
		idp = meshconfig.DefaultIdpURL
	}
	auth := &bearerAuth{
		cache: cache,
		iam: &iamClient{
			url:      idp,
			login:    c.IdpLogin,
			password: c.IdpPassword,
			http:     httpClient,
			metrics:  deps.Metrics,
			now:      time.Now,
		},
	}

	p := &SaaS{cfg: c, secrets: deps.Secrets, auth: auth}
	p.service = &service{
		tag: domain.ProviderWCA,
		client: &client{
			baseURL:    c.InferenceURL,
			http:       httpClient,
			cfg:        &c.BaseConfig,
			retryCount: max(c.RetryCount, 0),
			backoff:    defaultBackoff,
			auth:       auth,
			metrics:    deps.Metrics,
			logger:     deps.Log().With("provider", string(domain.ProviderWCA)),
		},
		creds:              p,
		anonymize:          c.EnableAnonymization,
		healthCheckAPIKey:  c.HealthCheckAPIKey,
		healthCheckModelID: c.HealthCheckModelID,
	}
	return p, nil
}

func httpClientFor(deps ports.Dependencies, verifySSL bool) (*http.Client, error) {
	if deps.HTTPClient != nil {
		return deps.HTTPClient, nil
	}
	// Per-attempt deadlines come from the request context.
	return safehttp.NewClient(safehttp.TLSOptions{VerifySSL: verifySSL}, 0)
}

func (p *SaaS) secret(ctx context.Context, orgID string, suffix domain.SecretSuffix) (string, error) {
	if p.secrets == nil || orgID == "" {
		return "", nil
	}
	s, err := p.secrets.GetSecret(ctx, orgID, suffix)
	if err != nil {
		return "", domain.NewModelError(domain.KindWcaSecretManager, "", err)
	}
	if s == nil {
		return "", nil
	}
	return s.SecretString, nil
}

// apiKey resolves the key for user: config, then the organization's stored
// key, then the trial key for users on an active trial.
func (p *SaaS) apiKey(ctx context.Context, user *domain.User) (string, error) {
	if p.cfg.APIKey != "" {
		return p.cfg.APIKey, nil
	}
	if user.HasOrg() {
		key, err := p.secret(ctx, user.OrgID, domain.SecretAPIKey)
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	if user != nil && user.HasActiveTrial && p.cfg.OneClickDefaultAPIKey != "" {
		return p.cfg.OneClickDefaultAPIKey, nil
	}
	return "", domain.NewModelError(domain.KindWcaKeyNotFound, "", errors.New("no api key for organization"))
}

// ModelID resolves the model in precedence order: request, organization
// secret, provider default, trial default.
func (p *SaaS) ModelID(ctx context.Context, user *domain.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if user.HasOrg() {
		id, err := p.secret(ctx, user.OrgID, domain.SecretModelID)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	if p.cfg.ModelID != "" {
		return p.cfg.ModelID, nil
	}
	if user != nil && user.HasActiveTrial && p.cfg.OneClickDefaultModelID != "" {
		return p.cfg.OneClickDefaultModelID, nil
	}
	if !user.HasOrg() {
		return "", domain.NewModelError(domain.KindWcaNoDefaultModelID, "", errors.New("no default model id"))
	}
	return "", domain.NewModelError(domain.KindWcaModelIDNotFound, "", errors.New("no model id for organization"))
}

// ValidateAPIKey exchanges apiKey for a token.
func (p *SaaS) ValidateAPIKey(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return domain.NewModelError(domain.KindWcaKeyNotFound, "", errors.New("empty api key"))
	}
	_, err := p.auth.token(ctx, apiKey)
	return err
}

// ValidateModelID runs a test completion with the organization's key.
func (p *SaaS) ValidateModelID(ctx context.Context, user *domain.User, modelID string) error {
	apiKey, err := p.apiKey(ctx, user)
	if err != nil {
		return err
	}
	return p.probeModel(ctx, apiKey, modelID, user)
}

func (p *SaaS) SelfTest(ctx context.Context) *domain.HealthCheckSummary {
	summary := domain.NewHealthCheckSummary(map[string]any{
		domain.HealthItemProvider: string(domain.ProviderWCA),
	})
	if p.healthCheckAPIKey == "" {
		summary.SetError(domain.HealthItemTokens, errors.New("health check api key is not configured"))
		summary.SetError(domain.HealthItemModels, errors.New("skipped"))
		return summary
	}
	if _, err := p.auth.token(ctx, p.healthCheckAPIKey); err != nil {
		summary.SetError(domain.HealthItemTokens, err)
		summary.SetError(domain.HealthItemModels, errors.New("skipped"))
		return summary
	}
	summary.SetError(domain.HealthItemTokens, nil)
	summary.SetError(domain.HealthItemModels, p.probeModel(ctx, p.healthCheckAPIKey, p.healthCheckModelID, nil))
	return summary
}
