package wca

import (
	"context"
	"errors"
	"fmt"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider/dummy"
)

// Keys understood by the offline stand-in.
const (
	DummyValidAPIKey  = "valid"
	DummyModelID      = "wca-dummy-model"
	dummyInvalidModel = "invalid"
)

// Dummy answers like WCA without network access. Credential validation
// accepts DummyValidAPIKey and any model id except "invalid".
type Dummy struct {
	ports.Pipeline
	cfg *meshconfig.WCADummyConfig
}

var _ ports.CredentialValidator = (*Dummy)(nil)

// NewDummy builds the stand-in from a *meshconfig.WCADummyConfig.
func NewDummy(cfg any, deps ports.Dependencies) (ports.Pipeline, error) {
	c, ok := cfg.(*meshconfig.WCADummyConfig)
	if !ok {
		return nil, fmt.Errorf("wca-dummy: unexpected config type %T", cfg)
	}
	canned := meshconfig.NewDummyConfig()
	canned.BaseConfig = c.BaseConfig
	inner, err := dummy.New(canned, deps)
	if err != nil {
		return nil, err
	}
	return &Dummy{Pipeline: inner, cfg: c}, nil
}

func (p *Dummy) ModelID(_ context.Context, _ *domain.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if p.cfg.ModelID != "" {
		return p.cfg.ModelID, nil
	}
	return DummyModelID, nil
}

func (p *Dummy) Completions(ctx context.Context, params *domain.CompletionsParameters) (*domain.CompletionsResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	if model == dummyInvalidModel {
		return nil, domain.NewModelError(domain.KindWcaInvalidModelID, model, errors.New("unknown model"))
	}
	resp, err := p.Pipeline.Completions(ctx, params)
	if err != nil {
		return nil, err
	}
	resp.ModelID = model
	return resp, nil
}

func (p *Dummy) ValidateAPIKey(_ context.Context, apiKey string) error {
	switch apiKey {
	case "":
		return domain.NewModelError(domain.KindWcaKeyNotFound, "", errors.New("empty api key"))
	case DummyValidAPIKey:
		return nil
	}
	return domain.NewModelError(domain.KindWcaTokenFailureAPIKey, "", errors.New("api key rejected"))
}

func (p *Dummy) ValidateModelID(_ context.Context, _ *domain.User, modelID string) error {
	if modelID == "" || modelID == dummyInvalidModel {
		return domain.NewModelError(domain.KindWcaInvalidModelID, modelID, errors.New("unknown model"))
	}
	return nil
}

func (p *Dummy) SelfTest(context.Context) *domain.HealthCheckSummary {
	return domain.NewHealthCheckSummary(map[string]any{
		domain.HealthItemProvider: string(domain.ProviderWCADummy),
		domain.HealthItemModels:   domain.HealthStatusOK,
	})
}
