// Package dummy implements a provider that answers every capability with
// canned content after an optional simulated latency.
package dummy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider/nop"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
)

const defaultModelID = "dummy"

const (
	playbook = `---
- name: Install and start nginx
  hosts: all
  become: true
  tasks:
    - name: Install nginx
      ansible.builtin.package:
        name: nginx
        state: present

    - name: Start nginx
      ansible.builtin.service:
        name: nginx
        state: started
        enabled: true
`
	outline = `1. Install nginx
2. Start nginx
`
	explanation = `## Playbook Overview and Structure

This playbook installs the **nginx** package and makes sure the service is
running and enabled at boot.

### Tasks

1. **Install nginx** uses ` + "`ansible.builtin.package`" + ` to install the package.
2. **Start nginx** uses ` + "`ansible.builtin.service`" + ` to start and enable the service.
`
	roleTasks = `---
- name: Install nginx
  ansible.builtin.package:
    name: nginx
    state: present
`
	roleDefaults = `---
nginx_port: 80
`
	chatAnswer = "Ansible is an open source IT automation engine."
)

// Pipeline is the dummy provider.
type Pipeline struct {
	nop.Pipeline
	cfg         *meshconfig.DummyConfig
	predictions []string
}

var _ ports.Pipeline = (*Pipeline)(nil)

// New builds a dummy pipeline from a *meshconfig.DummyConfig.
func New(cfg any, _ ports.Dependencies) (ports.Pipeline, error) {
	c, ok := cfg.(*meshconfig.DummyConfig)
	if !ok {
		return nil, fmt.Errorf("dummy: unexpected config type %T", cfg)
	}
	body := c.Body
	if body == "" {
		body = meshconfig.DefaultDummyBody
	}
	var parsed struct {
		Predictions []string `json:"predictions"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, fmt.Errorf("dummy: invalid response body: %w", err)
	}
	return &Pipeline{cfg: c, predictions: parsed.Predictions}, nil
}

// Register declares the dummy provider for every capability.
func Register(b *registry.Builder) {
	b.RegisterProvider(registry.ProviderSpec{
		Tag:         domain.ProviderDummy,
		Description: "Canned responses for development and tests",
		NewConfig:   func() any { return meshconfig.NewDummyConfig() },
	})
	for _, capability := range domain.Capabilities() {
		b.Register(domain.ProviderDummy, capability, New)
	}
}

func (p *Pipeline) latency() time.Duration {
	maxLatency := time.Duration(p.cfg.LatencyMaxMsec) * time.Millisecond
	if maxLatency <= 0 {
		return 0
	}
	if p.cfg.LatencyUseJitter {
		return time.Duration(rand.Int64N(int64(maxLatency)))
	}
	return maxLatency
}

func (p *Pipeline) wait(ctx context.Context) error {
	d := p.latency()
	if d == 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return domain.NewModelError(domain.KindModelTimeout, p.cfg.ModelID, ctx.Err())
	}
}

func (p *Pipeline) ModelID(_ context.Context, _ *domain.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if p.cfg.ModelID != "" {
		return p.cfg.ModelID, nil
	}
	return defaultModelID, nil
}

func (p *Pipeline) Completions(ctx context.Context, params *domain.CompletionsParameters) (*domain.CompletionsResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	preds := make([]string, len(p.predictions))
	copy(preds, p.predictions)
	return &domain.CompletionsResponse{Predictions: preds, ModelID: model}, nil
}

func (p *Pipeline) ContentMatch(ctx context.Context, params *domain.ContentMatchParameters) (*domain.ContentMatchResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	resp := &domain.ContentMatchResponse{ModelID: model}
	for range params.Suggestions {
		resp.Results = append(resp.Results, domain.ContentMatchResult{Matches: []domain.ContentMatch{{
			RepoName:              "fiaasco.solr",
			RepoURL:               "https://galaxy.ansible.com/fiaasco/solr",
			Path:                  "tasks/cores.yml",
			License:               "mit",
			Score:                 0.7182885,
			DataSource:            1,
			DataSourceDescription: "Galaxy-R",
		}}})
	}
	return resp, nil
}

func (p *Pipeline) GeneratePlaybook(ctx context.Context, params *domain.PlaybookGenerationParameters) (*domain.PlaybookGenerationResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	resp := &domain.PlaybookGenerationResponse{Playbook: playbook, Warnings: []string{}, ModelID: model}
	if params.CreateOutline {
		resp.Outline = outline
	}
	return resp, nil
}

func (p *Pipeline) GenerateRole(ctx context.Context, params *domain.RoleGenerationParameters) (*domain.RoleGenerationResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	resp := &domain.RoleGenerationResponse{
		Name: "install_nginx",
		Files: []domain.RoleFile{
			{Path: "tasks/main.yml", FileType: "task", Content: roleTasks},
			{Path: "defaults/main.yml", FileType: "default", Content: roleDefaults},
		},
		Warnings: []string{},
		ModelID:  model,
	}
	if params.CreateOutline {
		resp.Outline = "1. Install nginx\n"
	}
	return resp, nil
}

func (p *Pipeline) ExplainPlaybook(ctx context.Context, params *domain.PlaybookExplanationParameters) (*domain.ExplanationResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	return &domain.ExplanationResponse{Content: explanation, ModelID: model}, nil
}

func (p *Pipeline) ExplainRole(ctx context.Context, params *domain.RoleExplanationParameters) (*domain.ExplanationResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	return &domain.ExplanationResponse{
		Content: fmt.Sprintf("## Role %s\n\nThis role installs nginx.\n", params.RoleName),
		ModelID: model,
	}, nil
}

func (p *Pipeline) Chat(ctx context.Context, params *domain.ChatParameters) (*domain.ChatResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	conv := params.ConversationID
	if conv == "" {
		conv = uuid.NewString()
	}
	return &domain.ChatResponse{
		Response:            chatAnswer,
		ConversationID:      conv,
		ReferencedDocuments: []domain.ReferencedDocument{},
	}, nil
}

func (p *Pipeline) StreamChat(ctx context.Context, params *domain.ChatParameters) (<-chan domain.ChatFrame, error) {
	conv := params.ConversationID
	if conv == "" {
		conv = uuid.NewString()
	}
	out := make(chan domain.ChatFrame)
	go func() {
		defer close(out)
		frames := []domain.ChatFrame{frame(domain.ChatEventStart, map[string]any{"conversation_id": conv})}
		for i, tok := range []string{"Ansible", " is", " an", " automation", " engine."} {
			frames = append(frames, frame(domain.ChatEventToken, map[string]any{"id": i, "token": tok}))
		}
		frames = append(frames, frame(domain.ChatEventEnd, map[string]any{
			"referenced_documents": []any{},
			"truncated":            false,
			"input_tokens":         0,
			"output_tokens":        5,
		}))
		if err := p.wait(ctx); err != nil {
			return
		}
		for _, f := range frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Pipeline) SelfTest(context.Context) *domain.HealthCheckSummary {
	return domain.NewHealthCheckSummary(map[string]any{
		domain.HealthItemProvider: string(domain.ProviderDummy),
		domain.HealthItemModels:   domain.HealthStatusOK,
	})
}

func frame(event string, data map[string]any) domain.ChatFrame {
	b, _ := json.Marshal(data)
	return domain.ChatFrame{Event: event, Data: b}
}
