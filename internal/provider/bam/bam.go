// Package bam implements the IBM BAM provider over its text/chat API.
package bam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/pkg/safehttp"
	"github.com/ansible/ai-connect-gateway/internal/provider/nop"
	"github.com/ansible/ai-connect-gateway/internal/provider/openaicompat"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
)

const (
	chatPath   = "/v2/text/chat"
	apiVersion = "2024-01-10"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type parameters struct {
	DecodingMethod string  `json:"decoding_method"`
	Temperature    float64 `json:"temperature"`
	MaxNewTokens   int     `json:"max_new_tokens"`
}

type chatRequest struct {
	ModelID    string     `json:"model_id"`
	Messages   []message  `json:"messages"`
	Parameters parameters `json:"parameters"`
}

type chatResponse struct {
	Results []struct {
		GeneratedText string `json:"generated_text"`
		StopReason    string `json:"stop_reason"`
	} `json:"results"`
}

type Pipeline struct {
	nop.Pipeline
	cfg    *meshconfig.BAMConfig
	http   *http.Client
	logger *slog.Logger
}

var _ ports.Pipeline = (*Pipeline)(nil)

func New(cfg any, deps ports.Dependencies) (ports.Pipeline, error) {
	c, ok := cfg.(*meshconfig.BAMConfig)
	if !ok {
		return nil, fmt.Errorf("bam: unexpected config type %T", cfg)
	}
	hc := deps.HTTPClient
	if hc == nil {
		var err error
		if hc, err = safehttp.NewClient(safehttp.TLSOptions{VerifySSL: c.VerifySSL}, 0); err != nil {
			return nil, fmt.Errorf("bam: %w", err)
		}
	}
	return &Pipeline{cfg: c, http: hc, logger: deps.Log().With("provider", string(domain.ProviderBAM))}, nil
}

// Register declares the bam provider.
func Register(b *registry.Builder) {
	b.RegisterProvider(registry.ProviderSpec{
		Tag:         domain.ProviderBAM,
		Description: "IBM BAM text/chat API",
		NewConfig:   func() any { return meshconfig.NewBAMConfig() },
	})
	for _, c := range []domain.Capability{
		domain.CapabilityCompletions,
		domain.CapabilityPlaybookGeneration,
		domain.CapabilityRoleGeneration,
		domain.CapabilityPlaybookExplanation,
		domain.CapabilityRoleExplanation,
	} {
		b.Register(domain.ProviderBAM, c, New)
	}
}

func (p *Pipeline) ModelID(_ context.Context, _ *domain.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	return p.cfg.ModelID, nil
}

func (p *Pipeline) ask(ctx context.Context, model string, m openaicompat.Messages, taskCount int) (string, error) {
	if t := p.cfg.RequestTimeout(taskCount); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	body, err := json.Marshal(chatRequest{
		ModelID: model,
		Messages: []message{
			{Role: "system", Content: m.System},
			{Role: "user", Content: m.User},
		},
		Parameters: parameters{DecodingMethod: "greedy", MaxNewTokens: 2048},
	})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(p.cfg.InferenceURL, "/") + chatPath + "?version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", domain.NewModelError(domain.KindModelTimeout, model, err)
		}
		return "", domain.NewModelError(domain.KindUpstream, model, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewModelError(domain.KindUpstream, model, err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.WarnContext(ctx, "bam request failed", slog.Int("status", resp.StatusCode))
		return "", domain.NewModelError(domain.KindUpstream, model,
			fmt.Errorf("bam returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload)))
	}
	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", domain.NewModelError(domain.KindUpstream, model, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Results) == 0 {
		return "", domain.NewModelError(domain.KindUpstream, model, errors.New("no results returned"))
	}
	return out.Results[0].GeneratedText, nil
}

func (p *Pipeline) Completions(ctx context.Context, params *domain.CompletionsParameters) (*domain.CompletionsResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, openaicompat.CompletionMessages(params.Context, params.Prompt), params.TaskCount)
	if err != nil {
		return nil, err
	}
	return &domain.CompletionsResponse{Predictions: []string{openaicompat.UnwrapTask(answer)}, ModelID: model}, nil
}

func (p *Pipeline) GeneratePlaybook(ctx context.Context, params *domain.PlaybookGenerationParameters) (*domain.PlaybookGenerationResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, openaicompat.PlaybookGenerationMessages(params), 1)
	if err != nil {
		return nil, err
	}
	playbook, outline := openaicompat.UnwrapYAML(answer)
	if !params.CreateOutline {
		outline = ""
	}
	return &domain.PlaybookGenerationResponse{Playbook: playbook, Outline: outline, Warnings: []string{}, ModelID: model}, nil
}

func (p *Pipeline) GenerateRole(ctx context.Context, params *domain.RoleGenerationParameters) (*domain.RoleGenerationResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, openaicompat.RoleGenerationMessages(params), 1)
	if err != nil {
		return nil, err
	}
	tasks, outline := openaicompat.UnwrapYAML(answer)
	if !params.CreateOutline {
		outline = ""
	}
	return &domain.RoleGenerationResponse{
		Name:     openaicompat.RoleName(params.Text),
		Files:    []domain.RoleFile{{Path: "tasks/main.yml", FileType: "task", Content: tasks}},
		Outline:  outline,
		Warnings: []string{},
		ModelID:  model,
	}, nil
}

func (p *Pipeline) ExplainPlaybook(ctx context.Context, params *domain.PlaybookExplanationParameters) (*domain.ExplanationResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, openaicompat.PlaybookExplanationMessages(params), 1)
	if err != nil {
		return nil, err
	}
	return &domain.ExplanationResponse{Content: answer, ModelID: model}, nil
}

func (p *Pipeline) ExplainRole(ctx context.Context, params *domain.RoleExplanationParameters) (*domain.ExplanationResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, openaicompat.RoleExplanationMessages(params), 1)
	if err != nil {
		return nil, err
	}
	return &domain.ExplanationResponse{Content: answer, ModelID: model}, nil
}
