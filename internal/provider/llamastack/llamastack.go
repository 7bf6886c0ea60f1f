// Package llamastack implements the llama-stack provider. Chat goes through
// the server's OpenAI-compatible endpoints under /v1/openai/v1.
package llamastack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/pkg/safehttp"
	"github.com/ansible/ai-connect-gateway/internal/provider/nop"
	"github.com/ansible/ai-connect-gateway/internal/provider/openaicompat"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
	"github.com/ansible/ai-connect-gateway/internal/tokens"
)

const (
	openAIPath = "/v1/openai/v1"
	healthPath = "/v1/health"
)

type Pipeline struct {
	nop.Pipeline
	cfg     *meshconfig.LlamaStackConfig
	http    *http.Client
	client  openai.Client
	counter *tokens.Counter
	logger  *slog.Logger
}

var _ ports.Pipeline = (*Pipeline)(nil)

func New(cfg any, deps ports.Dependencies) (ports.Pipeline, error) {
	c, ok := cfg.(*meshconfig.LlamaStackConfig)
	if !ok {
		return nil, fmt.Errorf("llama-stack: unexpected config type %T", cfg)
	}
	hc := deps.HTTPClient
	if hc == nil {
		var err error
		hc, err = safehttp.NewClient(safehttp.TLSOptions{CACertFile: c.CACertFile, VerifySSL: c.VerifySSL}, 0)
		if err != nil {
			return nil, fmt.Errorf("llama-stack: %w", err)
		}
	}
	base := strings.TrimRight(c.InferenceURL, "/")
	return &Pipeline{
		cfg:     c,
		http:    hc,
		client:  openaicompat.NewClient(base+openAIPath, c.APIKey, hc),
		counter: tokens.NewCounter(),
		logger:  deps.Log().With("provider", string(domain.ProviderLlamaStack)),
	}, nil
}

// Register declares the llama-stack provider.
func Register(b *registry.Builder) {
	b.RegisterProvider(registry.ProviderSpec{
		Tag:         domain.ProviderLlamaStack,
		Description: "llama-stack server",
		NewConfig:   func() any { return meshconfig.NewLlamaStackConfig() },
	})
	b.Register(domain.ProviderLlamaStack, domain.CapabilityChatBot, New)
	b.Register(domain.ProviderLlamaStack, domain.CapabilityStreamingChatBot, New)
}

func (p *Pipeline) ModelID(_ context.Context, _ *domain.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	return p.cfg.ModelID, nil
}

func (p *Pipeline) Chat(ctx context.Context, params *domain.ChatParameters) (*domain.ChatResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	if t := p.cfg.RequestTimeout(1); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	resp, err := p.client.Chat.Completions.New(ctx, openaicompat.ChatParams(model, params))
	if err != nil {
		return nil, openaicompat.MapChatError(ctx, model, err)
	}
	return openaicompat.ChatResult(resp, params.ConversationID), nil
}

func (p *Pipeline) StreamChat(ctx context.Context, params *domain.ChatParameters) (<-chan domain.ChatFrame, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	return openaicompat.StreamChat(ctx, openaicompat.StreamOptions{
		Client:  p.client,
		Params:  openaicompat.ChatParams(model, params),
		Model:   model,
		Query:   params.SystemPrompt + params.Query,
		Conv:    params.ConversationID,
		Timeout: p.cfg.RequestTimeout(1),
		Counter: p.counter,
		Logger:  p.logger,
	}), nil
}

func (p *Pipeline) SelfTest(ctx context.Context) *domain.HealthCheckSummary {
	summary := domain.NewHealthCheckSummary(map[string]any{
		domain.HealthItemProvider: string(domain.ProviderLlamaStack),
	})
	summary.SetError(domain.HealthItemModels, p.health(ctx))
	return summary
}

func (p *Pipeline) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.cfg.InferenceURL, "/")+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if !strings.EqualFold(body.Status, "ok") {
		return fmt.Errorf("server reports status %q", body.Status)
	}
	return nil
}
