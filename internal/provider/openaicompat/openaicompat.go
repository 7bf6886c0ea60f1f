// Package openaicompat implements the llamacpp and ollama providers. Both
// servers expose an OpenAI-compatible chat completions API under /v1, so a
// single pipeline drives them with tag-specific defaults.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/pkg/safehttp"
	"github.com/ansible/ai-connect-gateway/internal/provider/nop"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
	"github.com/ansible/ai-connect-gateway/internal/tokens"
)

// Pipeline serves every capability except content match through chat
// completions.
type Pipeline struct {
	nop.Pipeline
	tag     domain.ProviderTag
	cfg     *meshconfig.BaseConfig
	client  openai.Client
	counter *tokens.Counter
	logger  *slog.Logger
}

var _ ports.Pipeline = (*Pipeline)(nil)

// NewClient builds an OpenAI client for baseURL with retries disabled; the
// gateway's own timeouts apply instead.
func NewClient(baseURL, apiKey string, hc *http.Client) openai.Client {
	if apiKey == "" {
		// Local servers ignore the key but the client requires one.
		apiKey = "no-key"
	}
	return openai.NewClient(
		option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"),
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	)
}

func newPipeline(tag domain.ProviderTag) func(cfg any, deps ports.Dependencies) (ports.Pipeline, error) {
	return func(cfg any, deps ports.Dependencies) (ports.Pipeline, error) {
		c, ok := cfg.(*meshconfig.OpenAICompatConfig)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected config type %T", tag, cfg)
		}
		hc := deps.HTTPClient
		if hc == nil {
			var err error
			if hc, err = safehttp.NewClient(safehttp.TLSOptions{VerifySSL: c.VerifySSL}, 0); err != nil {
				return nil, fmt.Errorf("%s: %w", tag, err)
			}
		}
		return &Pipeline{
			tag:     tag,
			cfg:     &c.BaseConfig,
			client:  NewClient(strings.TrimRight(c.InferenceURL, "/")+"/v1", c.APIKey, hc),
			counter: tokens.NewCounter(),
			logger:  deps.Log().With("provider", string(tag)),
		}, nil
	}
}

var capabilities = []domain.Capability{
	domain.CapabilityCompletions,
	domain.CapabilityPlaybookGeneration,
	domain.CapabilityRoleGeneration,
	domain.CapabilityPlaybookExplanation,
	domain.CapabilityRoleExplanation,
	domain.CapabilityChatBot,
	domain.CapabilityStreamingChatBot,
}

// Register declares the llamacpp and ollama providers.
func Register(b *registry.Builder) {
	for _, spec := range []registry.ProviderSpec{
		{Tag: domain.ProviderLlamaCpp, Description: "llama.cpp server (OpenAI-compatible API)"},
		{Tag: domain.ProviderOllama, Description: "Ollama server (OpenAI-compatible API)"},
	} {
		spec.NewConfig = func() any { return meshconfig.NewOpenAICompatConfig() }
		b.RegisterProvider(spec)
		ctor := newPipeline(spec.Tag)
		for _, c := range capabilities {
			b.Register(spec.Tag, c, ctor)
		}
	}
}

func (p *Pipeline) ModelID(_ context.Context, _ *domain.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	return p.cfg.ModelID, nil
}

// ask sends one system/user exchange and returns the answer text.
func (p *Pipeline) ask(ctx context.Context, model string, m Messages, taskCount int) (string, error) {
	if t := p.cfg.RequestTimeout(taskCount); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(m.System),
			openai.UserMessage(m.User),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", MapError(ctx, model, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewModelError(domain.KindUpstream, model, errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// MapError converts an OpenAI client failure into a model error.
func MapError(ctx context.Context, model string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewModelError(domain.KindModelTimeout, model, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return domain.NewModelError(domain.KindUpstream, model, err).
			WithDetail(fmt.Sprintf("upstream status %d", apiErr.StatusCode))
	}
	return domain.NewModelError(domain.KindUpstream, model, err)
}

// MapChatError converts a chat failure into a chatbot error kind.
func MapChatError(ctx context.Context, model string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewModelError(domain.KindModelTimeout, model, err)
	}
	kind := domain.KindChatbotInternal
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusRequestEntityTooLarge:
			kind = domain.KindChatbotPromptTooLong
		case http.StatusUnprocessableEntity, http.StatusBadRequest:
			kind = domain.KindChatbotValidation
		}
	}
	return domain.NewModelError(kind, model, err).WithDetail(err.Error())
}

func (p *Pipeline) Completions(ctx context.Context, params *domain.CompletionsParameters) (*domain.CompletionsResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, CompletionMessages(params.Context, params.Prompt), params.TaskCount)
	if err != nil {
		return nil, err
	}
	return &domain.CompletionsResponse{Predictions: []string{UnwrapTask(answer)}, ModelID: model}, nil
}

func (p *Pipeline) GeneratePlaybook(ctx context.Context, params *domain.PlaybookGenerationParameters) (*domain.PlaybookGenerationResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, PlaybookGenerationMessages(params), 1)
	if err != nil {
		return nil, err
	}
	playbook, preamble := UnwrapYAML(answer)
	resp := &domain.PlaybookGenerationResponse{Playbook: playbook, Warnings: []string{}, ModelID: model}
	if params.CreateOutline {
		resp.Outline = preamble
	}
	return resp, nil
}

func (p *Pipeline) GenerateRole(ctx context.Context, params *domain.RoleGenerationParameters) (*domain.RoleGenerationResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, RoleGenerationMessages(params), 1)
	if err != nil {
		return nil, err
	}
	tasks, preamble := UnwrapYAML(answer)
	resp := &domain.RoleGenerationResponse{
		Name:     RoleName(params.Text),
		Files:    []domain.RoleFile{{Path: "tasks/main.yml", FileType: "task", Content: tasks}},
		Warnings: []string{},
		ModelID:  model,
	}
	if params.CreateOutline {
		resp.Outline = preamble
	}
	return resp, nil
}

func (p *Pipeline) ExplainPlaybook(ctx context.Context, params *domain.PlaybookExplanationParameters) (*domain.ExplanationResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, PlaybookExplanationMessages(params), 1)
	if err != nil {
		return nil, err
	}
	return &domain.ExplanationResponse{Content: answer, ModelID: model}, nil
}

func (p *Pipeline) ExplainRole(ctx context.Context, params *domain.RoleExplanationParameters) (*domain.ExplanationResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	answer, err := p.ask(ctx, model, RoleExplanationMessages(params), 1)
	if err != nil {
		return nil, err
	}
	return &domain.ExplanationResponse{Content: answer, ModelID: model}, nil
}

func (p *Pipeline) chatParams(params *domain.ChatParameters) (string, openai.ChatCompletionNewParams) {
	model := params.ModelID
	if model == "" {
		model = p.cfg.ModelID
	}
	return model, ChatParams(model, params)
}

// ChatParams builds the chat request for a turn.
func ChatParams(model string, params *domain.ChatParameters) openai.ChatCompletionNewParams {
	system := params.SystemPrompt
	if system == "" {
		system = ChatSystemPrompt
	}
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(params.Query),
		},
	}
}

func (p *Pipeline) Chat(ctx context.Context, params *domain.ChatParameters) (*domain.ChatResponse, error) {
	model, req := p.chatParams(params)
	if t := p.cfg.RequestTimeout(1); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	resp, err := p.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, MapChatError(ctx, model, err)
	}
	return ChatResult(resp, params.ConversationID), nil
}

// ChatResult converts a chat completion into the gateway's chat response.
// An empty conversation id is replaced with a fresh one.
func ChatResult(resp *openai.ChatCompletion, conversationID string) *domain.ChatResponse {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	out := &domain.ChatResponse{
		ConversationID:      conversationID,
		ReferencedDocuments: []domain.ReferencedDocument{},
		InputTokens:         int(resp.Usage.PromptTokens),
		OutputTokens:        int(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) > 0 {
		out.Response = resp.Choices[0].Message.Content
		out.Truncated = resp.Choices[0].FinishReason == "length"
	}
	return out
}

func (p *Pipeline) StreamChat(ctx context.Context, params *domain.ChatParameters) (<-chan domain.ChatFrame, error) {
	model, req := p.chatParams(params)
	return StreamChat(ctx, StreamOptions{
		Client:  p.client,
		Params:  req,
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
		domain.HealthItemProvider: string(p.tag),
	})
	page, err := p.client.Models.List(ctx)
	if err == nil && !modelListed(page.Data, p.cfg.ModelID) {
		err = fmt.Errorf("model %q is not served", p.cfg.ModelID)
	}
	summary.SetError(domain.HealthItemModels, err)
	return summary
}

func modelListed(models []openai.Model, id string) bool {
	if id == "" {
		return len(models) > 0
	}
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
