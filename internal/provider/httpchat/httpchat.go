// Package httpchat implements the generic "http" provider: completions
// against a TorchServe-style /predictions endpoint and chat against an
// ansible-chatbot service (/v1/query, /v1/streaming_query).
package httpchat

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

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/pkg/safehttp"
	"github.com/ansible/ai-connect-gateway/internal/provider/nop"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
	"github.com/ansible/ai-connect-gateway/internal/streaming"
)

const (
	queryPath          = "/v1/query"
	streamingQueryPath = "/v1/streaming_query"
	readinessPath      = "/readiness"
	mcpHeadersHeader   = "MCP-HEADERS"
)

// Pipeline is the http provider.
type Pipeline struct {
	nop.Pipeline
	cfg            *meshconfig.HTTPConfig
	http           *http.Client
	returnToolCall bool
	logger         *slog.Logger
	// transport opens an MCP client transport for a configured server.
	transport func(server meshconfig.MCPServer) mcp.Transport
}

var _ ports.Pipeline = (*Pipeline)(nil)

// New builds the provider from a *meshconfig.HTTPConfig.
func New(cfg any, deps ports.Dependencies) (ports.Pipeline, error) {
	c, ok := cfg.(*meshconfig.HTTPConfig)
	if !ok {
		return nil, fmt.Errorf("http: unexpected config type %T", cfg)
	}
	hc := deps.HTTPClient
	if hc == nil {
		var err error
		hc, err = safehttp.NewClient(safehttp.TLSOptions{CACertFile: c.CACertFile, VerifySSL: c.VerifySSL}, 0)
		if err != nil {
			return nil, fmt.Errorf("http: %w", err)
		}
	}
	p := &Pipeline{
		cfg:            c,
		http:           hc,
		returnToolCall: deps.ReturnToolCall,
		logger:         deps.Log().With("provider", string(domain.ProviderHTTP)),
	}
	p.transport = func(s meshconfig.MCPServer) mcp.Transport {
		if strings.HasSuffix(strings.TrimRight(s.URL, "/"), "/sse") {
			return &mcp.SSEClientTransport{Endpoint: s.URL, HTTPClient: hc}
		}
		return &mcp.StreamableClientTransport{Endpoint: s.URL, HTTPClient: hc}
	}
	return p, nil
}

// Register declares the http provider.
func Register(b *registry.Builder) {
	b.RegisterProvider(registry.ProviderSpec{
		Tag:         domain.ProviderHTTP,
		Description: "Generic HTTP model server and chat service",
		NewConfig:   func() any { return meshconfig.NewHTTPConfig() },
	})
	b.Register(domain.ProviderHTTP, domain.CapabilityCompletions, New)
	b.Register(domain.ProviderHTTP, domain.CapabilityChatBot, New)
	b.Register(domain.ProviderHTTP, domain.CapabilityStreamingChatBot, New)
}

func (p *Pipeline) url(path string) string {
	return strings.TrimRight(p.cfg.InferenceURL, "/") + path
}

func (p *Pipeline) ModelID(_ context.Context, _ *domain.User, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	return p.cfg.ModelID, nil
}

func (p *Pipeline) withTimeout(ctx context.Context, taskCount int) (context.Context, context.CancelFunc) {
	if t := p.cfg.RequestTimeout(taskCount); t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) post(ctx context.Context, url string, body any, header http.Header) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("http: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("http: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return p.http.Do(req)
}

type predictionRequest struct {
	Instances []predictionInstance `json:"instances"`
}

type predictionInstance struct {
	Context string `json:"context"`
	Prompt  string `json:"prompt"`
}

func (p *Pipeline) Completions(ctx context.Context, params *domain.CompletionsParameters) (*domain.CompletionsResponse, error) {
	model, _ := p.ModelID(ctx, params.User, params.ModelID)
	ctx, cancel := p.withTimeout(ctx, params.TaskCount)
	defer cancel()

	resp, err := p.post(ctx, p.url("/predictions/"+model), predictionRequest{
		Instances: []predictionInstance{{Context: params.Context, Prompt: params.Prompt}},
	}, nil)
	if err != nil {
		return nil, transportError(ctx, model, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, model, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewModelError(domain.KindUpstream, model, fmt.Errorf("status %d", resp.StatusCode)).WithDetail(string(body))
	}
	var out struct {
		Predictions []string `json:"predictions"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, domain.NewModelError(domain.KindUpstream, model, fmt.Errorf("decode predictions: %w", err))
	}
	return &domain.CompletionsResponse{Predictions: out.Predictions, ModelID: model}, nil
}

type queryRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	Model          string `json:"model,omitempty"`
	Provider       string `json:"provider,omitempty"`
	NoTools        bool   `json:"no_tools,omitempty"`
	MediaType      string `json:"media_type,omitempty"`
}

func (p *Pipeline) queryRequest(params *domain.ChatParameters) (queryRequest, http.Header, error) {
	model := params.ModelID
	if model == "" {
		model = p.cfg.ModelID
	}
	header := http.Header{}
	if params.AuthHeader != "" {
		header.Set("Authorization", params.AuthHeader)
	}
	if len(params.MCPHeaders) > 0 {
		b, err := json.Marshal(params.MCPHeaders)
		if err != nil {
			return queryRequest{}, nil, fmt.Errorf("http: encode mcp headers: %w", err)
		}
		header.Set(mcpHeadersHeader, string(b))
	}
	return queryRequest{
		Query:          params.Query,
		ConversationID: params.ConversationID,
		SystemPrompt:   params.SystemPrompt,
		Model:          model,
		Provider:       params.Provider,
		NoTools:        params.NoTools,
	}, header, nil
}

func (p *Pipeline) Chat(ctx context.Context, params *domain.ChatParameters) (*domain.ChatResponse, error) {
	if p.cfg.Stream {
		return p.chatFromStream(ctx, params)
	}
	body, header, err := p.queryRequest(params)
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.withTimeout(ctx, 1)
	defer cancel()

	resp, err := p.post(ctx, p.url(queryPath), body, header)
	if err != nil {
		return nil, transportError(ctx, body.Model, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, body.Model, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, chatError(resp.StatusCode, raw, body.Model)
	}
	var out domain.ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, domain.NewModelError(domain.KindChatbotInternal, body.Model, err).WithDetail("invalid response from chat service")
	}
	if out.ReferencedDocuments == nil {
		out.ReferencedDocuments = []domain.ReferencedDocument{}
	}
	return &out, nil
}

// chatFromStream serves a non-streaming chat turn from the streaming
// endpoint, for chat services configured with stream enabled.
func (p *Pipeline) chatFromStream(ctx context.Context, params *domain.ChatParameters) (*domain.ChatResponse, error) {
	frames, err := p.openStream(ctx, params, true)
	if err != nil {
		return nil, err
	}
	return Collect(frames)
}

// Collect folds a frame stream into a single chat response.
func Collect(frames <-chan domain.ChatFrame) (*domain.ChatResponse, error) {
	out := &domain.ChatResponse{ReferencedDocuments: []domain.ReferencedDocument{}}
	var text strings.Builder
	for f := range frames {
		switch f.Event {
		case domain.ChatEventStart:
			var d struct {
				ConversationID string `json:"conversation_id"`
			}
			_ = json.Unmarshal(f.Data, &d)
			out.ConversationID = d.ConversationID
		case domain.ChatEventToken:
			var d struct {
				Token json.RawMessage `json:"token"`
			}
			_ = json.Unmarshal(f.Data, &d)
			var s string
			if json.Unmarshal(d.Token, &s) == nil {
				text.WriteString(s)
			}
		case domain.ChatEventEnd:
			var d struct {
				ReferencedDocuments []domain.ReferencedDocument `json:"referenced_documents"`
				Truncated           bool                        `json:"truncated"`
				InputTokens         int                         `json:"input_tokens"`
				OutputTokens        int                         `json:"output_tokens"`
			}
			_ = json.Unmarshal(f.Data, &d)
			if d.ReferencedDocuments != nil {
				out.ReferencedDocuments = d.ReferencedDocuments
			}
			out.Truncated = d.Truncated
			out.InputTokens = d.InputTokens
			out.OutputTokens = d.OutputTokens
		case domain.ChatEventError:
			var d struct {
				Response string `json:"response"`
				Cause    string `json:"cause"`
			}
			_ = json.Unmarshal(f.Data, &d)
			for range frames {
			}
			return nil, domain.NewModelError(domain.KindChatbotInternal, "", errors.New(d.Cause)).WithDetail(d.Response)
		}
	}
	out.Response = text.String()
	return out, nil
}

func (p *Pipeline) StreamChat(ctx context.Context, params *domain.ChatParameters) (<-chan domain.ChatFrame, error) {
	return p.openStream(ctx, params, p.returnToolCall)
}

func (p *Pipeline) openStream(ctx context.Context, params *domain.ChatParameters, returnToolCall bool) (<-chan domain.ChatFrame, error) {
	body, header, err := p.queryRequest(params)
	if err != nil {
		return nil, err
	}
	body.MediaType = "application/json"
	header.Set("Accept", "text/event-stream")

	// The deadline covers the whole stream; client disconnects cancel ctx.
	sctx, cancel := p.withTimeout(ctx, 1)
	resp, err := p.post(sctx, p.url(streamingQueryPath), body, header)
	if err != nil {
		cancel()
		return nil, transportError(sctx, body.Model, err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, chatError(resp.StatusCode, raw, body.Model)
	}

	out := make(chan domain.ChatFrame)
	go func() {
		defer cancel()
		streaming.Pump(sctx, resp.Body, out, returnToolCall, p.logger)
	}()
	return out, nil
}

func (p *Pipeline) SelfTest(ctx context.Context) *domain.HealthCheckSummary {
	summary := domain.NewHealthCheckSummary(map[string]any{
		domain.HealthItemProvider: string(domain.ProviderHTTP),
	})
	summary.SetError(domain.HealthItemModels, p.readiness(ctx))
	for _, s := range p.cfg.MCPServers {
		summary.SetError("mcp:"+s.Name, p.probeMCP(ctx, s))
	}
	return summary
}

func (p *Pipeline) readiness(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(readinessPath), nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readiness returned status %d", resp.StatusCode)
	}
	var out struct {
		Ready  bool   `json:"ready"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode readiness: %w", err)
	}
	if !out.Ready {
		return fmt.Errorf("chat service not ready: %s", out.Reason)
	}
	return nil
}

// probeMCP connects to an MCP server and lists its tools.
func (p *Pipeline) probeMCP(ctx context.Context, s meshconfig.MCPServer) error {
	client := mcp.NewClient(&mcp.Implementation{Name: "ai-connect-gateway", Version: "health"}, nil)
	session, err := client.Connect(ctx, p.transport(s), nil)
	if err != nil {
		return fmt.Errorf("connect to mcp server %s: %w", s.Name, err)
	}
	defer session.Close()
	if _, err := session.ListTools(ctx, nil); err != nil {
		return fmt.Errorf("list tools on mcp server %s: %w", s.Name, err)
	}
	return nil
}

func transportError(ctx context.Context, model string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewModelError(domain.KindModelTimeout, model, err)
	}
	return domain.NewModelError(domain.KindUpstream, model, err)
}

// chatError maps a chat service failure status to a chatbot error kind.
func chatError(status int, body []byte, model string) error {
	var eb struct {
		Detail any `json:"detail"`
	}
	detail := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &eb) == nil && eb.Detail != nil {
		switch d := eb.Detail.(type) {
		case string:
			detail = d
		case map[string]any:
			if r, ok := d["response"].(string); ok {
				detail = r
			}
		default:
			b, _ := json.Marshal(d)
			detail = string(b)
		}
	}
	kind := domain.KindChatbotInternal
	switch status {
	case http.StatusRequestEntityTooLarge:
		kind = domain.KindChatbotPromptTooLong
	case http.StatusUnprocessableEntity:
		kind = domain.KindChatbotValidation
	}
	return domain.NewModelError(kind, model, fmt.Errorf("chat service returned status %d", status)).WithDetail(detail)
}
