package httpchat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
)

const chatStream = "data: {\"event\":\"start\",\"data\":{\"conversation_id\":\"c-1\"}}\n\n" +
	"data: {\"event\":\"token\",\"data\":{\"id\":0,\"token\":\"Use \"}}\n\n" +
	"data: {\"event\":\"token\",\"data\":{\"id\":1,\"token\":\"ansible.builtin.dnf\"}}\n\n" +
	"data: {\"event\":\"tool_call\",\"data\":{\"id\":2,\"token\":{\"tool_name\":\"search\"}}}\n\n" +
	"data: {\"event\":\"tool_result\",\"data\":{\"id\":3,\"token\":{\"response\":\"ok\"}}}\n\n" +
	"data: {\"event\":\"end\",\"data\":{\"referenced_documents\":[{\"doc_title\":\"dnf\",\"doc_url\":\"https://docs\"}],\"truncated\":false,\"input_tokens\":7,\"output_tokens\":3}}\n\n"

type chatServer struct {
	server      *httptest.Server
	lastHeaders http.Header
	lastBody    map[string]any
	status      int
	body        string
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	cs := &chatServer{status: http.StatusOK}
	cs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.lastHeaders = r.Header.Clone()
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			cs.lastBody = map[string]any{}
			_ = json.Unmarshal(raw, &cs.lastBody)
		}
		switch r.URL.Path {
		case "/readiness":
			_, _ = io.WriteString(w, `{"ready":true,"reason":"service is ready"}`)
		case "/v1/query":
			w.WriteHeader(cs.status)
			if cs.body != "" {
				_, _ = io.WriteString(w, cs.body)
				return
			}
			_, _ = io.WriteString(w, `{"conversation_id":"c-1","response":"Use dnf.","truncated":false,"referenced_documents":[]}`)
		case "/v1/streaming_query":
			if cs.status != http.StatusOK {
				w.WriteHeader(cs.status)
				_, _ = io.WriteString(w, cs.body)
				return
			}
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, chatStream)
		case "/predictions/granite":
			_, _ = io.WriteString(w, `{"predictions":["ansible.builtin.debug:\n  msg: hi\n"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(cs.server.Close)
	return cs
}

func newPipeline(t *testing.T, cs *chatServer, deps ports.Dependencies, mutate func(*meshconfig.HTTPConfig)) *Pipeline {
	t.Helper()
	cfg := meshconfig.NewHTTPConfig()
	cfg.InferenceURL = cs.server.URL
	cfg.ModelID = "granite"
	if mutate != nil {
		mutate(cfg)
	}
	deps.HTTPClient = cs.server.Client()
	p, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p.(*Pipeline)
}

func drain(ch <-chan domain.ChatFrame) []domain.ChatFrame {
	var out []domain.ChatFrame
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func TestStreamChat_RedactsToolCalls(t *testing.T) {
	cs := newChatServer(t)
	p := newPipeline(t, cs, ports.Dependencies{ReturnToolCall: false}, nil)

	frames, err := p.StreamChat(context.Background(), &domain.ChatParameters{
		Query:      "How do I install a package?",
		AuthHeader: "Bearer user-token",
		MCPHeaders: map[string]map[string]string{"aap": {"Authorization": "Bearer aap"}},
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	got := drain(frames)

	var events []string
	for _, f := range got {
		events = append(events, f.Event)
	}
	if diff := cmp.Diff([]string{"start", "token", "token", "token", "token", "end"}, events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	for i, wantID := range map[int]float64{3: 2, 4: 3} {
		var data map[string]any
		_ = json.Unmarshal(got[i].Data, &data)
		if data["id"] != wantID || data["token"] != "" {
			t.Errorf("frame %d data = %v", i, data)
		}
		if len(got[i].Original) == 0 {
			t.Errorf("frame %d has no original", i)
		}
	}

	if h := cs.lastHeaders.Get("Authorization"); h != "Bearer user-token" {
		t.Errorf("Authorization = %q", h)
	}
	if h := cs.lastHeaders.Get(mcpHeadersHeader); h != `{"aap":{"Authorization":"Bearer aap"}}` {
		t.Errorf("MCP-HEADERS = %q", h)
	}
	if cs.lastBody["media_type"] != "application/json" || cs.lastBody["model"] != "granite" {
		t.Errorf("body = %v", cs.lastBody)
	}
}

func TestStreamChat_ToolCallsReturnedWhenEnabled(t *testing.T) {
	cs := newChatServer(t)
	p := newPipeline(t, cs, ports.Dependencies{ReturnToolCall: true}, nil)

	frames, err := p.StreamChat(context.Background(), &domain.ChatParameters{Query: "q"})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	got := drain(frames)
	if got[3].Event != domain.ChatEventToolCall || got[4].Event != domain.ChatEventToolResult {
		t.Errorf("events = %s, %s", got[3].Event, got[4].Event)
	}
}

func TestStreamChat_UpstreamErrorStatus(t *testing.T) {
	cs := newChatServer(t)
	cs.status = http.StatusRequestEntityTooLarge
	cs.body = `{"detail":{"response":"Prompt is too long","cause":"4096 tokens"}}`
	p := newPipeline(t, cs, ports.Dependencies{}, nil)

	_, err := p.StreamChat(context.Background(), &domain.ChatParameters{Query: "q"})
	if !domain.IsKind(err, domain.KindChatbotPromptTooLong) {
		t.Fatalf("StreamChat() error = %v, want prompt too long", err)
	}
	apiErr := domain.TranslateError(err)
	if apiErr.StatusCode != http.StatusRequestEntityTooLarge || apiErr.Detail != "Prompt is too long" {
		t.Errorf("TranslateError() = %d %q", apiErr.StatusCode, apiErr.Detail)
	}
}

func TestChat(t *testing.T) {
	cs := newChatServer(t)
	p := newPipeline(t, cs, ports.Dependencies{}, nil)

	resp, err := p.Chat(context.Background(), &domain.ChatParameters{Query: "q", ConversationID: "c-1", NoTools: true})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Response != "Use dnf." || resp.ConversationID != "c-1" {
		t.Errorf("Chat() = %+v", resp)
	}
	if cs.lastBody["no_tools"] != true {
		t.Errorf("no_tools not forwarded: %v", cs.lastBody)
	}
}

func TestChat_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   domain.ErrorKind
	}{
		{http.StatusRequestEntityTooLarge, domain.KindChatbotPromptTooLong},
		{http.StatusUnprocessableEntity, domain.KindChatbotValidation},
		{http.StatusInternalServerError, domain.KindChatbotInternal},
		{http.StatusBadGateway, domain.KindChatbotInternal},
	}
	for _, tt := range tests {
		cs := newChatServer(t)
		cs.status = tt.status
		cs.body = `{"detail":"nope"}`
		p := newPipeline(t, cs, ports.Dependencies{}, nil)
		_, err := p.Chat(context.Background(), &domain.ChatParameters{Query: "q"})
		if !domain.IsKind(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestChat_FromStream(t *testing.T) {
	cs := newChatServer(t)
	p := newPipeline(t, cs, ports.Dependencies{}, func(c *meshconfig.HTTPConfig) { c.Stream = true })

	resp, err := p.Chat(context.Background(), &domain.ChatParameters{Query: "q"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	want := &domain.ChatResponse{
		Response:            "Use ansible.builtin.dnf",
		ConversationID:      "c-1",
		ReferencedDocuments: []domain.ReferencedDocument{{DocTitle: "dnf", DocURL: "https://docs"}},
		InputTokens:         7,
		OutputTokens:        3,
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("Chat() mismatch (-want +got):\n%s", diff)
	}
}

func TestCompletions(t *testing.T) {
	cs := newChatServer(t)
	p := newPipeline(t, cs, ports.Dependencies{}, nil)

	resp, err := p.Completions(context.Background(), &domain.CompletionsParameters{Prompt: "- name: hi\n"})
	if err != nil {
		t.Fatalf("Completions() error = %v", err)
	}
	if resp.Predictions[0] != "ansible.builtin.debug:\n  msg: hi\n" || resp.ModelID != "granite" {
		t.Errorf("Completions() = %+v", resp)
	}
	instances := cs.lastBody["instances"].([]any)
	if instances[0].(map[string]any)["prompt"] != "- name: hi\n" {
		t.Errorf("instances = %v", instances)
	}
}

func TestSelfTest_ReadinessAndMCP(t *testing.T) {
	cs := newChatServer(t)
	p := newPipeline(t, cs, ports.Dependencies{}, func(c *meshconfig.HTTPConfig) {
		c.MCPServers = []meshconfig.MCPServer{{Name: "aap", URL: "http://mcp.invalid/sse"}}
	})

	server := mcp.NewServer(&mcp.Implementation{Name: "aap-mcp", Version: "v0.0.1"}, nil)
	type searchInput struct {
		Query string `json:"query"`
	}
	mcp.AddTool(server, &mcp.Tool{Name: "search", Description: "Search job templates"},
		func(context.Context, *mcp.CallToolRequest, searchInput) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{}, nil, nil
		})
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server.Connect() error = %v", err)
	}
	p.transport = func(meshconfig.MCPServer) mcp.Transport { return clientTransport }

	summary := p.SelfTest(ctx)
	if err := summary.Err(); err != nil {
		t.Fatalf("SelfTest() error = %v", err)
	}
	if v, ok := summary.Get("mcp:aap"); !ok || v != domain.HealthStatusOK {
		t.Errorf("mcp:aap = %v, %v", v, ok)
	}
}

func TestSelfTest_NotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ready":false,"reason":"loading"}`)
	}))
	defer srv.Close()
	cfg := meshconfig.NewHTTPConfig()
	cfg.InferenceURL = srv.URL
	p, err := New(cfg, ports.Dependencies{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	if p.SelfTest(context.Background()).Err() == nil {
		t.Error("SelfTest() error = nil, want not ready")
	}
}
