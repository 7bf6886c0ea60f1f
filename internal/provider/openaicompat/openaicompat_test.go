package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider/registry"
)

// fakeOpenAI serves the subset of the OpenAI API the pipeline uses.
type fakeOpenAI struct {
	mu       sync.Mutex
	requests []map[string]any
	answer   string
	chunks   []string
	status   int
	models   []string
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		f.mu.Lock()
		f.requests = append(f.requests, body)
		f.mu.Unlock()

		if f.status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			io.WriteString(w, `{"error":{"message":"upstream refused","type":"invalid_request_error"}}`)
			return
		}
		if stream, _ := body["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, c := range f.chunks {
				chunk := map[string]any{
					"id": "chunk", "object": "chat.completion.chunk", "created": 1, "model": body["model"],
					"choices": []any{map[string]any{"index": 0, "delta": map[string]any{"content": c}}},
				}
				b, _ := json.Marshal(chunk)
				fmt.Fprintf(w, "data: %s\n\n", b)
			}
			io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl", "object": "chat.completion", "created": 1, "model": body["model"],
			"choices": []any{map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.answer},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18},
		})
	})
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		data := make([]any, 0, len(f.models))
		for _, m := range f.models {
			data = append(data, map[string]any{"id": m, "object": "model", "created": 1, "owned_by": "local"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	})
	return mux
}

func (f *fakeOpenAI) lastMessages(t *testing.T) (system, user string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no upstream request")
	}
	msgs := f.requests[len(f.requests)-1]["messages"].([]any)
	return msgs[0].(map[string]any)["content"].(string), msgs[1].(map[string]any)["content"].(string)
}

func startPipeline(t *testing.T, tag domain.ProviderTag, f *fakeOpenAI) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	b := registry.NewBuilder(nil)
	Register(b)
	table := b.Build()
	ctor, err := table.Get(tag, domain.CapabilityCompletions)
	if err != nil {
		t.Fatal(err)
	}
	cfg := meshconfig.NewOpenAICompatConfig()
	cfg.InferenceURL = srv.URL
	cfg.ModelID = "granite-code:8b"
	p, err := ctor(cfg, ports.Dependencies{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	return p.(*Pipeline)
}

func TestCompletions(t *testing.T) {
	f := &fakeOpenAI{answer: "```yaml\n- name: Install nginx\n  ansible.builtin.package:\n    name: nginx\n```"}
	p := startPipeline(t, domain.ProviderOllama, f)

	resp, err := p.Completions(context.Background(), &domain.CompletionsParameters{
		Context: "- hosts: all\n  tasks:\n",
		Prompt:  "    - name: Install nginx\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := &domain.CompletionsResponse{
		Predictions: []string{"ansible.builtin.package:\n  name: nginx\n"},
		ModelID:     "granite-code:8b",
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("Completions() mismatch (-want +got):\n%s", diff)
	}
	system, user := f.lastMessages(t)
	if system != CompletionSystemPrompt {
		t.Errorf("system prompt = %q", system)
	}
	if !strings.HasSuffix(user, "- name: Install nginx\n") {
		t.Errorf("user prompt = %q", user)
	}
}

func TestCompletions_ModelOverride(t *testing.T) {
	f := &fakeOpenAI{answer: "ansible.builtin.ping:\n"}
	p := startPipeline(t, domain.ProviderLlamaCpp, f)

	resp, err := p.Completions(context.Background(), &domain.CompletionsParameters{
		Prompt:  "- name: ping\n",
		ModelID: "mistral",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ModelID != "mistral" || f.requests[0]["model"] != "mistral" {
		t.Errorf("model = %q / %v, want mistral", resp.ModelID, f.requests[0]["model"])
	}
}

func TestGeneratePlaybook_Outline(t *testing.T) {
	f := &fakeOpenAI{answer: "1. Install nginx\n2. Start nginx\n\n```yaml\n- hosts: all\n  tasks: []\n```\n"}
	p := startPipeline(t, domain.ProviderOllama, f)

	resp, err := p.GeneratePlaybook(context.Background(), &domain.PlaybookGenerationParameters{
		Text:          "Install and start nginx",
		CreateOutline: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Playbook != "- hosts: all\n  tasks: []\n" {
		t.Errorf("playbook = %q", resp.Playbook)
	}
	if resp.Outline != "1. Install nginx\n2. Start nginx" {
		t.Errorf("outline = %q", resp.Outline)
	}
	_, user := f.lastMessages(t)
	if !strings.Contains(user, PlaybookOutlineInstruction) {
		t.Errorf("user prompt lacks outline instruction: %q", user)
	}
}

func TestGenerateRole(t *testing.T) {
	f := &fakeOpenAI{answer: "```yaml\n- name: Install httpd\n  ansible.builtin.package:\n    name: httpd\n```"}
	p := startPipeline(t, domain.ProviderOllama, f)

	resp, err := p.GenerateRole(context.Background(), &domain.RoleGenerationParameters{Text: "Install the Apache web server"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Name != "install_the_apache_web" {
		t.Errorf("name = %q", resp.Name)
	}
	if len(resp.Files) != 1 || resp.Files[0].Path != "tasks/main.yml" {
		t.Fatalf("files = %+v", resp.Files)
	}
}

func TestExplainRole(t *testing.T) {
	f := &fakeOpenAI{answer: "# Install\nInstalls httpd."}
	p := startPipeline(t, domain.ProviderOllama, f)

	resp, err := p.ExplainRole(context.Background(), &domain.RoleExplanationParameters{
		RoleName:    "web",
		FocusOnFile: "tasks/main.yml",
		Files:       []domain.RoleFile{{Path: "tasks/main.yml", FileType: "task", Content: "- name: x\n"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "# Install\nInstalls httpd." {
		t.Errorf("content = %q", resp.Content)
	}
	_, user := f.lastMessages(t)
	for _, want := range []string{"role web", "focusing on the file tasks/main.yml", "# tasks/main.yml\n- name: x"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt %q lacks %q", user, want)
		}
	}
}

func TestUpstreamErrorIsMapped(t *testing.T) {
	f := &fakeOpenAI{status: http.StatusInternalServerError}
	p := startPipeline(t, domain.ProviderOllama, f)

	_, err := p.ExplainPlaybook(context.Background(), &domain.PlaybookExplanationParameters{Content: "- hosts: all\n"})
	if !domain.IsKind(err, domain.KindUpstream) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if got := domain.TranslateError(err).StatusCode; got != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", got)
	}
}

func TestChat(t *testing.T) {
	f := &fakeOpenAI{answer: "Use ansible.builtin.package."}
	p := startPipeline(t, domain.ProviderOllama, f)

	resp, err := p.Chat(context.Background(), &domain.ChatParameters{Query: "How do I install a package?", ConversationID: "c-1"})
	if err != nil {
		t.Fatal(err)
	}
	want := &domain.ChatResponse{
		Response:            "Use ansible.builtin.package.",
		ConversationID:      "c-1",
		ReferencedDocuments: []domain.ReferencedDocument{},
		InputTokens:         11,
		OutputTokens:        7,
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("Chat() mismatch (-want +got):\n%s", diff)
	}
	if system, _ := f.lastMessages(t); system != ChatSystemPrompt {
		t.Errorf("system prompt = %q", system)
	}
}

func TestChat_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		kind   domain.ErrorKind
	}{
		{http.StatusRequestEntityTooLarge, domain.KindChatbotPromptTooLong},
		{http.StatusUnprocessableEntity, domain.KindChatbotValidation},
		{http.StatusBadGateway, domain.KindChatbotInternal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := startPipeline(t, domain.ProviderOllama, &fakeOpenAI{status: tt.status})
			_, err := p.Chat(context.Background(), &domain.ChatParameters{Query: "hi"})
			if !domain.IsKind(err, tt.kind) {
				t.Errorf("err = %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestStreamChat(t *testing.T) {
	f := &fakeOpenAI{chunks: []string{"Use ", "the package ", "module."}}
	p := startPipeline(t, domain.ProviderLlamaCpp, f)

	frames, err := p.StreamChat(context.Background(), &domain.ChatParameters{Query: "How?", ConversationID: "conv-9"})
	if err != nil {
		t.Fatal(err)
	}
	var events []string
	var tokens []string
	var end map[string]any
	for frame := range frames {
		events = append(events, frame.Event)
		switch frame.Event {
		case domain.ChatEventStart:
			if !strings.Contains(string(frame.Data), `"conv-9"`) {
				t.Errorf("start frame = %s", frame.Data)
			}
		case domain.ChatEventToken:
			var d struct{ Token string }
			json.Unmarshal(frame.Data, &d)
			tokens = append(tokens, d.Token)
		case domain.ChatEventEnd:
			json.Unmarshal(frame.Data, &end)
		}
	}
	wantEvents := []string{"start", "token", "token", "token", "end"}
	if diff := cmp.Diff(wantEvents, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if got := strings.Join(tokens, ""); got != "Use the package module." {
		t.Errorf("tokens = %q", got)
	}
	if end["output_tokens"].(float64) <= 0 || end["input_tokens"].(float64) <= 0 {
		t.Errorf("end frame token counts = %v", end)
	}
	if end["truncated"] != false {
		t.Errorf("truncated = %v", end["truncated"])
	}
}

func TestStreamChat_UpstreamFailure(t *testing.T) {
	p := startPipeline(t, domain.ProviderOllama, &fakeOpenAI{status: http.StatusRequestEntityTooLarge})

	frames, err := p.StreamChat(context.Background(), &domain.ChatParameters{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	var last domain.ChatFrame
	for frame := range frames {
		last = frame
	}
	if last.Event != domain.ChatEventError {
		t.Fatalf("last frame = %s, want error", last.Event)
	}
	if !strings.Contains(string(last.Data), "ChatbotPromptTooLong") {
		t.Errorf("error frame = %s", last.Data)
	}
}

func TestSelfTest(t *testing.T) {
	tests := []struct {
		name   string
		models []string
		ok     bool
	}{
		{"model served", []string{"llama3", "granite-code:8b"}, true},
		{"model missing", []string{"llama3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := startPipeline(t, domain.ProviderOllama, &fakeOpenAI{models: tt.models})
			summary := p.SelfTest(context.Background())
			got, _ := summary.Get(domain.HealthItemModels)
			if (got == domain.HealthStatusOK) != tt.ok {
				t.Errorf("models = %v, want ok=%v", got, tt.ok)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	b := registry.NewBuilder(nil)
	Register(b)
	table := b.Build()
	for _, tag := range []domain.ProviderTag{domain.ProviderLlamaCpp, domain.ProviderOllama} {
		for _, c := range capabilities {
			if !table.Implements(tag, c) {
				t.Errorf("%s does not implement %s", tag, c)
			}
		}
		if table.Implements(tag, domain.CapabilityContentMatch) {
			t.Errorf("%s should not implement content match", tag)
		}
	}
}
