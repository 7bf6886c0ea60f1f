package llamastack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
)

func newTestPipeline(t *testing.T, h http.Handler) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := meshconfig.NewLlamaStackConfig()
	cfg.InferenceURL = srv.URL
	cfg.ModelID = "granite3.3:8b"
	p, err := New(cfg, ports.Dependencies{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	return p.(*Pipeline)
}

func TestChat(t *testing.T) {
	var gotPath, gotModel string
	p := newTestPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"length"}],`+
			`"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))

	resp, err := p.Chat(context.Background(), &domain.ChatParameters{Query: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v1/openai/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotModel != "granite3.3:8b" {
		t.Errorf("model = %q", gotModel)
	}
	if resp.Response != "Hello" || !resp.Truncated || resp.ConversationID == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestStreamChat(t *testing.T) {
	p := newTestPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, `data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", tok)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))

	frames, err := p.StreamChat(context.Background(), &domain.ChatParameters{Query: "hi", ConversationID: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	var events []string
	for f := range frames {
		events = append(events, f.Event)
	}
	if got := strings.Join(events, ","); got != "start,token,token,end" {
		t.Errorf("events = %s", got)
	}
}

func TestSelfTest(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		ok     bool
	}{
		{"healthy", http.StatusOK, `{"status":"OK"}`, true},
		{"degraded", http.StatusOK, `{"status":"Error"}`, false},
		{"down", http.StatusServiceUnavailable, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != healthPath {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			got, _ := p.SelfTest(context.Background()).Get(domain.HealthItemModels)
			if (got == domain.HealthStatusOK) != tt.ok {
				t.Errorf("models = %v, want ok=%v", got, tt.ok)
			}
		})
	}
}
