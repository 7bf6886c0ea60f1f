package bam

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/provider/openaicompat"
)

func newTestPipeline(t *testing.T, h http.HandlerFunc, timeout int) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := meshconfig.NewBAMConfig()
	cfg.InferenceURL = srv.URL
	cfg.APIKey = "bam-key"
	cfg.ModelID = "ibm/granite-20b-code"
	cfg.Timeout = timeout
	p, err := New(cfg, ports.Dependencies{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	return p.(*Pipeline)
}

func TestCompletions(t *testing.T) {
	var got chatRequest
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatPath || r.URL.Query().Get("version") != apiVersion {
			t.Errorf("url = %s", r.URL)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer bam-key" {
			t.Errorf("Authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"results":[{"generated_text":"- name: Ping\n  ansible.builtin.ping:\n","stop_reason":"eos_token"}]}`)
	}, 0)

	resp, err := p.Completions(context.Background(), &domain.CompletionsParameters{Prompt: "- name: Ping\n"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Predictions[0] != "ansible.builtin.ping:\n" {
		t.Errorf("prediction = %q", resp.Predictions[0])
	}
	if got.ModelID != "ibm/granite-20b-code" || len(got.Messages) != 2 {
		t.Fatalf("request = %+v", got)
	}
	if got.Messages[0].Content != openaicompat.CompletionSystemPrompt {
		t.Errorf("system = %q", got.Messages[0].Content)
	}
}

func TestGeneratePlaybook_NoOutline(t *testing.T) {
	p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":[{"generated_text":"Outline\n`+"```yaml\\n- hosts: all\\n```"+`"}]}`)
	}, 0)

	resp, err := p.GeneratePlaybook(context.Background(), &domain.PlaybookGenerationParameters{Text: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Playbook != "- hosts: all\n" || resp.Outline != "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestErrors(t *testing.T) {
	t.Run("upstream status", func(t *testing.T) {
		p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}, 0)
		_, err := p.ExplainPlaybook(context.Background(), &domain.PlaybookExplanationParameters{Content: "x"})
		if !domain.IsKind(err, domain.KindUpstream) {
			t.Errorf("err = %v, want UpstreamError", err)
		}
	})
	t.Run("timeout", func(t *testing.T) {
		p := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(3 * time.Second):
			}
		}, 1)
		_, err := p.ExplainRole(context.Background(), &domain.RoleExplanationParameters{RoleName: "x"})
		if !domain.IsKind(err, domain.KindModelTimeout) {
			t.Errorf("err = %v, want ModelTimeoutError", err)
		}
	})
}
