package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/ansible/ai-connect-gateway/internal/pkg/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	wd, _ := os.Getwd()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCheck(t *testing.T) {
	t.Setenv("ANSIBLE_AI_MODEL_MESH_CONFIG", `{"ModelPipelineCompletions": {"provider": "dummy"}}`)

	out, err := run(t, "config", "check")
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	for _, want := range []string{"ModelPipelineCompletions", "dummy", "ModelPipelineChatBot", "nop"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCheck_InvalidMesh(t *testing.T) {
	t.Setenv("ANSIBLE_AI_MODEL_MESH_CONFIG", `{"ModelPipelineCompletions": {"provider": "openai"}}`)

	if _, err := run(t, "config", "check"); err == nil {
		t.Error("config check accepted an unknown provider")
	}
}

func TestConfigSchema(t *testing.T) {
	out, err := run(t, "config", "schema")
	if err != nil {
		t.Fatalf("config schema: %v", err)
	}
	if !strings.Contains(out, "model_mesh_config") || !strings.Contains(out, "multi_task_max_requests") {
		t.Errorf("schema is missing config fields:\n%s", out)
	}

	out, err = run(t, "config", "schema", "--mesh")
	if err != nil {
		t.Fatalf("config schema --mesh: %v", err)
	}
	var schemas map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &schemas); err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{"wca", "http", "dummy"} {
		if _, ok := schemas[tag]; !ok {
			t.Errorf("no schema for provider %q", tag)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "gateway "+Version) {
		t.Errorf("version = %q, %v", out, err)
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LoggingConfig{Level: "debug", Format: "text"}).Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text log = %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, config.LoggingConfig{Level: "warn", Format: "json"}).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record logged at warn level: %q", buf.String())
	}
}
