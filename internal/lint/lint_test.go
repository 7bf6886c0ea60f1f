package lint

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

// fakeLint rewrites the file passed as the last argument.
func fakeLint(code int, rewrite func(string) string) func(context.Context, string, ...string) ([]byte, int, error) {
	return func(_ context.Context, _ string, args ...string) ([]byte, int, error) {
		file := args[len(args)-1]
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, -1, err
		}
		if err := os.WriteFile(file, []byte(rewrite(string(b))), 0o600); err != nil {
			return nil, -1, err
		}
		return []byte("WARNING  Listing 1 violation(s)"), code, nil
	}
}

func TestLint(t *testing.T) {
	fqcn := func(s string) string { return strings.ReplaceAll(s, " apt:", " ansible.builtin.apt:") }

	tests := []struct {
		name    string
		code    int
		want    string
		wantErr bool
	}{
		{"clean", 0, "- name: x\n  ansible.builtin.apt:\n    name: y\n", false},
		{"violations remain", 2, "- name: x\n  ansible.builtin.apt:\n    name: y\n", false},
		{"crash", 1, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			r.run = fakeLint(tt.code, fqcn)
			got, err := r.Lint(context.Background(), "- name: x\n  apt:\n    name: y\n")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lint() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Lint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLint_ExecFailure(t *testing.T) {
	r := New(WithPath("/nonexistent/ansible-lint"))
	r.run = func(context.Context, string, ...string) ([]byte, int, error) {
		return nil, -1, errors.New("executable file not found")
	}
	if _, err := r.Lint(context.Background(), "x: 1\n"); err == nil {
		t.Fatal("Lint() error = nil, want exec failure")
	}
}

func TestLint_PassesFlags(t *testing.T) {
	var gotName string
	var gotArgs []string
	r := New(WithPath("/opt/bin/ansible-lint"))
	r.run = func(_ context.Context, name string, args ...string) ([]byte, int, error) {
		gotName, gotArgs = name, args
		return nil, 0, nil
	}
	if _, err := r.Lint(context.Background(), "x: 1\n"); err != nil {
		t.Fatal(err)
	}
	if gotName != "/opt/bin/ansible-lint" {
		t.Errorf("name = %q", gotName)
	}
	if strings.Join(gotArgs[:4], " ") != "--fix=all --offline --nocolor -q" {
		t.Errorf("args = %v", gotArgs)
	}
}
