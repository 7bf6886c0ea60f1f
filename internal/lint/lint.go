// Package lint runs ansible-lint in fix mode over generated YAML.
package lint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultPath is the executable looked up on PATH when none is configured.
const DefaultPath = "ansible-lint"

// Runner rewrites YAML through the ansible-lint command line.
type Runner struct {
	path   string
	logger *slog.Logger
	// run is swapped in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, int, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithPath sets the ansible-lint executable.
func WithPath(path string) Option {
	return func(r *Runner) {
		if path != "" {
			r.path = path
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// New returns a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{path: DefaultPath, logger: slog.Default(), run: execCommand}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lint writes content to a temporary playbook, lets ansible-lint fix it in
// place and returns the fixed text. Exit status 2 means violations remained
// after fixing and is not an error.
func (r *Runner) Lint(ctx context.Context, content string) (string, error) {
	dir, err := os.MkdirTemp("", "lint-*")
	if err != nil {
		return "", fmt.Errorf("create lint workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, "playbook.yml")
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write lint input: %w", err)
	}

	out, code, err := r.run(ctx, r.path, "--fix=all", "--offline", "--nocolor", "-q", file)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", r.path, err)
	}
	if code != 0 && code != 2 {
		r.logger.Warn("ansible-lint failed",
			slog.Int("exit_code", code),
			slog.String("output", strings.TrimSpace(string(out))))
		return "", fmt.Errorf("ansible-lint exited with status %d", code)
	}

	fixed, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read lint output: %w", err)
	}
	return string(fixed), nil
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return buf.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return buf.Bytes(), -1, err
	}
	return buf.Bytes(), 0, nil
}
