// Package health probes the gateway's dependencies concurrently and
// summarizes the result for /health/status.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// Status values reported per dependency.
const (
	StatusOK       = "ok"
	StatusDisabled = "disabled"
	StatusError    = "error"
)

// ErrDisabled is returned by checks that are configured off.
var ErrDisabled = errors.New("health check disabled")

// Check probes one dependency. Details, when non-nil, are reported as-is.
type Check struct {
	Name         string
	Capabilities []domain.Capability
	// Critical failures make the whole report unhealthy.
	Critical bool
	Run      func(ctx context.Context) (details any, err error)
}

// Dependency is the outcome of one check.
type Dependency struct {
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	Capabilities []string `json:"capabilities,omitempty"`
	Details      any      `json:"details,omitempty"`
	Error        string   `json:"error,omitempty"`
	// TimeTaken is in milliseconds.
	TimeTaken float64 `json:"time_taken"`
	critical  bool
}

// Report is the summary rendered by /health/status.
type Report struct {
	Status       string       `json:"status"`
	Timestamp    string       `json:"timestamp"`
	Version      string       `json:"version,omitempty"`
	Dependencies []Dependency `json:"dependencies"`
}

// Healthy reports whether no critical dependency failed.
func (r *Report) Healthy() bool {
	for _, d := range r.Dependencies {
		if d.critical && d.Status == StatusError {
			return false
		}
	}
	return true
}

// Checker runs registered checks.
type Checker struct {
	checks  []Check
	timeout time.Duration
	version string
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Checker.
type Option func(*Checker)

func WithTimeout(d time.Duration) Option { return func(c *Checker) { c.timeout = d } }
func WithVersion(v string) Option { return func(c *Checker) { c.version = v } }
func WithMetrics(m *telemetry.Metrics) Option { return func(c *Checker) { c.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(c *Checker) { c.logger = l } }
func withClock(now func() time.Time) Option { return func(c *Checker) { c.now = now } }
func WithChecks(checks ...Check) Option { return func(c *Checker) { c.checks = append(c.checks, checks...) } }

// NewChecker creates a Checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{timeout: 10 * time.Second, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add registers more checks.
func (c *Checker) Add(checks ...Check) {
	c.checks = append(c.checks, checks...)
}

// Run executes every check concurrently. A failing check never stops the others.
func (c *Checker) Run(ctx context.Context) *Report {
	deps := make([]Dependency, len(c.checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, check := range c.checks {
		g.Go(func() error {
			deps[i] = c.runOne(gctx, check)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Status:       StatusOK,
		Timestamp:    c.now().UTC().Format(time.RFC3339),
		Version:      c.version,
		Dependencies: deps,
	}
	if !report.Healthy() {
		report.Status = StatusError
	}
	return report
}

func (c *Checker) runOne(ctx context.Context, check Check) Dependency {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	details, err := check.Run(ctx)
	dep := Dependency{
		Name:      check.Name,
		Status:    StatusOK,
		Details:   details,
		TimeTaken: float64(time.Since(start).Microseconds()) / 1000,
		critical:  check.Critical,
	}
	for _, capability := range check.Capabilities {
		dep.Capabilities = append(dep.Capabilities, string(capability))
	}
	switch {
	case errors.Is(err, ErrDisabled):
		dep.Status = StatusDisabled
	case err != nil:
		dep.Status = StatusError
		dep.Error = err.Error()
		c.metrics.IncHealthCheckFailure(check.Name)
		c.logger.Warn("health check failed",
			slog.String("dependency", check.Name),
			slog.String("error", err.Error()))
	}
	return dep
}

// PipelineSource is the subset of *provider.Factory the provider checks use.
type PipelineSource interface {
	Get(capability domain.Capability) (ports.Pipeline, error)
	Config(capability domain.Capability) meshconfig.PipelineConfiguration
}

// ProviderChecks builds one critical check per distinct configured
// provider. Capabilities sharing a provider and configuration share a check.
func ProviderChecks(src PipelineSource) []Check {
	type group struct {
		tag  domain.ProviderTag
		caps []domain.Capability
		cfg  any
	}
	groups := make(map[string]*group)
	var order []string
	for _, capability := range domain.Capabilities() {
		entry := src.Config(capability)
		tag := entry.Provider
		if tag == "" || tag == domain.ProviderNop {
			continue
		}
		raw, _ := json.Marshal(entry.Config)
		key := string(tag) + "|" + string(raw)
		g, ok := groups[key]
		if !ok {
			g = &group{tag: tag, cfg: entry.Config}
			groups[key] = g
			order = append(order, key)
		}
		g.caps = append(g.caps, capability)
	}

	checks := make([]Check, 0, len(order))
	seen := make(map[domain.ProviderTag]int)
	for _, key := range order {
		g := groups[key]
		name := string(g.tag)
		if n := seen[g.tag]; n > 0 {
			name = fmt.Sprintf("%s-%d", g.tag, n+1)
		}
		seen[g.tag]++

		first := g.caps[0]
		enabled := true
		if bp, ok := g.cfg.(meshconfig.BaseProvider); ok {
			enabled = bp.Base().EnableHealthCheck
		}
		checks = append(checks, Check{
			Name:         name,
			Capabilities: g.caps,
			Critical:     true,
			Run: func(ctx context.Context) (any, error) {
				if !enabled {
					return nil, ErrDisabled
				}
				p, err := src.Get(first)
				if err != nil {
					return nil, err
				}
				summary := p.SelfTest(ctx)
				if summary == nil {
					return nil, nil
				}
				return summary, summary.Err()
			},
		})
	}
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return checks
}
