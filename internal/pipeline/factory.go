package pipeline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ansible/ai-connect-gateway/internal/ansible"
	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// PipelineSource hands out the configured pipeline per capability.
// *provider.Factory implements it.
type PipelineSource interface {
	Get(capability domain.Capability) (ports.Pipeline, error)
	Provider(capability domain.Capability) domain.ProviderTag
}

// anonymizationToggle is implemented by providers that can opt out of
// prompt anonymization.
type anonymizationToggle interface {
	AnonymizationEnabled() bool
}

// Options are the feature switches of the completion pipeline.
type Options struct {
	EnableAnonymization     bool
	EnableAdditionalContext bool
	MultiTaskMaxRequests    int
}

// Config wires the collaborators of a Completions service.
type Config struct {
	Pipelines  PipelineSource
	Anonymizer ports.Anonymizer
	// Linter is optional; nil disables linting.
	Linter  ports.Linter
	Emitter *telemetry.Emitter
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	Options Options
}

// Completions serves completion requests through the stage executor.
type Completions struct {
	cfg      Config
	executor *Executor
}

// NewCompletions builds the fixed stage list from cfg.
func NewCompletions(cfg Config) *Completions {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	exec := NewExecutor(cfg.Metrics, cfg.Logger,
		DeserializeStage{MaxTasks: cfg.Options.MultiTaskMaxRequests},
		PreprocessStage{
			Anonymizer:        cfg.Anonymizer,
			AdditionalContext: cfg.Options.EnableAdditionalContext,
			Metrics:           cfg.Metrics,
		},
		InferenceStage{Anonymizer: cfg.Anonymizer, Metrics: cfg.Metrics},
		PostprocessStage{
			Linter:  cfg.Linter,
			Emitter: cfg.Emitter,
			Metrics: cfg.Metrics,
			Logger:  cfg.Logger,
		},
		ResponseStage{},
	)
	return &Completions{cfg: cfg, executor: exec}
}

// Executor exposes the stage list.
func (c *Completions) Executor() *Executor { return c.executor }

// Complete runs body through the pipeline for user. Exactly one completion
// telemetry event is emitted per call. Errors are *domain.APIError.
func (c *Completions) Complete(ctx context.Context, user *domain.User, body []byte) (*CompletionResponse, error) {
	cc := &CompletionContext{Body: body, User: user}
	ev := telemetry.NewEvent(telemetry.EventCompletion, user)

	err := c.run(ctx, cc)

	c.fillEvent(ev, cc)
	status := http.StatusOK
	if err != nil {
		ev.SetError(err)
		status = domain.TranslateError(err).HTTPStatusCode()
	}
	c.cfg.Metrics.IncReturnCode(status)
	c.cfg.Emitter.Emit(ctx, ev)

	if err != nil {
		return nil, domain.TranslateError(err)
	}
	return cc.Response, nil
}

func (c *Completions) run(ctx context.Context, cc *CompletionContext) error {
	p, err := c.cfg.Pipelines.Get(domain.CapabilityCompletions)
	if err != nil {
		return domain.ErrServiceUnavailable().WithCause(err)
	}
	cc.Pipeline = p
	cc.Provider = c.cfg.Pipelines.Provider(domain.CapabilityCompletions)
	cc.Anonymize = c.cfg.Options.EnableAnonymization
	if t, ok := p.(anonymizationToggle); ok {
		cc.Anonymize = cc.Anonymize && t.AnonymizationEnabled()
	}
	return c.executor.Run(ctx, cc)
}

// fillEvent copies what the pipeline learned into the telemetry event. The
// request is recorded after execution so the assigned suggestion id is
// included. Prompt text and additional context are never recorded.
func (c *Completions) fillEvent(ev *telemetry.Event, cc *CompletionContext) {
	ev.ModelName = cc.ModelID
	ev.SuggestionID = cc.Payload.SuggestionID

	req := map[string]any{}
	if r := cc.Request; r != nil {
		req["suggestionId"] = r.SuggestionID
		if r.Model != "" {
			req["model"] = r.Model
		}
		if md := r.Metadata; md != nil {
			req["metadata"] = map[string]any{
				"documentUri":             md.DocumentURI,
				"activityId":              md.ActivityID,
				"ansibleExtensionVersion": md.AnsibleExtensionVersion,
				"ansibleFileType":         string(md.AnsibleFileType),
			}
		}
	}
	ev.Request = req

	if cc.Response != nil {
		ev.Response = map[string]any{"predictions": cc.Response.Predictions}
	}
	for _, t := range cc.TaskResults {
		ev.Tasks = append(ev.Tasks, telemetry.TaskEvent{Name: t.Name, Module: t.Module, Collection: t.Collection})
	}
	ev.Metadata = map[string]any{
		"promptType": string(cc.PromptType),
		"taskCount":  len(ansible.TaskNames(cc.Payload.OriginalPrompt)),
	}
	ev.Analytics = map[string]any{
		"suggestion_id": cc.Payload.SuggestionID,
		"prompt_type":   string(cc.PromptType),
		"task_count":    len(cc.TaskResults),
		"provider":      string(cc.Provider),
	}
}
