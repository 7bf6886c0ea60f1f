package pipeline

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// Stage is one step of the completion pipeline.
type Stage interface {
	Name() string
	Process(ctx context.Context, cc *CompletionContext) error
}

// Executor runs stages in order and stops at the first error.
type Executor struct {
	stages  []Stage
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// NewExecutor creates an executor over stages.
func NewExecutor(metrics *telemetry.Metrics, logger *slog.Logger, stages ...Stage) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{stages: stages, metrics: metrics, logger: logger}
}

// Stages returns the stage names in execution order.
func (e *Executor) Stages() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes every stage against cc. The returned error is always an
// *domain.APIError.
func (e *Executor) Run(ctx context.Context, cc *CompletionContext) error {
	for _, stage := range e.stages {
		if err := e.run(ctx, stage, cc); err != nil {
			apiErr := domain.TranslateError(err)
			e.metrics.IncProcessError(stage.Name())
			e.logger.Debug("pipeline stage failed",
				slog.String("stage", stage.Name()),
				slog.String("suggestion_id", cc.Payload.SuggestionID),
				slog.String("code", apiErr.Code),
				slog.String("error", err.Error()),
			)
			return apiErr
		}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, stage Stage, cc *CompletionContext) error {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline."+stage.Name())
	defer span.End()
	span.SetAttributes(attribute.String("suggestion_id", cc.Payload.SuggestionID))

	err := stage.Process(ctx, cc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
