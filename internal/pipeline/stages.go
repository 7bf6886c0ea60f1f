package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ansible/ai-connect-gateway/internal/ansible"
	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// DeserializeStage validates the request body and classifies the prompt.
type DeserializeStage struct {
	MaxTasks int
}

func (DeserializeStage) Name() string { return "deserialize" }

func (s DeserializeStage) Process(_ context.Context, cc *CompletionContext) error {
	if cc.Request == nil {
		var req CompletionRequest
		if err := json.Unmarshal(cc.Body, &req); err != nil {
			return domain.ErrValidation("Request body is not valid JSON.").WithCause(err)
		}
		cc.Request = &req
	}
	req := cc.Request
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.ErrValidation("prompt: This field may not be blank.")
	}
	if req.SuggestionID == "" {
		req.SuggestionID = uuid.NewString()
	} else if _, err := uuid.Parse(req.SuggestionID); err != nil {
		return domain.ErrValidation("suggestionId: Must be a valid UUID.")
	}

	seated := cc.User != nil && cc.User.RHUserHasSeat
	model := req.Model
	if !seated {
		model = ""
	}

	doc, prompt := ansible.SplitPrompt(req.Prompt)
	cc.PromptType = ansible.Classify(prompt)
	cc.Payload = APIPayload{
		Model:          model,
		Prompt:         prompt,
		OriginalPrompt: prompt,
		Context:        doc,
		SuggestionID:   req.SuggestionID,
	}
	if cc.User != nil {
		cc.Payload.UserID = cc.User.UUID
	}

	if cc.PromptType == ansible.MultiTask {
		if !seated {
			return domain.ErrValidation("Multi-task requests are only available to licensed users.")
		}
		if err := ansible.ValidateMultiTaskShape(prompt, s.MaxTasks); err != nil {
			return domain.ErrValidation(err.Error()).WithCause(err)
		}
		return nil
	}
	if err := ansible.ValidateSingleTask(prompt); err != nil {
		return domain.ErrPreprocessInvalidYaml(err.Error()).WithCause(err)
	}
	return nil
}

// PreprocessStage normalizes context and prompt before inference.
type PreprocessStage struct {
	Anonymizer        ports.Anonymizer
	AdditionalContext bool
	Metrics           *telemetry.Metrics
}

func (PreprocessStage) Name() string { return "preprocess" }

func (s PreprocessStage) Process(_ context.Context, cc *CompletionContext) error {
	start := time.Now()
	defer func() { s.Metrics.ObservePreprocess(time.Since(start)) }()

	if cc.PromptType == ansible.MultiTask {
		if err := ansible.ValidateTaskFragments(cc.Payload.Prompt); err != nil {
			return domain.ErrPreprocessInvalidYaml(err.Error()).WithCause(err)
		}
	}

	var extra *ansible.AdditionalContext
	fileType := ansible.FilePlaybook
	if md := cc.Request.Metadata; md != nil {
		if md.AnsibleFileType != "" {
			fileType = md.AnsibleFileType
		}
		if s.AdditionalContext && cc.User != nil && cc.User.RHUserHasSeat {
			extra = md.AdditionalContext
		}
	}

	doc, prompt := ansible.Preprocess(cc.Payload.Context, cc.Payload.Prompt, fileType, extra)
	cc.Payload.Context = doc
	cc.Payload.Prompt = prompt
	cc.Payload.OriginalPrompt = prompt
	cc.OriginalIndent = ansible.OriginalIndent(prompt)

	if cc.Anonymize && s.Anonymizer != nil {
		cc.Payload.Context = s.Anonymizer.Anonymize(doc)
		cc.Payload.Prompt = s.Anonymizer.Anonymize(prompt)
	}
	return nil
}

// InferenceStage resolves the model and calls the provider.
type InferenceStage struct {
	Anonymizer ports.Anonymizer
	Metrics    *telemetry.Metrics
}

func (InferenceStage) Name() string { return "inference" }

func (s InferenceStage) Process(ctx context.Context, cc *CompletionContext) error {
	modelID, err := cc.Pipeline.ModelID(ctx, cc.User, cc.Payload.Model)
	if err != nil {
		return MapInferenceError(err, cc.Payload.Model)
	}
	cc.ModelID = modelID

	start := time.Now()
	resp, err := cc.Pipeline.Completions(ctx, &domain.CompletionsParameters{
		User:         cc.User,
		Prompt:       cc.Payload.Prompt,
		Context:      cc.Payload.Context,
		SuggestionID: cc.Payload.SuggestionID,
		ModelID:      modelID,
		TaskCount:    cc.TaskCount(),
	})
	s.Metrics.ObservePrediction(string(cc.Provider), time.Since(start))
	if err != nil {
		return MapInferenceError(err, modelID)
	}
	if resp.ModelID != "" {
		cc.ModelID = resp.ModelID
	}
	cc.Predictions = resp.Predictions

	cc.AnonymizedPredictions = make([]string, len(resp.Predictions))
	for i, p := range resp.Predictions {
		if cc.Anonymize && s.Anonymizer != nil {
			p = s.Anonymizer.Anonymize(p)
		}
		cc.AnonymizedPredictions[i] = p
	}
	return nil
}

// MapInferenceError translates a provider failure into the API error the
// client sees, attributing it to modelID when the provider did not name one.
func MapInferenceError(err error, modelID string) *domain.APIError {
	apiErr := domain.TranslateError(err)
	if apiErr.ModelID == "" {
		apiErr.ModelID = modelID
	}
	return apiErr
}

// PostprocessStage shapes predictions for the editor.
type PostprocessStage struct {
	Linter  ports.Linter
	Emitter *telemetry.Emitter
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

func (PostprocessStage) Name() string { return "postprocess" }

func (s PostprocessStage) Process(ctx context.Context, cc *CompletionContext) error {
	start := time.Now()
	defer func() { s.Metrics.ObservePostprocess(time.Since(start)) }()

	prompt := cc.Payload.OriginalPrompt
	cc.PostProcessedPredictions = cc.PostProcessedPredictions[:0]
	for _, prediction := range cc.AnonymizedPredictions {
		fixed, err := ansible.TruncateInvalidTail(prediction)
		if err != nil {
			s.log().Info("prediction is not valid YAML",
				slog.String("suggestion_id", cc.Payload.SuggestionID),
				slog.String("error", err.Error()))
		}
		if s.Linter != nil {
			fixed = s.lint(ctx, cc, fixed)
		}
		formatted := ansible.Format(fixed, prompt, cc.OriginalIndent)
		if strings.TrimSpace(formatted) == "" {
			continue
		}
		cc.PostProcessedPredictions = append(cc.PostProcessedPredictions, formatted)
	}
	if len(cc.PostProcessedPredictions) == 0 {
		return domain.ErrPostprocess().WithModelID(cc.ModelID).WithCause(errors.New("no prediction left after postprocessing"))
	}
	cc.TaskResults = ansible.ExtractTasks(cc.PostProcessedPredictions[0], prompt)
	return nil
}

// lint runs the linter and falls back to the unlinted prediction on failure.
// Single-task predictions get their name line back so the linter sees a task.
func (s PostprocessStage) lint(ctx context.Context, cc *CompletionContext, prediction string) string {
	input := ansible.AdjustIndentation(prediction)
	single := cc.PromptType != ansible.MultiTask
	if single {
		names := ansible.TaskNames(cc.Payload.OriginalPrompt)
		name := ""
		if len(names) > 0 {
			name = names[0]
		}
		input = "- name: " + name + "\n" + ansible.RestoreIndentation(input, 2)
	}

	ev := telemetry.NewEvent(telemetry.EventPostprocessLint, cc.User)
	ev.SuggestionID = cc.Payload.SuggestionID
	ev.ModelName = cc.ModelID
	defer s.Emitter.Emit(ctx, ev)

	out, err := s.Linter.Lint(ctx, input)
	if err != nil {
		ev.SetError(err)
		s.log().Warn("ansible-lint failed, keeping the unlinted prediction",
			slog.String("suggestion_id", cc.Payload.SuggestionID),
			slog.String("error", err.Error()))
		return prediction
	}
	ev.Response = map[string]any{"changed": out != input}
	out = strings.TrimPrefix(out, "---\n")
	if single {
		if _, rest, ok := strings.Cut(out, "\n"); ok {
			out = rest
		}
	}
	return out
}

func (s PostprocessStage) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ResponseStage builds the client payload.
type ResponseStage struct{}

func (ResponseStage) Name() string { return "response" }

func (ResponseStage) Process(_ context.Context, cc *CompletionContext) error {
	cc.Response = &CompletionResponse{
		Predictions:  cc.PostProcessedPredictions,
		SuggestionID: cc.Payload.SuggestionID,
		Model:        cc.ModelID,
	}
	return nil
}
