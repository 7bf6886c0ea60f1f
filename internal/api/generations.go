package api

import (
	"context"
	"net/http"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/pipeline"
	"github.com/ansible/ai-connect-gateway/internal/server"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

type playbookGenerationRequest struct {
	Text          string `json:"text"`
	CustomPrompt  string `json:"customPrompt,omitempty"`
	CreateOutline bool   `json:"createOutline,omitempty"`
	Outline       string `json:"outline,omitempty"`
	GenerationID  string `json:"generationId,omitempty"`
	Model         string `json:"model,omitempty"`
}

type playbookGenerationResponse struct {
	Playbook     string   `json:"playbook"`
	Outline      string   `json:"outline"`
	Warnings     []string `json:"warnings"`
	Format       string   `json:"format"`
	GenerationID string   `json:"generationId"`
	Model        string   `json:"model,omitempty"`
}

type roleGenerationRequest struct {
	Text          string `json:"text"`
	CreateOutline bool   `json:"createOutline,omitempty"`
	Outline       string `json:"outline,omitempty"`
	GenerationID  string `json:"generationId,omitempty"`
	Model         string `json:"model,omitempty"`
}

type roleGenerationResponse struct {
	Role         string            `json:"role"`
	Files        []domain.RoleFile `json:"files"`
	Outline      string            `json:"outline"`
	Warnings     []string          `json:"warnings"`
	Format       string            `json:"format"`
	GenerationID string            `json:"generationId"`
	Model        string            `json:"model,omitempty"`
}

type playbookExplanationRequest struct {
	Content       string `json:"content"`
	CustomPrompt  string `json:"customPrompt,omitempty"`
	ExplanationID string `json:"explanationId,omitempty"`
	Model         string `json:"model,omitempty"`
}

type roleExplanationRequest struct {
	RoleName      string            `json:"roleName"`
	Files         []domain.RoleFile `json:"files"`
	FocusOnFile   string            `json:"focusOnFile,omitempty"`
	ExplanationID string            `json:"explanationId,omitempty"`
	Model         string            `json:"model,omitempty"`
}

type explanationResponse struct {
	Content       string `json:"content"`
	Format        string `json:"format"`
	ExplanationID string `json:"explanationId"`
	Model         string `json:"model,omitempty"`
}

// invocation is what every generation and explanation call shares: the
// resolved pipeline, model and request id.
type invocation struct {
	ctx      context.Context
	user     *domain.User
	pipeline ports.Pipeline
	modelID  string
	id       string
	ev       *telemetry.Event
}

// serve runs fn for capability and writes its result or error. fn receives
// an invocation with the model already resolved.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, capability domain.Capability, eventName string,
	parse func() (id, model string, err error), fn func(inv *invocation) (any, error)) {
	user, err := userOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	ev := telemetry.NewEvent(eventName, user)
	resp, err := func() (any, error) {
		rawID, model, err := parse()
		if err != nil {
			return nil, err
		}
		id, err := requestID(rawID)
		if err != nil {
			return nil, err
		}
		ev.SuggestionID = id
		p, err := h.pipelineFor(capability)
		if err != nil {
			return nil, err
		}
		modelID, err := p.ModelID(r.Context(), user, seatedModel(user, model))
		if err != nil {
			return nil, pipeline.MapInferenceError(err, "")
		}
		ev.ModelName = modelID
		resp, err := fn(&invocation{ctx: r.Context(), user: user, pipeline: p, modelID: modelID, id: id, ev: ev})
		if err != nil {
			return nil, pipeline.MapInferenceError(err, modelID)
		}
		return resp, nil
	}()
	h.observe(r.Context(), ev, err)
	if err != nil {
		fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) generatePlaybook(w http.ResponseWriter, r *http.Request) {
	var req playbookGenerationRequest
	parse := func() (string, string, error) {
		if err := decode(r, &req); err != nil {
			return "", "", err
		}
		if req.Text == "" {
			return "", "", domain.ErrValidation("text must not be empty")
		}
		return req.GenerationID, req.Model, nil
	}
	h.serve(w, r, domain.CapabilityPlaybookGeneration, telemetry.EventPlaybookGeneration, parse, func(inv *invocation) (any, error) {
		res, err := inv.pipeline.GeneratePlaybook(inv.ctx, &domain.PlaybookGenerationParameters{
			User:          inv.user,
			Text:          req.Text,
			CustomPrompt:  req.CustomPrompt,
			CreateOutline: req.CreateOutline,
			Outline:       req.Outline,
			GenerationID:  inv.id,
			ModelID:       inv.modelID,
		})
		if err != nil {
			return nil, err
		}
		inv.ev.Request = map[string]any{"generationId": inv.id, "createOutline": req.CreateOutline, "customPrompt": req.CustomPrompt != ""}
		inv.ev.Analytics = map[string]any{"generation_id": inv.id, "create_outline": req.CreateOutline, "warnings": len(res.Warnings)}
		return &playbookGenerationResponse{
			Playbook:     res.Playbook,
			Outline:      res.Outline,
			Warnings:     nonNil(res.Warnings),
			Format:       "plaintext",
			GenerationID: inv.id,
			Model:        inv.modelID,
		}, nil
	})
}

func (h *Handler) generateRole(w http.ResponseWriter, r *http.Request) {
	var req roleGenerationRequest
	parse := func() (string, string, error) {
		if err := decode(r, &req); err != nil {
			return "", "", err
		}
		if req.Text == "" {
			return "", "", domain.ErrValidation("text must not be empty")
		}
		return req.GenerationID, req.Model, nil
	}
	h.serve(w, r, domain.CapabilityRoleGeneration, telemetry.EventRoleGeneration, parse, func(inv *invocation) (any, error) {
		res, err := inv.pipeline.GenerateRole(inv.ctx, &domain.RoleGenerationParameters{
			User:          inv.user,
			Text:          req.Text,
			CreateOutline: req.CreateOutline,
			Outline:       req.Outline,
			GenerationID:  inv.id,
			ModelID:       inv.modelID,
		})
		if err != nil {
			return nil, err
		}
		files := res.Files
		if files == nil {
			files = []domain.RoleFile{}
		}
		inv.ev.Request = map[string]any{"generationId": inv.id, "createOutline": req.CreateOutline}
		inv.ev.Analytics = map[string]any{"generation_id": inv.id, "file_count": len(files)}
		return &roleGenerationResponse{
			Role:         res.Name,
			Files:        files,
			Outline:      res.Outline,
			Warnings:     nonNil(res.Warnings),
			Format:       "plaintext",
			GenerationID: inv.id,
			Model:        inv.modelID,
		}, nil
	})
}

func (h *Handler) explainPlaybook(w http.ResponseWriter, r *http.Request) {
	var req playbookExplanationRequest
	parse := func() (string, string, error) {
		if err := decode(r, &req); err != nil {
			return "", "", err
		}
		if req.Content == "" {
			return "", "", domain.ErrValidation("content must not be empty")
		}
		return req.ExplanationID, req.Model, nil
	}
	h.serve(w, r, domain.CapabilityPlaybookExplanation, telemetry.EventPlaybookExplanation, parse, func(inv *invocation) (any, error) {
		res, err := inv.pipeline.ExplainPlaybook(inv.ctx, &domain.PlaybookExplanationParameters{
			User:          inv.user,
			Content:       req.Content,
			CustomPrompt:  req.CustomPrompt,
			ExplanationID: inv.id,
			ModelID:       inv.modelID,
		})
		if err != nil {
			return nil, err
		}
		inv.ev.Request = map[string]any{"explanationId": inv.id, "customPrompt": req.CustomPrompt != ""}
		inv.ev.Analytics = map[string]any{"explanation_id": inv.id}
		return &explanationResponse{Content: res.Content, Format: "markdown", ExplanationID: inv.id, Model: inv.modelID}, nil
	})
}

func (h *Handler) explainRole(w http.ResponseWriter, r *http.Request) {
	var req roleExplanationRequest
	parse := func() (string, string, error) {
		if err := decode(r, &req); err != nil {
			return "", "", err
		}
		if req.RoleName == "" || len(req.Files) == 0 {
			return "", "", domain.ErrValidation("roleName and files are required")
		}
		return req.ExplanationID, req.Model, nil
	}
	h.serve(w, r, domain.CapabilityRoleExplanation, telemetry.EventRoleExplanation, parse, func(inv *invocation) (any, error) {
		res, err := inv.pipeline.ExplainRole(inv.ctx, &domain.RoleExplanationParameters{
			User:          inv.user,
			RoleName:      req.RoleName,
			Files:         req.Files,
			FocusOnFile:   req.FocusOnFile,
			ExplanationID: inv.id,
			ModelID:       inv.modelID,
		})
		if err != nil {
			return nil, err
		}
		inv.ev.Request = map[string]any{"explanationId": inv.id, "file_count": len(req.Files)}
		inv.ev.Analytics = map[string]any{"explanation_id": inv.id, "file_count": len(req.Files)}
		return &explanationResponse{Content: res.Content, Format: "markdown", ExplanationID: inv.id, Model: inv.modelID}, nil
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
