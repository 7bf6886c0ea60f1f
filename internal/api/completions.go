package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/pipeline"
	"github.com/ansible/ai-connect-gateway/internal/server"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// completions serves POST /completions. Telemetry and the return-code
// metric are recorded by the pipeline itself.
func (h *Handler) completions(w http.ResponseWriter, r *http.Request) {
	user, err := userOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	resp, err := h.cfg.Completions.Complete(r.Context(), user, body)
	if err != nil {
		fail(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "suggestion_id", resp.SuggestionID)
	server.AddLogField(r.Context(), "model", resp.Model)
	server.WriteJSON(w, http.StatusOK, resp)
}

type contentMatchRequest struct {
	Suggestions  []string `json:"suggestions"`
	SuggestionID string   `json:"suggestionId,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type contentMatchResponse struct {
	ContentMatches []domain.ContentMatchResult `json:"contentmatches"`
}

func (h *Handler) contentMatches(w http.ResponseWriter, r *http.Request) {
	user, err := userOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	ev := telemetry.NewEvent(telemetry.EventContentMatch, user)
	resp, err := h.runContentMatch(r, user, ev)
	h.observe(r.Context(), ev, err)
	if err != nil {
		fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) runContentMatch(r *http.Request, user *domain.User, ev *telemetry.Event) (*contentMatchResponse, error) {
	var req contentMatchRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if len(req.Suggestions) == 0 {
		return nil, domain.ErrValidation("suggestions must not be empty")
	}
	suggestionID, err := requestID(req.SuggestionID)
	if err != nil {
		return nil, err
	}
	ev.SuggestionID = suggestionID

	p, err := h.pipelineFor(domain.CapabilityContentMatch)
	if err != nil {
		return nil, err
	}
	modelID, err := p.ModelID(r.Context(), user, seatedModel(user, req.Model))
	if err != nil {
		return nil, pipeline.MapInferenceError(err, "")
	}
	ev.ModelName = modelID

	res, err := p.ContentMatch(r.Context(), &domain.ContentMatchParameters{
		User:         user,
		Suggestions:  req.Suggestions,
		SuggestionID: suggestionID,
		ModelID:      modelID,
	})
	if err != nil {
		return nil, pipeline.MapInferenceError(err, modelID)
	}

	matches := 0
	for _, result := range res.Results {
		matches += len(result.Matches)
	}
	ev.Request = map[string]any{"suggestionId": suggestionID, "suggestions": len(req.Suggestions)}
	ev.Metadata = map[string]any{
		"encode_duration": durationMS(res.EncodeDuration),
		"search_duration": durationMS(res.SearchDuration),
	}
	ev.Response = map[string]any{"contentmatches": res.Results}
	ev.Analytics = map[string]any{"suggestion_id": suggestionID, "match_count": matches}

	results := res.Results
	if results == nil {
		results = []domain.ContentMatchResult{}
	}
	return &contentMatchResponse{ContentMatches: results}, nil
}

// requestID validates a client supplied id or generates one.
func requestID(id string) (string, error) {
	if id == "" {
		return uuid.NewString(), nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", domain.ErrValidation("invalid request id: must be a UUID")
	}
	return id, nil
}

// seatedModel drops model overrides from users without a seat.
func seatedModel(user *domain.User, model string) string {
	if user == nil || !user.RHUserHasSeat {
		return ""
	}
	return model
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
