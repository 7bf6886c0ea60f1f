package api

import (
	"encoding/json"
	"net/http"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/pipeline"
	"github.com/ansible/ai-connect-gateway/internal/server"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

type chatRequest struct {
	Query          string                       `json:"query"`
	ConversationID string                       `json:"conversation_id,omitempty"`
	SystemPrompt   string                       `json:"system_prompt,omitempty"`
	Provider       string                       `json:"provider,omitempty"`
	Model          string                       `json:"model,omitempty"`
	NoTools        bool                         `json:"no_tools,omitempty"`
	MCPHeaders     map[string]map[string]string `json:"mcp_headers,omitempty"`
}

// chatParams validates the body and fills the configured defaults.
func (h *Handler) chatParams(r *http.Request, user *domain.User) (*domain.ChatParameters, error) {
	var req chatRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, domain.ErrValidation("query must not be empty")
	}
	if req.ConversationID != "" {
		if _, err := requestID(req.ConversationID); err != nil {
			return nil, domain.ErrValidation("conversation_id must be a UUID")
		}
	}
	params := &domain.ChatParameters{
		User:           user,
		Query:          req.Query,
		ConversationID: req.ConversationID,
		SystemPrompt:   req.SystemPrompt,
		Provider:       req.Provider,
		ModelID:        req.Model,
		MCPHeaders:     req.MCPHeaders,
		AuthHeader:     r.Header.Get("Authorization"),
		NoTools:        req.NoTools,
	}
	if params.SystemPrompt == "" {
		params.SystemPrompt = h.cfg.Chat.SystemPrompt
	}
	if params.Provider == "" {
		params.Provider = h.cfg.Chat.Provider
	}
	if params.ModelID == "" {
		params.ModelID = h.cfg.Chat.Model
	}
	return params, nil
}

// chatPipeline returns the chat pipeline or ChatbotNotEnabled.
func (h *Handler) chatPipeline(capability domain.Capability) (ports.Pipeline, error) {
	if !h.cfg.Pipelines.Configured(capability) {
		return nil, domain.ErrChatbotNotEnabled()
	}
	p, err := h.cfg.Pipelines.Get(capability)
	if err != nil {
		return nil, domain.ErrChatbotNotEnabled().WithCause(err)
	}
	return p, nil
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	user, err := userOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	ev := telemetry.NewEvent(telemetry.EventChatOperational, user)
	resp, err := func() (*domain.ChatResponse, error) {
		params, err := h.chatParams(r, user)
		if err != nil {
			return nil, err
		}
		ev.ModelName = params.ModelID
		p, err := h.chatPipeline(domain.CapabilityChatBot)
		if err != nil {
			return nil, err
		}
		resp, err := p.Chat(r.Context(), params)
		if err != nil {
			return nil, pipeline.MapInferenceError(err, params.ModelID)
		}
		if resp.ReferencedDocuments == nil {
			resp.ReferencedDocuments = []domain.ReferencedDocument{}
		}
		return resp, nil
	}()
	if resp != nil {
		ev.Request = map[string]any{"conversation_id": resp.ConversationID}
		ev.Response = map[string]any{
			"truncated":            resp.Truncated,
			"referenced_documents": len(resp.ReferencedDocuments),
		}
		ev.Analytics = chatAnalytics(resp.ConversationID, resp.InputTokens, resp.OutputTokens, len(resp.ReferencedDocuments))
	}
	h.observe(r.Context(), ev, err)
	if err != nil {
		fail(w, r, err)
		return
	}
	server.AddLogField(r.Context(), "conversation_id", resp.ConversationID)
	server.WriteJSON(w, http.StatusOK, resp)
}

// streamingChat relays the frames of one chat turn as server-sent events.
// Errors before the first frame are plain JSON errors; later ones arrive as
// error frames from the provider.
func (h *Handler) streamingChat(w http.ResponseWriter, r *http.Request) {
	user, err := userOf(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	ev := telemetry.NewEvent(telemetry.EventStreamingChatOperational, user)

	params, err := h.chatParams(r, user)
	if err == nil {
		ev.ModelName = params.ModelID
	}
	var frames <-chan domain.ChatFrame
	if err == nil {
		var p ports.Pipeline
		p, err = h.chatPipeline(domain.CapabilityStreamingChatBot)
		if err == nil {
			frames, err = p.StreamChat(r.Context(), params)
			if err != nil {
				err = pipeline.MapInferenceError(err, params.ModelID)
			}
		}
	}
	if err != nil {
		h.observe(r.Context(), ev, err)
		fail(w, r, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var summary streamSummary
	for f := range frames {
		summary.observe(f)
		if _, werr := w.Write(f.Encode()); werr != nil {
			// Client went away; drain so the provider goroutine can exit.
			server.AddError(r.Context(), werr)
			for range frames {
			}
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	ev.Request = map[string]any{"conversation_id": summary.conversationID}
	ev.Response = map[string]any{"referenced_documents": summary.referencedDocuments}
	ev.Analytics = chatAnalytics(summary.conversationID, summary.inputTokens, summary.outputTokens, summary.referencedDocuments)
	if summary.failure != "" {
		ev.Exception = true
		ev.Problem = summary.failure
	}
	h.observe(r.Context(), ev, nil)
	server.AddLogField(r.Context(), "conversation_id", summary.conversationID)
}

// streamSummary collects what telemetry needs from a frame stream.
type streamSummary struct {
	conversationID      string
	inputTokens         int
	outputTokens        int
	referencedDocuments int
	failure             string
}

func (s *streamSummary) observe(f domain.ChatFrame) {
	switch f.Event {
	case domain.ChatEventStart:
		var d struct {
			ConversationID string `json:"conversation_id"`
		}
		if json.Unmarshal(f.Data, &d) == nil {
			s.conversationID = d.ConversationID
		}
	case domain.ChatEventEnd:
		var d struct {
			ReferencedDocuments []json.RawMessage `json:"referenced_documents"`
			InputTokens         int               `json:"input_tokens"`
			OutputTokens        int               `json:"output_tokens"`
		}
		if json.Unmarshal(f.Data, &d) == nil {
			s.referencedDocuments = len(d.ReferencedDocuments)
			s.inputTokens = d.InputTokens
			s.outputTokens = d.OutputTokens
		}
	case domain.ChatEventError:
		var d struct {
			Cause string `json:"cause"`
		}
		_ = json.Unmarshal(f.Data, &d)
		s.failure = d.Cause
		if s.failure == "" {
			s.failure = "stream error"
		}
	}
}

func chatAnalytics(conversationID string, in, out, docs int) map[string]any {
	return map[string]any{
		"conversation_id":      conversationID,
		"input_tokens":         in,
		"output_tokens":        out,
		"referenced_documents": docs,
	}
}
