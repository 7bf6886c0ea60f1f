package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

// Event names.
const (
	EventCompletion               = "completion"
	EventContentMatch             = "contentmatch"
	EventPlaybookGeneration       = "codegenPlaybook"
	EventRoleGeneration           = "codegenRole"
	EventPlaybookExplanation      = "explainPlaybook"
	EventRoleExplanation          = "explainRole"
	EventChatOperational          = "chatOperationalEvent"
	EventStreamingChatOperational = "streamingChatBotOperationalEvent"
	EventPostprocessLint          = "postprocessLint"
	EventSegmentError             = "segmentError"
)

// TaskEvent describes one task of a completion.
type TaskEvent struct {
	Name       string `json:"name"`
	Module     string `json:"module"`
	Collection string `json:"collection"`
}

// Schema1Event is the operational telemetry record.
type Schema1Event struct {
	Timestamp     string         `json:"timestamp"`
	Hostname      string         `json:"hostname"`
	UserID        string         `json:"user_id,omitempty"`
	Duration      int64          `json:"duration"`
	Exception     bool           `json:"exception"`
	Problem       string         `json:"problem,omitempty"`
	ModelName     string         `json:"modelName"`
	RHUserHasSeat bool           `json:"rh_user_has_seat"`
	RHUserOrgID   string         `json:"rh_user_org_id,omitempty"`
	SuggestionID  string         `json:"suggestionId,omitempty"`
	Request       map[string]any `json:"request,omitempty"`
	Response      map[string]any `json:"response,omitempty"`
	Tasks         []TaskEvent    `json:"tasks,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Schema2Event is the product analytics record. It never carries request content.
type Schema2Event struct {
	Timestamp      string         `json:"timestamp"`
	OrganizationID string         `json:"organization_id,omitempty"`
	UserHash       string         `json:"user_hash,omitempty"`
	ModelName      string         `json:"model_name"`
	DurationMS     int64          `json:"duration_ms"`
	Exception      bool           `json:"exception"`
	ProblemCode    string         `json:"problem_code,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Event accumulates what a handler knows about a request and renders both
// telemetry schemas from it.
type Event struct {
	Name         string
	User         *domain.User
	Start        time.Time
	ModelName    string
	SuggestionID string
	StatusCode   int
	Exception    bool
	Problem      string
	ProblemCode  string
	Request      map[string]any
	Response     map[string]any
	Tasks        []TaskEvent
	Metadata     map[string]any
	// Analytics is copied into the schema2 payload only.
	Analytics map[string]any
}

// NewEvent starts an event for user at the current time.
func NewEvent(name string, user *domain.User) *Event {
	return &Event{Name: name, User: user, Start: time.Now()}
}

// SetError marks the event as failed. API errors may rename the event and
// supply the model name.
func (e *Event) SetError(err error) {
	if err == nil {
		return
	}
	e.Exception = true
	e.Problem = err.Error()
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		e.ProblemCode = apiErr.Code
		e.StatusCode = apiErr.HTTPStatusCode()
		if apiErr.EventName != "" {
			e.Name = apiErr.EventName
		}
		if apiErr.ModelID != "" {
			e.ModelName = apiErr.ModelID
		}
	}
}

// Schema1 renders the operational record.
func (e *Event) Schema1(hostname string, now time.Time) Schema1Event {
	ev := Schema1Event{
		Timestamp:    now.UTC().Format(time.RFC3339Nano),
		Hostname:     hostname,
		Duration:     now.Sub(e.Start).Milliseconds(),
		Exception:    e.Exception,
		Problem:      e.Problem,
		ModelName:    e.ModelName,
		SuggestionID: e.SuggestionID,
		Request:      e.Request,
		Response:     e.Response,
		Tasks:        e.Tasks,
		Metadata:     e.Metadata,
	}
	if e.User != nil {
		ev.UserID = e.User.UUID
		ev.RHUserHasSeat = e.User.RHUserHasSeat
		ev.RHUserOrgID = e.User.OrgID
	}
	if e.StatusCode != 0 {
		if ev.Response == nil {
			ev.Response = make(map[string]any, 1)
		}
		ev.Response["status_code"] = e.StatusCode
	}
	return ev
}

// Schema2 renders the analytics record.
func (e *Event) Schema2(now time.Time) Schema2Event {
	ev := Schema2Event{
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		ModelName:   e.ModelName,
		DurationMS:  now.Sub(e.Start).Milliseconds(),
		Exception:   e.Exception,
		ProblemCode: e.ProblemCode,
		Payload:     e.Analytics,
	}
	if e.User != nil {
		ev.OrganizationID = e.User.OrgID
		if e.User.UUID != "" {
			sum := sha256.Sum256([]byte(e.User.UUID))
			ev.UserHash = hex.EncodeToString(sum[:])
		}
	}
	return ev
}
