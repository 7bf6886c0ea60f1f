package pipeline

import (
	"github.com/ansible/ai-connect-gateway/internal/ansible"
	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
)

// CompletionRequest is the body of POST /completions.
type CompletionRequest struct {
	Prompt       string              `json:"prompt"`
	SuggestionID string              `json:"suggestionId,omitempty"`
	Model        string              `json:"model,omitempty"`
	Metadata     *CompletionMetadata `json:"metadata,omitempty"`
}

// CompletionMetadata describes the editor session a request came from.
type CompletionMetadata struct {
	DocumentURI             string                     `json:"documentUri,omitempty"`
	ActivityID              string                     `json:"activityId,omitempty"`
	AnsibleExtensionVersion string                     `json:"ansibleExtensionVersion,omitempty"`
	AnsibleFileType         ansible.FileType           `json:"ansibleFileType,omitempty"`
	AdditionalContext       *ansible.AdditionalContext `json:"additionalContext,omitempty"`
}

// CompletionResponse is the body returned to the client.
type CompletionResponse struct {
	Predictions  []string `json:"predictions"`
	SuggestionID string   `json:"suggestionId"`
	Model        string   `json:"model,omitempty"`
}

// APIPayload is what the inference stage sends to the provider.
type APIPayload struct {
	Model  string
	Prompt string
	// OriginalPrompt is the preprocessed prompt before anonymization.
	OriginalPrompt string
	Context        string
	UserID         string
	SuggestionID   string
}

// CompletionContext is the per-request scratchpad the stages read and fill.
type CompletionContext struct {
	Body     []byte
	User     *domain.User
	Request  *CompletionRequest
	Pipeline ports.Pipeline
	Provider domain.ProviderTag
	// Anonymize is decided once per request from the gateway and provider settings.
	Anonymize bool

	Payload        APIPayload
	PromptType     ansible.PromptType
	OriginalIndent int
	ModelID        string

	Predictions              []string
	AnonymizedPredictions    []string
	PostProcessedPredictions []string
	TaskResults              []ansible.Task

	Response *CompletionResponse
}

// TaskCount is the number of tasks the prompt asks for, at least one.
func (c *CompletionContext) TaskCount() int {
	return max(len(ansible.TaskNames(c.Payload.OriginalPrompt)), 1)
}
