package domain

import "time"

// CompletionsParameters is the input to a completion inference.
type CompletionsParameters struct {
	User         *User
	Prompt       string
	Context      string
	SuggestionID string
	// ModelID is the caller's override; empty means resolve per tenant.
	ModelID   string
	TaskCount int
}

// CompletionsResponse is the raw provider answer before postprocessing.
type CompletionsResponse struct {
	Predictions []string
	ModelID     string
}

type ContentMatchParameters struct {
	User         *User
	Suggestions  []string
	SuggestionID string
	ModelID      string
}

// ContentMatch attributes a suggestion to a training-data source.
type ContentMatch struct {
	RepoName              string  `json:"repo_name"`
	RepoURL               string  `json:"repo_url"`
	Path                  string  `json:"path"`
	License               string  `json:"license"`
	Score                 float64 `json:"score"`
	DataSource            int     `json:"data_source"`
	DataSourceDescription string  `json:"data_source_description"`
}

type ContentMatchResult struct {
	Matches []ContentMatch `json:"contentmatch"`
}

type ContentMatchResponse struct {
	ModelID        string
	Results        []ContentMatchResult
	EncodeDuration time.Duration
	SearchDuration time.Duration
}

type PlaybookGenerationParameters struct {
	User          *User
	Text          string
	CustomPrompt  string
	CreateOutline bool
	Outline       string
	GenerationID  string
	ModelID       string
}

type PlaybookGenerationResponse struct {
	Playbook string
	Outline  string
	Warnings []string
	ModelID  string
}

// RoleFile is one file of a generated or explained role.
type RoleFile struct {
	Path     string `json:"path"`
	FileType string `json:"file_type"`
	Content  string `json:"content"`
}

type RoleGenerationParameters struct {
	User          *User
	Text          string
	CreateOutline bool
	Outline       string
	GenerationID  string
	ModelID       string
}

type RoleGenerationResponse struct {
	Name     string
	Files    []RoleFile
	Outline  string
	Warnings []string
	ModelID  string
}

type PlaybookExplanationParameters struct {
	User          *User
	Content       string
	CustomPrompt  string
	ExplanationID string
	ModelID       string
}

type RoleExplanationParameters struct {
	User          *User
	RoleName      string
	Files         []RoleFile
	FocusOnFile   string
	ExplanationID string
	ModelID       string
}

// ExplanationResponse carries markdown produced for a playbook or role.
type ExplanationResponse struct {
	Content string
	ModelID string
}

// ChatParameters is a single chat turn.
type ChatParameters struct {
	User           *User
	Query          string
	ConversationID string
	SystemPrompt   string
	Provider       string
	ModelID        string
	// MCPHeaders is forwarded verbatim to the chat service, keyed by MCP server.
	MCPHeaders map[string]map[string]string
	AuthHeader string
	NoTools    bool
}

type ReferencedDocument struct {
	DocTitle string `json:"doc_title"`
	DocURL   string `json:"doc_url"`
}

type ChatResponse struct {
	Response            string               `json:"response"`
	ConversationID      string               `json:"conversation_id"`
	Truncated           bool                 `json:"truncated"`
	ReferencedDocuments []ReferencedDocument `json:"referenced_documents"`
	InputTokens         int                  `json:"input_tokens,omitempty"`
	OutputTokens        int                  `json:"output_tokens,omitempty"`
}
