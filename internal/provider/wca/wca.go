// Package wca implements the IBM watsonx Code Assistant providers: the
// hosted service (wca), self-hosted deployments (wca-onprem) and an offline
// stand-in (wca-dummy).
//
// Hosted requests authenticate with IAM bearer tokens exchanged from a
// per-organization API key and cached until shortly before they expire.
// Every request carries the suggestion id as X-Request-ID; an upstream that
// echoes a different id fails the request without retry.
package wca

import (
	"context"
	"errors"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/provider/nop"
)

// HealthCheckPrompt is the completion requested by self tests and model id
// validation.
const HealthCheckPrompt = "- name: install ffmpeg on Red Hat Enterprise Linux"

type completionRequest struct {
	ModelID string `json:"model_id"`
	Prompt  string `json:"prompt"`
}

type completionResponse struct {
	Predictions []string `json:"predictions"`
}

type contentMatchRequest struct {
	ModelID string   `json:"model_id"`
	Input   []string `json:"input"`
}

type contentMatchResult struct {
	CodeMatches []domain.ContentMatch `json:"code_matches"`
	Meta        struct {
		EncodeDuration float64 `json:"encode_duration"`
		SearchDuration float64 `json:"search_duration"`
	} `json:"meta"`
}

type playbookGenerationRequest struct {
	ModelID       string `json:"model_id"`
	Text          string `json:"text"`
	CreateOutline bool   `json:"create_outline"`
	Outline       string `json:"outline,omitempty"`
	CustomPrompt  string `json:"custom_prompt,omitempty"`
}

type playbookGenerationResponse struct {
	Playbook string   `json:"playbook"`
	Outline  string   `json:"outline"`
	Warnings []string `json:"warnings"`
}

type roleGenerationRequest struct {
	ModelID       string `json:"model_id"`
	Text          string `json:"text"`
	CreateOutline bool   `json:"create_outline"`
	Outline       string `json:"outline,omitempty"`
}

type roleGenerationResponse struct {
	Name     string            `json:"name"`
	Files    []domain.RoleFile `json:"files"`
	Outline  string            `json:"outline"`
	Warnings []string          `json:"warnings"`
}

type playbookExplanationRequest struct {
	ModelID      string `json:"model_id"`
	Playbook     string `json:"playbook"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

type roleExplanationRequest struct {
	ModelID     string            `json:"model_id"`
	RoleName    string            `json:"role_name"`
	Files       []domain.RoleFile `json:"files"`
	FocusOnFile string            `json:"focus_on_file,omitempty"`
}

type explanationResponse struct {
	Explanation string `json:"explanation"`
}

// credentials resolves the API key and model for a caller.
type credentials interface {
	apiKey(ctx context.Context, user *domain.User) (string, error)
	ModelID(ctx context.Context, user *domain.User, requested string) (string, error)
}

// service carries the capability implementations shared by the hosted and
// on-prem variants. They differ only in credentials and authorization.
type service struct {
	nop.Pipeline
	tag                domain.ProviderTag
	client             *client
	creds              credentials
	anonymize          bool
	healthCheckAPIKey  string
	healthCheckModelID string
}

// AnonymizationEnabled reports whether prompts should be scrubbed of
// personal data before they reach this provider.
func (s *service) AnonymizationEnabled() bool { return s.anonymize }

func (s *service) resolve(ctx context.Context, user *domain.User, requested string) (apiKey, modelID string, err error) {
	apiKey, err = s.creds.apiKey(ctx, user)
	if err != nil {
		return "", "", err
	}
	modelID, err = s.creds.ModelID(ctx, user, requested)
	if err != nil {
		return "", "", err
	}
	return apiKey, modelID, nil
}

func (s *service) complete(ctx context.Context, apiKey, modelID string, params *domain.CompletionsParameters) (*domain.CompletionsResponse, error) {
	var out completionResponse
	err := s.client.post(ctx, call{
		endpoint:  endpointCompletions,
		apiKey:    apiKey,
		modelID:   modelID,
		requestID: params.SuggestionID,
		user:      params.User,
		taskCount: params.TaskCount,
		body:      completionRequest{ModelID: modelID, Prompt: params.Context + params.Prompt},
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Predictions) == 0 {
		return nil, domain.NewModelError(domain.KindWcaEmptyResponse, modelID, errors.New("no predictions"))
	}
	return &domain.CompletionsResponse{Predictions: out.Predictions, ModelID: modelID}, nil
}

func (s *service) Completions(ctx context.Context, params *domain.CompletionsParameters) (*domain.CompletionsResponse, error) {
	apiKey, modelID, err := s.resolve(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, apiKey, modelID, params)
}

func (s *service) ContentMatch(ctx context.Context, params *domain.ContentMatchParameters) (*domain.ContentMatchResponse, error) {
	apiKey, modelID, err := s.resolve(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	var out []contentMatchResult
	err = s.client.post(ctx, call{
		endpoint:  endpointContentMatch,
		apiKey:    apiKey,
		modelID:   modelID,
		requestID: params.SuggestionID,
		user:      params.User,
		body:      contentMatchRequest{ModelID: modelID, Input: params.Suggestions},
	}, &out)
	if err != nil {
		return nil, err
	}
	resp := &domain.ContentMatchResponse{ModelID: modelID}
	for _, r := range out {
		resp.Results = append(resp.Results, domain.ContentMatchResult{Matches: r.CodeMatches})
		resp.EncodeDuration += millis(r.Meta.EncodeDuration)
		resp.SearchDuration += millis(r.Meta.SearchDuration)
	}
	return resp, nil
}

func (s *service) GeneratePlaybook(ctx context.Context, params *domain.PlaybookGenerationParameters) (*domain.PlaybookGenerationResponse, error) {
	apiKey, modelID, err := s.resolve(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	var out playbookGenerationResponse
	err = s.client.post(ctx, call{
		endpoint:  endpointPlaybookGeneration,
		apiKey:    apiKey,
		modelID:   modelID,
		requestID: params.GenerationID,
		user:      params.User,
		body: playbookGenerationRequest{
			ModelID:       modelID,
			Text:          params.Text,
			CreateOutline: params.CreateOutline,
			Outline:       params.Outline,
			CustomPrompt:  params.CustomPrompt,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &domain.PlaybookGenerationResponse{
		Playbook: out.Playbook,
		Outline:  out.Outline,
		Warnings: nonNil(out.Warnings),
		ModelID:  modelID,
	}, nil
}

func (s *service) GenerateRole(ctx context.Context, params *domain.RoleGenerationParameters) (*domain.RoleGenerationResponse, error) {
	apiKey, modelID, err := s.resolve(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	var out roleGenerationResponse
	err = s.client.post(ctx, call{
		endpoint:  endpointRoleGeneration,
		apiKey:    apiKey,
		modelID:   modelID,
		requestID: params.GenerationID,
		user:      params.User,
		body: roleGenerationRequest{
			ModelID:       modelID,
			Text:          params.Text,
			CreateOutline: params.CreateOutline,
			Outline:       params.Outline,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &domain.RoleGenerationResponse{
		Name:     out.Name,
		Files:    out.Files,
		Outline:  out.Outline,
		Warnings: nonNil(out.Warnings),
		ModelID:  modelID,
	}, nil
}

func (s *service) ExplainPlaybook(ctx context.Context, params *domain.PlaybookExplanationParameters) (*domain.ExplanationResponse, error) {
	apiKey, modelID, err := s.resolve(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	var out explanationResponse
	err = s.client.post(ctx, call{
		endpoint:  endpointPlaybookExplanation,
		apiKey:    apiKey,
		modelID:   modelID,
		requestID: params.ExplanationID,
		user:      params.User,
		body:      playbookExplanationRequest{ModelID: modelID, Playbook: params.Content, CustomPrompt: params.CustomPrompt},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &domain.ExplanationResponse{Content: out.Explanation, ModelID: modelID}, nil
}

func (s *service) ExplainRole(ctx context.Context, params *domain.RoleExplanationParameters) (*domain.ExplanationResponse, error) {
	apiKey, modelID, err := s.resolve(ctx, params.User, params.ModelID)
	if err != nil {
		return nil, err
	}
	var out explanationResponse
	err = s.client.post(ctx, call{
		endpoint:  endpointRoleExplanation,
		apiKey:    apiKey,
		modelID:   modelID,
		requestID: params.ExplanationID,
		user:      params.User,
		body: roleExplanationRequest{
			ModelID:     modelID,
			RoleName:    params.RoleName,
			Files:       params.Files,
			FocusOnFile: params.FocusOnFile,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &domain.ExplanationResponse{Content: out.Explanation, ModelID: modelID}, nil
}

// probeModel runs the health check completion against modelID.
func (s *service) probeModel(ctx context.Context, apiKey, modelID string, user *domain.User) error {
	_, err := s.complete(ctx, apiKey, modelID, &domain.CompletionsParameters{
		User:   user,
		Prompt: HealthCheckPrompt,
	})
	return err
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
