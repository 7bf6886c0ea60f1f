package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// API error codes returned to clients.
const (
	CodeModelTimeout               = "error__model_timeout"
	CodeWcaBadRequest              = "error__wca_bad_request"
	CodeWcaInvalidModelID          = "error__wca_invalid_model_id"
	CodeWcaKeyNotFound             = "error__wca_key_not_found"
	CodeWcaModelIDNotFound         = "error__wca_model_id_not_found"
	CodeNoDefaultModelID           = "error__no_default_model_id"
	CodeWcaEmptyResponse           = "error__wca_empty_response"
	CodeWcaRequestIDCorrelation    = "error__wca_request_id_correlation_failed"
	CodeWcaCloudflareRejection     = "error__wca_cloud_flare_rejection"
	CodeWcaHAPFilterRejection      = "error__wca_hap_filter_rejection"
	CodeUserTrialExpired           = "permission_denied__user_trial_expired"
	CodePreprocessInvalidYaml      = "error__preprocess_invalid_yaml"
	CodePostprocess                = "error__postprocess"
	CodeFeatureNotAvailable        = "error__feature_not_available"
	CodeServiceUnavailable         = "error__service_unavailable"
	CodeChatbotPromptTooLong       = "error__chatbot_prompt_too_long"
	CodeChatbotValidation          = "error__chatbot_validation"
	CodeChatbotInternalServerError = "error__chatbot_internal_server"
	CodeChatbotNotEnabled          = "error__chatbot_not_enabled"
	CodeValidation                 = "invalid"
	CodeNotAuthenticated           = "not_authenticated"
	CodePermissionDenied           = "permission_denied"
)

// EventTrialExpired is the telemetry event name used for expired trials.
const EventTrialExpired = "trialExpired"

// APIError is an error surfaced to HTTP clients as {detail, code}.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Detail     string `json:"detail"`

	// ModelID is reported in telemetry when the failure names a model.
	ModelID string `json:"-"`

	// EventName overrides the telemetry event name for this failure.
	EventName string `json:"-"`

	Cause error `json:"-"`
}

// NewAPIError creates a new API error.
func NewAPIError(status int, code, detail string) *APIError {
	return &APIError{StatusCode: status, Code: code, Detail: detail}
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return http.StatusServiceUnavailable
}

// WithCause records the underlying error.
func (e *APIError) WithCause(err error) *APIError {
	e.Cause = err
	return e
}

// WithModelID records the model the failure relates to.
func (e *APIError) WithModelID(modelID string) *APIError {
	e.ModelID = modelID
	return e
}

// ErrValidation creates a 400 validation error.
func ErrValidation(detail string) *APIError {
	return NewAPIError(http.StatusBadRequest, CodeValidation, detail)
}

// ErrPreprocessInvalidYaml creates the error raised when a prompt or its
// context is not acceptable YAML.
func ErrPreprocessInvalidYaml(detail string) *APIError {
	return NewAPIError(http.StatusBadRequest, CodePreprocessInvalidYaml, detail)
}

// ErrPostprocess creates the error raised when no prediction survives postprocessing.
func ErrPostprocess() *APIError {
	return NewAPIError(http.StatusNoContent, CodePostprocess, "A postprocessing error occurred.")
}

// ErrServiceUnavailable creates the catch-all 503 error.
func ErrServiceUnavailable() *APIError {
	return NewAPIError(http.StatusServiceUnavailable, CodeServiceUnavailable,
		"The model service is unavailable. Please try again later.")
}

// ErrNotAuthenticated creates a 401 error.
func ErrNotAuthenticated() *APIError {
	return NewAPIError(http.StatusUnauthorized, CodeNotAuthenticated,
		"Authentication credentials were not provided.")
}

// ErrPermissionDenied creates a 403 error.
func ErrPermissionDenied(detail string) *APIError {
	return NewAPIError(http.StatusForbidden, CodePermissionDenied, detail)
}

// ErrChatbotNotEnabled is returned when no chat pipeline is configured.
func ErrChatbotNotEnabled() *APIError {
	return NewAPIError(http.StatusServiceUnavailable, CodeChatbotNotEnabled,
		"Chatbot is not enabled.")
}

type apiMapping struct {
	status int
	code   string
	detail string
}

var kindMappings = map[ErrorKind]apiMapping{
	KindModelTimeout:                   {http.StatusNoContent, CodeModelTimeout, "Request timed out waiting for the model."},
	KindWcaBadRequest:                  {http.StatusNoContent, CodeWcaBadRequest, "Bad request to IBM watsonx Code Assistant."},
	KindWcaInvalidModelID:              {http.StatusForbidden, CodeWcaInvalidModelID, "IBM watsonx Code Assistant Model ID is invalid. Please contact your administrator."},
	KindWcaKeyNotFound:                 {http.StatusForbidden, CodeWcaKeyNotFound, "A WCA API key was expected but not found. Please contact your administrator."},
	KindWcaModelIDNotFound:             {http.StatusForbidden, CodeWcaModelIDNotFound, "A WCA Model ID was expected but not found. Please contact your administrator."},
	KindWcaNoDefaultModelID:            {http.StatusForbidden, CodeNoDefaultModelID, "No default WCA Model ID was found."},
	KindWcaEmptyResponse:               {http.StatusNoContent, CodeWcaEmptyResponse, "IBM watsonx Code Assistant returned an empty response."},
	KindWcaRequestIDCorrelationFailure: {http.StatusInternalServerError, CodeWcaRequestIDCorrelation, "IBM watsonx Code Assistant request id correlation failed."},
	KindWcaCloudflareRejection:         {http.StatusBadRequest, CodeWcaCloudflareRejection, "Cloudflare rejected the request. Please contact your administrator."},
	KindWcaHAPFilterRejection:          {http.StatusBadRequest, CodeWcaHAPFilterRejection, "Potentially harmful language was detected in your request."},
	KindWcaUserTrialExpired:            {http.StatusForbidden, CodeUserTrialExpired, "User trial expired. Please contact your administrator."},
	KindChatbotPromptTooLong:           {http.StatusRequestEntityTooLarge, CodeChatbotPromptTooLong, "Prompt is too long."},
	KindChatbotValidation:              {http.StatusUnprocessableEntity, CodeChatbotValidation, "The chat request failed validation."},
	KindChatbotInternal:                {http.StatusInternalServerError, CodeChatbotInternalServerError, "The chat service returned an error."},
}

// TranslateError maps a provider or pipeline error to the API error a client
// sees. Errors that are already API errors pass through unchanged.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, ErrFeatureNotAvailable) {
		return NewAPIError(http.StatusNotFound, CodeFeatureNotAvailable,
			"The requested feature is not available.").WithCause(err)
	}
	var me *ModelError
	if !errors.As(err, &me) {
		return ErrServiceUnavailable().WithCause(err)
	}
	m, ok := kindMappings[me.Kind]
	if !ok {
		return ErrServiceUnavailable().WithCause(err).WithModelID(me.ModelID)
	}
	out := NewAPIError(m.status, m.code, m.detail).WithCause(err).WithModelID(me.ModelID)
	switch me.Kind {
	case KindChatbotPromptTooLong, KindChatbotValidation, KindChatbotInternal:
		// Chat upstream messages are passed through to the client.
		if me.Detail != "" {
			out.Detail = me.Detail
		}
	}
	if me.Kind == KindWcaUserTrialExpired {
		out.EventName = EventTrialExpired
	}
	return out
}
