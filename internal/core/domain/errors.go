package domain

import (
	"errors"
	"fmt"
)

// ErrFeatureNotAvailable is returned by capabilities a provider does not implement.
var ErrFeatureNotAvailable = errors.New("feature not available")

// ErrorKind classifies failures raised by providers and credential services.
type ErrorKind int

const (
	KindModelTimeout ErrorKind = iota + 1
	KindWcaBadRequest
	KindWcaInvalidModelID
	KindWcaKeyNotFound
	KindWcaModelIDNotFound
	KindWcaNoDefaultModelID
	KindWcaEmptyResponse
	KindWcaRequestIDCorrelationFailure
	KindWcaCloudflareRejection
	KindWcaHAPFilterRejection
	KindWcaUserTrialExpired
	KindWcaTokenFailure
	KindWcaTokenFailureAPIKey
	KindWcaSecretManager
	KindChatbotPromptTooLong
	KindChatbotValidation
	KindChatbotInternal
	KindUpstream
)

var kindNames = map[ErrorKind]string{
	KindModelTimeout:                   "ModelTimeoutError",
	KindWcaBadRequest:                  "WcaBadRequest",
	KindWcaInvalidModelID:              "WcaInvalidModelId",
	KindWcaKeyNotFound:                 "WcaKeyNotFound",
	KindWcaModelIDNotFound:             "WcaModelIdNotFound",
	KindWcaNoDefaultModelID:            "WcaNoDefaultModelId",
	KindWcaEmptyResponse:               "WcaEmptyResponse",
	KindWcaRequestIDCorrelationFailure: "WcaRequestIdCorrelationFailure",
	KindWcaCloudflareRejection:         "WcaCloudflareRejection",
	KindWcaHAPFilterRejection:          "WcaHAPFilterRejection",
	KindWcaUserTrialExpired:            "WcaUserTrialExpired",
	KindWcaTokenFailure:                "WcaTokenFailure",
	KindWcaTokenFailureAPIKey:          "WcaTokenFailureApiKeyError",
	KindWcaSecretManager:               "WcaSecretManagerError",
	KindChatbotPromptTooLong:           "ChatbotPromptTooLong",
	KindChatbotValidation:              "ChatbotValidationError",
	KindChatbotInternal:                "ChatbotInternalServerError",
	KindUpstream:                       "UpstreamError",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ModelError is the internal error type raised by provider pipelines.
type ModelError struct {
	Kind ErrorKind
	// ModelID is the model the failing request targeted, when known.
	ModelID string
	Detail  string
	Err     error
}

// NewModelError builds a ModelError of the given kind.
func NewModelError(kind ErrorKind, modelID string, err error) *ModelError {
	return &ModelError{Kind: kind, ModelID: modelID, Err: err}
}

// WithDetail attaches a human readable detail message.
func (e *ModelError) WithDetail(detail string) *ModelError {
	e.Detail = detail
	return e
}

func (e *ModelError) Error() string {
	msg := e.Kind.String()
	if e.ModelID != "" {
		msg += " (model " + e.ModelID + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err wraps a ModelError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var me *ModelError
	return errors.As(err, &me) && me.Kind == kind
}
