package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"timeout", NewModelError(KindModelTimeout, "m", nil), http.StatusNoContent, CodeModelTimeout},
		{"bad request", NewModelError(KindWcaBadRequest, "m", nil), http.StatusNoContent, CodeWcaBadRequest},
		{"invalid model", NewModelError(KindWcaInvalidModelID, "m", nil), http.StatusForbidden, CodeWcaInvalidModelID},
		{"key not found", NewModelError(KindWcaKeyNotFound, "", nil), http.StatusForbidden, CodeWcaKeyNotFound},
		{"model not found", NewModelError(KindWcaModelIDNotFound, "", nil), http.StatusForbidden, CodeWcaModelIDNotFound},
		{"no default model", NewModelError(KindWcaNoDefaultModelID, "", nil), http.StatusForbidden, CodeNoDefaultModelID},
		{"empty response", NewModelError(KindWcaEmptyResponse, "m", nil), http.StatusNoContent, CodeWcaEmptyResponse},
		{"correlation", NewModelError(KindWcaRequestIDCorrelationFailure, "m", nil), http.StatusInternalServerError, CodeWcaRequestIDCorrelation},
		{"cloudflare", NewModelError(KindWcaCloudflareRejection, "m", nil), http.StatusBadRequest, CodeWcaCloudflareRejection},
		{"hap", NewModelError(KindWcaHAPFilterRejection, "m", nil), http.StatusBadRequest, CodeWcaHAPFilterRejection},
		{"trial expired", NewModelError(KindWcaUserTrialExpired, "m", nil), http.StatusForbidden, CodeUserTrialExpired},
		{"token failure", NewModelError(KindWcaTokenFailure, "", nil), http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"feature not available", fmt.Errorf("wrapped: %w", ErrFeatureNotAvailable), http.StatusNotFound, CodeFeatureNotAvailable},
		{"unknown", errors.New("boom"), http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"api error passes through", ErrPreprocessInvalidYaml("x"), http.StatusBadRequest, CodePreprocessInvalidYaml},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TranslateError(tt.err)
			if got.HTTPStatusCode() != tt.wantStatus {
				t.Errorf("HTTPStatusCode() = %d, want %d", got.HTTPStatusCode(), tt.wantStatus)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestTranslateError_TrialExpiredCarriesModelAndEvent(t *testing.T) {
	err := fmt.Errorf("inference: %w", NewModelError(KindWcaUserTrialExpired, "granite-8b", nil))

	got := TranslateError(err)
	if got.EventName != EventTrialExpired {
		t.Errorf("EventName = %q, want %q", got.EventName, EventTrialExpired)
	}
	if got.ModelID != "granite-8b" {
		t.Errorf("ModelID = %q, want %q", got.ModelID, "granite-8b")
	}
}

func TestTranslateError_ChatbotDetailPassesThrough(t *testing.T) {
	err := NewModelError(KindChatbotValidation, "", nil).WithDetail("query is required")

	got := TranslateError(err)
	if got.Detail != "query is required" {
		t.Errorf("Detail = %q, want %q", got.Detail, "query is required")
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewModelError(KindWcaKeyNotFound, "", nil))
	if !IsKind(err, KindWcaKeyNotFound) {
		t.Error("IsKind() = false, want true")
	}
	if IsKind(err, KindWcaModelIDNotFound) {
		t.Error("IsKind() matched the wrong kind")
	}
	if IsKind(nil, KindWcaKeyNotFound) {
		t.Error("IsKind(nil) = true, want false")
	}
}

func TestModelError_Error(t *testing.T) {
	err := NewModelError(KindWcaBadRequest, "m1", errors.New("status 400")).WithDetail("bad input")
	want := "WcaBadRequest (model m1): bad input: status 400"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestParseProviderTag(t *testing.T) {
	for _, tag := range ProviderTags() {
		got, err := ParseProviderTag(string(tag))
		if err != nil || got != tag {
			t.Errorf("ParseProviderTag(%q) = %q, %v", tag, got, err)
		}
	}
	if _, err := ParseProviderTag("openai"); err == nil {
		t.Error("ParseProviderTag(openai) expected error")
	}
}

func TestHealthCheckSummary(t *testing.T) {
	s := NewHealthCheckSummary(map[string]any{HealthItemProvider: "wca"})
	s.SetError(HealthItemTokens, nil)
	if s.Err() != nil {
		t.Fatalf("Err() = %v, want nil", s.Err())
	}
	s.SetError(HealthItemModels, errors.New("model down"))
	if s.Err() == nil || s.Err().Error() != "model down" {
		t.Errorf("Err() = %v, want model down", s.Err())
	}
	b, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	want := `{"models":"model down","provider":"wca","tokens":"ok"}`
	if string(b) != want {
		t.Errorf("MarshalJSON() = %s, want %s", b, want)
	}
}

func TestChatFrameEncode(t *testing.T) {
	f := ChatFrame{Event: ChatEventToken, Data: []byte(`{"id":1,"token":"hi"}`)}
	want := "data: {\"event\":\"token\",\"data\":{\"id\":1,\"token\":\"hi\"}}\n\n"
	if got := string(f.Encode()); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}
