package wca

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

// Markers matched against upstream error bodies. Cloudflare rejections are
// HTML pages, so the match is a plain substring test.
const (
	cloudflareMarker     = "cloudflare"
	hapFilterMarker      = "our filters detected a potential problem with entities in your input"
	invalidModelMarker   = "failed to parse space id and model id"
	trialExpiredMarker   = "WCA-0001-E"
	requestIDHeader      = "X-Request-ID"
	lightspeedUserHeader = "X-Request-Lightspeed-User"
)

type errorBody struct {
	Detail any `json:"detail"`
}

// detail extracts the "detail" field of a JSON error body, falling back to
// the raw text.
func detail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Detail != nil {
		if s, ok := eb.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(eb.Detail)
		return string(b)
	}
	return string(bytes.TrimSpace(body))
}

func checkCorrelation(sent, received, modelID string) error {
	if received == "" || received == sent {
		return nil
	}
	return domain.NewModelError(domain.KindWcaRequestIDCorrelationFailure, modelID,
		fmt.Errorf("sent %s, received %s", sent, received))
}

// retriable reports whether a status is worth another attempt.
func retriable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// checkResponse classifies a final upstream response. A nil error means the
// body carries a usable payload.
func checkResponse(status int, body []byte, modelID string) error {
	text := strings.ToLower(string(body))
	mk := func(kind domain.ErrorKind) error {
		return domain.NewModelError(kind, modelID, fmt.Errorf("status %d", status)).WithDetail(detail(body))
	}

	switch {
	case status == http.StatusNoContent:
		return mk(domain.KindWcaEmptyResponse)
	case status >= 200 && status < 300:
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || string(trimmed) == "{}" || string(trimmed) == "null" {
			return mk(domain.KindWcaEmptyResponse)
		}
		return nil
	case status == http.StatusBadRequest:
		switch {
		case strings.Contains(text, cloudflareMarker):
			return mk(domain.KindWcaCloudflareRejection)
		case strings.Contains(text, hapFilterMarker):
			return mk(domain.KindWcaHAPFilterRejection)
		case strings.Contains(text, invalidModelMarker):
			return mk(domain.KindWcaInvalidModelID)
		}
		return mk(domain.KindWcaBadRequest)
	case status == http.StatusForbidden:
		switch {
		case strings.Contains(text, cloudflareMarker):
			return mk(domain.KindWcaCloudflareRejection)
		case strings.Contains(string(body), trialExpiredMarker):
			return mk(domain.KindWcaUserTrialExpired)
		}
		return mk(domain.KindWcaInvalidModelID)
	case status == http.StatusNotFound:
		return mk(domain.KindWcaInvalidModelID)
	case status >= 400 && status < 500:
		return mk(domain.KindWcaBadRequest)
	}
	return mk(domain.KindUpstream)
}
