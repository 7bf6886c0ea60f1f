package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/server"
)

type apiKeyRequest struct {
	Key string `json:"key"`
}

type modelIDRequest struct {
	ModelID string `json:"model_id"`
}

type secretStatus struct {
	ModelID    string `json:"model_id,omitempty"`
	LastUpdate string `json:"last_update,omitempty"`
}

type telemetrySettings struct {
	OptOut bool `json:"optOut"`
}

func noContent(w http.ResponseWriter) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNoContent)
}

// validator returns the credential validator of the completion provider.
func (h *Handler) validator() (ports.CredentialValidator, error) {
	p, err := h.pipelineFor(domain.CapabilityCompletions)
	if err != nil {
		return nil, err
	}
	v, ok := p.(ports.CredentialValidator)
	if !ok {
		return nil, domain.ErrFeatureNotAvailable
	}
	return v, nil
}

// invalidCredential maps a validation failure. Model errors keep their own
// mapping; anything else means the credential was rejected.
func invalidCredential(err error, detail string) error {
	var me *domain.ModelError
	if errors.As(err, &me) {
		return domain.TranslateError(err)
	}
	return domain.ErrValidation(detail).WithCause(err)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (h *Handler) getAPIKey(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	secret, err := h.cfg.Secrets.GetSecret(r.Context(), user.OrgID, domain.SecretAPIKey)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := secretStatus{}
	if secret != nil {
		status.LastUpdate = formatDate(secret.CreatedDate)
	}
	server.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) setAPIKey(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	var req apiKeyRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Key == "" {
		fail(w, r, domain.ErrValidation("key must not be empty"))
		return
	}
	v, err := h.validator()
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := v.ValidateAPIKey(r.Context(), req.Key); err != nil {
		fail(w, r, invalidCredential(err, "The API key was rejected."))
		return
	}
	if err := h.cfg.Secrets.SaveSecret(r.Context(), user.OrgID, domain.SecretAPIKey, req.Key); err != nil {
		fail(w, r, err)
		return
	}
	h.logger.Info("wca api key stored", slog.String("org_id", user.OrgID))
	noContent(w)
}

func (h *Handler) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	secret, err := h.cfg.Secrets.GetSecret(r.Context(), user.OrgID, domain.SecretAPIKey)
	if err != nil {
		fail(w, r, err)
		return
	}
	if secret == nil {
		fail(w, r, domain.ErrValidation("No API key is stored for this organization."))
		return
	}
	if err := h.cfg.Secrets.DeleteSecret(r.Context(), user.OrgID, domain.SecretAPIKey); err != nil {
		fail(w, r, err)
		return
	}
	h.logger.Info("wca api key deleted", slog.String("org_id", user.OrgID))
	noContent(w)
}

func (h *Handler) testAPIKey(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	secret, err := h.cfg.Secrets.GetSecret(r.Context(), user.OrgID, domain.SecretAPIKey)
	if err != nil {
		fail(w, r, err)
		return
	}
	if secret == nil {
		fail(w, r, domain.TranslateError(domain.NewModelError(domain.KindWcaKeyNotFound, "", errors.New("no api key"))))
		return
	}
	v, err := h.validator()
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := v.ValidateAPIKey(r.Context(), secret.SecretString); err != nil {
		fail(w, r, invalidCredential(err, "The stored API key was rejected."))
		return
	}
	server.WriteJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) getModelID(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	secret, err := h.cfg.Secrets.GetSecret(r.Context(), user.OrgID, domain.SecretModelID)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := secretStatus{}
	if secret != nil {
		status.ModelID = secret.SecretString
		status.LastUpdate = formatDate(secret.CreatedDate)
	}
	server.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) setModelID(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	var req modelIDRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.ModelID == "" {
		fail(w, r, domain.ErrValidation("model_id must not be empty"))
		return
	}
	v, err := h.validator()
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := v.ValidateModelID(r.Context(), user, req.ModelID); err != nil {
		fail(w, r, invalidCredential(err, "The model id was rejected."))
		return
	}
	if err := h.cfg.Secrets.SaveSecret(r.Context(), user.OrgID, domain.SecretModelID, req.ModelID); err != nil {
		fail(w, r, err)
		return
	}
	h.logger.Info("wca model id stored", slog.String("org_id", user.OrgID))
	noContent(w)
}

func (h *Handler) testModelID(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	secret, err := h.cfg.Secrets.GetSecret(r.Context(), user.OrgID, domain.SecretModelID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if secret == nil {
		fail(w, r, domain.TranslateError(domain.NewModelError(domain.KindWcaModelIDNotFound, "", errors.New("no model id"))))
		return
	}
	v, err := h.validator()
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := v.ValidateModelID(r.Context(), user, secret.SecretString); err != nil {
		fail(w, r, invalidCredential(err, "The stored model id was rejected."))
		return
	}
	server.WriteJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) getTelemetry(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	optOut, err := h.cfg.Secrets.TelemetryOptOut(r.Context(), user.OrgID)
	if err != nil {
		fail(w, r, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, telemetrySettings{OptOut: optOut})
}

func (h *Handler) setTelemetry(w http.ResponseWriter, r *http.Request) {
	user := server.UserFrom(r.Context())
	var req telemetrySettings
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.cfg.Secrets.SetTelemetryOptOut(r.Context(), user.OrgID, req.OptOut); err != nil {
		fail(w, r, err)
		return
	}
	h.logger.Info("telemetry preference updated",
		slog.String("org_id", user.OrgID),
		slog.Bool("opt_out", req.OptOut))
	noContent(w)
}
