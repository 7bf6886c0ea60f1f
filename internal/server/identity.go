package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

// Identity headers set by the authenticating proxy in front of the gateway.
const (
	HeaderUserUUID    = "X-Ansible-User-Uuid"
	HeaderUsername    = "X-Ansible-Username"
	HeaderOrgID       = "X-Ansible-Org-Id"
	HeaderUserHasSeat = "X-Ansible-User-Has-Seat"
	HeaderOrgAdmin    = "X-Ansible-Org-Admin"
	HeaderActiveTrial = "X-Ansible-Active-Trial"
)

type userKey struct{}

// WithUser returns ctx carrying user.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the authenticated user, or nil.
func UserFrom(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey{}).(*domain.User)
	return u
}

// IdentityMiddleware builds the request user from trusted proxy headers.
// Requests without a user uuid are rejected with 401.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromHeaders(r.Header)
		if user == nil {
			AddError(r.Context(), domain.ErrNotAuthenticated())
			WriteError(w, domain.ErrNotAuthenticated())
			return
		}
		AddLogField(r.Context(), "user_uuid", user.UUID)
		AddLogField(r.Context(), "org_id", user.OrgID)
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func userFromHeaders(h http.Header) *domain.User {
	id := h.Get(HeaderUserUUID)
	if id == "" {
		return nil
	}
	return &domain.User{
		UUID:           id,
		Username:       h.Get(HeaderUsername),
		OrgID:          h.Get(HeaderOrgID),
		RHUserHasSeat:  headerBool(h, HeaderUserHasSeat),
		IsOrgAdmin:     headerBool(h, HeaderOrgAdmin),
		HasActiveTrial: headerBool(h, HeaderActiveTrial),
	}
}

func headerBool(h http.Header, name string) bool {
	b, _ := strconv.ParseBool(h.Get(name))
	return b
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {detail, code}. Errors mapping to 204 are
// written with an empty body.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := domain.TranslateError(err)
	status := apiErr.HTTPStatusCode()
	if status == http.StatusNoContent {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(status)
		return
	}
	body := map[string]any{"detail": apiErr.Detail, "code": apiErr.Code}
	if apiErr.ModelID != "" {
		body["model"] = apiErr.ModelID
	}
	WriteJSON(w, status, body)
}
