package ports

import (
	"context"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

// SecretStore persists per-organization WCA credentials.
type SecretStore interface {
	// GetSecret returns nil, nil when the secret does not exist.
	GetSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix) (*domain.Secret, error)
	SaveSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix, value string) error
	DeleteSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix) error
}

// OrgSettingsStore persists per-organization preferences.
type OrgSettingsStore interface {
	TelemetryOptOut(ctx context.Context, orgID string) (bool, error)
	SetTelemetryOptOut(ctx context.Context, orgID string, optOut bool) error
}

// Anonymizer replaces personal data in free text.
type Anonymizer interface {
	Anonymize(text string) string
}

// Linter rewrites YAML according to ansible-lint rules.
type Linter interface {
	Lint(ctx context.Context, content string) (string, error)
}
