// Package storage persists per-organization WCA credentials and settings.
//
// Backends live in the memory and sqlite subpackages. Manager wraps a
// backend with access logging and the API_KEY to MODEL_ID cascade.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
)

// Backend is what a storage implementation provides.
type Backend interface {
	ports.SecretStore
	ports.OrgSettingsStore
	Close() error
}

// Manager is the secret store handed to providers and handlers.
type Manager struct {
	backend Backend
	logger  *slog.Logger
}

var (
	_ ports.SecretStore      = (*Manager)(nil)
	_ ports.OrgSettingsStore = (*Manager)(nil)
)

// NewManager wraps backend.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, logger: logger}
}

// GetSecret returns nil, nil when no secret is stored.
func (m *Manager) GetSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix) (*domain.Secret, error) {
	s, err := m.backend.GetSecret(ctx, orgID, suffix)
	if err != nil {
		m.logger.Error("failed to read secret",
			slog.String("org_id", orgID),
			slog.String("suffix", string(suffix)),
			slog.String("error", err.Error()))
		return nil, domain.NewModelError(domain.KindWcaSecretManager, "", fmt.Errorf("read %s for org %s: %w", suffix, orgID, err))
	}
	m.logger.Debug("secret read",
		slog.String("org_id", orgID),
		slog.String("suffix", string(suffix)),
		slog.Bool("found", s != nil))
	return s, nil
}

func (m *Manager) SaveSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix, value string) error {
	if err := m.backend.SaveSecret(ctx, orgID, suffix, value); err != nil {
		return domain.NewModelError(domain.KindWcaSecretManager, "", fmt.Errorf("save %s for org %s: %w", suffix, orgID, err))
	}
	m.logger.Info("secret saved", slog.String("org_id", orgID), slog.String("suffix", string(suffix)))
	return nil
}

// DeleteSecret removes a secret. Removing the API key also removes the
// model id, which is meaningless without it.
func (m *Manager) DeleteSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix) error {
	suffixes := []domain.SecretSuffix{suffix}
	if suffix == domain.SecretAPIKey {
		suffixes = append(suffixes, domain.SecretModelID)
	}
	for _, s := range suffixes {
		if err := m.backend.DeleteSecret(ctx, orgID, s); err != nil {
			return domain.NewModelError(domain.KindWcaSecretManager, "", fmt.Errorf("delete %s for org %s: %w", s, orgID, err))
		}
		m.logger.Info("secret deleted", slog.String("org_id", orgID), slog.String("suffix", string(s)))
	}
	return nil
}

func (m *Manager) TelemetryOptOut(ctx context.Context, orgID string) (bool, error) {
	return m.backend.TelemetryOptOut(ctx, orgID)
}

func (m *Manager) SetTelemetryOptOut(ctx context.Context, orgID string, optOut bool) error {
	if err := m.backend.SetTelemetryOptOut(ctx, orgID, optOut); err != nil {
		return fmt.Errorf("save telemetry preference for org %s: %w", orgID, err)
	}
	m.logger.Info("telemetry preference saved", slog.String("org_id", orgID), slog.Bool("opt_out", optOut))
	return nil
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
