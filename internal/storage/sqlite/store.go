package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/storage"
)

// Store is a SQLite implementation of the secret and org settings stores.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Backend = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db, now: time.Now}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS secrets (
			org_id TEXT NOT NULL,
			suffix TEXT NOT NULL,
			secret TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (org_id, suffix)
		)`,
		`CREATE TABLE IF NOT EXISTS org_settings (
			org_id TEXT PRIMARY KEY,
			telemetry_opt_out INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) GetSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix) (*domain.Secret, error) {
	query := `SELECT secret, created_at FROM secrets WHERE org_id = ? AND suffix = ?`

	var secret domain.Secret
	err := s.db.QueryRowContext(ctx, query, orgID, string(suffix)).Scan(&secret.SecretString, &secret.CreatedDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}
	return &secret, nil
}

func (s *Store) SaveSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix, value string) error {
	query := `INSERT INTO secrets (org_id, suffix, secret, created_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(org_id, suffix) DO UPDATE SET secret=excluded.secret, created_at=excluded.created_at`

	if _, err := s.db.ExecContext(ctx, query, orgID, string(suffix), value, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save secret: %w", err)
	}
	return nil
}

func (s *Store) DeleteSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE org_id = ? AND suffix = ?`, orgID, string(suffix)); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

func (s *Store) TelemetryOptOut(ctx context.Context, orgID string) (bool, error) {
	var optOut bool
	err := s.db.QueryRowContext(ctx, `SELECT telemetry_opt_out FROM org_settings WHERE org_id = ?`, orgID).Scan(&optOut)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get org settings: %w", err)
	}
	return optOut, nil
}

func (s *Store) SetTelemetryOptOut(ctx context.Context, orgID string, optOut bool) error {
	query := `INSERT INTO org_settings (org_id, telemetry_opt_out, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(org_id) DO UPDATE SET telemetry_opt_out=excluded.telemetry_opt_out, updated_at=excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, orgID, optOut, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to save org settings: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
