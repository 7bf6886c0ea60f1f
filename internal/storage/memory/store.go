package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
)

type secretKey struct {
	org    string
	suffix domain.SecretSuffix
}

// Store is an in-memory secret and settings store.
type Store struct {
	mu      sync.RWMutex
	secrets map[secretKey]domain.Secret
	optOut  map[string]bool
	now     func() time.Time
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		secrets: make(map[secretKey]domain.Secret),
		optOut:  make(map[string]bool),
		now:     time.Now,
	}
}

func (s *Store) GetSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix) (*domain.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[secretKey{orgID, suffix}]
	if !ok {
		return nil, nil
	}
	return &secret, nil
}

func (s *Store) SaveSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[secretKey{orgID, suffix}] = domain.Secret{SecretString: value, CreatedDate: s.now()}
	return nil
}

func (s *Store) DeleteSecret(ctx context.Context, orgID string, suffix domain.SecretSuffix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, secretKey{orgID, suffix})
	return nil
}

func (s *Store) TelemetryOptOut(ctx context.Context, orgID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optOut[orgID], nil
}

func (s *Store) SetTelemetryOptOut(ctx context.Context, orgID string, optOut bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optOut[orgID] = optOut
	return nil
}

func (s *Store) Close() error {
	return nil
}
