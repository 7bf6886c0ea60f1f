package domain

import (
	"encoding/json"
	"sort"
	"sync"
)

// Health item keys reported by provider self tests.
const (
	HealthItemProvider = "provider"
	HealthItemModels   = "models"
	HealthItemTokens   = "tokens"
	HealthStatusOK     = "ok"
)

// HealthCheckSummary maps component names to either a status string or the
// error that component reported.
type HealthCheckSummary struct {
	mu    sync.Mutex
	items map[string]any
}

// NewHealthCheckSummary seeds a summary with the given items.
func NewHealthCheckSummary(items map[string]any) *HealthCheckSummary {
	s := &HealthCheckSummary{items: make(map[string]any, len(items))}
	for k, v := range items {
		s.items[k] = v
	}
	return s
}

func (s *HealthCheckSummary) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// SetError records err for key. A nil err records HealthStatusOK.
func (s *HealthCheckSummary) SetError(key string, err error) {
	if err == nil {
		s.Set(key, HealthStatusOK)
		return
	}
	s.Set(key, err)
}

// Get returns the recorded value for key.
func (s *HealthCheckSummary) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// Err returns the first recorded error in key order, or nil.
func (s *HealthCheckSummary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err, ok := s.items[k].(error); ok {
			return err
		}
	}
	return nil
}

// MarshalJSON renders errors as their message strings.
func (s *HealthCheckSummary) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.items))
	for k, v := range s.items {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}
