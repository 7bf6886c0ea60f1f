package wca

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/core/ports"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// TokenSafetyMargin is subtracted from the issuer's expires_in so a cached
// token is never presented in its last minutes of validity.
const TokenSafetyMargin = 5 * time.Minute

// IAMGrantType is the IBM Cloud grant used to exchange an API key.
const IAMGrantType = "urn:ibm:params:oauth:grant-type:apikey"

// TokenCache is an in-memory IAM token cache keyed by API key. Concurrent
// misses for the same key share one fetch.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]*domain.IAMToken
	flight singleflight.Group
	now    func() time.Time
}

var _ ports.TokenCache = (*TokenCache)(nil)

// NewTokenCache returns an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]*domain.IAMToken), now: time.Now}
}

// cacheKey hashes the API key so raw keys never sit in memory as map keys.
func cacheKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func (c *TokenCache) lookup(key string) *domain.IAMToken {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tok := c.tokens[key]; tok.ValidAt(c.now()) {
		return tok
	}
	return nil
}

// Fetch implements ports.TokenCache.
func (c *TokenCache) Fetch(ctx context.Context, apiKey string, fetch func(context.Context) (*domain.IAMToken, error)) (*domain.IAMToken, error) {
	key := cacheKey(apiKey)
	if tok := c.lookup(key); tok != nil {
		return tok, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if tok := c.lookup(key); tok != nil {
			return tok, nil
		}
		tok, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.tokens[key] = tok
		c.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.IAMToken), nil
}

// Invalidate drops the cached token for apiKey.
func (c *TokenCache) Invalidate(apiKey string) {
	c.mu.Lock()
	delete(c.tokens, cacheKey(apiKey))
	c.mu.Unlock()
}

// iamClient exchanges API keys for bearer tokens at the IBM Cloud IAM endpoint.
type iamClient struct {
	url      string
	login    string
	password string
	http     *http.Client
	metrics  *telemetry.Metrics
	now      func() time.Time
}

type iamResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *iamClient) token(ctx context.Context, apiKey string) (*domain.IAMToken, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveIdentityToken(time.Since(start)) }()

	form := url.Values{}
	form.Set("grant_type", IAMGrantType)
	form.Set("apikey", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, domain.NewModelError(domain.KindWcaTokenFailure, "", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.login != "" {
		req.SetBasicAuth(c.login, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewModelError(domain.KindWcaTokenFailure, "", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, domain.NewModelError(domain.KindWcaTokenFailureAPIKey, "",
			fmt.Errorf("identity provider rejected api key: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, domain.NewModelError(domain.KindWcaTokenFailure, "",
			fmt.Errorf("identity provider error: status %d", resp.StatusCode))
	}

	var parsed iamResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domain.NewModelError(domain.KindWcaTokenFailure, "", fmt.Errorf("decode token response: %w", err))
	}
	if parsed.AccessToken == "" {
		return nil, domain.NewModelError(domain.KindWcaTokenFailure, "", fmt.Errorf("token response has no access_token"))
	}
	ttl := time.Duration(parsed.ExpiresIn)*time.Second - TokenSafetyMargin
	return &domain.IAMToken{AccessToken: parsed.AccessToken, Expiration: c.now().Add(ttl)}, nil
}
