package wca

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ansible/ai-connect-gateway/internal/core/domain"
	"github.com/ansible/ai-connect-gateway/internal/meshconfig"
	"github.com/ansible/ai-connect-gateway/internal/telemetry"
)

// WCA REST endpoints, relative to inference_url.
const (
	endpointCompletions         = "/v1/wca/codegen/ansible"
	endpointContentMatch        = "/v1/wca/codematch/ansible"
	endpointPlaybookGeneration  = "/v1/wca/codegen/ansible/playbook"
	endpointPlaybookExplanation = "/v1/wca/explain/ansible/playbook"
	endpointRoleGeneration      = "/v1/wca/codegen/ansible/roles"
	endpointRoleExplanation     = "/v1/wca/explain/ansible/roles"
)

const (
	defaultBackoff  = 500 * time.Millisecond
	maxResponseSize = 10 << 20
)

// authorizer sets the Authorization header for an outbound call.
type authorizer interface {
	authorize(ctx context.Context, req *http.Request, apiKey string) error
	// invalidate forgets any credential derived from apiKey.
	invalidate(apiKey string)
}

// bearerAuth presents IAM tokens obtained through the shared cache.
type bearerAuth struct {
	cache interface {
		Fetch(ctx context.Context, apiKey string, fetch func(context.Context) (*domain.IAMToken, error)) (*domain.IAMToken, error)
		Invalidate(apiKey string)
	}
	iam *iamClient
}

func (a *bearerAuth) token(ctx context.Context, apiKey string) (*domain.IAMToken, error) {
	return a.cache.Fetch(ctx, apiKey, func(ctx context.Context) (*domain.IAMToken, error) {
		return a.iam.token(ctx, apiKey)
	})
}

func (a *bearerAuth) authorize(ctx context.Context, req *http.Request, apiKey string) error {
	tok, err := a.token(ctx, apiKey)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return nil
}

func (a *bearerAuth) invalidate(apiKey string) { a.cache.Invalidate(apiKey) }

// zenAuth is the on-prem scheme: ZenApiKey base64(username:api_key).
type zenAuth struct {
	username string
}

func (a zenAuth) authorize(_ context.Context, req *http.Request, apiKey string) error {
	creds := base64.StdEncoding.EncodeToString([]byte(a.username + ":" + apiKey))
	req.Header.Set("Authorization", "ZenApiKey "+creds)
	return nil
}

func (zenAuth) invalidate(string) {}

// client performs WCA REST calls with retry and response classification.
type client struct {
	baseURL    string
	http       *http.Client
	cfg        *meshconfig.BaseConfig
	retryCount int
	backoff    time.Duration
	auth       authorizer
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// call describes one WCA request.
type call struct {
	endpoint  string
	apiKey    string
	modelID   string
	requestID string
	user      *domain.User
	taskCount int
	body      any
}

func (c *client) post(ctx context.Context, r call, out any) error {
	if r.requestID == "" {
		r.requestID = uuid.NewString()
	}
	payload, err := json.Marshal(r.body)
	if err != nil {
		return fmt.Errorf("wca: encode request: %w", err)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "wca.request", trace.WithAttributes(
		attribute.String("wca.endpoint", r.endpoint),
		attribute.String("wca.model_id", r.modelID),
		attribute.String("wca.request_id", r.requestID),
	))
	defer span.End()

	start := time.Now()
	defer func() { c.metrics.ObserveWCARequest(r.endpoint, time.Since(start)) }()

	var lastErr error
	reauthorized := false
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt); err != nil {
				lastErr = c.timeoutOr(ctx, r.modelID, err)
				break
			}
			c.logger.WarnContext(ctx, "retrying wca request",
				slog.String("endpoint", r.endpoint),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
		}

		status, body, retry, err := c.attempt(ctx, r, payload)
		if err != nil {
			lastErr = err
			if retry {
				continue
			}
			break
		}
		if status == http.StatusUnauthorized && !reauthorized {
			// Token revoked upstream before its cached expiry.
			c.auth.invalidate(r.apiKey)
			reauthorized = true
			lastErr = checkResponse(status, body, r.modelID)
			attempt--
			continue
		}
		if retriable(status) {
			lastErr = checkResponse(status, body, r.modelID)
			continue
		}
		if err := checkResponse(status, body, r.modelID); err != nil {
			lastErr = err
			break
		}
		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				lastErr = domain.NewModelError(domain.KindUpstream, r.modelID, fmt.Errorf("decode response: %w", err))
				break
			}
		}
		return nil
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return lastErr
}

// attempt sends one request. retry reports whether err is transient.
func (c *client) attempt(ctx context.Context, r call, payload []byte) (status int, body []byte, retry bool, err error) {
	actx := ctx
	if t := c.cfg.RequestTimeout(r.taskCount); t > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(actx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, false, fmt.Errorf("wca: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, r.requestID)
	if r.user != nil && r.user.UUID != "" {
		req.Header.Set(lightspeedUserHeader, r.user.UUID)
	}
	if err := c.auth.authorize(actx, req, r.apiKey); err != nil {
		// Token failures are not retried here; the cache already coalesced the fetch.
		return 0, nil, false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, false, c.timeoutOr(ctx, r.modelID, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, true, domain.NewModelError(domain.KindModelTimeout, r.modelID, err)
		}
		return 0, nil, true, domain.NewModelError(domain.KindUpstream, r.modelID, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, true, domain.NewModelError(domain.KindModelTimeout, r.modelID, err)
		}
		return 0, nil, true, domain.NewModelError(domain.KindUpstream, r.modelID, err)
	}

	if err := checkCorrelation(r.requestID, resp.Header.Get(requestIDHeader), r.modelID); err != nil {
		return 0, nil, false, err
	}
	return resp.StatusCode, body, false, nil
}

func (c *client) sleep(ctx context.Context, attempt int) error {
	d := c.backoff << (attempt - 1)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) timeoutOr(ctx context.Context, modelID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewModelError(domain.KindModelTimeout, modelID, err)
	}
	return err
}
