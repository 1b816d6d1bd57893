// Package mailer wraps the external email provider behind a small gateway.
//
// The provider authenticates with short-lived bearer tokens exchanged for an
// API key. The gateway caches the token and, on a 401 response, performs
// exactly one refresh and one retry before surfacing the failure. No other
// status code is retried here; the delivery layer records failures
// per-recipient and moves on.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dedysaragih123/TubesFutureMessage/internal/circuitbreaker"
)

const (
	tokenPath = "/v1/auth/token"
	sendPath  = "/v1/secure/send-email"
)

// Sender is the interface the delivery layer consumes.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) SendResult
}

// MetricsSink defines the interface for recording gateway metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TokenRefreshed()
}

// SendResult is the outcome of one provider send, including the 401
// refresh-retry when it was taken.
type SendResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
	Refreshed  bool // a token refresh + retry happened
}

func (r SendResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type sendPayload struct {
	RecipientEmail string `json:"recipient_email"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// Gateway talks to the email provider.
type Gateway struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	tokenTTL time.Duration
	timeout  time.Duration
	breaker  *circuitbreaker.Breaker // optional, nil = disabled
	metrics  MetricsSink             // optional, nil = disabled
	clock    func() time.Time

	// Token cache. The mutex is held across the exchange call so concurrent
	// sends share one refresh instead of stampeding the auth endpoint.
	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout sets the per-request provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithTokenTTL sets how long a cached token is reused.
func WithTokenTTL(d time.Duration) Option {
	return func(g *Gateway) { g.tokenTTL = d }
}

// WithBreaker attaches a circuit breaker guarding the provider.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(g *Gateway) { g.breaker = b }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(sink MetricsSink) Option {
	return func(g *Gateway) { g.metrics = sink }
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// New creates a Gateway for the provider at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Gateway {
	g := &Gateway{
		client:   &http.Client{},
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		tokenTTL: 50 * time.Minute,
		timeout:  30 * time.Second,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send delivers one (recipient, subject, body) tuple.
// On 401 it refreshes the token once and retries once.
func (g *Gateway) Send(ctx context.Context, recipient, subject, body string) SendResult {
	start := time.Now()

	if err := g.breaker.Allow(); err != nil {
		return SendResult{Error: err, Duration: time.Since(start)}
	}

	token, err := g.accessToken(ctx, false)
	if err != nil {
		g.breaker.RecordFailure()
		return SendResult{Error: fmt.Errorf("get token: %w", err), Duration: time.Since(start)}
	}

	payload := sendPayload{RecipientEmail: recipient, Subject: subject, Body: body}

	status, err := g.postSend(ctx, token, payload)
	if err != nil {
		g.breaker.RecordFailure()
		return SendResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}

	refreshed := false
	if status == http.StatusUnauthorized {
		token, err = g.accessToken(ctx, true)
		if err != nil {
			g.breaker.RecordFailure()
			return SendResult{
				StatusCode: status,
				Error:      fmt.Errorf("refresh token: %w", err),
				Duration:   time.Since(start),
			}
		}
		refreshed = true

		status, err = g.postSend(ctx, token, payload)
		if err != nil {
			g.breaker.RecordFailure()
			return SendResult{Error: fmt.Errorf("send after refresh: %w", err), Duration: time.Since(start), Refreshed: true}
		}
	}

	result := SendResult{StatusCode: status, Duration: time.Since(start), Refreshed: refreshed}
	if result.IsSuccess() {
		g.breaker.RecordSuccess()
	} else if status >= 500 {
		g.breaker.RecordFailure()
	}
	return result
}

// accessToken returns the cached token, exchanging the API key for a new one
// when the cache is empty, expired, or force is set (the 401 path).
func (g *Gateway) accessToken(ctx context.Context, force bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !force && g.token != "" && g.clock().Sub(g.fetchedAt) < g.tokenTTL {
		return g.token, nil
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, g.baseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("exchange: provider returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("decode token: empty access_token")
	}

	g.token = tr.AccessToken
	g.fetchedAt = g.clock()

	if force && g.metrics != nil {
		g.metrics.TokenRefreshed()
	}

	return g.token, nil
}

// postSend performs one send call; transport errors are returned, HTTP status
// codes are the caller's to interpret.
func (g *Gateway) postSend(ctx context.Context, token string, payload sendPayload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, g.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
