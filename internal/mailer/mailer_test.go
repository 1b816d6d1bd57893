package mailer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dedysaragih123/TubesFutureMessage/internal/circuitbreaker"
	"github.com/dedysaragih123/TubesFutureMessage/internal/testutil"
)

// fakeProvider is an httptest-backed provider with scripted send statuses.
type fakeProvider struct {
	mu           sync.Mutex
	tokenCalls   int
	sendCalls    int
	sendStatuses []int // consumed per send call; empty = always 200
	lastAPIKey   string
	lastAuth     string
	lastPayload  sendPayload
	server       *httptest.Server
}

func newFakeProvider(sendStatuses ...int) *fakeProvider {
	p := &fakeProvider{sendStatuses: sendStatuses}
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, p.handleToken)
	mux.HandleFunc(sendPath, p.handleSend)
	p.server = httptest.NewServer(mux)
	return p
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.tokenCalls++
	p.lastAPIKey = r.Header.Get("X-API-Key")
	n := p.tokenCalls
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"access_token": fmt.Sprintf("tok-%d", n)})
}

func (p *fakeProvider) handleSend(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.lastAuth = r.Header.Get("Authorization")
	json.NewDecoder(r.Body).Decode(&p.lastPayload)
	status := http.StatusOK
	if p.sendCalls < len(p.sendStatuses) {
		status = p.sendStatuses[p.sendCalls]
	}
	p.sendCalls++
	p.mu.Unlock()

	w.WriteHeader(status)
}

func (p *fakeProvider) counts() (tokens, sends int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls, p.sendCalls
}

// TestGateway_Send_Success verifies the happy path: one token exchange, the
// API key and bearer token on the right requests, and the payload intact.
func TestGateway_Send_Success(t *testing.T) {
	provider := newFakeProvider()
	defer provider.server.Close()

	g := New(provider.server.URL, "secret-key")
	result := g.Send(testutil.TestContext(t), "a@example.com", "hello", "future message")

	if !result.IsSuccess() {
		t.Fatalf("expected success, got status=%d err=%v", result.StatusCode, result.Error)
	}
	if result.Refreshed {
		t.Error("expected no refresh on clean send")
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.lastAPIKey != "secret-key" {
		t.Errorf("expected X-API-Key on token exchange, got %q", provider.lastAPIKey)
	}
	if provider.lastAuth != "Bearer tok-1" {
		t.Errorf("expected bearer token on send, got %q", provider.lastAuth)
	}
	if provider.lastPayload.RecipientEmail != "a@example.com" ||
		provider.lastPayload.Subject != "hello" ||
		provider.lastPayload.Body != "future message" {
		t.Errorf("payload mismatch: %+v", provider.lastPayload)
	}
}

// TestGateway_Send_CachesToken verifies that consecutive sends reuse the
// cached token instead of exchanging the API key each time.
func TestGateway_Send_CachesToken(t *testing.T) {
	provider := newFakeProvider()
	defer provider.server.Close()

	g := New(provider.server.URL, "secret-key")
	for i := 0; i < 3; i++ {
		if result := g.Send(testutil.TestContext(t), "a@example.com", "s", "b"); !result.IsSuccess() {
			t.Fatalf("send %d failed: status=%d err=%v", i, result.StatusCode, result.Error)
		}
	}

	tokens, sends := provider.counts()
	if tokens != 1 {
		t.Errorf("expected 1 token exchange for 3 sends, got %d", tokens)
	}
	if sends != 3 {
		t.Errorf("expected 3 sends, got %d", sends)
	}
}

// TestGateway_Send_TokenExpiryForcesExchange verifies that a token older
// than the TTL is replaced before the next send.
func TestGateway_Send_TokenExpiryForcesExchange(t *testing.T) {
	provider := newFakeProvider()
	defer provider.server.Close()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	g := New(provider.server.URL, "secret-key", WithTokenTTL(50*time.Minute))
	g.clock = func() time.Time { return now }

	g.Send(testutil.TestContext(t), "a@example.com", "s", "b")

	now = now.Add(51 * time.Minute)
	g.Send(testutil.TestContext(t), "a@example.com", "s", "b")

	tokens, _ := provider.counts()
	if tokens != 2 {
		t.Errorf("expected 2 token exchanges across TTL expiry, got %d", tokens)
	}
}

// TestGateway_Send_RefreshOnUnauthorized verifies the 401 path: exactly one
// forced refresh and one retry, then success.
func TestGateway_Send_RefreshOnUnauthorized(t *testing.T) {
	provider := newFakeProvider(http.StatusUnauthorized, http.StatusOK)
	defer provider.server.Close()

	g := New(provider.server.URL, "secret-key")
	result := g.Send(testutil.TestContext(t), "a@example.com", "s", "b")

	if !result.IsSuccess() {
		t.Fatalf("expected success after refresh, got status=%d err=%v", result.StatusCode, result.Error)
	}
	if !result.Refreshed {
		t.Error("expected Refreshed to be set")
	}

	tokens, sends := provider.counts()
	if tokens != 2 {
		t.Errorf("expected 2 token exchanges (initial + refresh), got %d", tokens)
	}
	if sends != 2 {
		t.Errorf("expected 2 send calls (original + retry), got %d", sends)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.lastAuth != "Bearer tok-2" {
		t.Errorf("expected retry to carry the fresh token, got %q", provider.lastAuth)
	}
}

// TestGateway_Send_UnauthorizedAfterRefreshIsFinal verifies that a second
// 401 is surfaced, never retried again.
func TestGateway_Send_UnauthorizedAfterRefreshIsFinal(t *testing.T) {
	provider := newFakeProvider(http.StatusUnauthorized, http.StatusUnauthorized)
	defer provider.server.Close()

	g := New(provider.server.URL, "secret-key")
	result := g.Send(testutil.TestContext(t), "a@example.com", "s", "b")

	if result.IsSuccess() {
		t.Fatal("expected failure after second 401")
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", result.StatusCode)
	}

	_, sends := provider.counts()
	if sends != 2 {
		t.Errorf("expected exactly 2 send calls, got %d", sends)
	}
}

// TestGateway_Send_NoRetryOnServerError verifies that non-401 failures are
// returned as-is with a single attempt.
func TestGateway_Send_NoRetryOnServerError(t *testing.T) {
	provider := newFakeProvider(http.StatusInternalServerError)
	defer provider.server.Close()

	g := New(provider.server.URL, "secret-key")
	result := g.Send(testutil.TestContext(t), "a@example.com", "s", "b")

	if result.IsSuccess() {
		t.Fatal("expected failure on 500")
	}
	if result.Refreshed {
		t.Error("expected no refresh on 500")
	}

	_, sends := provider.counts()
	if sends != 1 {
		t.Errorf("expected 1 send call, got %d", sends)
	}
}

// TestGateway_Send_TokenExchangeFailure verifies that an unusable auth
// endpoint fails the send without touching the send endpoint.
func TestGateway_Send_TokenExchangeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	g := New(server.URL, "secret-key")
	result := g.Send(testutil.TestContext(t), "a@example.com", "s", "b")

	if result.Error == nil {
		t.Fatal("expected error when token exchange fails")
	}
}

// TestGateway_Send_BreakerOpens verifies that repeated provider failures
// trip the breaker and short-circuit later sends.
func TestGateway_Send_BreakerOpens(t *testing.T) {
	provider := newFakeProvider(http.StatusInternalServerError, http.StatusInternalServerError)
	defer provider.server.Close()

	breaker := circuitbreaker.New(2, time.Hour)
	g := New(provider.server.URL, "secret-key", WithBreaker(breaker))

	g.Send(testutil.TestContext(t), "a@example.com", "s", "b")
	g.Send(testutil.TestContext(t), "a@example.com", "s", "b")

	result := g.Send(testutil.TestContext(t), "a@example.com", "s", "b")
	if !errors.Is(result.Error, circuitbreaker.ErrOpen) {
		t.Fatalf("expected ErrOpen after threshold failures, got %v", result.Error)
	}

	_, sends := provider.counts()
	if sends != 2 {
		t.Errorf("expected breaker to block the third send, got %d provider calls", sends)
	}
}
