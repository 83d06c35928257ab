package authgate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/edelzer/authgate/token"
	"github.com/redis/go-redis/v9"
)

var testSecret = []byte("authgate-test-secret-authgate-test-secret")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t testing.TB, mutate func(*Config), opts ...func(*Builder)) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testSecret
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().WithConfig(cfg).WithRedis(client).WithLogger(testLogger())
	for _, opt := range opts {
		opt(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := engine.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mr
}

func issue(t testing.TB, e *Engine, subject string, opts IssueOptions) TokenPair {
	t.Helper()
	pair, err := e.IssueTokens(context.Background(), subject, opts)
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	return pair
}

func TestCheckPublicRouteHasNoPrincipal(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	p, d, err := e.Check(context.Background(), Request{Method: "GET", Path: "/health", ClientIP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected no principal on public route, got %+v", p)
	}
	if d == nil || !d.Allowed || d.Degraded {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.Limit != 1000 || d.Remaining != 999 {
		t.Fatalf("expected 1000/999, got %d/%d", d.Limit, d.Remaining)
	}
}

func TestCheckBearerAllowed(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	pair := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}})

	p, d, err := e.Check(context.Background(), Request{
		Method:      "GET",
		Path:        "/api/v1/users/me",
		ClientIP:    "10.0.0.2",
		BearerToken: pair.Access.Value,
	})
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	if p.Subject != "u1" || p.AuthMethod != AuthMethodBearer || p.TokenID != pair.Access.Claims.ID {
		t.Fatalf("unexpected principal %+v", p)
	}
	if !p.HasRole("user") {
		t.Fatal("expected principal to carry user role")
	}
	if d.Rule != "users" || d.Limit != 100 {
		t.Fatalf("expected tightest rule users/100, got %s/%d", d.Rule, d.Limit)
	}

	ctx := WithPrincipal(context.Background(), p)
	got, ok := PrincipalFromContext(ctx)
	if !ok || got.Subject != "u1" {
		t.Fatal("expected principal round-trip through context")
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal in empty context")
	}
}

func TestCheckNoCredential(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	_, d, err := e.Check(context.Background(), Request{Method: "GET", Path: "/api/v1/users", ClientIP: "10.0.0.3"})
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) || authErr.Reason != ReasonNoCredential {
		t.Fatalf("expected no_credential, got %v", err)
	}
	if !errors.Is(err, ErrUnauthenticated) || HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 mapping, got %d", HTTPStatus(err))
	}
	if d == nil || !d.Allowed {
		t.Fatalf("rate decision must still be reported on deny, got %+v", d)
	}
	if got := e.MetricsSnapshot().Counters[MetricAuthFailure]; got != 1 {
		t.Fatalf("expected 1 auth failure, got %d", got)
	}
}

func TestCheckMalformedBearerReasonWins(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	_, _, err := e.Check(context.Background(), Request{
		Path:        "/api/v1/users",
		ClientIP:    "10.0.0.4",
		BearerToken: "not-a-token",
		SessionID:   "missing-session",
	})
	if ErrorCode(err) != string(ReasonMalformedToken) {
		t.Fatalf("expected malformed_token, got %v", err)
	}
	if !errors.Is(err, token.ErrMalformedToken) {
		t.Fatal("expected token sentinel to stay reachable")
	}
}

func TestCheckInsufficientRole(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	pair := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}})

	p, _, err := e.Check(context.Background(), Request{Path: "/api/v1/admin/stats", ClientIP: "10.0.0.5", BearerToken: pair.Access.Value})
	var authzErr *AuthorizationError
	if !errors.As(err, &authzErr) || authzErr.Reason != ReasonInsufficientRole || authzErr.Subject != "u1" {
		t.Fatalf("expected insufficient_role for u1, got %v", err)
	}
	if p != nil {
		t.Fatal("denied request must not yield a principal")
	}
	if HTTPStatus(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", HTTPStatus(err))
	}
}

func TestCheckSessionFallback(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := e.CreateSession(ctx, "u2", map[string]any{"roles": []string{"user"}, "theme": "dark"})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	p, _, err := e.Check(ctx, Request{Path: "/api/v1/users/me", ClientIP: "10.0.0.6", SessionID: id})
	if err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
	if p.Subject != "u2" || p.AuthMethod != AuthMethodSession || p.SessionID != id {
		t.Fatalf("unexpected principal %+v", p)
	}
	if p.SessionData["theme"] != "dark" {
		t.Fatalf("expected session data, got %+v", p.SessionData)
	}

	if err := e.Logout(ctx, LogoutRequest{SessionID: id}); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	_, _, err = e.Check(ctx, Request{Path: "/api/v1/users/me", ClientIP: "10.0.0.6", SessionID: id})
	if ErrorCode(err) != string(ReasonNoCredential) {
		t.Fatalf("expected destroyed session to be unauthenticated, got %v", err)
	}
}

func TestLogoutBlacklistsAccessToken(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	pair := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}})

	if err := e.Logout(ctx, LogoutRequest{AccessToken: pair.Access.Value, RefreshToken: pair.Refresh.Value}); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	_, _, err := e.Check(ctx, Request{Path: "/api/v1/users", ClientIP: "10.0.0.7", BearerToken: pair.Access.Value})
	if ErrorCode(err) != string(ReasonBlacklisted) {
		t.Fatalf("expected token_blacklisted, got %v", err)
	}
	if _, err := e.Refresh(ctx, pair.Refresh.Value, ""); !errors.Is(err, token.ErrBlacklisted) {
		t.Fatalf("expected revoked refresh token to be blacklisted, got %v", err)
	}
	if got := e.MetricsSnapshot().Counters[MetricTokenRevoked]; got != 2 {
		t.Fatalf("expected 2 revocations, got %d", got)
	}
}

func TestLogoutAllRevokesEarlierTokens(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	e, _ := newTestEngine(t, nil, func(b *Builder) { b.WithClock(clock.Now) })
	ctx := context.Background()

	old := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}})
	clock.Advance(2 * time.Second)
	if err := e.LogoutAll(ctx, "u1"); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}

	_, _, err := e.Check(ctx, Request{Path: "/api/v1/users", ClientIP: "10.0.0.8", BearerToken: old.Access.Value})
	if ErrorCode(err) != string(ReasonRevokedSubject) {
		t.Fatalf("expected subject_revoked, got %v", err)
	}

	fresh := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}})
	if _, _, err := e.Check(ctx, Request{Path: "/api/v1/users", ClientIP: "10.0.0.8", BearerToken: fresh.Access.Value}); err != nil {
		t.Fatalf("token issued after revocation must pass, got %v", err)
	}
}

func TestCheckExpiredToken(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	e, _ := newTestEngine(t, nil, func(b *Builder) { b.WithClock(clock.Now) })
	pair := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}})

	clock.Advance(31 * time.Minute)
	_, _, err := e.Check(context.Background(), Request{Path: "/api/v1/users", ClientIP: "10.0.0.9", BearerToken: pair.Access.Value})
	if ErrorCode(err) != string(ReasonExpiredToken) {
		t.Fatalf("expected expired_token, got %v", err)
	}
}

func TestCheckFingerprintBinding(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	pair := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}, Fingerprint: "device-1"})
	req := Request{Path: "/api/v1/users", ClientIP: "10.0.0.10", BearerToken: pair.Access.Value}

	req.Fingerprint = "device-2"
	if _, _, err := e.Check(context.Background(), req); ErrorCode(err) != string(ReasonFingerprintMismatch) {
		t.Fatalf("expected fingerprint_mismatch, got %v", err)
	}
	req.Fingerprint = "device-1"
	if _, _, err := e.Check(context.Background(), req); err != nil {
		t.Fatalf("expected matching fingerprint to pass, got %v", err)
	}
}

func TestRefreshRotationReplay(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	pair := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}, Extra: map[string]any{"tenant": "acme"}})

	next, err := e.Refresh(ctx, pair.Refresh.Value, "")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.Access.Claims.Subject != "u1" || next.Access.Claims.Extra["tenant"] != "acme" {
		t.Fatalf("expected claims to carry forward, got %+v", next.Access.Claims)
	}

	_, err = e.Refresh(ctx, pair.Refresh.Value, "")
	if !errors.Is(err, token.ErrBlacklisted) || !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected replay to be blacklisted, got %v", err)
	}
	snap := e.MetricsSnapshot()
	if snap.Counters[MetricRefreshSuccess] != 1 || snap.Counters[MetricRefreshReplay] != 1 {
		t.Fatalf("unexpected refresh counters %+v", snap.Counters)
	}
}

func TestCheckLoginBurst(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	req := Request{Method: "POST", Path: "/api/v1/auth/login", ClientIP: "10.0.1.1"}

	for i := 0; i < 3; i++ {
		if _, _, err := e.Check(context.Background(), req); err != nil {
			t.Fatalf("request %d: expected allow, got %v", i+1, err)
		}
	}

	_, d, err := e.Check(context.Background(), req)
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.Reason != ReasonBurstExceeded {
		t.Fatalf("expected burst_limited, got %v", err)
	}
	if rl.RetryAfter != 30*time.Second || rl.Rule != "login" {
		t.Fatalf("expected login burst retry 30s, got %s %s", rl.Rule, rl.RetryAfter)
	}
	if d.Allowed || HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429 deny, got %+v", d)
	}
	if got := e.MetricsSnapshot().Counters[MetricBurstLimited]; got != 1 {
		t.Fatalf("expected 1 burst denial, got %d", got)
	}
}

func TestCheckMainWindowPenaltyEscalates(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) {
		c.RateLimit.Rules = []RateRule{{Name: "global", Limit: 2, Window: time.Minute}}
		c.RateLimit.BurstRules = nil
		c.Routes.PublicPaths = []string{"/"}
	})
	req := Request{Path: "/", ClientIP: "10.0.1.2"}

	for i := 0; i < 2; i++ {
		if _, _, err := e.Check(context.Background(), req); err != nil {
			t.Fatalf("request %d: expected allow, got %v", i+1, err)
		}
	}

	want := []time.Duration{time.Minute, 2 * time.Minute}
	for i, retry := range want {
		_, d, err := e.Check(context.Background(), req)
		var rl *RateLimitError
		if !errors.As(err, &rl) || rl.Reason != ReasonMainWindowExceeded {
			t.Fatalf("denial %d: expected rate_limited, got %v", i+1, err)
		}
		if rl.RetryAfter != retry || d.PenaltyLevel != int64(i) {
			t.Fatalf("denial %d: expected retry %s at level %d, got %s at level %d", i+1, retry, i, rl.RetryAfter, d.PenaltyLevel)
		}
	}
}

func TestCheckStoreDownFailsOpenThenClosed(t *testing.T) {
	e, mr := newTestEngine(t, nil)
	pair := issue(t, e, "u1", IssueOptions{Roles: []string{"user"}})
	mr.Close()

	_, d, err := e.Check(context.Background(), Request{Path: "/health", ClientIP: "10.0.2.1"})
	if err != nil {
		t.Fatalf("rate limiting must fail open, got %v", err)
	}
	if !d.Degraded {
		t.Fatal("expected degraded decision")
	}

	_, _, err = e.Check(context.Background(), Request{Path: "/api/v1/users", ClientIP: "10.0.2.1", BearerToken: pair.Access.Value})
	if ErrorCode(err) != string(ReasonAuthUnavailable) || HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("token validation must fail closed, got %v", err)
	}

	snap := e.MetricsSnapshot()
	if snap.Counters[MetricRateLimitDegraded] != 2 || snap.Counters[MetricAuthUnavailable] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestCheckAccountProvider(t *testing.T) {
	accounts := map[string]Account{
		"active":     {ID: "active", Roles: []string{"admin"}, Active: true, Verified: true},
		"inactive":   {ID: "inactive", Roles: []string{"admin"}, Active: false, Verified: true},
		"unverified": {ID: "unverified", Roles: []string{"admin"}, Active: true, Verified: false},
	}
	provider := AccountProviderFunc(func(_ context.Context, subject string) (Account, error) {
		if subject == "broken" {
			return Account{}, errors.New("directory offline")
		}
		a, ok := accounts[subject]
		if !ok {
			return Account{}, ErrAccountNotFound
		}
		return a, nil
	})
	e, _ := newTestEngine(t, nil, func(b *Builder) { b.WithAccountProvider(provider) })

	tests := []struct {
		subject string
		want    string
	}{
		{subject: "active", want: ""},
		{subject: "inactive", want: string(ReasonInactiveAccount)},
		{subject: "unverified", want: string(ReasonUnverified)},
		{subject: "ghost", want: string(ReasonInactiveAccount)},
		{subject: "broken", want: string(ReasonAuthUnavailable)},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			// Token roles are ignored; the provider's roles are authoritative.
			pair := issue(t, e, tt.subject, IssueOptions{})
			_, _, err := e.Check(context.Background(), Request{Path: "/api/v1/admin", ClientIP: "10.0.3.1", BearerToken: pair.Access.Value})
			if got := ErrorCode(err); got != tt.want {
				t.Fatalf("expected %q, got %q (%v)", tt.want, got, err)
			}
		})
	}
}

func TestAuditEventsDelivered(t *testing.T) {
	sink := NewChannelSink(16)
	e, _ := newTestEngine(t, nil, func(b *Builder) { b.WithAuditSink(sink) })

	_, _, err := e.Check(context.Background(), Request{Path: "/api/v1/users", ClientIP: "10.0.4.1", RequestID: "req-1"})
	if err == nil {
		t.Fatal("expected denial")
	}

	select {
	case ev := <-sink.Events():
		if ev.EventType != AuditGateDenied || ev.Reason != string(ReasonNoCredential) || ev.RequestID != "req-1" || ev.Success {
			t.Fatalf("unexpected audit event %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Fatal("expected timestamp to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event")
	}
	if e.AuditDropped() != 0 {
		t.Fatalf("expected no drops, got %d", e.AuditDropped())
	}
}

func TestResolveRoute(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	tests := []struct {
		path     string
		public   bool
		roles    int
		verified bool
	}{
		{path: "/", public: true},
		{path: "/health", public: true},
		{path: "/healthz"},
		{path: "/api/v1/auth/login", public: true},
		{path: "/api/v1/auth/login/", public: true},
		{path: "/api/v1/auth/loginx"},
		{path: "/api/v1/admin/users", roles: 1, verified: true},
		{path: "/api/v1/users", roles: 2},
		{path: "/api/v1/users/profile/avatar", roles: 2, verified: true},
		{path: "/other"},
	}
	for _, tt := range tests {
		rule := e.resolveRoute(tt.path)
		if rule.Public != tt.public || len(rule.Roles) != tt.roles || rule.RequireVerified != tt.verified {
			t.Fatalf("%s: unexpected rule %+v", tt.path, rule)
		}
	}
}

func TestBuilderValidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if _, err := New().Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithRedis(client).Build(); err == nil {
		t.Fatal("expected error without signing key")
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testSecret
	b := New().WithConfig(cfg).WithRedis(client).WithLogger(testLogger())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
	if e.Tokens() == nil || e.Sessions() == nil {
		t.Fatal("expected components to be exposed")
	}
	if _, err := e.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var e *Engine
	if _, _, err := e.Check(context.Background(), Request{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
	if e.AuditDropped() != 0 {
		t.Fatal("expected zero drops on nil engine")
	}
}
