package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/edelzer/authgate"
	"github.com/redis/go-redis/v9"
)

var testSecret = []byte("middleware-test-secret-middleware-test")

func newEngine(t *testing.T, mutate func(*authgate.Config)) *authgate.Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := authgate.DefaultConfig()
	cfg.JWT.PrivateKey = testSecret
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := engine.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func okHandler(t *testing.T, wantSubject string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := authgate.PrincipalFromContext(r.Context())
		if wantSubject == "" && ok {
			t.Errorf("expected no principal, got %q", p.Subject)
		}
		if wantSubject != "" && (!ok || p.Subject != wantSubject) {
			t.Errorf("expected principal %q in context", wantSubject)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestGuardPublicRoute(t *testing.T) {
	h := Guard(newEngine(t, nil))(okHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("expected request id echo, got %q", rec.Header().Get(RequestIDHeader))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "1000" || rec.Header().Get("X-RateLimit-Remaining") != "999" {
		t.Fatalf("unexpected rate headers %v", rec.Header())
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Fatal("expected X-RateLimit-Reset")
	}
}

func TestGuardGeneratesRequestIDForInvalidInput(t *testing.T) {
	h := Guard(newEngine(t, nil))(okHandler(t, ""))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "bad id\r\ninjected")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	got := rec.Header().Get(RequestIDHeader)
	if got == "" || got == "bad id\r\ninjected" {
		t.Fatalf("expected generated request id, got %q", got)
	}
}

func TestGuardBearerAndSessionCookie(t *testing.T) {
	engine := newEngine(t, nil)
	h := Guard(engine, WithSessionCookie("sid"))(okHandler(t, "user-1"))

	pair, err := engine.IssueTokens(context.Background(), "user-1", authgate.IssueOptions{Roles: []string{"user"}})
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.Access.Value)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bearer: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	sid, err := engine.CreateSession(context.Background(), "user-1", map[string]any{"roles": []string{"user"}})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("session: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGuardDeniesWithoutCredential(t *testing.T) {
	h := Guard(newEngine(t, nil))(okHandler(t, "nobody"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set(RequestIDHeader, "req-401")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
	body := decodeBody(t, rec)
	if body.Error != "no_credential" || body.RequestID != "req-401" || body.Message == "" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestGuardForbiddenRole(t *testing.T) {
	engine := newEngine(t, nil)
	h := Guard(engine)(okHandler(t, "nobody"))

	pair, err := engine.IssueTokens(context.Background(), "user-1", authgate.IssueOptions{Roles: []string{"user"}})
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+pair.Access.Value)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body.Error != "insufficient_role" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestGuardBurstSetsRetryAfter(t *testing.T) {
	h := Guard(newEngine(t, nil))(okHandler(t, ""))

	var rec *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the fourth login, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", rec.Header().Get("Retry-After"))
	}
	if body := decodeBody(t, rec); body.Error != "burst_limited" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestGuardNilEngine(t *testing.T) {
	h := Guard(nil)(okHandler(t, "nobody"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireRoles("admin", "auditor")(next)

	tests := []struct {
		name      string
		principal *authgate.Principal
		want      int
	}{
		{name: "no principal", want: http.StatusUnauthorized},
		{name: "wrong role", principal: &authgate.Principal{Subject: "u", Roles: []string{"user"}}, want: http.StatusForbidden},
		{name: "second role matches", principal: &authgate.Principal{Subject: "u", Roles: []string{"auditor"}}, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.principal != nil {
				req = req.WithContext(authgate.WithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
