package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		trust   bool
		count   int
		want    string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "ipv6 remote addr", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "forwarded ignored without trust", remote: "192.0.2.1:1234", headers: map[string]string{"X-Forwarded-For": "198.51.100.9"}, want: "192.0.2.1"},
		{name: "single forwarded", remote: "10.0.0.1:1", trust: true, headers: map[string]string{"X-Forwarded-For": "198.51.100.9"}, want: "198.51.100.9"},
		{name: "spoofed left entry skipped", remote: "10.0.0.1:1", trust: true, headers: map[string]string{"X-Forwarded-For": "6.6.6.6, 198.51.100.9, 10.0.0.2"}, want: "198.51.100.9"},
		{name: "two trusted proxies", remote: "10.0.0.1:1", trust: true, count: 2, headers: map[string]string{"X-Forwarded-For": "198.51.100.9, 10.0.0.3, 10.0.0.2"}, want: "198.51.100.9"},
		{name: "real ip", remote: "10.0.0.1:1", trust: true, headers: map[string]string{"X-Real-IP": "198.51.100.10"}, want: "198.51.100.10"},
		{name: "cloudflare", remote: "10.0.0.1:1", trust: true, headers: map[string]string{"CF-Connecting-IP": "198.51.100.11"}, want: "198.51.100.11"},
		{name: "garbage forwarded falls back", remote: "10.0.0.1:1", trust: true, headers: map[string]string{"X-Forwarded-For": "not-an-ip"}, want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tt.trust, tt.count); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBuildRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/users/me?x=1", nil)
	r.RemoteAddr = "192.0.2.5:9000"
	r.Header.Set("Authorization", "bearer abc.def.ghi")
	r.Header.Set("X-Client-FP", "device-1")
	r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "sess-1"})

	req := BuildRequest(r, NewOptions(WithFingerprintHeader("X-Client-FP")), "rid")
	if req.Method != http.MethodPost || req.Path != "/api/v1/users/me" {
		t.Fatalf("unexpected method/path %s %s", req.Method, req.Path)
	}
	if req.BearerToken != "abc.def.ghi" || req.SessionID != "sess-1" || req.Fingerprint != "device-1" {
		t.Fatalf("unexpected credentials %+v", req)
	}
	if req.ClientIP != "192.0.2.5" || req.RequestID != "rid" {
		t.Fatalf("unexpected ip/request id %+v", req)
	}
}

func TestValidRequestID(t *testing.T) {
	valid := []string{"rid", "trace_01-AB", strings.Repeat("x", 128)}
	for _, id := range valid {
		if !ValidRequestID(id) {
			t.Fatalf("expected %q to be valid", id)
		}
	}
	invalid := []string{"", "bad id", "line\nbreak", "a/b", strings.Repeat("x", 129)}
	for _, id := range invalid {
		if ValidRequestID(id) {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Bearer tok", "tok", true},
		{"Bearer ", "", false},
		{"Basic dXNlcg==", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bearerToken(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("bearerToken(%q) = %q, %v", tt.in, got, ok)
		}
	}
}
