package middleware

import (
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/edelzer/authgate"
	"github.com/google/uuid"
)

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// ValidRequestID reports whether a caller-supplied request id may be echoed
// back and logged: 1 to 128 characters from [a-zA-Z0-9_-].
func ValidRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}

// RequestID returns the inbound X-Request-ID when it is well formed, and a
// fresh UUID otherwise.
func RequestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); ValidRequestID(id) {
		return id
	}
	return uuid.NewString()
}

// BuildRequest extracts the gate inputs from r.
func BuildRequest(r *http.Request, o Options, requestID string) authgate.Request {
	req := authgate.Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		ClientIP:    ClientIP(r, o.TrustProxy, o.TrustedProxyCount),
		RequestID:   requestID,
		Fingerprint: r.Header.Get(o.FingerprintHeader),
	}
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		req.BearerToken = token
	}
	if c, err := r.Cookie(o.SessionCookie); err == nil {
		req.SessionID = c.Value
	}
	return req
}

// ClientIP resolves the caller address. Forwarding headers are consulted only
// when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
			if ip := strings.TrimSpace(r.Header.Get(h)); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	return HostOnly(r.RemoteAddr)
}

// HostOnly strips the port from a host:port address.
func HostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ipFromXFF picks the entry left of the trusted proxies in
// "client, proxy1, proxy2".
func ipFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	ips := strings.Split(xff, ",")
	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := len(ips) - proxies - 1
	if idx < 0 {
		idx = 0
	}
	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
