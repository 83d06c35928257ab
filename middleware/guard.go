package middleware

import (
	"net/http"

	"github.com/edelzer/authgate"
)

// Guard returns net/http middleware that runs every request through
// engine.Check. Denied requests get the JSON error body and never reach next.
// Allowed requests carry the principal in their context (see
// [authgate.PrincipalFromContext]) and the X-RateLimit-* headers.
func Guard(engine *authgate.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := NewOptions(opts...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := RequestID(r)
			w.Header().Set(RequestIDHeader, requestID)

			if engine == nil {
				WriteDenied(w, authgate.ErrEngineNotReady, nil, requestID)
				return
			}

			principal, decision, err := engine.Check(r.Context(), BuildRequest(r, o, requestID))
			if err != nil {
				WriteDenied(w, err, decision, requestID)
				return
			}

			SetRateLimitHeaders(w.Header(), decision)
			ctx := r.Context()
			if principal != nil {
				ctx = authgate.WithPrincipal(ctx, principal)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects requests whose principal holds none of roles. It is
// meant to sit behind [Guard] on handlers that need a tighter policy than the
// route table gives them.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := w.Header().Get(RequestIDHeader)
			p, ok := authgate.PrincipalFromContext(r.Context())
			if !ok {
				WriteDenied(w, &authgate.AuthenticationError{Reason: authgate.ReasonNoCredential}, nil, requestID)
				return
			}
			for _, role := range roles {
				if p.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteDenied(w, &authgate.AuthorizationError{Reason: authgate.ReasonInsufficientRole, Subject: p.Subject}, nil, requestID)
		})
	}
}
