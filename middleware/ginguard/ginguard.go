// Package ginguard adapts authgate.Engine to gin.
package ginguard

import (
	"github.com/edelzer/authgate"
	"github.com/edelzer/authgate/middleware"
	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the *authgate.Principal.
const PrincipalKey = "authgate.principal"

// Guard returns a gin handler that runs engine.Check and aborts denied
// requests with the JSON error body. The principal is stored both under
// [PrincipalKey] and in the request context.
func Guard(engine *authgate.Engine, opts ...middleware.Option) gin.HandlerFunc {
	o := middleware.NewOptions(opts...)
	return func(c *gin.Context) {
		requestID := middleware.RequestID(c.Request)
		c.Header(middleware.RequestIDHeader, requestID)

		if engine == nil {
			abort(c, authgate.ErrEngineNotReady, nil, requestID)
			return
		}

		principal, decision, err := engine.Check(c.Request.Context(), middleware.BuildRequest(c.Request, o, requestID))
		if err != nil {
			abort(c, err, decision, requestID)
			return
		}

		middleware.SetRateLimitHeaders(c.Writer.Header(), decision)
		if principal != nil {
			c.Set(PrincipalKey, principal)
			c.Request = c.Request.WithContext(authgate.WithPrincipal(c.Request.Context(), principal))
		}
		c.Next()
	}
}

// Principal returns the principal stored by [Guard].
func Principal(c *gin.Context) (*authgate.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*authgate.Principal)
	return p, ok && p != nil
}

// RequireRoles aborts with 403 unless the principal holds one of roles.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Writer.Header().Get(middleware.RequestIDHeader)
		p, ok := Principal(c)
		if !ok {
			abort(c, &authgate.AuthenticationError{Reason: authgate.ReasonNoCredential}, nil, requestID)
			return
		}
		for _, role := range roles {
			if p.HasRole(role) {
				c.Next()
				return
			}
		}
		abort(c, &authgate.AuthorizationError{Reason: authgate.ReasonInsufficientRole, Subject: p.Subject}, nil, requestID)
	}
}

func abort(c *gin.Context, err error, d *authgate.Decision, requestID string) {
	middleware.SetRateLimitHeaders(c.Writer.Header(), d)
	c.AbortWithStatusJSON(authgate.HTTPStatus(err), middleware.NewErrorBody(err, requestID))
}
