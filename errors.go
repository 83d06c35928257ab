package authgate

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnauthenticated is matched by every [*AuthenticationError].
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is matched by every [*AuthorizationError].
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is matched by every [*RateLimitError].
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountNotFound is returned by an [AccountProvider] for unknown subjects.
	ErrAccountNotFound = errors.New("account not found")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// AuthReason is why a request could not be authenticated.
type AuthReason string

const (
	ReasonMalformedToken      AuthReason = "malformed_token"
	ReasonExpiredToken        AuthReason = "expired_token"
	ReasonBlacklisted         AuthReason = "token_blacklisted"
	ReasonFingerprintMismatch AuthReason = "fingerprint_mismatch"
	ReasonRevokedSubject      AuthReason = "subject_revoked"
	ReasonNoCredential        AuthReason = "no_credential"
	// ReasonAuthUnavailable means a token or session lookup failed and the
	// request was refused rather than let through.
	ReasonAuthUnavailable AuthReason = "auth_unavailable"
)

// AuthzReason is why an authenticated request was refused.
type AuthzReason string

const (
	ReasonInsufficientRole AuthzReason = "insufficient_role"
	ReasonInactiveAccount  AuthzReason = "inactive_account"
	ReasonUnverified       AuthzReason = "unverified_account"
)

// RateReason distinguishes main-window and burst denials.
type RateReason string

const (
	ReasonMainWindowExceeded RateReason = "rate_limited"
	ReasonBurstExceeded      RateReason = "burst_limited"
)

// AuthenticationError is returned when no credential authenticated the request.
// Err, when set, is the underlying token or store error.
type AuthenticationError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + string(e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func (e *AuthenticationError) Is(target error) bool { return target == ErrUnauthenticated }

// AuthorizationError is returned when the caller is known but not allowed.
type AuthorizationError struct {
	Reason  AuthzReason
	Subject string
}

func (e *AuthorizationError) Error() string {
	return "authorization failed: " + string(e.Reason)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrForbidden }

// RateLimitError is returned when a rate-limit window denied the request.
type RateLimitError struct {
	Reason     RateReason
	Rule       string
	RetryAfter time.Duration
	Limit      int64
	Reset      time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rule %q, retry after %s", e.Reason, e.Rule, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// HTTPStatus maps a gate error to its response status: 429 for rate limits,
// 401 for authentication failures (store outages included), 403 for
// authorization failures and 500 for anything else.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the stable machine-readable code for err.
func ErrorCode(err error) string {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return string(rl.Reason)
	}
	var authn *AuthenticationError
	if errors.As(err, &authn) {
		return string(authn.Reason)
	}
	var authz *AuthorizationError
	if errors.As(err, &authz) {
		return string(authz.Reason)
	}
	if err == nil {
		return ""
	}
	return "internal_error"
}
