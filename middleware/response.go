package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/edelzer/authgate"
)

// ErrorBody is the JSON payload of every denied request.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// NewErrorBody maps err onto its stable code and a client-facing message.
func NewErrorBody(err error, requestID string) ErrorBody {
	return ErrorBody{
		Error:     authgate.ErrorCode(err),
		Message:   messageFor(authgate.HTTPStatus(err)),
		RequestID: requestID,
	}
}

func messageFor(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "Too many requests. Please retry later."
	case http.StatusUnauthorized:
		return "Authentication required."
	case http.StatusForbidden:
		return "Insufficient permissions."
	default:
		return "Internal server error."
	}
}

// SetRateLimitHeaders writes X-RateLimit-* for d, and Retry-After when d
// carries a retry delay. A nil decision writes nothing.
func SetRateLimitHeaders(h http.Header, d *authgate.Decision) {
	if d == nil {
		return
	}
	if d.Limit > 0 {
		h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(d.Remaining, 0), 10))
		if !d.Reset.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		}
	}
	if !d.Allowed && d.RetryAfter > 0 {
		h.Set("Retry-After", strconv.FormatInt(retrySeconds(d), 10))
	}
}

func retrySeconds(d *authgate.Decision) int64 {
	return int64(math.Ceil(d.RetryAfter.Seconds()))
}

// WriteDenied writes the status, headers and JSON body for a gate denial.
func WriteDenied(w http.ResponseWriter, err error, d *authgate.Decision, requestID string) {
	SetRateLimitHeaders(w.Header(), d)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(authgate.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(NewErrorBody(err, requestID))
}
