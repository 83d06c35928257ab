package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrUnavailable marks a store call that failed because Redis could not be reached
	// or returned an unexpected error.
	ErrUnavailable = errors.New("store unavailable")
	// ErrTimeout marks a store call that exceeded its deadline.
	ErrTimeout = errors.New("store timeout")
)

// Kind classifies a [StoreError].
type Kind uint8

const (
	// KindUnavailable is used for connection failures and unexpected replies.
	KindUnavailable Kind = iota + 1
	// KindTimeout is used when the context deadline or a socket timeout fired.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	default:
		return "unavailable"
	}
}

// StoreError carries enough context to diagnose store degradation: the operation,
// the key it touched and how long the call ran before failing.
type StoreError struct {
	Kind    Kind
	Op      string
	Key     string
	Latency time.Duration
	Err     error
}

func newStoreError(op, key string, latency time.Duration, err error) *StoreError {
	kind := KindUnavailable
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &StoreError{Kind: kind, Op: op, Key: key, Latency: latency, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%v: %s %s after %s: %v", e.sentinel(), e.Op, e.Key, e.Latency, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying client error.
func (e *StoreError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

// LogArgs returns slog-style key/value pairs describing the failure.
func (e *StoreError) LogArgs() []any {
	return []any{
		"op", e.Op,
		"key", e.Key,
		"latency", e.Latency,
		"kind", e.Kind.String(),
		"err", e.Err,
	}
}

func (e *StoreError) sentinel() error {
	if e.Kind == KindTimeout {
		return ErrTimeout
	}
	return ErrUnavailable
}

// IsFailure reports whether err is any classified store failure.
func IsFailure(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// AsStoreError extracts the [StoreError] from err, if any.
func AsStoreError(err error) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
