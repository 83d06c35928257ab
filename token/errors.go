package token

import "errors"

var (
	// ErrMalformedToken covers bad structure, bad signature and wrong token kind.
	ErrMalformedToken = errors.New("malformed token")
	// ErrExpiredToken is returned for authentic tokens past their exp claim.
	ErrExpiredToken = errors.New("expired token")
	// ErrBlacklisted is returned for revoked or already rotated tokens.
	ErrBlacklisted = errors.New("token blacklisted")
	// ErrFingerprintMismatch is returned when the presented device fingerprint does
	// not match the fp claim.
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")
	// ErrRevokedSubject is returned for tokens issued before a revoke-all marker.
	ErrRevokedSubject = errors.New("subject revoked")
	// ErrStoreUnavailable is returned when a required store lookup failed.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// Failure classifies why [Service.Validate] rejected a token.
type Failure uint8

const (
	// FailureNone marks a valid token.
	FailureNone Failure = iota
	FailureMalformed
	FailureExpired
	FailureBlacklisted
	FailureFingerprintMismatch
	FailureRevokedSubject
	FailureUnavailable
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureMalformed:
		return "malformed"
	case FailureExpired:
		return "expired"
	case FailureBlacklisted:
		return "blacklisted"
	case FailureFingerprintMismatch:
		return "fingerprint_mismatch"
	case FailureRevokedSubject:
		return "revoked_subject"
	case FailureUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Sentinel returns the package error matching f, or nil for [FailureNone].
func (f Failure) Sentinel() error {
	switch f {
	case FailureNone:
		return nil
	case FailureMalformed:
		return ErrMalformedToken
	case FailureExpired:
		return ErrExpiredToken
	case FailureBlacklisted:
		return ErrBlacklisted
	case FailureFingerprintMismatch:
		return ErrFingerprintMismatch
	case FailureRevokedSubject:
		return ErrRevokedSubject
	default:
		return ErrStoreUnavailable
	}
}
