package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/edelzer/authgate/internal"
	"github.com/edelzer/authgate/internal/logging"
	"github.com/edelzer/authgate/jwt"
	"github.com/edelzer/authgate/store"
)

const (
	defaultAccessTTL     = 30 * time.Minute
	defaultRefreshTTL    = 7 * 24 * time.Hour
	defaultRevocationTTL = 30 * 24 * time.Hour
	// blacklistFallbackTTL applies when a revoked token carries no exp claim.
	blacklistFallbackTTL = 24 * time.Hour
)

// Config holds token lifetimes.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RevocationTTL is how long a revoke-all marker is kept. It must cover the
	// longest token lifetime.
	RevocationTTL time.Duration
}

// DefaultConfig returns 30 minute access tokens, 7 day refresh tokens and a
// 30 day revocation window.
func DefaultConfig() Config {
	return Config{
		AccessTTL:     defaultAccessTTL,
		RefreshTTL:    defaultRefreshTTL,
		RevocationTTL: defaultRevocationTTL,
	}
}

// Validate checks lifetimes for consistency.
func (c Config) Validate() error {
	if c.AccessTTL <= 0 {
		return errors.New("token: AccessTTL must be > 0")
	}
	if c.RefreshTTL <= 0 {
		return errors.New("token: RefreshTTL must be > 0")
	}
	if c.RevocationTTL < c.RefreshTTL || c.RevocationTTL < c.AccessTTL {
		return errors.New("token: RevocationTTL must be >= RefreshTTL and AccessTTL")
	}
	return nil
}

// Token is a signed token string with its decoded claims.
type Token struct {
	Value  string
	Claims *jwt.Claims
}

// Pair is an access token with its companion refresh token.
type Pair struct {
	Access  Token
	Refresh Token
}

// IssueOptions carries the optional claims of a new token.
type IssueOptions struct {
	Roles []string
	Extra map[string]any
	// Fingerprint is the raw device fingerprint. Only its digest is embedded.
	Fingerprint string
}

// Result is the outcome of [Service.Validate]. Exactly one of Claims (valid) or
// Failure != FailureNone (rejected) holds; Err carries the matching sentinel.
type Result struct {
	Claims  *Claims
	Failure Failure
	Err     error
}

// Claims aliases the wire claims for callers that only import token.
type Claims = jwt.Claims

// Valid reports whether the token passed every check.
func (r Result) Valid() bool {
	return r.Failure == FailureNone && r.Claims != nil
}

// Service issues, validates, rotates and revokes tokens over an [store.ExpiringStore].
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	store store.ExpiringStore
	jwt   *jwt.Manager
	cfg   Config
	log   logging.Logger
}

// NewService wires a token service. A nil log drops records.
func NewService(st store.ExpiringStore, manager *jwt.Manager, cfg Config, log logging.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("token: nil store")
	}
	if manager == nil {
		return nil, errors.New("token: nil jwt manager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: st, jwt: manager, cfg: cfg, log: log}, nil
}

// Config returns the lifetimes in use.
func (s *Service) Config() Config {
	return s.cfg
}

// IssueAccessToken signs a short-lived access token. Nothing is persisted.
//
//	Performance: one signature, no store calls.
func (s *Service) IssueAccessToken(ctx context.Context, subject string, opts IssueOptions) (Token, error) {
	return s.issue(jwt.TypeAccess, subject, opts.Roles, opts.Extra, fingerprintClaim(opts.Fingerprint), s.cfg.AccessTTL)
}

// IssueRefreshToken signs a refresh token and records refresh_token:{jti} -> subject
// for its lifetime.
//
//	Performance: one signature + 1 SETEX.
func (s *Service) IssueRefreshToken(ctx context.Context, subject string, opts IssueOptions) (Token, error) {
	tok, err := s.issue(jwt.TypeRefresh, subject, opts.Roles, opts.Extra, fingerprintClaim(opts.Fingerprint), s.cfg.RefreshTTL)
	if err != nil {
		return Token{}, err
	}
	if err := s.store.SetEx(ctx, refreshKey(tok.Claims.ID), s.cfg.RefreshTTL, subject); err != nil {
		s.logStoreError(ctx, "refresh token registration failed", err, "subject", subject)
		return Token{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return tok, nil
}

// IssuePair issues an access token and a refresh token with the same options.
func (s *Service) IssuePair(ctx context.Context, subject string, opts IssueOptions) (Pair, error) {
	access, err := s.IssueAccessToken(ctx, subject, opts)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.IssueRefreshToken(ctx, subject, opts)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// Validate runs the ordered token checks and stops at the first failure:
//
//  1. signature and structure (FailureMalformed)
//  2. expiry (FailureExpired)
//  3. blacklist (FailureBlacklisted)
//  4. device fingerprint, when expectedFingerprint is non-empty (FailureFingerprintMismatch)
//  5. subject revocation marker (FailureRevokedSubject)
//  6. refresh tokens only: the refresh mapping must exist (FailureBlacklisted)
//
// A store error in steps 3, 5 or 6 yields FailureUnavailable.
//
//	Performance: 2 GET for access tokens, 3 GET for refresh tokens.
func (s *Service) Validate(ctx context.Context, tokenStr, expectedFingerprint string) Result {
	claims, err := s.jwt.Parse(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return failed(FailureExpired, err)
		}
		return failed(FailureMalformed, err)
	}

	_, blacklisted, err := s.store.Get(ctx, blacklistKey(claims.ID))
	if err != nil {
		return s.unavailable(ctx, claims, err)
	}
	if blacklisted {
		return failed(FailureBlacklisted, nil)
	}

	if expectedFingerprint != "" {
		want := jwt.FingerprintHash(expectedFingerprint)
		if subtle.ConstantTimeCompare([]byte(want), []byte(claims.Fingerprint)) != 1 {
			return failed(FailureFingerprintMismatch, nil)
		}
	}

	raw, revoked, err := s.store.Get(ctx, revokedKey(claims.Subject))
	if err != nil {
		return s.unavailable(ctx, claims, err)
	}
	if revoked && issuedBefore(claims, raw) {
		return failed(FailureRevokedSubject, nil)
	}

	if claims.IsRefresh() {
		owner, ok, err := s.store.Get(ctx, refreshKey(claims.ID))
		if err != nil {
			return s.unavailable(ctx, claims, err)
		}
		if !ok || owner != claims.Subject {
			return failed(FailureBlacklisted, nil)
		}
	}

	return Result{Claims: claims}
}

// ValidateAccess is [Service.Validate] restricted to access tokens.
func (s *Service) ValidateAccess(ctx context.Context, tokenStr, expectedFingerprint string) Result {
	return s.validateKind(ctx, tokenStr, expectedFingerprint, jwt.TypeAccess)
}

// ValidateRefresh is [Service.Validate] restricted to refresh tokens.
func (s *Service) ValidateRefresh(ctx context.Context, tokenStr, expectedFingerprint string) Result {
	return s.validateKind(ctx, tokenStr, expectedFingerprint, jwt.TypeRefresh)
}

func (s *Service) validateKind(ctx context.Context, tokenStr, expectedFingerprint, kind string) Result {
	res := s.Validate(ctx, tokenStr, expectedFingerprint)
	if res.Valid() && res.Claims.Type != kind {
		return failed(FailureMalformed, fmt.Errorf("expected %s token, got %s", kind, res.Claims.Type))
	}
	return res
}

// Identify returns the subject claims of a correctly signed, unexpired access
// token without touching the store. It is used to key per-user rate limits
// before full validation runs.
func (s *Service) Identify(tokenStr string) (*Claims, bool) {
	claims, err := s.jwt.Parse(tokenStr)
	if err != nil || claims.Type != jwt.TypeAccess {
		return nil, false
	}
	return claims, true
}

// Rotate exchanges a valid refresh token for a new pair. Subject, roles,
// fingerprint and extension claims carry forward. The old token is consumed
// atomically: of two concurrent rotations of the same token exactly one
// succeeds and the other gets [ErrBlacklisted].
//
//	Performance: 3 GET + 1 EVALSHA.
//	Security: a replayed refresh token always fails with ErrBlacklisted.
func (s *Service) Rotate(ctx context.Context, refreshStr, fingerprint string) (Pair, error) {
	res := s.ValidateRefresh(ctx, refreshStr, fingerprint)
	if !res.Valid() {
		if res.Failure == FailureBlacklisted {
			s.log.Warn(ctx, "refresh token replay rejected", "reason", res.Failure.String())
		}
		return Pair{}, res.Err
	}
	old := res.Claims

	access, err := s.issue(jwt.TypeAccess, old.Subject, old.Roles, old.Extra, old.Fingerprint, s.cfg.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.issue(jwt.TypeRefresh, old.Subject, old.Roles, old.Extra, old.Fingerprint, s.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}

	swapped, err := s.store.SwapRefresh(ctx, store.SwapRequest{
		OldKey:       refreshKey(old.ID),
		TombstoneKey: blacklistKey(old.ID),
		NewKey:       refreshKey(refresh.Claims.ID),
		Owner:        old.Subject,
		TombstoneTTL: s.remaining(old),
		NewTTL:       s.cfg.RefreshTTL,
	})
	if err != nil {
		s.logStoreError(ctx, "refresh rotation failed", err, "subject", old.Subject, "jti", old.ID)
		return Pair{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !swapped {
		s.log.Warn(ctx, "refresh token replay rejected", "subject", old.Subject, "jti", old.ID)
		return Pair{}, ErrBlacklisted
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// Revoke blacklists a single token for the rest of its lifetime. Expiry is not
// enforced, so an expired token is accepted and treated as a no-op. A token
// without exp is blacklisted for 24 hours. Revoking a refresh token also drops
// its refresh mapping.
func (s *Service) Revoke(ctx context.Context, tokenStr string) error {
	claims, err := s.jwt.ParseIgnoringExpiry(tokenStr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	ttl := blacklistFallbackTTL
	if claims.ExpiresAt != nil {
		ttl = s.remaining(claims)
		if ttl <= 0 {
			return nil
		}
	}

	if err := s.store.SetEx(ctx, blacklistKey(claims.ID), ttl, "1"); err != nil {
		s.logStoreError(ctx, "token revoke failed", err, "subject", claims.Subject, "jti", claims.ID)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if claims.IsRefresh() {
		if _, err := s.store.Del(ctx, refreshKey(claims.ID)); err != nil {
			s.logStoreError(ctx, "refresh mapping delete failed", err, "subject", claims.Subject, "jti", claims.ID)
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
	}
	s.log.Info(ctx, "token revoked", "subject", claims.Subject, "jti", claims.ID, "type", claims.Type)
	return nil
}

// RevokeAllForSubject invalidates every token of subject issued before now.
// Tokens issued in the same second or later stay valid.
//
//	Performance: 1 SETEX.
func (s *Service) RevokeAllForSubject(ctx context.Context, subject string) error {
	if subject == "" {
		return errors.New("token: empty subject")
	}
	now := s.jwt.Now().Unix()
	if err := s.store.SetEx(ctx, revokedKey(subject), s.cfg.RevocationTTL, strconv.FormatInt(now, 10)); err != nil {
		s.logStoreError(ctx, "subject revoke failed", err, "subject", subject)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.log.Info(ctx, "subject revoked", "subject", subject, "revoked_at", now)
	return nil
}

func (s *Service) issue(kind, subject string, roles []string, extra map[string]any, fp string, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("token: empty subject")
	}
	jti, err := internal.NewTokenID()
	if err != nil {
		return Token{}, fmt.Errorf("token: generate id: %w", err)
	}

	now := s.jwt.Now()
	claims := &jwt.Claims{
		Type:        kind,
		Fingerprint: fp,
		Roles:       append([]string(nil), roles...),
	}
	claims.Subject = subject
	claims.ID = jti
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if len(extra) > 0 {
		claims.Extra = make(map[string]any, len(extra))
		for k, v := range extra {
			claims.Extra[k] = v
		}
	}

	value, err := s.jwt.Sign(claims)
	if err != nil {
		return Token{}, fmt.Errorf("token: sign: %w", err)
	}
	return Token{Value: value, Claims: claims}, nil
}

// remaining is the time until the validator stops accepting claims, leeway included.
func (s *Service) remaining(claims *Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return blacklistFallbackTTL
	}
	return claims.ExpiresAt.Sub(s.jwt.Now()) + s.jwt.Leeway()
}

func (s *Service) unavailable(ctx context.Context, claims *Claims, err error) Result {
	s.logStoreError(ctx, "token validation store failure, failing closed", err, "subject", claims.Subject, "jti", claims.ID)
	return Result{Failure: FailureUnavailable, Err: fmt.Errorf("%w: %w", ErrStoreUnavailable, err)}
}

func (s *Service) logStoreError(ctx context.Context, msg string, err error, args ...any) {
	if se, ok := store.AsStoreError(err); ok {
		args = append(args, se.LogArgs()...)
	} else {
		args = append(args, "err", err)
	}
	s.log.Error(ctx, msg, args...)
}

func failed(f Failure, cause error) Result {
	err := f.Sentinel()
	if cause != nil {
		err = fmt.Errorf("%w: %v", err, cause)
	}
	return Result{Failure: f, Err: err}
}

func fingerprintClaim(raw string) string {
	if raw == "" {
		return ""
	}
	return jwt.FingerprintHash(raw)
}

// issuedBefore compares iat with the revocation marker at whole-second
// precision. A missing iat or an unreadable marker counts as revoked.
func issuedBefore(claims *Claims, marker string) bool {
	revokedAt, err := strconv.ParseFloat(marker, 64)
	if err != nil || math.IsNaN(revokedAt) {
		return true
	}
	if claims.IssuedAt == nil {
		return true
	}
	return claims.IssuedAt.Unix() < int64(math.Floor(revokedAt))
}
