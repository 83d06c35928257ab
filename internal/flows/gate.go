package flows

import (
	"context"
	"errors"

	"github.com/edelzer/authgate/internal/rate"
	"github.com/edelzer/authgate/session"
	"github.com/edelzer/authgate/token"
)

// Stage names, in pipeline order.
const (
	StageBurst = "burst"
	StageRate  = "rate"
	StageAuth  = "auth"
	StageAuthz = "authz"
)

// GateFailureKind classifies gate failures for root-level mapping.
type GateFailureKind int

const (
	GateFailureNone GateFailureKind = iota
	GateFailureRateLimited
	GateFailureUnauthenticated
	GateFailureForbidden
)

// AuthFailure is the reason the auth stage rejected a request.
type AuthFailure int

const (
	AuthFailureNone AuthFailure = iota
	AuthFailureMalformed
	AuthFailureExpired
	AuthFailureBlacklisted
	AuthFailureFingerprintMismatch
	AuthFailureRevokedSubject
	AuthFailureNoCredential
	AuthFailureUnavailable
)

// AuthzFailure is the reason the authz stage rejected a request.
type AuthzFailure int

const (
	AuthzFailureNone AuthzFailure = iota
	AuthzFailureInsufficientRole
	AuthzFailureInactiveAccount
	AuthzFailureUnverified
)

// AuthMethod records which credential authenticated the request.
type AuthMethod string

const (
	AuthMethodBearer  AuthMethod = "bearer"
	AuthMethodSession AuthMethod = "session"
)

// GateRequest is the transport-neutral view of an inbound request.
type GateRequest struct {
	Method      string
	Path        string
	ClientIP    string
	BearerToken string
	SessionID   string
	Fingerprint string
	RequestID   string
}

// RouteRule is the resolved policy for a path.
type RouteRule struct {
	Public          bool
	Roles           []string
	RequireVerified bool
}

// AccountState is the account view used by the authz stage.
type AccountState struct {
	Roles    []string
	Active   bool
	Verified bool
}

// Identity is the authenticated caller.
type Identity struct {
	Subject   string
	Roles     []string
	Method    AuthMethod
	TokenID   string
	SessionID string
	Claims    *token.Claims
	Session   *session.Session
}

// GateResult carries either an identity or failure metadata. Rate is set
// whenever the rate stages ran, on allow and deny.
type GateResult struct {
	Failure  GateFailureKind
	Auth     AuthFailure
	Authz    AuthzFailure
	Rate     rate.Decision
	Identity *Identity
	Err      error
}

// GateDeps captures gate pipeline dependencies.
type GateDeps struct {
	CheckBurst     func(context.Context, rate.Identity) rate.Decision
	Acquire        func(context.Context, rate.Identity) rate.Decision
	Identify       func(string) (*token.Claims, bool)
	ValidateAccess func(ctx context.Context, tokenStr, fingerprint string) token.Result
	TouchSession   func(ctx context.Context, id string) (*session.Session, error)
	ResolveRoute   func(path string) RouteRule
	// LookupAccount is optional. Without it roles come from the credential and
	// every account counts as active and verified.
	LookupAccount func(ctx context.Context, subject string) (AccountState, bool, error)
	// Trace is optional; the returned func is called with the stage outcome.
	Trace func(ctx context.Context, stage string) (context.Context, func(outcome string))
}

// RunGate executes burst, rate, auth and authz stages in order and stops at the
// first denial.
func RunGate(ctx context.Context, req GateRequest, deps GateDeps) GateResult {
	id := rate.Identity{IP: req.ClientIP, Path: req.Path}

	var result GateResult
	stageCtx, end := trace(ctx, deps, StageBurst)
	burst := deps.CheckBurst(stageCtx, id)
	if !burst.Allowed {
		end("deny")
		return GateResult{Failure: GateFailureRateLimited, Rate: burst}
	}
	end("allow")

	if req.BearerToken != "" && deps.Identify != nil {
		if claims, ok := deps.Identify(req.BearerToken); ok {
			id.UserID = claims.Subject
		}
	}

	stageCtx, end = trace(ctx, deps, StageRate)
	result.Rate = deps.Acquire(stageCtx, id)
	if burst.Degraded {
		result.Rate.Degraded = true
	}
	if !result.Rate.Allowed {
		end("deny")
		result.Failure = GateFailureRateLimited
		return result
	}
	end("allow")

	rule := RouteRule{}
	if deps.ResolveRoute != nil {
		rule = deps.ResolveRoute(req.Path)
	}
	if rule.Public {
		return result
	}

	stageCtx, end = trace(ctx, deps, StageAuth)
	identity, reason, err := authenticate(stageCtx, req, deps)
	if identity == nil {
		end("deny")
		result.Failure = GateFailureUnauthenticated
		result.Auth = reason
		result.Err = err
		return result
	}
	end("allow")

	stageCtx, end = trace(ctx, deps, StageAuthz)
	authz, authErr := authorize(stageCtx, identity, rule, deps)
	if authErr != nil {
		end("error")
		result.Failure = GateFailureUnauthenticated
		result.Auth = AuthFailureUnavailable
		result.Err = authErr
		return result
	}
	if authz != AuthzFailureNone {
		end("deny")
		result.Failure = GateFailureForbidden
		result.Authz = authz
		result.Identity = identity
		return result
	}
	end("allow")

	result.Identity = identity
	return result
}

// authenticate tries the bearer token, then the session. When both fail the
// bearer reason wins if a bearer was presented.
func authenticate(ctx context.Context, req GateRequest, deps GateDeps) (*Identity, AuthFailure, error) {
	reason := AuthFailureNoCredential
	var cause error

	if req.BearerToken != "" {
		res := deps.ValidateAccess(ctx, req.BearerToken, req.Fingerprint)
		if res.Valid() {
			return &Identity{
				Subject: res.Claims.Subject,
				Roles:   append([]string(nil), res.Claims.Roles...),
				Method:  AuthMethodBearer,
				TokenID: res.Claims.ID,
				Claims:  res.Claims,
			}, AuthFailureNone, nil
		}
		reason = authFailureFromToken(res.Failure)
		cause = res.Err
	}

	if req.SessionID != "" && deps.TouchSession != nil {
		sess, err := deps.TouchSession(ctx, req.SessionID)
		if err == nil {
			return &Identity{
				Subject:   sess.UserID,
				Roles:     sess.Roles(),
				Method:    AuthMethodSession,
				SessionID: sess.ID,
				Session:   sess,
			}, AuthFailureNone, nil
		}
		if req.BearerToken == "" && !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrCorrupt) {
			reason = AuthFailureUnavailable
			cause = err
		}
	}

	return nil, reason, cause
}

func authorize(ctx context.Context, identity *Identity, rule RouteRule, deps GateDeps) (AuthzFailure, error) {
	state := AccountState{Roles: identity.Roles, Active: true, Verified: true}
	if deps.LookupAccount != nil {
		account, found, err := deps.LookupAccount(ctx, identity.Subject)
		if err != nil {
			return AuthzFailureNone, err
		}
		if !found {
			return AuthzFailureInactiveAccount, nil
		}
		state = account
		identity.Roles = append([]string(nil), account.Roles...)
	}

	if len(rule.Roles) > 0 && !hasAnyRole(state.Roles, rule.Roles) {
		return AuthzFailureInsufficientRole, nil
	}
	if !state.Active {
		return AuthzFailureInactiveAccount, nil
	}
	if rule.RequireVerified && !state.Verified {
		return AuthzFailureUnverified, nil
	}
	return AuthzFailureNone, nil
}

func hasAnyRole(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func authFailureFromToken(f token.Failure) AuthFailure {
	switch f {
	case token.FailureExpired:
		return AuthFailureExpired
	case token.FailureBlacklisted:
		return AuthFailureBlacklisted
	case token.FailureFingerprintMismatch:
		return AuthFailureFingerprintMismatch
	case token.FailureRevokedSubject:
		return AuthFailureRevokedSubject
	case token.FailureUnavailable:
		return AuthFailureUnavailable
	default:
		return AuthFailureMalformed
	}
}

func trace(ctx context.Context, deps GateDeps, stage string) (context.Context, func(string)) {
	if deps.Trace == nil {
		return ctx, func(string) {}
	}
	return deps.Trace(ctx, stage)
}
