package authgate

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/edelzer/authgate/internal/audit"
	"github.com/edelzer/authgate/internal/flows"
	"github.com/edelzer/authgate/internal/logging"
	"github.com/edelzer/authgate/internal/rate"
	"github.com/edelzer/authgate/session"
	"github.com/edelzer/authgate/store"
	"github.com/edelzer/authgate/token"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/edelzer/authgate"

// Engine is the request gate. It composes the rate limiter, token service,
// session store and account checks over one shared store.
//
// Engine keeps no per-request mutable state; all methods are safe for
// concurrent use once [Builder.Build] returns.
type Engine struct {
	config   Config
	store    *store.Store
	tokens   *token.Service
	sessions *session.Store
	limiter  *rate.Limiter
	accounts AccountProvider
	audit    *audit.Dispatcher
	metrics  *Metrics
	log      logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
	deps     flows.Deps
}

// Init verifies the store and preloads its scripts.
func (e *Engine) Init(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	return e.store.Init(ctx)
}

// Health pings the store and reports its latency.
func (e *Engine) Health(ctx context.Context) (time.Duration, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	return e.store.Ping(ctx)
}

// Close drains pending audit events. The store is left open; it belongs to
// whoever passed it to the [Builder].
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}
	return e.metrics.Snapshot()
}

// Tokens exposes the token service for flows the engine does not wrap.
func (e *Engine) Tokens() *token.Service {
	return e.tokens
}

// Sessions exposes the session store.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Check runs req through the burst, rate, auth and authz stages. On allow it
// returns the caller's principal (nil for public routes) and the rate-limit
// decision. On deny it returns a [*RateLimitError], [*AuthenticationError] or
// [*AuthorizationError] together with the decision. Store failures never
// escape raw: the rate stages fail open and the auth stage fails closed.
//
//	Flow: burst check -> atomic window acquire -> bearer or session -> route and account policy
//	Performance: 3 to 5 store commands on allow; an IP window denial adds 1 escalation.
func (e *Engine) Check(ctx context.Context, req Request) (*Principal, *Decision, error) {
	if e == nil || e.tokens == nil {
		return nil, nil, ErrEngineNotReady
	}

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "authgate.Check", trace.WithAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
	))
	defer span.End()

	res := flows.RunGate(ctx, flows.GateRequest{
		Method:      req.Method,
		Path:        req.Path,
		ClientIP:    req.ClientIP,
		BearerToken: req.BearerToken,
		SessionID:   req.SessionID,
		Fingerprint: req.Fingerprint,
		RequestID:   req.RequestID,
	}, e.deps.Gate)
	e.metrics.Observe(MetricCheckLatency, time.Since(start))

	decision := decisionFromRate(res.Rate)
	if decision.Degraded {
		e.metricInc(MetricRateLimitDegraded)
		e.emitAudit(ctx, audit.Event{
			EventType: audit.EventRateLimitDegraded,
			IP:        req.ClientIP,
			Path:      req.Path,
			RequestID: req.RequestID,
			Success:   false,
			Reason:    "store_unavailable",
		})
	}

	if err := e.gateError(ctx, req, res); err != nil {
		code := ErrorCode(err)
		span.SetAttributes(attribute.String("authgate.denied", code))
		if code == string(ReasonAuthUnavailable) {
			span.SetStatus(codes.Error, code)
		}
		return nil, decision, err
	}

	e.metricInc(MetricCheckAllowed)
	if res.Identity == nil {
		return nil, decision, nil
	}

	p := principalFromIdentity(res.Identity)
	span.SetAttributes(
		attribute.String("enduser.id", p.Subject),
		attribute.String("authgate.auth_method", string(p.AuthMethod)),
	)
	return p, decision, nil
}

func (e *Engine) gateError(ctx context.Context, req Request, res flows.GateResult) error {
	switch res.Failure {
	case flows.GateFailureNone:
		return nil

	case flows.GateFailureRateLimited:
		reason := ReasonMainWindowExceeded
		if res.Rate.Reason == rate.ReasonBurst {
			reason = ReasonBurstExceeded
			e.metricInc(MetricBurstLimited)
		} else {
			e.metricInc(MetricRateLimited)
		}
		e.emitDenied(ctx, req, "", string(reason), map[string]string{
			"rule":          res.Rate.Rule,
			"retry_after":   strconv.FormatInt(int64(res.Rate.RetryAfter/time.Second), 10),
			"penalty_level": strconv.FormatInt(res.Rate.PenaltyLevel, 10),
		})
		return &RateLimitError{
			Reason:     reason,
			Rule:       res.Rate.Rule,
			RetryAfter: res.Rate.RetryAfter,
			Limit:      res.Rate.Limit,
			Reset:      res.Rate.Reset,
		}

	case flows.GateFailureUnauthenticated:
		reason := authReason(res.Auth)
		if reason == ReasonAuthUnavailable {
			e.metricInc(MetricAuthUnavailable)
			args := []any{"ip", req.ClientIP, "path", req.Path, "request_id", req.RequestID}
			if se, ok := store.AsStoreError(res.Err); ok {
				args = append(args, se.LogArgs()...)
			} else if res.Err != nil {
				args = append(args, "err", res.Err)
			}
			e.log.Error(ctx, "request refused: credential lookup failed", args...)
		} else {
			e.metricInc(MetricAuthFailure)
		}
		e.emitDenied(ctx, req, "", string(reason), nil)
		return &AuthenticationError{Reason: reason, Err: res.Err}

	case flows.GateFailureForbidden:
		e.metricInc(MetricAuthzDenied)
		reason := authzReason(res.Authz)
		subject := ""
		if res.Identity != nil {
			subject = res.Identity.Subject
		}
		e.emitDenied(ctx, req, subject, string(reason), nil)
		return &AuthorizationError{Reason: reason, Subject: subject}
	}

	return ErrEngineNotReady
}

// IssueTokens signs an access and refresh token for subject and records the
// refresh token. Typically called by a login handler after the password check.
func (e *Engine) IssueTokens(ctx context.Context, subject string, opts IssueOptions) (TokenPair, error) {
	if e == nil || e.tokens == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	pair, err := e.tokens.IssuePair(ctx, subject, opts)
	if err != nil {
		return TokenPair{}, err
	}
	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, audit.Event{
		EventType: audit.EventTokenIssued,
		Subject:   subject,
		TokenID:   pair.Refresh.Claims.ID,
		Success:   true,
	})
	return pair, nil
}

// Refresh rotates refreshToken into a new pair. A replayed or concurrently
// rotated token fails with an [*AuthenticationError] wrapping
// [token.ErrBlacklisted].
//
//	Security: exactly one of two concurrent rotations of the same token succeeds.
func (e *Engine) Refresh(ctx context.Context, refreshToken, fingerprint string) (TokenPair, error) {
	if e == nil || e.tokens == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	pair, err := e.tokens.Rotate(ctx, refreshToken, fingerprint)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		reason := authReasonFromTokenErr(err)
		if reason == ReasonBlacklisted {
			e.metricInc(MetricRefreshReplay)
			e.emitAudit(ctx, audit.Event{
				EventType: audit.EventTokenReplay,
				Success:   false,
				Reason:    string(reason),
			})
		}
		return TokenPair{}, &AuthenticationError{Reason: reason, Err: err}
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, audit.Event{
		EventType: audit.EventTokenRotated,
		Subject:   pair.Refresh.Claims.Subject,
		TokenID:   pair.Refresh.Claims.ID,
		Success:   true,
	})
	return pair, nil
}

// Logout revokes the given tokens and destroys the session. Every credential
// is attempted; the returned error joins the failures.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	var errs []error
	for _, raw := range []string{req.AccessToken, req.RefreshToken} {
		if raw == "" {
			continue
		}
		if err := e.tokens.Revoke(ctx, raw); err != nil {
			errs = append(errs, err)
			continue
		}
		e.metricInc(MetricTokenRevoked)
		e.emitAudit(ctx, audit.Event{EventType: audit.EventTokenRevoked, Success: true})
	}
	if req.SessionID != "" {
		if err := e.sessions.Destroy(ctx, req.SessionID); err != nil {
			errs = append(errs, err)
		} else {
			e.metricInc(MetricSessionDestroyed)
			e.emitAudit(ctx, audit.Event{EventType: audit.EventSessionDestroyed, SessionID: req.SessionID, Success: true})
		}
	}
	return errors.Join(errs...)
}

// LogoutAll invalidates every token issued to subject before now.
func (e *Engine) LogoutAll(ctx context.Context, subject string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	if err := e.tokens.RevokeAllForSubject(ctx, subject); err != nil {
		return err
	}
	e.metricInc(MetricSubjectRevoked)
	e.emitAudit(ctx, audit.Event{EventType: audit.EventSubjectRevoked, Subject: subject, Success: true})
	return nil
}

// CreateSession starts a server-side session for subject. data["roles"], when
// present, supplies the session's roles to the authz stage.
func (e *Engine) CreateSession(ctx context.Context, subject string, data map[string]any) (string, error) {
	if e == nil || e.sessions == nil {
		return "", ErrEngineNotReady
	}
	id, err := e.sessions.Create(ctx, subject, data)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, audit.Event{EventType: audit.EventSessionCreated, Subject: subject, SessionID: id, Success: true})
	return id, nil
}

func (e *Engine) emitDenied(ctx context.Context, req Request, subject, reason string, meta map[string]string) {
	e.emitAudit(ctx, audit.Event{
		EventType: audit.EventGateDenied,
		Subject:   subject,
		IP:        req.ClientIP,
		Path:      req.Path,
		RequestID: req.RequestID,
		Success:   false,
		Reason:    reason,
		Metadata:  meta,
	})
}

func (e *Engine) emitAudit(ctx context.Context, event audit.Event) {
	if e == nil || e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	e.audit.Emit(ctx, event)
}

func decisionFromRate(d rate.Decision) *Decision {
	return &Decision{
		Allowed:      d.Allowed,
		Rule:         d.Rule,
		Limit:        d.Limit,
		Remaining:    d.Remaining,
		Reset:        d.Reset,
		RetryAfter:   d.RetryAfter,
		PenaltyLevel: d.PenaltyLevel,
		Degraded:     d.Degraded,
	}
}

func principalFromIdentity(id *flows.Identity) *Principal {
	p := &Principal{
		Subject:    id.Subject,
		Roles:      append([]string(nil), id.Roles...),
		AuthMethod: AuthMethod(id.Method),
		TokenID:    id.TokenID,
		SessionID:  id.SessionID,
		Claims:     id.Claims,
	}
	if id.Session != nil {
		p.SessionData = id.Session.Data
	}
	return p
}

func authReason(f flows.AuthFailure) AuthReason {
	switch f {
	case flows.AuthFailureMalformed:
		return ReasonMalformedToken
	case flows.AuthFailureExpired:
		return ReasonExpiredToken
	case flows.AuthFailureBlacklisted:
		return ReasonBlacklisted
	case flows.AuthFailureFingerprintMismatch:
		return ReasonFingerprintMismatch
	case flows.AuthFailureRevokedSubject:
		return ReasonRevokedSubject
	case flows.AuthFailureUnavailable:
		return ReasonAuthUnavailable
	default:
		return ReasonNoCredential
	}
}

func authReasonFromTokenErr(err error) AuthReason {
	switch {
	case errors.Is(err, token.ErrStoreUnavailable):
		return ReasonAuthUnavailable
	case errors.Is(err, token.ErrBlacklisted):
		return ReasonBlacklisted
	case errors.Is(err, token.ErrExpiredToken):
		return ReasonExpiredToken
	case errors.Is(err, token.ErrFingerprintMismatch):
		return ReasonFingerprintMismatch
	case errors.Is(err, token.ErrRevokedSubject):
		return ReasonRevokedSubject
	default:
		return ReasonMalformedToken
	}
}

func authzReason(f flows.AuthzFailure) AuthzReason {
	switch f {
	case flows.AuthzFailureInactiveAccount:
		return ReasonInactiveAccount
	case flows.AuthzFailureUnverified:
		return ReasonUnverified
	default:
		return ReasonInsufficientRole
	}
}
