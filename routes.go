package authgate

import (
	"context"
	"errors"
	"strings"

	"github.com/edelzer/authgate/internal/flows"
	"github.com/edelzer/authgate/internal/rate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func (e *Engine) flowDeps() flows.Deps {
	gate := flows.GateDeps{
		CheckBurst:     e.checkBurst,
		Acquire:        e.acquire,
		Identify:       e.tokens.Identify,
		ValidateAccess: e.tokens.ValidateAccess,
		TouchSession:   e.sessions.Touch,
		ResolveRoute:   e.resolveRoute,
		Trace:          e.traceStage,
	}
	if e.accounts != nil {
		gate.LookupAccount = e.lookupAccount
	}
	return flows.Deps{Gate: gate}
}

func (e *Engine) checkBurst(ctx context.Context, id rate.Identity) rate.Decision {
	if e.limiter == nil {
		return rate.Decision{Allowed: true}
	}
	return e.limiter.CheckBurst(ctx, id)
}

func (e *Engine) acquire(ctx context.Context, id rate.Identity) rate.Decision {
	if e.limiter == nil {
		return rate.Decision{Allowed: true}
	}
	return e.limiter.Acquire(ctx, id)
}

func (e *Engine) lookupAccount(ctx context.Context, subject string) (flows.AccountState, bool, error) {
	account, err := e.accounts.GetAccount(ctx, subject)
	if errors.Is(err, ErrAccountNotFound) {
		return flows.AccountState{}, false, nil
	}
	if err != nil {
		return flows.AccountState{}, false, err
	}
	return flows.AccountState{
		Roles:    account.Roles,
		Active:   account.Active,
		Verified: account.Verified,
	}, true, nil
}

func (e *Engine) traceStage(ctx context.Context, stage string) (context.Context, func(string)) {
	ctx, span := e.tracer.Start(ctx, "authgate.gate."+stage)
	return ctx, func(outcome string) {
		span.SetAttributes(attribute.String("authgate.outcome", outcome))
		if outcome == "error" {
			span.SetStatus(codes.Error, stage+" stage failed")
		}
		span.End()
	}
}

// resolveRoute maps path to its policy. Public paths win over policies; among
// policies the longest matching prefix wins.
func (e *Engine) resolveRoute(path string) flows.RouteRule {
	for _, p := range e.config.Routes.PublicPaths {
		if pathMatches(p, path) {
			return flows.RouteRule{Public: true}
		}
	}

	var best *RoutePolicy
	for i := range e.config.Routes.Policies {
		p := &e.config.Routes.Policies[i]
		if !pathMatches(p.Prefix, path) {
			continue
		}
		if best == nil || len(p.Prefix) > len(best.Prefix) {
			best = p
		}
	}
	if best == nil {
		return flows.RouteRule{}
	}
	return flows.RouteRule{
		Roles:           best.Roles,
		RequireVerified: best.RequireVerified,
	}
}

// pathMatches reports whether path is prefix or lies below it. "/" matches only
// the root path.
func pathMatches(prefix, path string) bool {
	if prefix == "/" {
		return path == "/"
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
