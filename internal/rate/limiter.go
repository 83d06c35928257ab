package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/edelzer/authgate/internal"
	"github.com/edelzer/authgate/internal/logging"
	"github.com/edelzer/authgate/store"
)

// Identity is what a request is counted against.
type Identity struct {
	IP     string
	UserID string
	Path   string
}

// Decision is the limiter verdict plus the metadata surfaced as rate-limit headers.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Rule names the rule that denied, or the tightest rule on allow.
	Rule       string
	Limit      int64
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
	// PenaltyLevel is the escalation level before this denial (per-IP main denials only).
	PenaltyLevel int64
	// Degraded is set when the store failed and the request was let through.
	Degraded bool
}

type keyKind uint8

const (
	keyBurst keyKind = iota
	keyIP
	keyUser
)

type windowKey struct {
	kind  keyKind
	rule  Rule
	limit int64
}

// Limiter implements sliding-window-log rate limiting over the shared store.
// It keeps no in-process counters; every decision is made from store state.
type Limiter struct {
	store store.ExpiringStore
	cfg   Config
	log   logging.Logger
	now   func() time.Time
}

// New creates a rate [Limiter]. cfg is validated and copied.
func New(st store.ExpiringStore, cfg Config, log logging.Logger) (*Limiter, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cloneConfig(cfg)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Limiter{store: st, cfg: cfg, log: log, now: now}, nil
}

// CheckBurst counts the burst window for id without recording the request.
// A full window denies with RetryAfter equal to the burst window; no penalty
// is applied.
//
//	Performance: 1 ZREMRANGEBYSCORE + 1 ZCARD.
func (l *Limiter) CheckBurst(ctx context.Context, id Identity) Decision {
	rule, ok := l.burstRule(id.Path)
	if !ok {
		return Decision{Allowed: true}
	}
	now := l.now()
	key := burstKey(ip(id), rule.Name)

	cutoff := store.WindowScore(now) - rule.Window.Milliseconds()
	if _, err := l.store.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10)); err != nil {
		return l.degraded(ctx, "burst check", err)
	}
	count, err := l.store.ZCard(ctx, key)
	if err != nil {
		return l.degraded(ctx, "burst check", err)
	}
	if count >= rule.Limit {
		return l.denyBurst(rule, now)
	}
	return Decision{Allowed: true, Rule: rule.Name, Limit: rule.Limit, Remaining: rule.Limit - count - 1, Reset: now.Add(rule.Window)}
}

// Acquire counts the request against the burst window and every applicable main
// window in one atomic step. Either every window records the request or none
// does; a denied request never consumes quota.
//
// A per-IP main denial escalates the progressive penalty for the IP. A per-user
// denial retries after the rule window. Store failures fail open.
//
//	Performance: 1 EVALSHA (+1 EVALSHA on a per-IP denial).
func (l *Limiter) Acquire(ctx context.Context, id Identity) Decision {
	now := l.now()
	addr := ip(id)
	keys, meta := l.plan(id, addr)

	member, err := internal.NewMember(now)
	if err != nil {
		return l.degraded(ctx, "member generation", err)
	}

	res, err := l.store.SlidingWindow(ctx, store.WindowRequest{
		Keys:   keys,
		Now:    now,
		Member: member,
		Commit: true,
	})
	if err != nil {
		return l.degraded(ctx, "acquire", err)
	}

	if !res.Allowed {
		return l.deny(ctx, addr, meta[res.Denied], now)
	}
	return l.allowed(meta, res.Counts, now)
}

func (l *Limiter) plan(id Identity, addr string) ([]store.WindowKey, []windowKey) {
	keys := make([]store.WindowKey, 0, 5)
	meta := make([]windowKey, 0, 5)
	add := func(key string, kind keyKind, rule Rule, limit int64) {
		keys = append(keys, store.WindowKey{Key: key, Limit: limit, Window: rule.Window})
		meta = append(meta, windowKey{kind: kind, rule: rule, limit: limit})
	}

	if rule, ok := l.burstRule(id.Path); ok {
		add(burstKey(addr, rule.Name), keyBurst, rule, rule.Limit)
	}
	for _, rule := range l.mainRules(id.Path) {
		add(ipKey(addr, rule.Name), keyIP, rule, rule.Limit)
		if id.UserID != "" {
			add(userKey(id.UserID, rule.Name), keyUser, rule, rule.Limit*l.cfg.UserMultiplier)
		}
	}
	return keys, meta
}

func (l *Limiter) deny(ctx context.Context, addr string, k windowKey, now time.Time) Decision {
	if k.kind == keyBurst {
		return l.denyBurst(k.rule, now)
	}

	d := Decision{
		Reason:     ReasonMainWindow,
		Rule:       k.rule.Name,
		Limit:      k.limit,
		Reset:      now.Add(k.rule.Window),
		RetryAfter: k.rule.Window,
	}
	if k.kind == keyUser {
		return d
	}

	esc, err := l.store.Escalate(ctx, penaltyKey(addr), k.rule.Window, l.cfg.PenaltyTiers)
	if err != nil {
		l.logStoreError(ctx, "rate limit penalty escalation failed", err, "ip", addr, "rule", k.rule.Name)
		return d
	}
	d.RetryAfter = esc.RetryAfter
	d.PenaltyLevel = esc.Level
	return d
}

func (l *Limiter) denyBurst(rule Rule, now time.Time) Decision {
	return Decision{
		Reason:     ReasonBurst,
		Rule:       rule.Name,
		Limit:      rule.Limit,
		Reset:      now.Add(rule.Window),
		RetryAfter: rule.Window,
	}
}

// allowed reports the main window with the fewest remaining slots.
func (l *Limiter) allowed(meta []windowKey, counts []int64, now time.Time) Decision {
	d := Decision{Allowed: true, Remaining: -1}
	for i, k := range meta {
		if k.kind == keyBurst || i >= len(counts) {
			continue
		}
		remaining := k.limit - counts[i] - 1
		if d.Remaining < 0 || remaining < d.Remaining {
			d.Rule = k.rule.Name
			d.Limit = k.limit
			d.Remaining = remaining
			d.Reset = now.Add(k.rule.Window)
		}
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}

func (l *Limiter) degraded(ctx context.Context, op string, err error) Decision {
	l.logStoreError(ctx, "rate limiter degraded, failing open", err, "stage", op)
	return Decision{Allowed: true, Degraded: true}
}

func (l *Limiter) logStoreError(ctx context.Context, msg string, err error, args ...any) {
	if se, ok := store.AsStoreError(err); ok {
		args = append(args, se.LogArgs()...)
	} else {
		args = append(args, "err", err)
	}
	l.log.Warn(ctx, msg, args...)
}

func (l *Limiter) mainRules(path string) []Rule {
	out := make([]Rule, 0, 2)
	specific := false
	for _, r := range l.cfg.Rules {
		if r.PathPrefix == "" {
			out = append(out, r)
			continue
		}
		if !specific && r.matches(path) {
			out = append(out, r)
			specific = true
		}
	}
	return out
}

func (l *Limiter) burstRule(path string) (Rule, bool) {
	var fallback *Rule
	for i, r := range l.cfg.BurstRules {
		if r.PathPrefix == "" {
			if fallback == nil {
				fallback = &l.cfg.BurstRules[i]
			}
			continue
		}
		if r.matches(path) {
			return r, true
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Rule{}, false
}

// Config returns a copy of the active configuration.
func (l *Limiter) Config() Config {
	return cloneConfig(l.cfg)
}

func ip(id Identity) string {
	if id.IP == "" {
		return "unknown"
	}
	return id.IP
}

func ipKey(ip, rule string) string { return "rate_limit:ip:" + ip + ":" + rule }

func userKey(uid, rule string) string { return "rate_limit:user:" + uid + ":" + rule }

func burstKey(ip, rule string) string { return "burst:ip:" + ip + ":" + rule }

func penaltyKey(ip string) string { return "rate_limit:penalty:" + ip }
