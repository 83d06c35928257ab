package authgate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edelzer/authgate/internal/rate"
	"github.com/edelzer/authgate/token"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override fields; [Builder.Build] validates and copies it.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Routes    RouteConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing and lifetimes.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RevocationTTL is how long a logout-all marker lives. It must cover
	// RefreshTTL or older refresh tokens would come back to life.
	RevocationTTL time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side sessions.
type SessionConfig struct {
	// TTL is the inactivity window. Every authenticated request restarts it.
	TTL time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds the rule tables of the limiter.
type RateLimitConfig struct {
	Enabled bool
	// Rules are the main windows: every rule without a PathPrefix applies, plus
	// the first prefix rule matching the path.
	Rules []RateRule
	// BurstRules are checked first. The first matching prefix rule wins, else the
	// first rule without a prefix.
	BurstRules     []RateRule
	PenaltyTiers   []int64
	UserMultiplier int64
}

/*
====================================
ROUTE CONFIG
====================================
*/

// RouteConfig decides which paths skip authentication and which require roles.
type RouteConfig struct {
	// PublicPaths skip the auth and authz stages. "/" matches only the root;
	// other entries match the path itself and everything below it.
	PublicPaths []string
	// Policies are matched by longest prefix.
	Policies []RoutePolicy
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the stock configuration. JWT.PrivateKey must still be
// set before [Builder.Build].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	tokens := token.DefaultConfig()
	limits := rate.DefaultConfig()

	return Config{
		JWT: JWTConfig{
			AccessTTL:     tokens.AccessTTL,
			RefreshTTL:    tokens.RefreshTTL,
			RevocationTTL: tokens.RevocationTTL,
			SigningMethod: "hs256",
			MaxFutureIAT:  10 * time.Minute,
		},
		Session: SessionConfig{
			TTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			Rules:          fromRateRules(limits.Rules),
			BurstRules:     fromRateRules(limits.BurstRules),
			PenaltyTiers:   limits.PenaltyTiers,
			UserMultiplier: limits.UserMultiplier,
		},
		Routes: RouteConfig{
			PublicPaths: []string{
				"/", "/health", "/docs", "/redoc", "/openapi.json",
				"/api/v1/auth/login", "/api/v1/auth/register",
				"/api/v1/auth/refresh", "/api/v1/auth/forgot-password",
			},
			Policies: []RoutePolicy{
				{Prefix: "/api/v1/admin", Roles: []string{"admin"}, RequireVerified: true},
				{Prefix: "/api/v1/users", Roles: []string{"user", "admin"}},
				{Prefix: "/api/v1/users/profile", Roles: []string{"user", "admin"}, RequireVerified: true},
			},
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.RateLimit.Rules = append([]RateRule(nil), cfg.RateLimit.Rules...)
	out.RateLimit.BurstRules = append([]RateRule(nil), cfg.RateLimit.BurstRules...)
	out.RateLimit.PenaltyTiers = append([]int64(nil), cfg.RateLimit.PenaltyTiers...)
	out.Routes.PublicPaths = append([]string(nil), cfg.Routes.PublicPaths...)
	out.Routes.Policies = make([]RoutePolicy, len(cfg.Routes.Policies))
	for i, p := range cfg.Routes.Policies {
		p.Roles = append([]string(nil), p.Roles...)
		out.Routes.Policies[i] = p
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for consistency. It performs no I/O.
func (c *Config) Validate() error {
	// JWT
	if err := c.tokenConfig().Validate(); err != nil {
		return err
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return fmt.Errorf("%s requires PrivateKey", c.JWT.SigningMethod)
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("ed25519 requires PublicKey or VerifyKeys")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}
	if c.JWT.MaxFutureIAT < 0 {
		return errors.New("JWT MaxFutureIAT must be >= 0")
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if err := c.rateConfig().Validate(); err != nil {
			return err
		}
	}

	// Routes
	for _, p := range c.Routes.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("public path %q must start with /", p)
		}
	}
	for _, p := range c.Routes.Policies {
		if !strings.HasPrefix(p.Prefix, "/") {
			return fmt.Errorf("route policy prefix %q must start with /", p.Prefix)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

func (c *Config) tokenConfig() token.Config {
	return token.Config{
		AccessTTL:     c.JWT.AccessTTL,
		RefreshTTL:    c.JWT.RefreshTTL,
		RevocationTTL: c.JWT.RevocationTTL,
	}
}

func (c *Config) rateConfig() rate.Config {
	return rate.Config{
		Rules:          toRateRules(c.RateLimit.Rules),
		BurstRules:     toRateRules(c.RateLimit.BurstRules),
		PenaltyTiers:   append([]int64(nil), c.RateLimit.PenaltyTiers...),
		UserMultiplier: c.RateLimit.UserMultiplier,
	}
}

func toRateRules(in []RateRule) []rate.Rule {
	out := make([]rate.Rule, len(in))
	for i, r := range in {
		out[i] = rate.Rule{Name: r.Name, PathPrefix: r.PathPrefix, Limit: r.Limit, Window: r.Window}
	}
	return out
}

func fromRateRules(in []rate.Rule) []RateRule {
	out := make([]RateRule, len(in))
	for i, r := range in {
		out[i] = RateRule{Name: r.Name, PathPrefix: r.PathPrefix, Limit: r.Limit, Window: r.Window}
	}
	return out
}
