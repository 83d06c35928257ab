package rate

import (
	"fmt"
	"strings"
	"time"
)

// Rule is one sliding window. A rule with an empty PathPrefix applies to every
// path; otherwise it applies to PathPrefix itself and to paths below it, so
// "/health" covers "/health/live" but not "/healthz".
type Rule struct {
	Name       string
	PathPrefix string
	Limit      int64
	Window     time.Duration
}

func (r Rule) matches(path string) bool {
	if r.PathPrefix == "" {
		return true
	}
	if r.PathPrefix == "/" {
		return path == "/"
	}
	prefix := strings.TrimSuffix(r.PathPrefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Config holds the rule tables and penalty policy.
type Config struct {
	// Rules are the main windows. Every catch-all rule applies, plus the first
	// prefix rule (in order) matching the request path.
	Rules []Rule
	// BurstRules are short windows checked before the main windows. The first
	// prefix rule matching the path wins, else the first catch-all rule.
	BurstRules []Rule
	// PenaltyTiers multiply the window of a denied per-IP main rule by the tier
	// at the current violation level (capped at the last tier).
	PenaltyTiers []int64
	// UserMultiplier scales main-rule limits for per-user windows.
	UserMultiplier int64
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the stock endpoint table.
func DefaultConfig() Config {
	return Config{
		Rules: []Rule{
			{Name: "global", Limit: 1000, Window: 60 * time.Second},
			{Name: "login", PathPrefix: "/api/v1/auth/login", Limit: 5, Window: 60 * time.Second},
			{Name: "register", PathPrefix: "/api/v1/auth/register", Limit: 3, Window: 300 * time.Second},
			{Name: "forgot_password", PathPrefix: "/api/v1/auth/forgot-password", Limit: 3, Window: 900 * time.Second},
			{Name: "users", PathPrefix: "/api/v1/users", Limit: 100, Window: 60 * time.Second},
			{Name: "admin", PathPrefix: "/api/v1/admin", Limit: 50, Window: 60 * time.Second},
			{Name: "health", PathPrefix: "/health", Limit: 1000, Window: 60 * time.Second},
			{Name: "docs", PathPrefix: "/docs", Limit: 100, Window: 60 * time.Second},
		},
		BurstRules: []Rule{
			{Name: "global", Limit: 50, Window: 10 * time.Second},
			{Name: "login", PathPrefix: "/api/v1/auth/login", Limit: 3, Window: 30 * time.Second},
		},
		PenaltyTiers:   []int64{1, 2, 4, 8, 16},
		UserMultiplier: 2,
	}
}

// Validate checks every rule and the penalty policy.
func (c Config) Validate() error {
	if len(c.Rules) == 0 {
		return fmt.Errorf("%w: at least one main rule is required", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Rules))
	for _, r := range c.Rules {
		if err := validateRule(r); err != nil {
			return err
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("%w: duplicate rule name %q", ErrInvalidConfig, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	for _, r := range c.BurstRules {
		if err := validateRule(r); err != nil {
			return err
		}
	}
	if len(c.PenaltyTiers) == 0 {
		return fmt.Errorf("%w: PenaltyTiers must not be empty", ErrInvalidConfig)
	}
	for _, tier := range c.PenaltyTiers {
		if tier < 1 {
			return fmt.Errorf("%w: penalty tiers must be >= 1", ErrInvalidConfig)
		}
	}
	if c.UserMultiplier < 1 {
		return fmt.Errorf("%w: UserMultiplier must be >= 1", ErrInvalidConfig)
	}
	return nil
}

func validateRule(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidConfig)
	}
	if r.Limit < 1 {
		return fmt.Errorf("%w: rule %q limit must be >= 1", ErrInvalidConfig, r.Name)
	}
	if r.Window < time.Second {
		return fmt.Errorf("%w: rule %q window must be >= 1s", ErrInvalidConfig, r.Name)
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.Rules = append([]Rule(nil), c.Rules...)
	out.BurstRules = append([]Rule(nil), c.BurstRules...)
	out.PenaltyTiers = append([]int64(nil), c.PenaltyTiers...)
	return out
}
