package authgate

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testSecret
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with key",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "missing key",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = nil
			},
			wantValid: false,
		},
		{
			name: "unsupported signing method",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "ed25519 without public key",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
			},
			wantValid: false,
		},
		{
			name: "revocation shorter than refresh",
			mutate: func(c *Config) {
				c.JWT.RevocationTTL = 24 * time.Hour
			},
			wantValid: false,
		},
		{
			name: "zero access ttl",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 0
			},
			wantValid: false,
		},
		{
			name: "negative leeway",
			mutate: func(c *Config) {
				c.JWT.Leeway = -time.Second
			},
			wantValid: false,
		},
		{
			name: "zero session ttl",
			mutate: func(c *Config) {
				c.Session.TTL = 0
			},
			wantValid: false,
		},
		{
			name: "user multiplier below one",
			mutate: func(c *Config) {
				c.RateLimit.UserMultiplier = 0
			},
			wantValid: false,
		},
		{
			name: "bad rate rules ignored when disabled",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.Rules = nil
			},
			wantValid: true,
		},
		{
			name: "empty penalty tiers",
			mutate: func(c *Config) {
				c.RateLimit.PenaltyTiers = nil
			},
			wantValid: false,
		},
		{
			name: "relative public path",
			mutate: func(c *Config) {
				c.Routes.PublicPaths = append(c.Routes.PublicPaths, "health")
			},
			wantValid: false,
		},
		{
			name: "relative policy prefix",
			mutate: func(c *Config) {
				c.Routes.Policies = []RoutePolicy{{Prefix: "admin", Roles: []string{"admin"}}}
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultConfigCarriesEndpointTable(t *testing.T) {
	cfg := DefaultConfig()

	rules := map[string]RateRule{}
	for _, r := range cfg.RateLimit.Rules {
		rules[r.Name] = r
	}
	if r := rules["login"]; r.Limit != 5 || r.Window != time.Minute || r.PathPrefix != "/api/v1/auth/login" {
		t.Fatalf("unexpected login rule %+v", r)
	}
	if r := rules["forgot_password"]; r.Limit != 3 || r.Window != 15*time.Minute {
		t.Fatalf("unexpected forgot-password rule %+v", r)
	}
	if cfg.RateLimit.UserMultiplier != 2 {
		t.Fatalf("expected user multiplier 2, got %d", cfg.RateLimit.UserMultiplier)
	}
	if cfg.JWT.AccessTTL != 30*time.Minute || cfg.JWT.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected token lifetimes %s/%s", cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	}
}

func TestCloneConfigIsDeep(t *testing.T) {
	cfg := validTestConfig()
	cfg.JWT.PrivateKey = []byte("clone-test-secret")
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte("key")}
	out := cloneConfig(cfg)

	cfg.JWT.PrivateKey[0] = 'X'
	cfg.JWT.VerifyKeys["k1"][0] = 'X'
	cfg.RateLimit.Rules[0].Limit = 1
	cfg.Routes.Policies[0].Roles[0] = "nobody"
	cfg.Routes.PublicPaths[0] = "/changed"

	if out.JWT.PrivateKey[0] == 'X' || out.JWT.VerifyKeys["k1"][0] == 'X' {
		t.Fatal("expected key material to be copied")
	}
	if out.RateLimit.Rules[0].Limit == 1 || out.Routes.Policies[0].Roles[0] == "nobody" || out.Routes.PublicPaths[0] == "/changed" {
		t.Fatal("expected slices to be copied")
	}
}
