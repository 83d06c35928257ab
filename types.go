package authgate

import (
	"context"
	"time"

	"github.com/edelzer/authgate/jwt"
	"github.com/edelzer/authgate/token"
)

// Request is the transport-neutral view of an inbound request that
// [Engine.Check] gates. Adapters in middleware/ fill it from HTTP or gRPC.
type Request struct {
	Method      string
	Path        string
	ClientIP    string
	BearerToken string
	SessionID   string
	// Fingerprint is the raw device fingerprint presented by the client. When
	// non-empty it must match the fp claim of the bearer token.
	Fingerprint string
	RequestID   string
}

// AuthMethod records which credential authenticated a request.
type AuthMethod string

const (
	AuthMethodBearer  AuthMethod = "bearer"
	AuthMethodSession AuthMethod = "session"
)

// Principal is the authenticated caller of an allowed request.
type Principal struct {
	Subject    string
	Roles      []string
	AuthMethod AuthMethod
	// TokenID is the jti of the bearer token (bearer method only).
	TokenID string
	// SessionID is set for the session method only.
	SessionID string
	// Claims are the decoded bearer claims (bearer method only).
	Claims *jwt.Claims
	// SessionData is the application data stored with the session.
	SessionData map[string]any
}

// HasRole reports whether p carries role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Decision is the rate-limit metadata of a checked request. It is returned on
// allow and on deny and feeds the X-RateLimit-* response headers.
type Decision struct {
	Allowed    bool
	Rule       string
	Limit      int64
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
	// PenaltyLevel is the escalation level reached by a per-IP denial.
	PenaltyLevel int64
	// Degraded is set when the rate-limit store failed and the request was let
	// through unmetered.
	Degraded bool
}

// Account is the account state consulted by the authorization stage.
type Account struct {
	ID       string
	Roles    []string
	Active   bool
	Verified bool
}

// AccountProvider resolves account state for a subject. GetAccount returns
// [ErrAccountNotFound] for unknown subjects; any other error refuses the
// request as an authentication outage.
type AccountProvider interface {
	GetAccount(ctx context.Context, subject string) (Account, error)
}

// AccountProviderFunc adapts a function to [AccountProvider].
type AccountProviderFunc func(ctx context.Context, subject string) (Account, error)

func (f AccountProviderFunc) GetAccount(ctx context.Context, subject string) (Account, error) {
	return f(ctx, subject)
}

// RoutePolicy attaches access rules to a path prefix.
type RoutePolicy struct {
	Prefix string
	// Roles lists accepted roles; any one of them is enough. Empty means any
	// authenticated caller.
	Roles           []string
	RequireVerified bool
}

// RateRule is one sliding rate-limit window. An empty PathPrefix applies to
// every path.
type RateRule struct {
	Name       string
	PathPrefix string
	Limit      int64
	Window     time.Duration
}

// IssueOptions carry optional claims for issued tokens.
type IssueOptions = token.IssueOptions

// TokenPair is an access token with its refresh token.
type TokenPair = token.Pair

// LogoutRequest names the credentials ended by [Engine.Logout]. Empty fields
// are skipped.
type LogoutRequest struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}
