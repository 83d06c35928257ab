package jwt

import (
	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the type claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// reservedClaims are never taken from or written through Claims.Extra.
var reservedClaims = map[string]struct{}{
	"sub": {}, "iat": {}, "exp": {}, "nbf": {}, "iss": {}, "aud": {}, "jti": {},
	"type": {}, "fp": {}, "roles": {},
}

// Claims is the token payload: the registered claims, the fixed gate claims and
// an open set of extension claims flattened at the top level of the payload.
type Claims struct {
	Type        string   `json:"type"`
	Fingerprint string   `json:"fp,omitempty"`
	Roles       []string `json:"roles,omitempty"`

	// Extra holds extension claims. Keys that collide with a fixed claim are
	// dropped when signing.
	Extra map[string]any `json:"-"`

	jwt.RegisteredClaims
}

type claimsWire Claims

// MarshalJSON flattens Extra next to the fixed claims.
func (c Claims) MarshalJSON() ([]byte, error) {
	fixed, err := json.Marshal(claimsWire(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return fixed, nil
	}

	merged := make(map[string]json.RawMessage, len(c.Extra)+8)
	if err := json.Unmarshal(fixed, &merged); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON fills the fixed claims and collects every other top-level claim
// into Extra.
func (c *Claims) UnmarshalJSON(data []byte) error {
	var fixed claimsWire
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range reservedClaims {
		delete(all, k)
	}

	*c = Claims(fixed)
	c.Extra = nil
	if len(all) > 0 {
		c.Extra = all
	}
	return nil
}

// IsRefresh reports whether the claims describe a refresh token.
func (c *Claims) IsRefresh() bool {
	return c != nil && c.Type == TypeRefresh
}

// Clone returns a deep copy of c.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return nil
	}
	out := *c
	if c.Roles != nil {
		out.Roles = append([]string(nil), c.Roles...)
	}
	if c.Audience != nil {
		out.Audience = append(jwt.ClaimStrings(nil), c.Audience...)
	}
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}
