package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edelzer/authgate/internal"
)

var (
	// ErrMalformed is returned when a token fails structure, signature, algorithm,
	// key id, issuer or audience checks.
	ErrMalformed = errors.New("jwt: malformed token")
	// ErrExpired is returned when a correctly signed token is past its exp claim.
	ErrExpired = errors.New("jwt: token expired")
)

// SigningMethod defines a public type used by authgate APIs.
//
// SigningMethod instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Config defines a public type used by authgate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Manager signs and verifies gate tokens. It performs no I/O.
type Manager struct {
	config Config
	method jwt.SigningMethod
}

// NewManager describes the newmanager operation and its observable behavior.
//
// NewManager may return an error when input validation, dependency calls, or security checks fail.
// NewManager does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		m.method = jwt.SigningMethodHS256
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
		m.method = jwt.SigningMethodEdDSA
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return m, nil
}

// Now returns the manager clock reading.
func (j *Manager) Now() time.Time {
	return j.config.Now()
}

// Issuer returns the configured iss claim, if any.
func (j *Manager) Issuer() string {
	return j.config.Issuer
}

// Leeway returns the clock skew tolerated on exp checks.
func (j *Manager) Leeway() time.Duration {
	return j.config.Leeway
}

// Audience returns the configured aud claim, if any.
func (j *Manager) Audience() string {
	return j.config.Audience
}

// Sign serializes claims as a compact JWS. The caller sets sub, iat, exp, jti and
// type; Sign fills iss and aud from the configuration when they are empty.
//
//	Performance: one signature, no I/O.
func (j *Manager) Sign(claims *Claims) (string, error) {
	if claims == nil {
		return "", errors.New("nil claims")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil || !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return "", errors.New("token expiry must be after issued-at")
	}
	if claims.Issuer == "" {
		claims.Issuer = j.config.Issuer
	}
	if len(claims.Audience) == 0 && j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// Parse verifies signature and claims. Errors match [ErrExpired] when only the
// expiry failed and [ErrMalformed] otherwise; the signature is always verified
// before expiry is considered.
func (j *Manager) Parse(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, j.parserOptions(true))
}

// ParseIgnoringExpiry verifies the signature and the key id but skips every
// time-based claim check. It is used by revocation, which must accept tokens that
// are already expired.
func (j *Manager) ParseIgnoringExpiry(tokenStr string) (*Claims, error) {
	return j.parse(tokenStr, j.parserOptions(false))
}

func (j *Manager) parserOptions(validateClaims bool) []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithTimeFunc(j.config.Now),
	}
	if !validateClaims {
		return append(options, jwt.WithoutClaimsValidation())
	}
	options = append(options, jwt.WithExpirationRequired())
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}
	return options
}

func (j *Manager) parse(tokenStr string, options []jwt.ParserOption) (*Claims, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, j.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrMalformed)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrMalformed)
	}
	if claims.Type != TypeAccess && claims.Type != TypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", ErrMalformed, claims.Type)
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
		}
	}

	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

// FingerprintHash returns the fp claim value for a raw device fingerprint.
func FingerprintHash(fingerprint string) string {
	return internal.FingerprintDigest(fingerprint)
}

// NewNumericDate re-exports the library constructor so callers building Claims
// need not import golang-jwt directly.
func NewNumericDate(t time.Time) *jwt.NumericDate {
	return jwt.NewNumericDate(t)
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
