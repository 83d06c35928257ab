package middleware

const (
	// DefaultSessionCookie is the cookie that carries the session id.
	DefaultSessionCookie = "session_id"
	// DefaultFingerprintHeader carries the optional device fingerprint.
	DefaultFingerprintHeader = "X-Device-Fingerprint"
	// RequestIDHeader is read from the request and echoed on every response.
	RequestIDHeader = "X-Request-ID"
)

// Options controls how an HTTP request is translated into an authgate.Request.
type Options struct {
	SessionCookie     string
	FingerprintHeader string

	// TrustProxy enables X-Forwarded-For, X-Real-IP and CF-Connecting-IP.
	// Leave it off unless a trusted reverse proxy sets those headers.
	TrustProxy bool
	// TrustedProxyCount is the number of proxies appended to X-Forwarded-For
	// on our side. Zero means one.
	TrustedProxyCount int
}

// Option mutates Options.
type Option func(*Options)

// WithSessionCookie overrides the session cookie name.
func WithSessionCookie(name string) Option {
	return func(o *Options) { o.SessionCookie = name }
}

// WithFingerprintHeader overrides the fingerprint header name.
func WithFingerprintHeader(name string) Option {
	return func(o *Options) { o.FingerprintHeader = name }
}

// WithTrustProxy trusts forwarding headers set by count proxies.
func WithTrustProxy(count int) Option {
	return func(o *Options) {
		o.TrustProxy = true
		o.TrustedProxyCount = count
	}
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	o := Options{
		SessionCookie:     DefaultSessionCookie,
		FingerprintHeader: DefaultFingerprintHeader,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
