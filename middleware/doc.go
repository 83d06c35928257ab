// Package middleware adapts authgate.Engine to net/http.
//
// # Guards
//
//   - [Guard] runs the full gate (burst, rate window, auth, authz) per request.
//   - [RequireRoles] narrows an already guarded handler to a role set.
//
// [Guard] reads the Authorization header, the session cookie, the optional
// device fingerprint header and X-Request-ID, and writes the X-RateLimit-*
// headers. Denials are JSON bodies of the form
// {"error","message","requestId"} with status 429, 401 or 403.
//
// The ginguard and grpcguard subpackages wrap the same engine call for gin and
// gRPC servers.
//
// # Architecture boundaries
//
// This package translates transport semantics into Engine calls. It does not
// parse tokens, touch Redis or make policy decisions of its own.
package middleware
