// Package authgate gates inbound requests with rate limiting, token or session
// authentication and route authorization, over one shared Redis store.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface: [Engine], [Builder], [Config], the error
// taxonomy and value types. Token signing lives in jwt/, token lifecycle in
// token/, sessions in session/ and the Redis contract in store/. The gate
// pipeline, rate limiter, audit dispatch and logging adapter live under
// internal/.
//
// # Failure policy
//
// Rate limiting fails open: a store outage lets the request through and marks
// the [Decision] as Degraded. Authentication fails closed: a store outage
// during token or session checks refuses the request with
// [ReasonAuthUnavailable].
//
// # Performance contract
//
// With the default rule tables, Check issues at most five store commands on
// allow: two for the burst check, one atomic window acquire, then either two
// token lookups or a session read and rewrite. The optional account lookup is
// the caller's own I/O. No in-process locks are taken on the request path.
package authgate
