// Package internal contains helpers private to authgate: random identifiers for
// tokens and rate-window members, and fingerprint digests.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: the gate pipeline stages
//   - logging: context-aware slog wrapper
//   - rate: Redis-backed sliding-window rate limiter
//
// # What this package must NOT do
//
//   - Export types that appear in the public authgate API.
//   - Be imported by any package outside the authgate module.
package internal
