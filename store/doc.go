// Package store implements the expiring key-value contract shared by the token,
// session and rate-limit components, backed by Redis.
//
// # Key ownership
//
// The store does not build keys. Each caller owns a disjoint namespace:
//
//   - blacklist:*, user_revoked:*, refresh_token:* -> token package
//   - session:* -> session package
//   - rate_limit:*, burst:*, rate_limit:penalty:* -> internal/rate
//
// # Atomic groups
//
// Operations that must not interleave with concurrent requests (sliding-window
// prune+count+insert, penalty escalation, refresh rotation) run as single Lua
// scripts so Redis executes them as one unit.
//
// # What this package must NOT do
//
//   - Import authgate, token, session or internal/rate (no upward imports).
//   - Decide fail-open or fail-closed policy. It only classifies failures as
//     [ErrUnavailable] or [ErrTimeout].
package store
