// Package rate implements the request rate limiter: sliding-window logs kept in
// sorted sets, a short burst window checked first, per-user windows scaled by a
// multiplier, and progressive penalties for repeat per-IP offenders.
//
// # Window semantics
//
// Each request is one sorted-set member scored by its unix-millisecond arrival
// time. A window counts members newer than now minus the window length. Keys:
//   - rate_limit:ip:{ip}:{rule}   main window per client IP
//   - rate_limit:user:{uid}:{rule} main window per authenticated user
//   - burst:ip:{ip}:{rule}         burst window per client IP
//   - rate_limit:penalty:{ip}      escalation level, expires with the last penalty
//
// # Failure policy
//
// Store errors fail open: the request is allowed and the decision is marked Degraded.
//
// # What this package must NOT do
//
//   - Touch token or session keys.
//   - Be imported outside the authgate module.
package rate
