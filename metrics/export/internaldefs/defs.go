package internaldefs

import (
	"github.com/edelzer/authgate"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for [authgate.Engine.AuditDropped].
const AuditDroppedName = "authgate_audit_dropped_total"

// AuditDroppedHelp describes [AuditDroppedName].
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricCheckAllowed, Name: "authgate_check_allowed_total", Help: "Requests allowed by the gate."},
	{ID: authgate.MetricBurstLimited, Name: "authgate_burst_limited_total", Help: "Requests denied by a burst window."},
	{ID: authgate.MetricRateLimited, Name: "authgate_rate_limited_total", Help: "Requests denied by a main rate window."},
	{ID: authgate.MetricRateLimitDegraded, Name: "authgate_rate_limit_degraded_total", Help: "Requests allowed because the rate-limit store failed."},
	{ID: authgate.MetricAuthFailure, Name: "authgate_auth_failure_total", Help: "Requests without a valid credential."},
	{ID: authgate.MetricAuthUnavailable, Name: "authgate_auth_unavailable_total", Help: "Requests refused because the credential store failed."},
	{ID: authgate.MetricAuthzDenied, Name: "authgate_authz_denied_total", Help: "Authenticated requests refused by route or account policy."},
	{ID: authgate.MetricTokenIssued, Name: "authgate_token_issued_total", Help: "Issued token pairs."},
	{ID: authgate.MetricRefreshSuccess, Name: "authgate_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authgate.MetricRefreshFailure, Name: "authgate_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: authgate.MetricRefreshReplay, Name: "authgate_refresh_replay_total", Help: "Rotations of an already consumed refresh token."},
	{ID: authgate.MetricTokenRevoked, Name: "authgate_token_revoked_total", Help: "Individually revoked tokens."},
	{ID: authgate.MetricSubjectRevoked, Name: "authgate_subject_revoked_total", Help: "Revoke-all operations."},
	{ID: authgate.MetricSessionCreated, Name: "authgate_session_created_total", Help: "Created sessions."},
	{ID: authgate.MetricSessionDestroyed, Name: "authgate_session_destroyed_total", Help: "Destroyed sessions."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricCheckLatency, Name: "authgate_check_latency_seconds", Help: "Engine.Check latency histogram."},
}

// HistogramBounds are the upper bounds of the engine latency buckets, as
// rendered in the le label.
var HistogramBounds = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// HistogramUpperBounds are [HistogramBounds] without +Inf, in seconds.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// CumulativeBuckets turns per-bucket counts into running totals, one per entry
// of [HistogramBounds]. Missing trailing buckets count as empty.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, len(HistogramBounds))
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
