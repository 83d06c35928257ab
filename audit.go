package authgate

import (
	"io"
	"log/slog"

	"github.com/edelzer/authgate/internal/audit"
)

// AuditEvent is one audit record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives audit events from the async dispatcher.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers audit events on a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink writes audit events as structured log records.
type SlogSink = audit.SlogSink

// Audit event types.
const (
	AuditGateDenied        = audit.EventGateDenied
	AuditTokenIssued       = audit.EventTokenIssued
	AuditTokenRotated      = audit.EventTokenRotated
	AuditTokenReplay       = audit.EventTokenReplay
	AuditTokenRevoked      = audit.EventTokenRevoked
	AuditSubjectRevoked    = audit.EventSubjectRevoked
	AuditSessionCreated    = audit.EventSessionCreated
	AuditSessionDestroyed  = audit.EventSessionDestroyed
	AuditRateLimitDegraded = audit.EventRateLimitDegraded
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink logs audit events through logger; nil uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}
