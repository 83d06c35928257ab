// Package audit carries gate events (denials, issued and rotated tokens,
// revocations, session changes, rate-limit degradation) off the request path.
//
// A [Dispatcher] buffers [Event] values and hands them to a [Sink] from one
// goroutine. Sinks shipped here write to a channel, to an io.Writer as JSON
// lines, or to a slog.Logger.
//
// The Engine decides which events exist; this package only moves them. It
// imports neither authgate nor its sibling internal packages.
package audit
