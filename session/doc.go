// Package session provides server-side sessions over the shared expiring store.
//
// A session is a JSON record at session:{id} holding the user id, creation and
// last-activity timestamps, and free-form data. Its TTL slides: every Touch
// rewrites the record with the full window, so a session expires only after a
// full window without activity.
//
// # Architecture boundaries
//
// This package owns the session record. It does NOT interpret tokens, evaluate
// roles or decide whether a request is authenticated; the gate does that.
//
// # What this package must NOT do
//
//   - Import authgate, jwt or token (no upward imports).
//   - Store credentials in Session.Data.
package session
