// Package token implements the token service: issuing access and refresh
// tokens, validating them through an ordered check sequence, rotating refresh
// tokens and revoking single tokens or every token of a subject.
//
// # Key ownership
//
//   - blacklist:{jti}       revoked or rotated token ids, TTL = remaining lifetime
//   - user_revoked:{sub}    unix seconds of the last revoke-all, TTL = revocation window
//   - refresh_token:{jti}   subject owning a live refresh token
//
// # Failure policy
//
// Validation fails closed: when the store cannot answer a blacklist, revocation
// or refresh lookup the token is rejected with [FailureUnavailable].
//
// # What this package must NOT do
//
//   - Touch rate-limit or session keys.
//   - Log raw token strings or device fingerprints.
package token
