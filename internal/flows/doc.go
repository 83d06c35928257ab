// Package flows contains the gate pipeline run by Engine.Check.
//
// RunGate accepts a typed dependency struct of funcs and returns a classified
// result. The stages run in a fixed order (burst, rate, auth, authz) and the
// first denial ends the request.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the rate limiter, token service, session
// store and the optional account provider. They do NOT own any of these
// resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authgate (to avoid import cycles).
//   - Perform I/O directly; all I/O goes through dependency funcs.
package flows
