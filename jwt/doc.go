// Package jwt signs and verifies gate tokens: JWS compact strings whose payload
// carries sub, iat, exp, jti and type, the optional fp, roles, iss and aud
// claims, and any extension claims flattened at the top level.
//
// Verification is strict: the algorithm is pinned, the key id is checked against
// the verify key set, and the signature is always checked before expiry so an
// expired result implies an authentic token.
package jwt
