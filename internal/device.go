package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

const fingerprintDigestLen = 16

// FingerprintDigest returns the first 16 hex characters of sha256(v). It is the
// value carried in the fp claim; the raw device fingerprint never leaves the
// process.
func FingerprintDigest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])[:fingerprintDigestLen]
}
