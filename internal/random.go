package internal

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	tokenIDSize = 16
	memberSize  = 6
)

// NewTokenID returns a 128-bit random identifier encoded as 32 lowercase hex characters.
func NewTokenID() (string, error) {
	var raw [tokenIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

// NewMember returns a sorted-set member unique per request: the request time in
// unix milliseconds followed by a random suffix, so two requests landing in the
// same millisecond are still counted twice.
func NewMember(now time.Time) (string, error) {
	var raw [memberSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + hex.EncodeToString(raw[:]), nil
}
