package internal

import (
	"strings"
	"testing"
	"time"
)

func TestNewTokenIDShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		id, err := NewTokenID()
		if err != nil {
			t.Fatalf("new token id: %v", err)
		}
		if len(id) != 32 {
			t.Fatalf("expected 32 hex chars, got %d (%q)", len(id), id)
		}
		if strings.Trim(id, "0123456789abcdef") != "" {
			t.Fatalf("expected lowercase hex, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate token id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewMemberPrefixesMillis(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)

	a, err := NewMember(now)
	if err != nil {
		t.Fatalf("new member: %v", err)
	}
	b, err := NewMember(now)
	if err != nil {
		t.Fatalf("new member: %v", err)
	}
	if !strings.HasPrefix(a, "1700000000123-") || !strings.HasPrefix(b, "1700000000123-") {
		t.Fatalf("unexpected member prefix: %q %q", a, b)
	}
	if a == b {
		t.Fatal("members in the same millisecond must differ")
	}
}

func TestFingerprintDigest(t *testing.T) {
	d1 := FingerprintDigest("device-1")
	if len(d1) != 16 {
		t.Fatalf("expected 16 chars, got %q", d1)
	}
	if FingerprintDigest("device-1") != d1 {
		t.Fatal("digest must be deterministic")
	}
	if FingerprintDigest("device-2") == d1 {
		t.Fatal("different fingerprints must not collide")
	}
	// sha256("") prefix is well known.
	if got := FingerprintDigest(""); got != "e3b0c44298fc1c14" {
		t.Fatalf("unexpected empty digest %q", got)
	}
}
