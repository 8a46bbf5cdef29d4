package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("Mozilla/5.0", "device-1")
	b := Fingerprint("Mozilla/5.0", "device-1")
	if a != b {
		t.Fatalf("expected stable fingerprint, got %q and %q", a, b)
	}
	if len(a) != 2*FingerprintSize {
		t.Fatalf("expected %d hex chars, got %d", 2*FingerprintSize, len(a))
	}
}

func TestFingerprintMatchesTruncatedDigest(t *testing.T) {
	sum := sha256.Sum256([]byte("ua|dev"))
	want := hex.EncodeToString(sum[:16])
	if got := Fingerprint("ua", "dev"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestFingerprintSeparatesFields(t *testing.T) {
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatal("expected separator to distinguish field boundaries")
	}
	if Fingerprint("", "") == Fingerprint("ua", "") {
		t.Fatal("expected empty and non-empty user agents to differ")
	}
}

func TestNewIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 100; i++ {
		fam, err := NewFamilyID()
		if err != nil {
			t.Fatalf("family id: %v", err)
		}
		jti, err := NewTokenID()
		if err != nil {
			t.Fatalf("token id: %v", err)
		}
		for _, id := range []string{fam, jti} {
			if _, dup := seen[id]; dup {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = struct{}{}
		}
	}
}
