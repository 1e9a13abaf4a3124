package token

import "testing"

func TestHasher_PepperAndDerivedKeyDiffer(t *testing.T) {
	derived, err := NewHasher(nil, testSigningKey)
	if err != nil {
		t.Fatalf("NewHasher() error = %v", err)
	}
	peppered, err := NewHasher([]byte("pepper-value"), testSigningKey)
	if err != nil {
		t.Fatalf("NewHasher() error = %v", err)
	}

	if derived.Hash("secret") == peppered.Hash("secret") {
		t.Error("hashes with different keys must differ")
	}
	if derived.Hash("secret") != derived.Hash("secret") {
		t.Error("hash must be deterministic")
	}
	if len(derived.Hash("secret")) != 64 {
		t.Errorf("hash length = %d, want 64", len(derived.Hash("secret")))
	}
}

func TestNewHasher_RequiresKeyMaterial(t *testing.T) {
	if _, err := NewHasher(nil, nil); err == nil {
		t.Error("expected error without pepper and signing key")
	}
}
