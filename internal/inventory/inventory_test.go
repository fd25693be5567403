package inventory

import "testing"

func TestNewSetupCode_ProducesDistinctPlaintextAndHash(t *testing.T) {
	plain1, hash1, err := newSetupCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plain1) != 16 {
		t.Fatalf("expected a 16-character setup code, got %d chars", len(plain1))
	}
	if hash1 == plain1 {
		t.Fatalf("hash must not equal plaintext")
	}

	plain2, _, err := newSetupCode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plain1 == plain2 {
		t.Fatalf("expected two distinct random setup codes")
	}
}

func TestNewCredential_ProducesDistinctPlaintextAndHash(t *testing.T) {
	plain1, hash1, err := newCredential()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash1 == plain1 {
		t.Fatalf("hash must not equal plaintext")
	}
	if len(plain1) == 0 {
		t.Fatalf("expected a non-empty credential")
	}

	plain2, _, err := newCredential()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plain1 == plain2 {
		t.Fatalf("expected two distinct random credentials")
	}
}
