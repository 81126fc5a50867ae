package security

import "testing"

func TestNewRefreshSecretIsUniqueAndOpaque(t *testing.T) {
	a, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	b, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	if a == b {
		t.Fatal("consecutive secrets must differ")
	}
	if len(a) < 32 {
		t.Fatalf("secret too short: %d chars", len(a))
	}
}

func TestHashRefreshSecretDependsOnPepper(t *testing.T) {
	h1 := HashRefreshSecret("secret", "pepper-a")
	h2 := HashRefreshSecret("secret", "pepper-b")
	if h1 == h2 {
		t.Fatal("different peppers must yield different hashes")
	}
	if h1 != HashRefreshSecret("secret", "pepper-a") {
		t.Fatal("hash must be deterministic for lookup by hash")
	}
	if h1 == "secret" {
		t.Fatal("hash must not expose the secret")
	}
}
