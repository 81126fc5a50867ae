package security

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	digest, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if digest == "correct horse battery staple" {
		t.Fatal("digest must not equal the plaintext")
	}
	if !CheckPassword("correct horse battery staple", digest) {
		t.Fatal("expected matching password to verify")
	}
	if CheckPassword("wrong", digest) {
		t.Fatal("wrong password must not verify")
	}
}

func TestCheckPasswordMalformedDigest(t *testing.T) {
	if CheckPassword("anything", "not-a-bcrypt-digest") {
		t.Fatal("malformed digest must fail closed")
	}
}

func TestHashPasswordSalts(t *testing.T) {
	a, err := HashPassword("same input")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("same input")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Fatal("two hashes of the same input must differ")
	}
}
