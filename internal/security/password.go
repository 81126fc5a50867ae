package security

import "golang.org/x/crypto/bcrypt"

// HashPassword uses bcrypt's default cost. The salt is embedded in the digest.
func HashPassword(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// CheckPassword reports whether plain matches digest. A malformed digest is
// treated as a mismatch, never an error surfaced to the caller.
func CheckPassword(plain, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
