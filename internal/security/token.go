package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// NewRefreshSecret returns an opaque URL-safe secret. The plaintext is handed
// to the client exactly once; only its hash is ever persisted.
func NewRefreshSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshSecret produces the deterministic digest the session ledger is
// indexed by. HMAC with a server-side pepper keeps a leaked ledger useless for
// forging lookups.
func HashRefreshSecret(secret, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
