package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSigningKeyLength is the minimum accepted HMAC key size in bytes.
const MinSigningKeyLength = 32

var ErrWeakSigningKey = errors.New("signing key missing or shorter than 32 bytes")

// Claims carries exactly one role per token. The surrounding system authorizes
// on a single primary role, not a permission matrix.
type Claims struct {
	TokenType string `json:"token_type"`
	Role      string `json:"role,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	issuer   string
	audience string
	secret   []byte
}

// NewJWTManager validates the signing key up front so a misconfigured
// deployment fails at startup rather than on the first login.
func NewJWTManager(issuer, audience, secret string) (*JWTManager, error) {
	if len(secret) < MinSigningKeyLength {
		return nil, ErrWeakSigningKey
	}
	return &JWTManager{issuer: issuer, audience: audience, secret: []byte(secret)}, nil
}

func (m *JWTManager) SignAccessToken(userID uint, email, role string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		TokenType: "access",
		Role:      role,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != "access" {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	return claims, nil
}
