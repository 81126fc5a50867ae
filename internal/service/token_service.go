package service

import (
	"time"

	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/security"
)

// TokenIssuer mints the short-lived signed access token. The signing key is
// validated when the JWTManager is constructed, so a weak key never gets this
// far.
type TokenIssuer struct {
	jwtMgr    *security.JWTManager
	accessTTL time.Duration
}

func NewTokenIssuer(jwtMgr *security.JWTManager, accessTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{jwtMgr: jwtMgr, accessTTL: accessTTL}
}

// Issue signs an access token carrying the subject, email and exactly one
// role claim. An identity without a loaded role is a caller bug, reported as
// ErrRoleNotLoaded rather than a token with an empty claim.
func (i *TokenIssuer) Issue(user *domain.User) (string, time.Time, error) {
	if user == nil || user.Role == nil || user.Role.Name == "" {
		return "", time.Time{}, ErrRoleNotLoaded
	}
	return i.jwtMgr.SignAccessToken(user.ID, user.Email, user.Role.Name, i.accessTTL)
}

func (i *TokenIssuer) Parse(raw string) (*security.Claims, error) {
	return i.jwtMgr.ParseAccessToken(raw)
}
