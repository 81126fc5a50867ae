package service

import (
	"context"

	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/security"
)

type Authenticator interface {
	Register(ctx context.Context, input RegisterInput) (*domain.User, error)
	LoginLocal(ctx context.Context, creds Credentials) (*LoginResult, error)
	LoginDirectory(ctx context.Context, creds Credentials) (*LoginResult, error)
	Refresh(ctx context.Context, presented, userAgent, ip string) (*RefreshResult, error)
	Logout(ctx context.Context, userID uint, presented, ip string) error
	LogoutAll(ctx context.Context, userID uint, ip string) (int64, error)
	Sessions(userID uint, presentedRefresh string) ([]SessionView, error)
	ParseAccessToken(raw string) (*security.Claims, error)
}
