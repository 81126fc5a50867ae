package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stayforge/identity-service/internal/directory"
	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/observability"
	"github.com/stayforge/identity-service/internal/repository"
	"github.com/stayforge/identity-service/internal/security"
)

// Credentials is the inbound shape for both login flows.
type Credentials struct {
	Login     string
	Secret    string
	UserAgent string
	IP        string
}

type LoginResult struct {
	User             *domain.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	RefreshExpiresAt time.Time
	Role             string
	// Groups is populated on directory logins only, for client display.
	Groups []string
}

type RefreshResult struct {
	User             *domain.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshSecret    string
	RefreshExpiresAt time.Time
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// verifiedPrincipal is what a credential source yields on success. Local
// verification already has the full record; directory verification has a
// profile plus the resolved primary role.
type verifiedPrincipal struct {
	profile  Profile
	roleName string
	groups   []string
	user     *domain.User
}

// credentialVerifier is the one capability both login flows share; the entry
// point picks the implementation, everything downstream is common.
type credentialVerifier interface {
	verify(ctx context.Context, login, secret string) (*verifiedPrincipal, error)
}

type AuthService struct {
	users  repository.UserRepository
	sync   *IdentitySynchronizer
	issuer *TokenIssuer
	ledger *SessionLedger
	guard  AuthAbuseGuard
	logger *slog.Logger

	local     credentialVerifier
	dir       credentialVerifier
	localRole string
}

func NewAuthService(
	users repository.UserRepository,
	sync *IdentitySynchronizer,
	issuer *TokenIssuer,
	ledger *SessionLedger,
	dirClient directory.Client,
	roleCfg RoleMappingConfig,
	defaultLocalRole string,
	guard AuthAbuseGuard,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		sync:      sync,
		issuer:    issuer,
		ledger:    ledger,
		guard:     guard,
		logger:    logger,
		local:     &localVerifier{users: users},
		dir:       &directoryVerifier{client: dirClient, roleCfg: roleCfg, logger: logger},
		localRole: defaultLocalRole,
	}
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if strings.TrimSpace(input.Username) == "" || strings.TrimSpace(input.Email) == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.users.FindByEmail(input.Email); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	if _, err := s.users.FindByUsername(input.Username); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	digest, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.sync.Ensure(Profile{
		Username:  input.Username,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
	}, s.localRole)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = &digest
	if err := s.users.Update(user); err != nil {
		return nil, fmt.Errorf("store password hash: %w", err)
	}
	return user, nil
}

func (s *AuthService) LoginLocal(ctx context.Context, creds Credentials) (*LoginResult, error) {
	res, err := s.login(ctx, s.local, creds)
	observability.RecordAuthLogin("local", loginStatus(err))
	return res, err
}

func (s *AuthService) LoginDirectory(ctx context.Context, creds Credentials) (*LoginResult, error) {
	res, err := s.login(ctx, s.dir, creds)
	observability.RecordAuthLogin("directory", loginStatus(err))
	return res, err
}

func (s *AuthService) login(ctx context.Context, verifier credentialVerifier, creds Credentials) (*LoginResult, error) {
	// Blank fields are a client error; nothing touches the network or the
	// database before this check.
	if strings.TrimSpace(creds.Login) == "" || creds.Secret == "" {
		return nil, ErrInvalidInput
	}
	if err := s.checkGuard(ctx, creds); err != nil {
		return nil, err
	}

	principal, err := verifier.verify(ctx, creds.Login, creds.Secret)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.registerFailure(ctx, creds)
		}
		return nil, err
	}
	s.resetGuard(ctx, creds)

	user := principal.user
	if user == nil {
		user, err = s.sync.Ensure(principal.profile, principal.roleName)
		if err != nil {
			return nil, err
		}
	}

	access, accessExp, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.ledger.Issue(user.ID, creds.UserAgent, creds.IP)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshSecret:    refresh,
		RefreshExpiresAt: refreshExp,
		Role:             user.Role.Name,
		Groups:           principal.groups,
	}, nil
}

func (s *AuthService) Refresh(ctx context.Context, presented, userAgent, ip string) (*RefreshResult, error) {
	if presented == "" {
		observability.RecordAuthRefresh("invalid_input")
		return nil, ErrInvalidInput
	}
	userID, refresh, refreshExp, err := s.ledger.Rotate(presented, userAgent, ip)
	if err != nil {
		observability.RecordAuthRefresh(refreshStatus(err))
		return nil, err
	}
	user, err := s.users.FindByID(userID)
	if err != nil {
		observability.RecordAuthRefresh("error")
		return nil, fmt.Errorf("load identity %d: %w", userID, err)
	}
	access, accessExp, err := s.issuer.Issue(user)
	if err != nil {
		observability.RecordAuthRefresh("error")
		return nil, err
	}
	observability.RecordAuthRefresh("success")
	return &RefreshResult{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshSecret:    refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, userID uint, presented, ip string) error {
	if presented == "" {
		observability.RecordAuthLogout("invalid_input")
		return ErrInvalidInput
	}
	err := s.ledger.Revoke(userID, presented, ip)
	observability.RecordAuthLogout(logoutStatus(err))
	return err
}

func (s *AuthService) LogoutAll(ctx context.Context, userID uint, ip string) (int64, error) {
	revoked, err := s.ledger.RevokeAll(userID, ip)
	observability.RecordAuthLogout(logoutStatus(err))
	return revoked, err
}

func (s *AuthService) Sessions(userID uint, presentedRefresh string) ([]SessionView, error) {
	return s.ledger.Views(userID, presentedRefresh)
}

func (s *AuthService) ParseAccessToken(raw string) (*security.Claims, error) {
	return s.issuer.Parse(raw)
}

func (s *AuthService) checkGuard(ctx context.Context, creds Credentials) error {
	if s.guard == nil {
		return nil
	}
	cooldown, err := s.guard.Check(ctx, AuthAbuseScopeLogin, creds.Login, creds.IP)
	if err != nil {
		// The guard is advisory; a broken guard backend must not lock
		// everyone out.
		s.logger.Warn("abuse guard check failed", "error", err)
		return nil
	}
	if cooldown > 0 {
		return ErrTooManyAttempts
	}
	return nil
}

func (s *AuthService) registerFailure(ctx context.Context, creds Credentials) {
	if s.guard == nil {
		return
	}
	if _, err := s.guard.RegisterFailure(ctx, AuthAbuseScopeLogin, creds.Login, creds.IP); err != nil {
		s.logger.Warn("abuse guard register failed", "error", err)
	}
}

func (s *AuthService) resetGuard(ctx context.Context, creds Credentials) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Reset(ctx, AuthAbuseScopeLogin, creds.Login, creds.IP); err != nil {
		s.logger.Warn("abuse guard reset failed", "error", err)
	}
}

type localVerifier struct {
	users repository.UserRepository
}

// dummyDigest burns a bcrypt comparison when the user does not exist or has no
// local password, so the unknown-user and wrong-password paths are
// indistinguishable in timing as well as content.
var dummyDigest, _ = security.HashPassword("timing-equalizer-constant")

func (v *localVerifier) verify(ctx context.Context, login, secret string) (*verifiedPrincipal, error) {
	user, err := v.users.FindByEmail(login)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			user, err = v.users.FindByUsername(login)
		}
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				security.CheckPassword(secret, dummyDigest)
				return nil, ErrInvalidCredentials
			}
			return nil, err
		}
	}
	if user.PasswordHash == nil {
		security.CheckPassword(secret, dummyDigest)
		return nil, ErrInvalidCredentials
	}
	if !security.CheckPassword(secret, *user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &verifiedPrincipal{user: user}, nil
}

type directoryVerifier struct {
	client  directory.Client
	roleCfg RoleMappingConfig
	logger  *slog.Logger
}

func (v *directoryVerifier) verify(ctx context.Context, login, secret string) (*verifiedPrincipal, error) {
	if err := v.client.Bind(ctx, login, secret); err != nil {
		if errors.Is(err, directory.ErrUnavailable) {
			// Already logged in detail at the directory boundary; the caller
			// only ever sees the generic failure.
			v.logger.Warn("directory unavailable during login", "principal", login)
		}
		return nil, ErrInvalidCredentials
	}
	groups, err := v.client.GroupsOf(ctx, login)
	if err != nil {
		v.logger.Warn("directory group lookup failed after successful bind", "principal", login)
		return nil, ErrInvalidCredentials
	}
	return &verifiedPrincipal{
		profile:  Profile{Username: login},
		roleName: ResolvePrimaryRole(groups, v.roleCfg),
		groups:   groups,
	}, nil
}

func loginStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrTooManyAttempts):
		return "throttled"
	case errors.Is(err, ErrInvalidCredentials):
		return "unauthorized"
	default:
		return "error"
	}
}

func refreshStatus(err error) string {
	switch {
	case errors.Is(err, ErrReuseDetected):
		return "reuse_detected"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid_token"
	default:
		return "error"
	}
}

func logoutStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidRefreshToken), errors.Is(err, ErrInvalidInput):
		return "invalid_token"
	default:
		return "error"
	}
}
