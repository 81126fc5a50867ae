package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/repository"
)

// Profile is the identity-shaped data a credential source hands over after a
// successful verification. Directory logins carry whatever the directory
// exposes; local logins already have a full record.
type Profile struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
}

// IdentitySynchronizer keeps the local user record in step with its credential
// source. Role rows are created lazily so directory or mapping drift heals
// itself instead of blocking logins.
type IdentitySynchronizer struct {
	users repository.UserRepository
	roles repository.RoleRepository
	// emailDomain synthesizes a fallback address when the source has none,
	// satisfying the non-null unique email invariant.
	emailDomain string
}

func NewIdentitySynchronizer(users repository.UserRepository, roles repository.RoleRepository, emailDomain string) *IdentitySynchronizer {
	return &IdentitySynchronizer{users: users, roles: roles, emailDomain: emailDomain}
}

// Ensure finds or creates the identity for profile and guarantees the returned
// record carries a freshly loaded role. Mutable profile fields are updated
// only when the incoming value is non-empty; nothing is written when no field
// differs.
func (s *IdentitySynchronizer) Ensure(profile Profile, roleName string) (*domain.User, error) {
	if profile.Username == "" {
		return nil, ErrInvalidInput
	}
	if roleName == "" {
		return nil, ErrRoleNotLoaded
	}
	role, err := s.roles.EnsureByName(roleName)
	if err != nil {
		return nil, fmt.Errorf("ensure role %q: %w", roleName, err)
	}

	user, err := s.lookup(profile)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		user = &domain.User{
			Username:  profile.Username,
			Email:     s.emailFor(profile),
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			RoleID:    role.ID,
		}
		if err := s.users.Create(user); err != nil {
			return nil, fmt.Errorf("create identity %q: %w", profile.Username, err)
		}
		user.Role = role
		return user, nil
	}

	changed := false
	if profile.FirstName != "" && profile.FirstName != user.FirstName {
		user.FirstName = profile.FirstName
		changed = true
	}
	if profile.LastName != "" && profile.LastName != user.LastName {
		user.LastName = profile.LastName
		changed = true
	}
	if profile.Email != "" && !strings.EqualFold(profile.Email, user.Email) {
		user.Email = profile.Email
		changed = true
	}
	if user.RoleID != role.ID {
		user.RoleID = role.ID
		changed = true
	}
	if changed {
		if err := s.users.Update(user); err != nil {
			return nil, fmt.Errorf("update identity %q: %w", profile.Username, err)
		}
	}
	user.Role = role
	return user, nil
}

func (s *IdentitySynchronizer) lookup(profile Profile) (*domain.User, error) {
	if profile.Email != "" {
		user, err := s.users.FindByEmail(profile.Email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
	}
	return s.users.FindByUsername(profile.Username)
}

func (s *IdentitySynchronizer) emailFor(profile Profile) string {
	if profile.Email != "" {
		return strings.ToLower(profile.Email)
	}
	return strings.ToLower(fmt.Sprintf("%s@%s", profile.Username, s.emailDomain))
}
