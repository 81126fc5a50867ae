package service

import (
	"context"
	"strings"
	"time"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin   AuthAbuseScope = "login"
	AuthAbuseScopeRefresh AuthAbuseScope = "refresh"
)

// AuthAbusePolicy shapes the progressive cooldown applied to repeated failed
// attempts against one identity or one source address.
type AuthAbusePolicy struct {
	// FreeAttempts fail without any cooldown.
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// ResetWindow is how long failure state is remembered.
	ResetWindow time.Duration
}

func DefaultAuthAbusePolicy() AuthAbusePolicy {
	return AuthAbusePolicy{
		FreeAttempts: 3,
		BaseDelay:    2 * time.Second,
		Multiplier:   2,
		MaxDelay:     5 * time.Minute,
		ResetWindow:  15 * time.Minute,
	}
}

func (p AuthAbusePolicy) normalized() AuthAbusePolicy {
	def := DefaultAuthAbusePolicy()
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = def.ResetWindow
	}
	return p
}

// AuthAbuseGuard tracks failed authentication attempts. It is advisory: a
// failing guard backend never blocks the login path.
type AuthAbuseGuard interface {
	// Check returns the remaining cooldown, zero when the attempt may proceed.
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	// RegisterFailure records one failed attempt and returns the cooldown now
	// in force.
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	// Reset clears failure state after a successful authentication.
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

func normalizeAuthIdentity(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func cooldownFor(policy AuthAbusePolicy, failures int64) time.Duration {
	if failures <= int64(policy.FreeAttempts) {
		return 0
	}
	delay := policy.BaseDelay
	for i := int64(policy.FreeAttempts) + 1; i < failures; i++ {
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}
