package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/observability"
	"github.com/stayforge/identity-service/internal/repository"
	"github.com/stayforge/identity-service/internal/security"
)

// SessionLedger owns the refresh-token state machine: creation, rotation,
// revocation, reuse detection and retention cleanup. Plaintext secrets exist
// only in return values; the ledger is indexed by peppered hash.
type SessionLedger struct {
	sessions   repository.SessionRepository
	pepper     string
	refreshTTL time.Duration
	// cap bounds the number of active sessions per identity; the oldest
	// active session is evicted before a new one would exceed it.
	cap       int
	retention time.Duration
	logger    *slog.Logger
}

func NewSessionLedger(sessions repository.SessionRepository, pepper string, refreshTTL time.Duration, cap int, retention time.Duration, logger *slog.Logger) *SessionLedger {
	return &SessionLedger{
		sessions:   sessions,
		pepper:     pepper,
		refreshTTL: refreshTTL,
		cap:        cap,
		retention:  retention,
		logger:     logger,
	}
}

// Issue creates a new active session and returns the one-time plaintext
// secret. The retention sweep piggybacks on this write path.
func (l *SessionLedger) Issue(userID uint, userAgent, ip string) (string, time.Time, error) {
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate refresh secret: %w", err)
	}
	session := &domain.RefreshSession{
		UserID:    userID,
		TokenHash: security.HashRefreshSecret(secret, l.pepper),
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: time.Now().Add(l.refreshTTL),
	}
	evicted, err := l.sessions.CreateWithCap(session, l.cap)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}
	if evicted > 0 {
		l.logger.Info("session cap eviction", "user_id", userID, "evicted", evicted)
	}
	l.sweep(session.ID)
	return secret, session.ExpiresAt, nil
}

// Rotate exchanges an active refresh secret for a new one. Presenting a secret
// whose session is already revoked is treated as evidence of capture: every
// active session of that identity is revoked before the call fails.
func (l *SessionLedger) Rotate(presented, userAgent, ip string) (uint, string, time.Time, error) {
	hash := security.HashRefreshSecret(presented, l.pepper)
	session, err := l.sessions.FindByHash(hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return 0, "", time.Time{}, ErrInvalidRefreshToken
		}
		return 0, "", time.Time{}, err
	}
	if session.RevokedAt != nil {
		return 0, "", time.Time{}, l.cascadeReuse(session, ip)
	}
	if session.Expired(time.Now()) {
		return 0, "", time.Time{}, ErrInvalidRefreshToken
	}

	secret, err := security.NewRefreshSecret()
	if err != nil {
		return 0, "", time.Time{}, fmt.Errorf("generate refresh secret: %w", err)
	}
	next := &domain.RefreshSession{
		UserID:    session.UserID,
		TokenHash: security.HashRefreshSecret(secret, l.pepper),
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: time.Now().Add(l.refreshTTL),
	}
	if _, err := l.sessions.Rotate(hash, next, l.cap); err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return 0, "", time.Time{}, err
		}
		// Lost a race: the row was active a moment ago. If another worker
		// rotated it first, this presentation is a replay of a now-revoked
		// secret and gets the full reuse treatment.
		current, findErr := l.sessions.FindByHash(hash)
		if findErr == nil && current.RevokedAt != nil {
			return 0, "", time.Time{}, l.cascadeReuse(current, ip)
		}
		return 0, "", time.Time{}, ErrInvalidRefreshToken
	}
	l.sweep(session.ID, next.ID)
	return session.UserID, secret, next.ExpiresAt, nil
}

// Revoke handles single logout. Callers may only revoke their own sessions;
// anything else is forbidden, never silently ignored.
func (l *SessionLedger) Revoke(userID uint, presented, ip string) error {
	hash := security.HashRefreshSecret(presented, l.pepper)
	session, err := l.sessions.FindByHash(hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrInvalidRefreshToken
		}
		return err
	}
	if session.UserID != userID {
		return ErrForbidden
	}
	if _, err := l.sessions.RevokeByHash(hash, domain.RevokedReasonLogout, ip); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (l *SessionLedger) RevokeAll(userID uint, ip string) (int64, error) {
	return l.sessions.RevokeActiveByUser(userID, domain.RevokedReasonLogout, ip)
}

func (l *SessionLedger) ListActive(userID uint) ([]domain.RefreshSession, error) {
	return l.sessions.ListActiveByUserID(userID)
}

// SessionView is the client-facing shape of an active session.
type SessionView struct {
	ID        uint      `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UserAgent string    `json:"user_agent"`
	IP        string    `json:"ip"`
	IsCurrent bool      `json:"is_current"`
}

// Views lists the user's active sessions. When the caller presents its own
// refresh secret the matching session is marked current.
func (l *SessionLedger) Views(userID uint, presentedRefresh string) ([]SessionView, error) {
	sessions, err := l.sessions.ListActiveByUserID(userID)
	if err != nil {
		return nil, err
	}
	currentHash := ""
	if presentedRefresh != "" {
		currentHash = security.HashRefreshSecret(presentedRefresh, l.pepper)
	}
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, SessionView{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			UserAgent: s.UserAgent,
			IP:        s.IP,
			IsCurrent: currentHash != "" && s.TokenHash == currentHash,
		})
	}
	return views, nil
}

func (l *SessionLedger) cascadeReuse(session *domain.RefreshSession, ip string) error {
	revoked, err := l.sessions.RevokeActiveByUser(session.UserID, domain.RevokedReasonReuseDetected, ip)
	if err != nil {
		return fmt.Errorf("reuse cascade: %w", err)
	}
	observability.RecordReuseIncident()
	observability.SecurityIncident("refresh_token_reuse",
		"user_id", session.UserID,
		"session_id", session.ID,
		"presented_from_ip", ip,
		"sessions_revoked", revoked,
	)
	return ErrReuseDetected
}

// sweep opportunistically deletes sessions that have been inactive longer
// than the retention window, keeping the chain being modified intact.
func (l *SessionLedger) sweep(excludeIDs ...uint) {
	deleted, err := l.sessions.SweepStale(l.retention, excludeIDs)
	if err != nil {
		l.logger.Warn("session retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		l.logger.Debug("session retention sweep", "deleted", deleted)
	}
}
