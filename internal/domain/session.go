package domain

import "time"

// Revocation reasons recorded on a refresh session. A session with a nil
// RevokedAt is active until it passes ExpiresAt; expiry is derived, never stored.
const (
	RevokedReasonRotated       = "rotated"
	RevokedReasonLogout        = "logout"
	RevokedReasonCapEvicted    = "cap_evicted"
	RevokedReasonReuseDetected = "reuse_detected"
)

type RefreshSession struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	TokenHash     string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IP            string     `gorm:"size:64" json:"ip"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	RevokedByIP   string     `gorm:"size:64" json:"-"`
	// ReplacedBySessionID links a rotated session to its successor. It is set
	// if and only if RevokedReason is "rotated".
	ReplacedBySessionID *uint     `gorm:"index" json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (s *RefreshSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *RefreshSession) Active(now time.Time) bool {
	return s.RevokedAt == nil && !s.Expired(now)
}
