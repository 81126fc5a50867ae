package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	// CreateWithCap inserts a new active session, first evicting the oldest
	// active sessions of the same user so the active count stays within cap.
	CreateWithCap(s *domain.RefreshSession, cap int) (evicted int64, err error)
	FindByHash(hash string) (*domain.RefreshSession, error)
	ListActiveByUserID(userID uint) ([]domain.RefreshSession, error)
	// Rotate revokes the active session identified by oldHash with reason
	// "rotated", inserts next, and points the old session at its successor.
	// The whole transition is one transaction.
	Rotate(oldHash string, next *domain.RefreshSession, cap int) (*domain.RefreshSession, error)
	RevokeByHash(hash, reason, ip string) (bool, error)
	RevokeActiveByUser(userID uint, reason, ip string) (int64, error)
	// SweepStale deletes sessions that have been inactive longer than
	// retention. Sessions in excludeIDs (the rotation chain currently being
	// modified) and active sessions are never touched.
	SweepStale(retention time.Duration, excludeIDs []uint) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

// lockForUpdate applies a row lock where the dialect supports it. SQLite has
// no row locks; its single-writer transaction model serializes these paths.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (r *GormSessionRepository) CreateWithCap(s *domain.RefreshSession, cap int) (int64, error) {
	var evicted int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var err error
		evicted, err = evictOverCap(tx, s.UserID, cap, s.IP)
		if err != nil {
			return err
		}
		return tx.Create(s).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create_with_cap", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create_with_cap", "success")
	return evicted, nil
}

// evictOverCap revokes the oldest active sessions so that after one insert the
// user holds at most cap active sessions. Runs inside the caller's transaction.
func evictOverCap(tx *gorm.DB, userID uint, cap int, ip string) (int64, error) {
	if cap < 1 {
		cap = 1
	}
	var active []domain.RefreshSession
	if err := lockForUpdate(tx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("created_at ASC").
		Find(&active).Error; err != nil {
		return 0, err
	}
	over := len(active) - cap + 1
	if over <= 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	var evicted int64
	for _, s := range active[:over] {
		res := tx.Model(&domain.RefreshSession{}).
			Where("id = ? AND revoked_at IS NULL", s.ID).
			Updates(map[string]any{
				"revoked_at":     now,
				"revoked_reason": domain.RevokedReasonCapEvicted,
				"revoked_by_ip":  ip,
			})
		if res.Error != nil {
			return evicted, res.Error
		}
		evicted += res.RowsAffected
	}
	return evicted, nil
}

func (r *GormSessionRepository) FindByHash(hash string) (*domain.RefreshSession, error) {
	var s domain.RefreshSession
	err := r.db.Where("token_hash = ?", hash).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(userID uint) ([]domain.RefreshSession, error) {
	var sessions []domain.RefreshSession
	err := r.db.Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) Rotate(oldHash string, next *domain.RefreshSession, cap int) (*domain.RefreshSession, error) {
	var rotated *domain.RefreshSession
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var old domain.RefreshSession
		err := lockForUpdate(tx).
			Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", oldHash, time.Now()).
			First(&old).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		// The old session is revoked before the cap scan so the successor
		// never evicts a session just to replace the one being rotated.
		now := time.Now().UTC()
		reason := domain.RevokedReasonRotated
		if err := tx.Model(&domain.RefreshSession{}).
			Where("id = ?", old.ID).
			Updates(map[string]any{
				"revoked_at":     now,
				"revoked_reason": reason,
				"revoked_by_ip":  next.IP,
			}).Error; err != nil {
			return err
		}
		if _, err := evictOverCap(tx, next.UserID, cap, next.IP); err != nil {
			return err
		}
		if err := tx.Create(next).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.RefreshSession{}).
			Where("id = ?", old.ID).
			Update("replaced_by_session_id", next.ID).Error; err != nil {
			return err
		}
		old.RevokedAt = &now
		old.RevokedReason = &reason
		old.ReplacedBySessionID = &next.ID
		rotated = &old
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "rotate", "success")
	return rotated, nil
}

func (r *GormSessionRepository) RevokeByHash(hash, reason, ip string) (bool, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshSession{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
			"revoked_by_ip":  ip,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_hash", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_by_hash", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) RevokeActiveByUser(userID uint, reason, ip string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshSession{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
			"revoked_by_ip":  ip,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_active_by_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_active_by_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) SweepStale(retention time.Duration, excludeIDs []uint) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-retention)
	q := r.db.
		Where("updated_at < ?", cutoff).
		Where("(revoked_at IS NOT NULL OR expires_at <= ?)", now)
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}
	res := q.Delete(&domain.RefreshSession{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "sweep_stale", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "sweep_stale", "success")
	return res.RowsAffected, nil
}
