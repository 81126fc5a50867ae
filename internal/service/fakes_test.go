package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stayforge/identity-service/internal/directory"
	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/repository"
)

type memoryUserRepo struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*domain.User
	// updates counts Update calls so tests can assert nothing was written.
	updates int
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{nextID: 1, users: make(map[uint]*domain.User)}
}

func (r *memoryUserRepo) FindByID(id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryUserRepo) FindByEmail(email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memoryUserRepo) FindByUsername(username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memoryUserRepo) Create(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = r.nextID
	r.nextID++
	user.Email = strings.ToLower(user.Email)
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *memoryUserRepo) Update(user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	r.updates++
	user.Email = strings.ToLower(user.Email)
	user.UpdatedAt = time.Now()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

type memoryRoleRepo struct {
	mu     sync.Mutex
	nextID uint
	roles  map[string]*domain.Role
}

func newMemoryRoleRepo() *memoryRoleRepo {
	return &memoryRoleRepo{nextID: 1, roles: make(map[string]*domain.Role)}
}

func (r *memoryRoleRepo) FindByName(name string) (*domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[name]
	if !ok {
		return nil, repository.ErrRoleNotFound
	}
	cp := *role
	return &cp, nil
}

func (r *memoryRoleRepo) EnsureByName(name string) (*domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[name]; ok {
		cp := *role
		return &cp, nil
	}
	role := &domain.Role{ID: r.nextID, Name: name}
	r.nextID++
	r.roles[name] = role
	cp := *role
	return &cp, nil
}

func (r *memoryRoleRepo) List() ([]domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, *role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// memorySessionRepo mirrors the transactional semantics of the gorm
// implementation closely enough for ledger tests: cap eviction on insert,
// atomic rotation with the forward pointer, and the retention sweep rules.
type memorySessionRepo struct {
	mu       sync.Mutex
	nextID   uint
	sessions map[uint]*domain.RefreshSession
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{nextID: 1, sessions: make(map[uint]*domain.RefreshSession)}
}

func (r *memorySessionRepo) activeOldestFirst(userID uint) []*domain.RefreshSession {
	now := time.Now()
	var active []*domain.RefreshSession
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil && s.ExpiresAt.After(now) {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active
}

func (r *memorySessionRepo) evictOverCap(userID uint, cap int, ip string) int64 {
	if cap < 1 {
		cap = 1
	}
	active := r.activeOldestFirst(userID)
	over := len(active) - cap + 1
	if over <= 0 {
		return 0
	}
	now := time.Now()
	for _, s := range active[:over] {
		reason := domain.RevokedReasonCapEvicted
		t := now
		s.RevokedAt = &t
		s.RevokedReason = &reason
		s.RevokedByIP = ip
		s.UpdatedAt = now
	}
	return int64(over)
}

func (r *memorySessionRepo) insert(s *domain.RefreshSession) {
	s.ID = r.nextID
	r.nextID++
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	cp := *s
	r.sessions[s.ID] = &cp
}

func (r *memorySessionRepo) CreateWithCap(s *domain.RefreshSession, cap int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := r.evictOverCap(s.UserID, cap, s.IP)
	r.insert(s)
	return evicted, nil
}

func (r *memorySessionRepo) FindByHash(hash string) (*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *memorySessionRepo) ListActiveByUserID(userID uint) ([]domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := r.activeOldestFirst(userID)
	out := make([]domain.RefreshSession, 0, len(active))
	for i := len(active) - 1; i >= 0; i-- {
		out = append(out, *active[i])
	}
	return out, nil
}

func (r *memorySessionRepo) Rotate(oldHash string, next *domain.RefreshSession, cap int) (*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var old *domain.RefreshSession
	for _, s := range r.sessions {
		if s.TokenHash == oldHash && s.RevokedAt == nil && s.ExpiresAt.After(now) {
			old = s
			break
		}
	}
	if old == nil {
		return nil, repository.ErrSessionNotFound
	}
	reason := domain.RevokedReasonRotated
	t := now
	old.RevokedAt = &t
	old.RevokedReason = &reason
	old.RevokedByIP = next.IP
	old.UpdatedAt = now
	r.evictOverCap(next.UserID, cap, next.IP)
	r.insert(next)
	old.ReplacedBySessionID = &next.ID
	cp := *old
	return &cp, nil
}

func (r *memorySessionRepo) RevokeByHash(hash, reason, ip string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, s := range r.sessions {
		if s.TokenHash == hash && s.RevokedAt == nil {
			t := now
			rs := reason
			s.RevokedAt = &t
			s.RevokedReason = &rs
			s.RevokedByIP = ip
			s.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (r *memorySessionRepo) RevokeActiveByUser(userID uint, reason, ip string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			t := now
			rs := reason
			s.RevokedAt = &t
			s.RevokedReason = &rs
			s.RevokedByIP = ip
			s.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) SweepStale(retention time.Duration, excludeIDs []uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-retention)
	excluded := make(map[uint]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var n int64
	for id, s := range r.sessions {
		if excluded[id] {
			continue
		}
		if !s.UpdatedAt.Before(cutoff) {
			continue
		}
		if s.RevokedAt == nil && s.ExpiresAt.After(now) {
			continue
		}
		delete(r.sessions, id)
		n++
	}
	return n, nil
}

// count helpers used in assertions.

func (r *memorySessionRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *memorySessionRepo) byID(id uint) *domain.RefreshSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// fakeDirectory is a canned directory: principals map to passwords and group
// lists. A nil groups map simulates an unreachable directory.
type fakeDirectory struct {
	passwords map[string]string
	groups    map[string][]string
	down      bool
}

func (d *fakeDirectory) Bind(ctx context.Context, principal, secret string) error {
	if d.down {
		return directory.ErrUnavailable
	}
	if pw, ok := d.passwords[principal]; ok && pw == secret {
		return nil
	}
	return directory.ErrBindFailed
}

func (d *fakeDirectory) GroupsOf(ctx context.Context, principal string) ([]string, error) {
	if d.down {
		return nil, directory.ErrUnavailable
	}
	return d.groups[principal], nil
}

// countingGuard records calls; cooldown > 0 makes Check deny.
type countingGuard struct {
	cooldown time.Duration
	checks   int
	failures int
	resets   int
}

func (g *countingGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.checks++
	return g.cooldown, nil
}

func (g *countingGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.failures++
	return 0, nil
}

func (g *countingGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	g.resets++
	return nil
}
