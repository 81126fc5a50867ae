package service

import (
	"context"
	"sync"
	"time"
)

// MemoryAuthAbuseGuard is the single-process fallback used when no redis is
// configured. Same policy semantics as the redis guard, state scoped to this
// instance.
type MemoryAuthAbuseGuard struct {
	mu     sync.Mutex
	policy AuthAbusePolicy
	states map[string]*abuseState
}

type abuseState struct {
	failures      int64
	lastFailure   time.Time
	cooldownUntil time.Time
}

func NewMemoryAuthAbuseGuard(policy AuthAbusePolicy) *MemoryAuthAbuseGuard {
	return &MemoryAuthAbuseGuard{
		policy: policy.normalized(),
		states: make(map[string]*abuseState),
	}
}

func (g *MemoryAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	var worst time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		st, ok := g.states[key]
		if !ok {
			continue
		}
		if now.Sub(st.lastFailure) > g.policy.ResetWindow {
			delete(g.states, key)
			continue
		}
		if remaining := st.cooldownUntil.Sub(now); remaining > worst {
			worst = remaining
		}
	}
	return worst, nil
}

func (g *MemoryAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	var worst time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		st, ok := g.states[key]
		if !ok || now.Sub(st.lastFailure) > g.policy.ResetWindow {
			st = &abuseState{}
			g.states[key] = st
		}
		st.failures++
		st.lastFailure = now
		cooldown := cooldownFor(g.policy, st.failures)
		if cooldown > 0 {
			st.cooldownUntil = now.Add(cooldown)
		}
		if cooldown > worst {
			worst = cooldown
		}
	}
	return worst, nil
}

func (g *MemoryAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range g.keys(scope, identity, ip) {
		delete(g.states, key)
	}
	return nil
}

func (g *MemoryAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if id := normalizeAuthIdentity(identity); id != "" {
		keys = append(keys, string(scope)+":id:"+id)
	}
	if ip != "" {
		keys = append(keys, string(scope)+":ip:"+ip)
	}
	return keys
}
