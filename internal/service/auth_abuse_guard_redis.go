package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAuthAbuseGuard keeps failure state in redis hashes keyed by scope plus
// normalized identity and by source IP, so a single address hammering many
// accounts and a distributed attack on one account are both caught.
type RedisAuthAbuseGuard struct {
	client *redis.Client
	prefix string
	policy AuthAbusePolicy
}

func NewRedisAuthAbuseGuard(client *redis.Client, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{client: client, prefix: prefix, policy: policy.normalized()}
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	var worst time.Duration
	for _, key := range g.keys(scope, identity, ip) {
		remaining, err := g.remainingCooldown(ctx, key)
		if err != nil {
			return 0, err
		}
		if remaining > worst {
			worst = remaining
		}
	}
	return worst, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	var worst time.Duration
	now := time.Now()
	for _, key := range g.keys(scope, identity, ip) {
		failures, err := g.client.HIncrBy(ctx, key, "failures", 1).Result()
		if err != nil {
			return 0, err
		}
		cooldown := cooldownFor(g.policy, failures)
		fields := map[string]any{"last_failure_ms": now.UnixMilli()}
		if cooldown > 0 {
			fields["cooldown_until_ms"] = now.Add(cooldown).UnixMilli()
		}
		if err := g.client.HSet(ctx, key, fields).Err(); err != nil {
			return 0, err
		}
		if err := g.client.Expire(ctx, key, g.policy.ResetWindow).Err(); err != nil {
			return 0, err
		}
		if cooldown > worst {
			worst = cooldown
		}
	}
	return worst, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := g.keys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

func (g *RedisAuthAbuseGuard) remainingCooldown(ctx context.Context, key string) (time.Duration, error) {
	raw, err := g.client.HGet(ctx, key, "cooldown_until_ms").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	untilMS, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed cooldown state in %s: %w", key, err)
	}
	remaining := time.Until(time.UnixMilli(untilMS))
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (g *RedisAuthAbuseGuard) keys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if id := normalizeAuthIdentity(identity); id != "" {
		keys = append(keys, g.stateKey(scope, "id", id))
	}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, value)
}
