package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lydianai/otoail.ailydian.com-sub002/pkg/logger"
)

// DispatchGuard prevents concurrent dispatch of the same claim. The on-chain
// idempotency key is the real double-spend safety net; the guard only stops
// two dispatchers racing on one claim inside this process group.
type DispatchGuard interface {
	// Acquire claims the dispatch slot for claimID. Returns false when
	// another dispatch is already in flight.
	Acquire(ctx context.Context, claimID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, claimID string)
}

// RedisDispatchGuard implements DispatchGuard on redis SETNX so the guard
// holds across service replicas.
type RedisDispatchGuard struct {
	client *redis.Client
	logger *logger.Logger
}

// NewRedisDispatchGuard creates a redis-backed dispatch guard
func NewRedisDispatchGuard(client *redis.Client, log *logger.Logger) *RedisDispatchGuard {
	return &RedisDispatchGuard{
		client: client,
		logger: log,
	}
}

func dispatchKey(claimID string) string {
	return "settle:claim:" + claimID
}

// Acquire sets the guard key if absent
func (g *RedisDispatchGuard) Acquire(ctx context.Context, claimID string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, dispatchKey(claimID), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release deletes the guard key. Failures are logged only; the TTL bounds
// the damage of a leaked key.
func (g *RedisDispatchGuard) Release(ctx context.Context, claimID string) {
	if err := g.client.Del(ctx, dispatchKey(claimID)).Err(); err != nil {
		g.logger.WithClaimID(claimID).WithError(err).Warn("Failed to release dispatch guard")
	}
}

// LocalDispatchGuard is an in-process DispatchGuard used in tests and when
// redis is not configured.
type LocalDispatchGuard struct {
	held map[string]time.Time
	mu   sync.Mutex
}

// NewLocalDispatchGuard creates an in-process dispatch guard
func NewLocalDispatchGuard() *LocalDispatchGuard {
	return &LocalDispatchGuard{
		held: make(map[string]time.Time),
	}
}

// Acquire claims the slot if free or expired
func (g *LocalDispatchGuard) Acquire(_ context.Context, claimID string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, ok := g.held[claimID]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	g.held[claimID] = time.Now().Add(ttl)
	return true, nil
}

// Release frees the slot
func (g *LocalDispatchGuard) Release(_ context.Context, claimID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, claimID)
}
