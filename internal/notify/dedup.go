package notify

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which event ids were already delivered.
type Deduper interface {
	// Claim returns true when id has not been seen within the TTL.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id so a later attempt can deliver it.
	Release(ctx context.Context, id string) error
}

const dedupKeyPrefix = "shepherd:notify:sent:"

// RedisDeduper claims ids with SET NX so every process sharing the Redis
// instance agrees on what was sent.
type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl, prefix: dedupKeyPrefix}
}

// WithPrefix returns a copy keyed under a different namespace.
func (d *RedisDeduper) WithPrefix(prefix string) *RedisDeduper {
	c := *d
	c.prefix = prefix
	return &c
}

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	return d.client.Del(ctx, d.prefix+id).Err()
}

// MemoryDeduper is a single-process Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[id] = now.Add(d.ttl)

	// Opportunistic cleanup keeps the map bounded by the TTL window.
	if len(d.seen)%256 == 0 {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	return nil
}
