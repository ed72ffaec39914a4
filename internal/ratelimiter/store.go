package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BucketStore holds per-client window counters. Incr consumes one slot and
// returns the post-increment count together with the start of the current
// window. Implementations must rotate the window atomically.
type BucketStore interface {
	Incr(ctx context.Context, clientID int, now time.Time) (count int, windowStart time.Time, err error)
}

type memoryBucket struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// MemoryBucketStore keeps counters in process memory. Suitable while a
// single instance runs; swap in the redis store when scaling out.
type MemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[int]*memoryBucket
}

func NewMemoryBucketStore() *MemoryBucketStore {
	return &MemoryBucketStore{buckets: make(map[int]*memoryBucket)}
}

func (s *MemoryBucketStore) Incr(_ context.Context, clientID int, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	b, ok := s.buckets[clientID]
	if !ok {
		b = &memoryBucket{windowStart: now}
		s.buckets[clientID] = b
	}
	s.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Sub(b.windowStart) >= Window {
		b.windowStart = now
		b.count = 0
	}
	b.count++
	return b.count, b.windowStart, nil
}

// RedisBucketStore keeps counters in redis so multiple instances share one
// window per client. Keys are bucketed by window start and expire on their
// own.
type RedisBucketStore struct {
	client *redis.Client
}

func NewRedisBucketStore(client *redis.Client) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

func (s *RedisBucketStore) Incr(ctx context.Context, clientID int, now time.Time) (int, time.Time, error) {
	windowStart := now.Truncate(Window)
	key := fmt.Sprintf("ratelimit:%d:%d", clientID, windowStart.Unix())

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("redis rate-limit incr: %w", err)
	}
	return int(incr.Val()), windowStart, nil
}
