package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RepairQueue collects ticket ids whose history array needs a resync.
// Enqueueing a queued id is a no-op.
type RepairQueue interface {
	Enqueue(ctx context.Context, ticketID string) error
	Drain(ctx context.Context, max int) ([]string, error)
}

// MemoryRepairQueue is a process-local RepairQueue.
type MemoryRepairQueue struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewMemoryRepairQueue builds an empty queue.
func NewMemoryRepairQueue() *MemoryRepairQueue {
	return &MemoryRepairQueue{pending: make(map[string]struct{})}
}

func (q *MemoryRepairQueue) Enqueue(_ context.Context, ticketID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[ticketID] = struct{}{}
	return nil
}

// Drain removes and returns up to max ids in id order.
func (q *MemoryRepairQueue) Drain(_ context.Context, max int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if max > 0 && len(ids) > max {
		ids = ids[:max]
	}
	for _, id := range ids {
		delete(q.pending, id)
	}
	return ids, nil
}

// Len reports the number of queued ids.
func (q *MemoryRepairQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RedisRepairQueue shares the queue between instances through a Redis set.
type RedisRepairQueue struct {
	client *redis.Client
	key    string
}

// NewRedisRepairQueue builds a queue stored under key.
func NewRedisRepairQueue(client *redis.Client, key string) *RedisRepairQueue {
	return &RedisRepairQueue{client: client, key: key}
}

func (q *RedisRepairQueue) Enqueue(ctx context.Context, ticketID string) error {
	return q.client.SAdd(ctx, q.key, ticketID).Err()
}

func (q *RedisRepairQueue) Drain(ctx context.Context, max int) ([]string, error) {
	if max <= 0 {
		max = 100
	}
	ids, err := q.client.SPopN(ctx, q.key, int64(max)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}
