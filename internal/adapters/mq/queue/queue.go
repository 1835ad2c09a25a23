// Package queue provides the bounded in-memory queue between ingestion and
// derivation.
//
// The queue is sharded by player id: events for one player always land on
// the same shard, and each shard is consumed by exactly one worker. With
// ledger appends enqueued in id order, this gives per-player FIFO delivery,
// which the balance watermark relies on to distinguish replays from fresh
// events.
package queue

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultShardCount    = 8
	defaultShardCapacity = 4096
)

// Event is the payload type flowing through the queue.
type Event = model.Event

// Queue provides non-blocking and blocking enqueue paths with per-shard
// channel dequeue.
type Queue interface {
	// Enqueue routes an event to its player's shard.
	// Returns false if the shard is full or the queue is closed.
	Enqueue(ctx context.Context, e Event) bool

	// EnqueueBlocking routes an event to its player's shard, waiting for
	// the consumer to make room. Errors only on cancellation or close.
	EnqueueBlocking(ctx context.Context, e Event) error

	// Shard returns the receive channel for one shard. The channel is
	// closed when the queue is closed.
	Shard(i int) <-chan Event

	// Shards returns the number of shards.
	Shards() int

	// Len returns the total number of queued events.
	Len(ctx context.Context) int

	// Close shuts the queue down; no new events can be enqueued.
	Close() error

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool
}

// ShardedQueue implements Queue with one buffered channel per shard.
type ShardedQueue struct {
	shards   []chan Event
	capacity int // per shard

	mu     sync.RWMutex
	closed bool
}

// NewShardedQueue creates a sharded queue with configuration options.
func NewShardedQueue(opts ...Option) *ShardedQueue {
	q := &ShardedQueue{
		capacity: defaultShardCapacity,
	}
	shardCount := defaultShardCount
	for _, opt := range opts {
		opt(q, &shardCount)
	}

	q.shards = make([]chan Event, shardCount)
	for i := range q.shards {
		q.shards[i] = make(chan Event, q.capacity)
	}

	metrics.UpdateQueueCapacity(shardCount * q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

func (q *ShardedQueue) shardFor(playerID string) chan Event {
	h := fnv.New32a()
	_, _ = h.Write([]byte(playerID))
	return q.shards[int(h.Sum32())%len(q.shards)]
}

// Enqueue routes an event to its player's shard without blocking.
func (q *ShardedQueue) Enqueue(ctx context.Context, e Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueFailure()
		return false
	}

	select {
	case q.shardFor(e.PlayerID) <- e:
		metrics.UpdateQueueSize(q.len())
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueFailure()
		return false
	default:
		metrics.RecordQueueEnqueueFailure()
		return false // shard full
	}
}

// EnqueueBlocking routes an event to its player's shard, waiting for the
// consumer to make room. Waiting is bounded by worker progress: the send
// completes as soon as the shard's consumer takes an event. Events for one
// player keep their enqueue order, which Enqueue's full-shard rejection
// cannot guarantee to callers that would retry out of band.
func (q *ShardedQueue) EnqueueBlocking(ctx context.Context, e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.shardFor(e.PlayerID) <- e:
		metrics.UpdateQueueSize(q.len())
		return nil
	case <-ctx.Done():
		metrics.RecordQueueEnqueueFailure()
		return ctx.Err()
	}
}

// Shard returns the receive channel for shard i.
func (q *ShardedQueue) Shard(i int) <-chan Event { return q.shards[i] }

// Shards returns the number of shards.
func (q *ShardedQueue) Shards() int { return len(q.shards) }

func (q *ShardedQueue) len() int {
	n := 0
	for _, s := range q.shards {
		n += len(s)
	}
	return n
}

// Len returns the total number of queued events.
func (q *ShardedQueue) Len(_ context.Context) int {
	size := q.len()
	metrics.UpdateQueueSize(size)
	return size
}

// Close shuts the queue down and closes every shard channel.
func (q *ShardedQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for _, s := range q.shards {
		close(s)
	}
	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *ShardedQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
