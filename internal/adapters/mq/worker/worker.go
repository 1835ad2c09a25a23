// Package worker runs the derivation consumers. One worker is pinned to each
// queue shard, so events for a given player are applied strictly in the order
// they were appended.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/lsg-lab/pointward/internal/adapters/mq/queue"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/engine/derive"
	"github.com/lsg-lab/pointward/pkg/logger"
	"github.com/lsg-lab/pointward/pkg/metrics"
)

const defaultDrainTimeout = 10 * time.Second

// Applier folds one appended event into balances. Events whose application
// fails are handed to Quarantine so they are never silently dropped.
type Applier interface {
	Apply(ctx context.Context, e model.Event) (derive.Outcome, error)
	Quarantine(ctx context.Context, e model.Event, reason string)
}

// Pool consumes every shard of a queue and applies events.
type Pool struct {
	queue   queue.Queue
	applier Applier
	log     logger.Logger

	drainTimeout time.Duration

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewPool creates a pool bound to a queue and an applier.
func NewPool(q queue.Queue, applier Applier, opts ...Option) *Pool {
	p := &Pool{
		queue:        q,
		applier:      applier,
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches one consumer goroutine per queue shard.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	shards := p.queue.Shards()
	metrics.UpdateWorkerCount(shards)
	for i := 0; i < shards; i++ {
		p.wg.Add(1)
		go p.consume(ctx, i)
	}
	if p.log != nil {
		p.log.Info(ctx, "worker pool started", logger.Int("workers", shards))
	}
}

func (p *Pool) consume(ctx context.Context, shard int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before exiting so appended
			// events are not stranded behind the watermark.
			p.drain(shard)
			return
		case e, ok := <-p.queue.Shard(shard):
			if !ok {
				return
			}
			p.apply(ctx, shard, e)
		}
	}
}

// drain applies remaining shard entries with a bounded background context.
func (p *Pool) drain(shard int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()

	for {
		select {
		case e, ok := <-p.queue.Shard(shard):
			if !ok {
				return
			}
			p.apply(ctx, shard, e)
		default:
			return
		}
	}
}

func (p *Pool) apply(ctx context.Context, shard int, e model.Event) {
	if _, err := p.applier.Apply(ctx, e); err != nil {
		// The async path has no caller to return the error to; quarantine
		// the event so its contribution stays accounted for.
		p.applier.Quarantine(ctx, e, err.Error())
		if p.log != nil {
			p.log.Error(ctx, "apply event",
				logger.Int("shard", shard),
				logger.Int64("eventID", e.EventID),
				logger.String("playerID", e.PlayerID),
				logger.Error(err),
			)
		}
	}
	metrics.UpdateQueueSize(p.queue.Len(ctx))
}

// Stop waits for all consumers to exit. Callers close the queue (or cancel
// the start context) first; Stop only blocks until the goroutines finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.wg.Wait()
	metrics.UpdateWorkerCount(0)
	if p.log != nil {
		p.log.Info(context.Background(), "worker pool stopped")
	}
}
