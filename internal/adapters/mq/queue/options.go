package queue

// Option applies a configuration option to the ShardedQueue.
type Option func(*ShardedQueue, *int)

// WithShardCount sets the number of shards (and thus consumers).
func WithShardCount(n int) Option {
	return func(_ *ShardedQueue, shardCount *int) {
		if n > 0 {
			*shardCount = n
		}
	}
}

// WithShardCapacity bounds each shard's buffer.
func WithShardCapacity(n int) Option {
	return func(q *ShardedQueue, _ *int) {
		if n > 0 {
			q.capacity = n
		}
	}
}
