package balances

import "time"

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock overrides the last_recomputed_at clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}
