package check

import (
	"time"

	"github.com/lsg-lab/pointward/pkg/logger"
)

// Option applies a configuration option to the Checker.
type Option func(*Checker)

// WithLogger sets the checker logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Checker) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock overrides the checker clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Checker) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMaxMismatches caps the mismatches tolerated in one run. A run that
// exceeds the cap fails with ErrTooManyMismatches and persists no report,
// so a persisted report always carries every mismatch in scope. Zero means
// unlimited.
func WithMaxMismatches(n int) Option {
	return func(c *Checker) {
		if n >= 0 {
			c.maxMismatches = n
		}
	}
}
