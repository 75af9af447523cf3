package resultcache

import (
	"time"

	"github.com/okian/fieldtrack/pkg/logger"
)

// Option configures a Cache.
type Option func(*Cache)

// WithMaxPersisted bounds how many entries Flush writes.
func WithMaxPersisted(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxPersisted = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}
