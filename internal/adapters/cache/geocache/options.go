package geocache

import "github.com/okian/fieldtrack/pkg/logger"

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity sets the in-memory entry limit.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithPersistLimit sets how many of the newest entries go into the snapshot.
func WithPersistLimit(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.persistLimit = n
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
