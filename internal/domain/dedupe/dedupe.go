// Package dedupe remembers recently seen fix keys so a redelivered fix does
// not take a slot in a recorder queue twice.
package dedupe

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultMaxSize = 50000

// Deduper records seen keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord forgets key so a retry is accepted. Used when a fix was
	// recorded as seen but could not be queued.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

// FixKey identifies a fix by user and device timestamp.
func FixKey(userID string, ts time.Time) string {
	return userID + "|" + ts.UTC().Format(time.RFC3339Nano)
}

// inMemoryDeduper is a bounded set. When full, the least recently recorded
// key is evicted first.
type inMemoryDeduper struct {
	maxSize int
	seen    *lru.Cache[string, struct{}]
}

// NewInMemoryDeduper creates a bounded in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize <= 0 {
		d.maxSize = DefaultMaxSize
	}
	// Only fails for a non-positive size.
	d.seen, _ = lru.New[string, struct{}](d.maxSize)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	ok, _ := d.seen.ContainsOrAdd(key, struct{}{})
	return ok
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.seen.Remove(key)
}

func (d *inMemoryDeduper) Size() int64 {
	return int64(d.seen.Len())
}
