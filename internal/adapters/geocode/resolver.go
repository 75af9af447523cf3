package geocode

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/fieldtrack/internal/adapters/cache/geocache"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

const (
	DefaultTimeout    = 12 * time.Second
	DefaultBatchSize  = 3
	DefaultBatchDelay = 150 * time.Millisecond
)

// Resolver asks providers in order and remembers the first usable answer in
// the geo cache. Provider failures are logged and counted, never returned.
type Resolver struct {
	cache      *geocache.Cache
	providers  []Provider
	timeout    time.Duration
	batchSize  int
	batchDelay time.Duration
	log        logger.Logger
}

// NewResolver builds a resolver over cache. Providers are tried in the order
// given.
func NewResolver(cache *geocache.Cache, providers []Provider, opts ...Option) *Resolver {
	r := &Resolver{
		cache:      cache,
		providers:  providers,
		timeout:    DefaultTimeout,
		batchSize:  DefaultBatchSize,
		batchDelay: DefaultBatchDelay,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cached returns the cached place without touching the network.
func (r *Resolver) Cached(lat, lng float64) (model.Place, bool) {
	e, ok := r.cache.Get(lat, lng)
	if !ok {
		return model.Place{}, false
	}
	return model.Place{Place: e.Place, Area: e.Area}, true
}

// Resolve returns the place for a coordinate, or an empty Place when every
// provider failed.
func (r *Resolver) Resolve(ctx context.Context, lat, lng float64) model.Place {
	if p, ok := r.Cached(lat, lng); ok {
		return p
	}

	for _, prov := range r.providers {
		if ctx.Err() != nil {
			break
		}
		p, err := r.ask(ctx, prov, lat, lng)
		if err != nil || !p.Resolved() {
			continue
		}
		r.cache.Put(lat, lng, p.Place, p.Area)
		return p
	}

	metrics.RecordGeocodeUnresolved()
	r.log.Debug(ctx, "coordinate unresolved", logger.Float64("lat", lat), logger.Float64("lng", lng))
	return model.Place{}
}

func (r *Resolver) ask(ctx context.Context, prov Provider, lat, lng float64) (model.Place, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	p, err := prov.Reverse(ctx, lat, lng)
	metrics.RecordGeocodeLatency(prov.Name(), float64(time.Since(start).Milliseconds()))

	switch {
	case errors.Is(err, ErrDisabled):
		metrics.RecordGeocodeRequest(prov.Name(), "disabled")
	case err != nil:
		metrics.RecordGeocodeRequest(prov.Name(), "error")
		r.log.Warn(ctx, "reverse geocode failed",
			logger.String("provider", prov.Name()),
			logger.Error(err),
		)
	case !p.Resolved():
		metrics.RecordGeocodeRequest(prov.Name(), "empty")
	default:
		metrics.RecordGeocodeRequest(prov.Name(), "ok")
	}
	return p, err
}

// ResolveBatch resolves coords and calls apply once per coordinate. Cache
// hits are applied first. The rest are resolved BatchSize at a time with
// BatchDelay between batches. apply may be called from several goroutines.
func (r *Resolver) ResolveBatch(ctx context.Context, coords []model.Coordinate, apply func(model.Coordinate, model.Place)) error {
	var pending []model.Coordinate
	for _, c := range coords {
		if p, ok := r.Cached(c.Lat, c.Lng); ok {
			apply(c, p)
			continue
		}
		pending = append(pending, c)
	}
	if len(pending) == 0 {
		return nil
	}
	defer r.flush(ctx)

	for i := 0; i < len(pending); i += r.batchSize {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.batchDelay):
			}
		}

		end := min(i+r.batchSize, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.batchSize)
		for _, c := range pending[i:end] {
			g.Go(func() error {
				apply(c, r.Resolve(gctx, c.Lat, c.Lng))
				return nil
			})
		}
		_ = g.Wait()
	}
	return ctx.Err()
}

func (r *Resolver) flush(ctx context.Context) {
	if err := r.cache.Flush(context.WithoutCancel(ctx)); err != nil {
		r.log.Warn(ctx, "geo cache flush failed", logger.Error(err))
	}
}

// Prefetcher runs one batch at a time. Starting a new batch cancels the
// previous one, and results of a superseded batch are never applied.
type Prefetcher struct {
	resolver *Resolver
	gen      atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPrefetcher(r *Resolver) *Prefetcher {
	return &Prefetcher{resolver: r}
}

// Generation returns the id of the most recent batch.
func (p *Prefetcher) Generation() uint64 { return p.gen.Load() }

// Run resolves coords as a new generation and blocks until done or
// superseded.
func (p *Prefetcher) Run(ctx context.Context, coords []model.Coordinate, apply func(model.Coordinate, model.Place)) error {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	gen := p.gen.Add(1)
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen.Load() == gen {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	return p.resolver.ResolveBatch(ctx, coords, func(c model.Coordinate, place model.Place) {
		if p.gen.Load() != gen {
			return
		}
		apply(c, place)
	})
}
