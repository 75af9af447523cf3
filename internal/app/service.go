// Package service wires storage, caches, geocoding, sessions and recorders
// into the Tracker and Dashboard used by the HTTP and AMQP adapters.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/fieldtrack/internal/adapters/cache/geocache"
	"github.com/okian/fieldtrack/internal/adapters/cache/resultcache"
	"github.com/okian/fieldtrack/internal/adapters/cache/snapshot"
	"github.com/okian/fieldtrack/internal/adapters/geocode"
	"github.com/okian/fieldtrack/internal/adapters/mq/recorder"
	"github.com/okian/fieldtrack/internal/adapters/repository"
	"github.com/okian/fieldtrack/internal/adapters/session"
	"github.com/okian/fieldtrack/internal/config"
	"github.com/okian/fieldtrack/internal/domain/dedupe"
	"github.com/okian/fieldtrack/internal/domain/presence"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

// Service owns every long lived component.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	store      repository.Store
	snapshots  snapshot.Store
	geoCache   *geocache.Cache
	results    *resultcache.Cache
	resolver   *geocode.Resolver
	providers  []geocode.Provider
	sessions   *session.Manager
	supervisor *recorder.Supervisor
	deduper    dedupe.Deduper
	tracker    *Tracker
	dashboard  *Dashboard

	native     geocode.NativeFunc
	httpClient *http.Client
	now        func() time.Time

	// State
	started   bool
	ownsStore bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore injects a store instead of opening one from configuration.
// The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithSnapshotStore injects the persisted cache tier.
func WithSnapshotStore(store snapshot.Store) Option {
	return func(s *Service) {
		s.snapshots = store
	}
}

// WithProviders replaces the configured geocoding chain.
func WithProviders(providers ...geocode.Provider) Option {
	return func(s *Service) {
		s.providers = providers
	}
}

// WithNativeGeocoder supplies the platform geocoder used by the "native"
// provider.
func WithNativeGeocoder(fn geocode.NativeFunc) Option {
	return func(s *Service) {
		s.native = fn
	}
}

// WithHTTPClient sets the client used by web geocoding providers.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

// WithClock replaces time.Now for the dashboard.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenStore opens the configured store.
func OpenStore(cfg config.StoreConfig) (repository.Store, error) {
	switch cfg.Driver {
	case "memory":
		return repository.NewMemoryStore(), nil
	case "postgres":
		return repository.OpenPostgres(cfg.DSN)
	case "sqlite", "":
		return repository.OpenSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}

// OpenSnapshots opens the configured persisted cache tier.
func OpenSnapshots(ctx context.Context, cfg config.CacheConfig) (snapshot.Store, error) {
	switch cfg.Backend {
	case "redis":
		client, err := snapshot.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return snapshot.NewRedisStore(client, cfg.RedisPrefix, 0), nil
	case "none":
		return snapshot.Nop{}, nil
	default:
		return snapshot.NewFileStore(cfg.Dir)
	}
}

// Start opens storage and caches and starts presence polling.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	cfg := s.cfg
	s.logger.Info(ctx, "starting presence service...")

	if s.store == nil {
		store, err := OpenStore(cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
		s.ownsStore = true
		s.logger.Info(ctx, "store opened", logger.String("driver", cfg.Store.Driver))
	}
	if s.snapshots == nil {
		snaps, err := OpenSnapshots(ctx, cfg.Cache)
		if err != nil {
			s.logger.Warn(ctx, "cache snapshots unavailable, caching in memory only", logger.Error(err))
			snaps = snapshot.Nop{}
		}
		s.snapshots = snaps
	}

	geoCache, err := geocache.New(ctx, s.snapshots,
		geocache.WithCapacity(cfg.Cache.GeoMemorySize),
		geocache.WithPersistLimit(cfg.Cache.GeoPersistLimit),
		geocache.WithLogger(s.logger.Named("geocache")),
	)
	if err != nil {
		return err
	}
	s.geoCache = geoCache
	s.results = resultcache.New(ctx, s.snapshots,
		resultcache.WithMaxPersisted(cfg.Cache.ResultMaxPersisted),
		resultcache.WithLogger(s.logger.Named("resultcache")),
	)

	if s.providers == nil {
		s.providers = geocode.BuildProviders(geocode.ProviderConfig{
			Names:        cfg.Geocode.Providers,
			UserAgent:    cfg.Geocode.UserAgent,
			PhotonURL:    cfg.Geocode.PhotonURL,
			NominatimURL: cfg.Geocode.NominatimURL,
			GoogleURL:    cfg.Geocode.GoogleURL,
			GoogleAPIKey: cfg.Geocode.GoogleAPIKey,
			Native:       s.native,
			HTTPClient:   s.httpClient,
		})
	}
	s.resolver = geocode.NewResolver(s.geoCache, s.providers,
		geocode.WithTimeout(cfg.Geocode.Timeout),
		geocode.WithBatch(cfg.Geocode.BatchSize, cfg.Geocode.BatchDelay),
		geocode.WithLogger(s.logger.Named("geocode")),
	)

	s.sessions = session.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	s.supervisor = recorder.NewSupervisor(s.store, s.sessions,
		recorder.WithGate(recorder.Gate{
			MinDistance:   cfg.Tracking.MinDistanceMeters,
			MaxStationary: cfg.Tracking.MaxStationary,
		}),
		recorder.WithQueueCapacity(cfg.Tracking.QueueSize),
		recorder.WithLogger(s.logger.Named("recorder")),
	)
	metrics.UpdateQueueCapacity(cfg.Tracking.QueueSize)
	s.deduper = dedupe.NewInMemoryDeduper()

	s.tracker = NewTracker(s.store, s.supervisor, s.sessions, s.resolver, s.deduper, s.logger.Named("tracker"))
	s.dashboard = NewDashboard(s.store, s.resolver, geocode.NewPrefetcher(s.resolver), s.results,
		presence.New(presence.WithLiveWindow(cfg.Tracking.LiveWindow)),
		DashboardOptions{
			ResultTTL:       cfg.Cache.ResultTTL,
			MaxRenderPoints: cfg.Tracking.MaxRenderPoints,
			Now:             s.now,
		},
		s.logger.Named("dashboard"),
	)

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dashboard.StartPolling(pollCtx, cfg.Tracking.PollInterval)
	}()

	s.started = true
	s.logger.Info(ctx, "presence service started",
		logger.String("store", cfg.Store.Driver),
		logger.String("cache", cfg.Cache.Backend),
		logger.Int("providers", len(s.providers)),
	)
	return nil
}

// Stop drains recorders, flushes caches and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping presence service...")

	s.cancel()
	s.wg.Wait()
	s.dashboard.Close()

	if err := s.supervisor.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "recorders did not drain", logger.Error(err))
	}
	if err := s.geoCache.Flush(ctx); err != nil {
		s.logger.Warn(ctx, "geo cache flush failed", logger.Error(err))
	}
	if err := s.results.Flush(ctx); err != nil {
		s.logger.Warn(ctx, "result cache flush failed", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close failed", logger.Error(err))
	}
	// A restart reopens what Start opened; injected stores stay with the caller.
	if s.ownsStore {
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(ctx, "presence service stopped")
}

// Tracker returns the write side. Nil before Start.
func (s *Service) Tracker() *Tracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker
}

// Dashboard returns the read side. Nil before Start.
func (s *Service) Dashboard() *Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dashboard
}

// Sessions returns the session manager. Nil before Start.
func (s *Service) Sessions() *session.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":   s.started,
		"store":     s.cfg.Store.Driver,
		"cache":     s.cfg.Cache.Backend,
		"queueSize": s.cfg.Tracking.QueueSize,
	}
	if s.started {
		stats["tracking"] = s.supervisor.Active()
		stats["backlog"] = s.supervisor.Backlog()
		stats["geoCacheEntries"] = s.geoCache.Len()
		stats["resultCacheEntries"] = s.results.Len()
		stats["dedupeSize"] = s.deduper.Size()
	}
	return stats
}
