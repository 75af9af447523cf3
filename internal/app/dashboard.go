package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/fieldtrack/internal/adapters/cache/resultcache"
	"github.com/okian/fieldtrack/internal/adapters/repository"
	"github.com/okian/fieldtrack/internal/domain/geo"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/internal/domain/presence"
	"github.com/okian/fieldtrack/internal/domain/trail"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

const (
	presenceKey = "presence"

	DefaultResultTTL     = 5 * time.Minute
	DefaultRetentionDays = 30
	refreshTimeout       = 30 * time.Second
)

// Geocoder is what the dashboard needs from the resolver.
type Geocoder interface {
	PlaceResolver
	Cached(lat, lng float64) (model.Place, bool)
}

// Prefetcher resolves a set of coordinates in the background. A newer call
// supersedes an older one.
type Prefetcher interface {
	Run(ctx context.Context, coords []model.Coordinate, apply func(model.Coordinate, model.Place)) error
}

// TrailView is one user's day as shown on the map.
type TrailView struct {
	UserID     string               `json:"user_id"`
	Date       string               `json:"date"`
	Attendance *model.AttendanceDay `json:"attendance,omitempty"`
	Events     []model.TrailEvent   `json:"events"`
	Summary    trail.Summary        `json:"summary"`
}

// DashboardOptions tune a Dashboard. Zero values keep the defaults.
type DashboardOptions struct {
	ResultTTL       time.Duration
	MaxRenderPoints int
	RetentionDays   int
	Now             func() time.Time
}

// Dashboard is the read side. It never writes samples or attendance.
type Dashboard struct {
	reader     repository.Reader
	geocoder   Geocoder
	prefetcher Prefetcher
	results    *resultcache.Cache
	classifier *presence.Classifier

	ttl       time.Duration
	maxPoints int
	retention int
	now       func() time.Time

	group singleflight.Group
	log   logger.Logger

	// Background refreshes and prefetches run on bgCtx; Close cancels it
	// and waits for them.
	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	closed   bool
}

// NewDashboard wires a Dashboard. prefetcher may be nil.
func NewDashboard(reader repository.Reader, g Geocoder, p Prefetcher, results *resultcache.Cache, c *presence.Classifier, opts DashboardOptions, log logger.Logger) *Dashboard {
	d := &Dashboard{
		reader:     reader,
		geocoder:   g,
		prefetcher: p,
		results:    results,
		classifier: c,
		ttl:        opts.ResultTTL,
		maxPoints:  opts.MaxRenderPoints,
		retention:  opts.RetentionDays,
		now:        opts.Now,
		log:        log,
	}
	if d.ttl <= 0 {
		d.ttl = DefaultResultTTL
	}
	if d.maxPoints < 2 {
		d.maxPoints = trail.MaxRenderPoints
	}
	if d.retention <= 0 {
		d.retention = DefaultRetentionDays
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.classifier == nil {
		d.classifier = presence.New()
	}
	if d.log == nil {
		d.log = logger.NewNop()
	}
	d.bgCtx, d.bgCancel = context.WithCancel(context.Background())
	return d
}

// goBackground runs fn on the dashboard's background context. It reports
// false once the dashboard is closed.
func (d *Dashboard) goBackground(fn func(ctx context.Context)) bool {
	d.bgMu.Lock()
	defer d.bgMu.Unlock()
	if d.closed {
		return false
	}
	d.bgWG.Add(1)
	go func() {
		defer d.bgWG.Done()
		fn(d.bgCtx)
	}()
	return true
}

// Close cancels background refreshes and place prefetches and waits for
// them to return. Reads still work afterwards but no longer refresh.
func (d *Dashboard) Close() {
	d.bgMu.Lock()
	d.closed = true
	d.bgMu.Unlock()
	d.bgCancel()
	d.bgWG.Wait()
}

// cached serves key stale-while-revalidate: a hit returns at once and
// starts one background refresh; a miss computes inline.
func cached[T any](ctx context.Context, d *Dashboard, key string, compute func(context.Context) (T, error)) (T, error) {
	run := func(ctx context.Context) (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return v, err
		}
		if err := resultcache.Set(d.results, key, v, d.ttl); err != nil {
			d.log.Warn(ctx, "result not cached", logger.String("key", key), logger.Error(err))
		}
		return v, nil
	}

	if v, ok := resultcache.Get[T](d.results, key); ok {
		d.goBackground(func(bg context.Context) {
			bg, cancel := context.WithTimeout(bg, refreshTimeout)
			defer cancel()
			res := <-d.group.DoChan(key, func() (any, error) { return run(bg) })
			if res.Err != nil && bg.Err() == nil {
				d.log.Warn(bg, "background refresh failed", logger.String("key", key), logger.Error(res.Err))
			}
		})
		return v, nil
	}

	v, err, _ := d.group.Do(key, func() (any, error) { return run(ctx) })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Presence returns every user seen today or with an open day, ordered live,
// lastSeen, offline.
func (d *Dashboard) Presence(ctx context.Context) ([]model.PresenceRecord, error) {
	return cached(ctx, d, presenceKey, d.computePresence)
}

// RefreshPresence recomputes presence and replaces the cached copy.
func (d *Dashboard) RefreshPresence(ctx context.Context) ([]model.PresenceRecord, error) {
	v, err, _ := d.group.Do(presenceKey, func() (any, error) {
		recs, err := d.computePresence(ctx)
		if err != nil {
			return nil, err
		}
		if err := resultcache.Set(d.results, presenceKey, recs, d.ttl); err != nil {
			d.log.Warn(ctx, "result not cached", logger.String("key", presenceKey), logger.Error(err))
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.PresenceRecord), nil
}

func (d *Dashboard) computePresence(ctx context.Context) ([]model.PresenceRecord, error) {
	start := time.Now()
	now := d.now().UTC()

	samples, err := d.reader.LatestSamples(ctx, geo.StartOfDay(now))
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	open, err := d.reader.OpenAttendanceOn(ctx, geo.DateOf(now))
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}

	byUser := make(map[string]*presence.Input, len(samples)+len(open))
	order := make([]string, 0, len(samples)+len(open))
	input := func(userID string) *presence.Input {
		in, ok := byUser[userID]
		if !ok {
			in = &presence.Input{UserID: userID}
			byUser[userID] = in
			order = append(order, userID)
		}
		return in
	}
	for i := range samples {
		input(samples[i].UserID).Sample = &samples[i]
	}
	for i := range open {
		input(open[i].UserID).Attendance = &open[i]
	}
	inputs := make([]presence.Input, 0, len(order))
	for _, id := range order {
		inputs = append(inputs, *byUser[id])
	}

	records := d.classifier.Build(now, inputs)

	var missing []model.Coordinate
	for i := range records {
		r := &records[i]
		if p, ok := d.geocoder.Cached(r.Latitude, r.Longitude); ok && p.Resolved() {
			r.Place = p.Label(r.Latitude, r.Longitude)
			continue
		}
		r.Place = model.Place{}.Label(r.Latitude, r.Longitude)
		if r.Status != model.StatusOffline {
			missing = append(missing, model.Coordinate{Lat: r.Latitude, Lng: r.Longitude})
		}
	}
	d.prefetch(ctx, missing)

	for status, n := range presence.Counts(records) {
		metrics.UpdatePresenceRecords(string(status), n)
	}
	metrics.RecordPresenceBuildLatency(float64(time.Since(start).Milliseconds()))
	return records, nil
}

// prefetch resolves uncached marker places in the background and drops the
// cached presence once a name arrives, so the next read picks it up.
func (d *Dashboard) prefetch(ctx context.Context, coords []model.Coordinate) {
	if d.prefetcher == nil || len(coords) == 0 {
		return
	}
	d.goBackground(func(bg context.Context) {
		err := d.prefetcher.Run(bg, coords, func(_ model.Coordinate, p model.Place) {
			if p.Resolved() {
				d.results.Delete(presenceKey)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			d.log.Debug(ctx, "place prefetch stopped", logger.Error(err))
		}
	})
}

// Trail returns the user's events for date (YYYY-MM-DD, UTC). An empty date
// means today.
func (d *Dashboard) Trail(ctx context.Context, userID, date string) (TrailView, error) {
	now := d.now().UTC()
	if date == "" {
		date = geo.DateOf(now)
	}
	from, _, err := geo.DayBounds(date)
	if err != nil {
		return TrailView{}, fmt.Errorf("%w: %s", ErrInvalidDate, date)
	}
	oldest := geo.StartOfDay(now).AddDate(0, 0, -d.retention)
	if from.Before(oldest) || from.After(now) {
		return TrailView{}, fmt.Errorf("%w: %s", ErrDateOutOfRange, date)
	}

	key := "trail:" + userID + ":" + date
	return cached(ctx, d, key, func(ctx context.Context) (TrailView, error) {
		return d.computeTrail(ctx, userID, date)
	})
}

func (d *Dashboard) computeTrail(ctx context.Context, userID, date string) (TrailView, error) {
	from, to, err := geo.DayBounds(date)
	if err != nil {
		return TrailView{}, fmt.Errorf("%w: %s", ErrInvalidDate, date)
	}

	att, err := d.reader.Attendance(ctx, userID, date)
	if errors.Is(err, repository.ErrNotFound) {
		att, err = nil, nil
	}
	if err != nil {
		return TrailView{}, fmt.Errorf("trail: %w", err)
	}
	samples, err := d.reader.SamplesBetween(ctx, userID, from, to)
	if err != nil {
		return TrailView{}, fmt.Errorf("trail: %w", err)
	}

	events := trail.Build(att, samples)
	for _, e := range trail.NeedsPlace(events) {
		trail.ApplyPlace(events, e.ID, d.geocoder.Resolve(ctx, e.Latitude, e.Longitude))
	}
	metrics.RecordTrailBuild(len(events))

	return TrailView{
		UserID:     userID,
		Date:       date,
		Attendance: att,
		Events:     events,
		Summary:    trail.Summarize(att, events, d.maxPoints),
	}, nil
}

// Place resolves a single coordinate.
func (d *Dashboard) Place(ctx context.Context, lat, lng float64) model.Place {
	return d.geocoder.Resolve(ctx, lat, lng)
}

// StartPolling refreshes presence every interval until ctx is done.
func (d *Dashboard) StartPolling(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RefreshPresence(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn(ctx, "presence refresh failed", logger.Error(err))
			}
			if err := d.results.Flush(ctx); err != nil {
				d.log.Warn(ctx, "result cache flush failed", logger.Error(err))
			}
		}
	}
}
