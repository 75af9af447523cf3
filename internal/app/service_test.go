package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/fieldtrack/internal/adapters/cache/resultcache"
	"github.com/okian/fieldtrack/internal/adapters/cache/snapshot"
	"github.com/okian/fieldtrack/internal/adapters/repository"
	service "github.com/okian/fieldtrack/internal/app"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/internal/domain/presence"
	"github.com/okian/fieldtrack/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var (
	day0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pune = model.Coordinate{Lat: 18.5204, Lng: 73.8567}
)

// north moves c about 222 m north.
func north(c model.Coordinate, steps int) model.Coordinate {
	return model.Coordinate{Lat: c.Lat + 0.002*float64(steps), Lng: c.Lng}
}

type fixedPlace struct {
	place model.Place
	calls atomic.Int32
}

func (f *fixedPlace) Name() string { return "fixed" }

func (f *fixedPlace) Reverse(context.Context, float64, float64) (model.Place, error) {
	f.calls.Add(1)
	return f.place, nil
}

func newService(now time.Time, prov *fixedPlace) *service.Service {
	return service.New(
		service.WithStore(repository.NewMemoryStore()),
		service.WithSnapshotStore(snapshot.Nop{}),
		service.WithProviders(prov),
		service.WithClock(func() time.Time { return now }),
	)
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService(day0, &fixedPlace{})
		So(svc.GetStats()["started"], ShouldEqual, false)
		So(svc.Tracker(), ShouldBeNil)

		Convey("Start wires every component", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop()

			So(svc.Tracker(), ShouldNotBeNil)
			So(svc.Dashboard(), ShouldNotBeNil)
			So(svc.Sessions(), ShouldNotBeNil)

			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["tracking"], ShouldEqual, 0)

			Convey("and a second Start is a no-op", func() {
				So(svc.Start(context.Background()), ShouldBeNil)
			})
		})

		Convey("Stop before Start is safe", func() {
			svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})
}

func TestWorkingDay(t *testing.T) {
	ctx := context.Background()

	Convey("Given a started service", t, func() {
		prov := &fixedPlace{place: model.Place{Place: "Pune", Area: "Maharashtra"}}
		svc := newService(day0.Add(8*time.Hour+30*time.Minute), prov)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		tracker := svc.Tracker()
		token, err := svc.Sessions().Issue("alice", 0)
		So(err, ShouldBeNil)

		Convey("check-in with permission denied writes nothing", func() {
			_, err := tracker.CheckIn(ctx, service.CheckInRequest{
				UserID: "alice", Token: token, Coordinate: pune, At: day0,
				Permission: model.PermissionDenied,
			})
			So(err, ShouldEqual, service.ErrPermissionDenied)
			So(tracker.Tracking("alice"), ShouldBeFalse)

			view, err := svc.Dashboard().Trail(ctx, "alice", "2026-03-02")
			So(err, ShouldBeNil)
			So(view.Events, ShouldBeEmpty)
		})

		Convey("fixes without check-in are refused", func() {
			err := tracker.Deliver(ctx, "alice", model.Fix{Latitude: 1, Longitude: 2, Timestamp: day0})
			So(errors.Is(err, service.ErrNotTracking), ShouldBeTrue)
		})

		Convey("check-in, three moves and check-out give five trail events", func() {
			res, err := tracker.CheckIn(ctx, service.CheckInRequest{
				UserID: "alice", Token: token, Coordinate: pune, At: day0,
				Permission: model.PermissionForegroundOnly,
			})
			So(err, ShouldBeNil)
			So(res.Tracking, ShouldBeTrue)
			So(res.BackgroundLimited, ShouldBeTrue)
			So(res.Attendance.CheckIn.Place, ShouldEqual, "Pune")
			So(res.Attendance.Date, ShouldEqual, "2026-03-02")

			_, err = tracker.CheckIn(ctx, service.CheckInRequest{
				UserID: "alice", Token: token, Coordinate: pune, At: day0.Add(time.Minute),
				Permission: model.PermissionGranted,
			})
			So(errors.Is(err, service.ErrAlreadyCheckedIn), ShouldBeTrue)

			for i := 1; i <= 3; i++ {
				c := north(pune, i)
				fix := model.Fix{Latitude: c.Lat, Longitude: c.Lng, Accuracy: 10, Timestamp: day0.Add(time.Duration(i) * time.Hour)}
				So(tracker.Deliver(ctx, "alice", fix), ShouldBeNil)
				if i == 1 {
					So(tracker.Deliver(ctx, "alice", fix), ShouldEqual, service.ErrDuplicateFix)
				}
			}

			day, err := tracker.CheckOut(ctx, service.CheckOutRequest{
				UserID: "alice", Coordinate: north(pune, 3), At: day0.Add(8 * time.Hour),
			})
			So(err, ShouldBeNil)
			So(*day.TotalMinutes, ShouldEqual, 480)
			So(tracker.Tracking("alice"), ShouldBeFalse)
			_, active := svc.Sessions().Current(ctx, "alice")
			So(active, ShouldBeFalse)

			view, err := svc.Dashboard().Trail(ctx, "alice", "2026-03-02")
			So(err, ShouldBeNil)
			So(len(view.Events), ShouldEqual, 5)
			So(view.Events[0].Kind, ShouldEqual, model.KindCheckIn)
			So(view.Events[4].Kind, ShouldEqual, model.KindCheckOut)
			So(view.Summary.MoveCount, ShouldEqual, 3)
			So(*view.Summary.ElapsedMinutes, ShouldEqual, 480)
			So(len(view.Summary.Points), ShouldEqual, 5)

			Convey("a second check-out fails", func() {
				_, err := tracker.CheckOut(ctx, service.CheckOutRequest{
					UserID: "alice", Coordinate: pune, At: day0.Add(9 * time.Hour),
				})
				So(err, ShouldEqual, service.ErrNotCheckedIn)
			})
		})

		Convey("check-in without a valid token records attendance but does not track", func() {
			res, err := tracker.CheckIn(ctx, service.CheckInRequest{
				UserID: "alice", Token: "garbage", Coordinate: pune, At: day0,
				Permission: model.PermissionGranted,
			})
			So(err, ShouldBeNil)
			So(res.Tracking, ShouldBeFalse)
			So(tracker.Tracking("alice"), ShouldBeFalse)
		})
	})
}

type fakeGeocoder struct {
	mu       sync.Mutex
	resolved []model.Coordinate
	cached   map[model.Coordinate]model.Place
}

func (f *fakeGeocoder) Resolve(_ context.Context, lat, lng float64) model.Place {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, model.Coordinate{Lat: lat, Lng: lng})
	return model.Place{Place: "Resolved", Area: "Area"}
}

func (f *fakeGeocoder) Cached(lat, lng float64) (model.Place, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.cached[model.Coordinate{Lat: lat, Lng: lng}]
	return p, ok
}

func (f *fakeGeocoder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolved)
}

func sampleAt(id, user string, c model.Coordinate, at time.Time) model.LocationSample {
	return model.LocationSample{ID: id, UserID: user, Latitude: c.Lat, Longitude: c.Lng, RecordedAt: at}
}

func openDay(id, user string, at time.Time) model.AttendanceDay {
	return model.AttendanceDay{
		ID: id, UserID: user, Date: "2026-03-02",
		CheckIn: model.CheckPoint{Time: at, Lat: pune.Lat, Lng: pune.Lng},
	}
}

func TestDashboardPresence(t *testing.T) {
	ctx := context.Background()
	now := day0.Add(8 * time.Hour)

	Convey("Given users in every state", t, func() {
		store := repository.NewMemoryStore()
		geo := &fakeGeocoder{cached: map[model.Coordinate]model.Place{
			north(pune, 1): {Place: "Shivajinagar", Area: "Pune"},
		}}
		results := resultcache.New(ctx, snapshot.Nop{})
		d := service.NewDashboard(store, geo, nil, results, presence.New(),
			service.DashboardOptions{Now: func() time.Time { return now }}, nil)

		So(store.InsertSample(ctx, sampleAt("s1", "alice", north(pune, 1), now.Add(-29*time.Minute))), ShouldBeNil)
		So(store.InsertSample(ctx, sampleAt("s2", "bob", north(pune, 2), now.Add(-31*time.Minute))), ShouldBeNil)
		So(store.CreateAttendance(ctx, openDay("d1", "carol", day0)), ShouldBeNil)

		closed := openDay("d2", "dave", day0)
		So(store.CreateAttendance(ctx, closed), ShouldBeNil)
		So(store.CloseAttendance(ctx, "d2", model.CheckPoint{Time: day0.Add(time.Hour)}, 60), ShouldBeNil)

		recs, err := d.Presence(ctx)
		So(err, ShouldBeNil)

		Convey("records are classified and ordered live, lastSeen, offline", func() {
			So(len(recs), ShouldEqual, 3)
			So(recs[0].UserID, ShouldEqual, "alice")
			So(recs[0].Status, ShouldEqual, model.StatusLive)
			So(recs[1].UserID, ShouldEqual, "bob")
			So(recs[1].Status, ShouldEqual, model.StatusLastSeen)
			So(recs[2].UserID, ShouldEqual, "carol")
			So(recs[2].Status, ShouldEqual, model.StatusOffline)
			So(recs[2].RecordedAt.Equal(day0), ShouldBeTrue)
		})

		Convey("cached places are used and the rest fall back to coordinates", func() {
			So(recs[0].Place, ShouldEqual, "Shivajinagar, Pune")
			So(recs[1].Place, ShouldEqual, "18.5244, 73.8567")
			So(geo.calls(), ShouldEqual, 0)
		})

		Convey("a cached result is served and refreshed in the background", func() {
			So(store.InsertSample(ctx, sampleAt("s3", "erin", pune, now.Add(-time.Minute))), ShouldBeNil)

			stale, err := d.Presence(ctx)
			So(err, ShouldBeNil)
			So(len(stale), ShouldEqual, 3)

			So(waitFor(func() bool {
				fresh, err := d.Presence(ctx)
				return err == nil && len(fresh) == 4
			}), ShouldBeTrue)
		})
	})
}

func TestDashboardTrail(t *testing.T) {
	ctx := context.Background()
	now := day0.Add(10 * time.Hour)

	Convey("Given a day with an unnamed check-in", t, func() {
		store := repository.NewMemoryStore()
		geo := &fakeGeocoder{}
		d := service.NewDashboard(store, geo, nil, resultcache.New(ctx, snapshot.Nop{}), nil,
			service.DashboardOptions{Now: func() time.Time { return now }}, nil)

		So(store.CreateAttendance(ctx, openDay("d1", "alice", day0)), ShouldBeNil)
		for i := 1; i <= 4; i++ {
			s := sampleAt(fmt.Sprintf("s%d", i), "alice", north(pune, i), day0.Add(time.Duration(i)*time.Hour))
			So(store.InsertSample(ctx, s), ShouldBeNil)
		}

		Convey("only the check-in is geocoded", func() {
			view, err := d.Trail(ctx, "alice", "")
			So(err, ShouldBeNil)
			So(view.Date, ShouldEqual, "2026-03-02")
			So(len(view.Events), ShouldEqual, 5)
			So(view.Events[0].Place, ShouldEqual, "Resolved")
			So(view.Events[1].Place, ShouldEqual, "")
			So(view.Summary.ElapsedMinutes, ShouldBeNil)
			So(geo.calls(), ShouldEqual, 1)
		})

		Convey("malformed and out of range dates are rejected", func() {
			_, err := d.Trail(ctx, "alice", "02/03/2026")
			So(errors.Is(err, service.ErrInvalidDate), ShouldBeTrue)

			_, err = d.Trail(ctx, "alice", "2026-01-01")
			So(errors.Is(err, service.ErrDateOutOfRange), ShouldBeTrue)

			_, err = d.Trail(ctx, "alice", "2026-03-03")
			So(errors.Is(err, service.ErrDateOutOfRange), ShouldBeTrue)
		})

		Convey("a user without data has an empty trail", func() {
			view, err := d.Trail(ctx, "nobody", "2026-03-02")
			So(err, ShouldBeNil)
			So(view.Events, ShouldBeEmpty)
			So(view.Attendance, ShouldBeNil)
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

type failingClose struct {
	*repository.MemoryStore
}

func (failingClose) CloseAttendance(context.Context, string, model.CheckPoint, int) error {
	return errors.New("disk full")
}

func TestCheckOutStoreFailure(t *testing.T) {
	ctx := context.Background()

	Convey("Given a checked-in worker whose store cannot close the day", t, func() {
		svc := service.New(
			service.WithStore(failingClose{repository.NewMemoryStore()}),
			service.WithSnapshotStore(snapshot.Nop{}),
			service.WithProviders(&fixedPlace{}),
			service.WithClock(func() time.Time { return day0.Add(9 * time.Hour) }),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		tracker := svc.Tracker()
		token, err := svc.Sessions().Issue("alice", 0)
		So(err, ShouldBeNil)
		_, err = tracker.CheckIn(ctx, service.CheckInRequest{
			UserID: "alice", Token: token, Coordinate: pune, At: day0,
			Permission: model.PermissionGranted,
		})
		So(err, ShouldBeNil)

		_, err = tracker.CheckOut(ctx, service.CheckOutRequest{
			UserID: "alice", Coordinate: north(pune, 1), At: day0.Add(8 * time.Hour),
		})
		So(err, ShouldNotBeNil)

		Convey("tracking and the session survive so the check-out can be retried", func() {
			So(tracker.Tracking("alice"), ShouldBeTrue)
			_, active := svc.Sessions().Current(ctx, "alice")
			So(active, ShouldBeTrue)

			c := north(pune, 2)
			fix := model.Fix{Latitude: c.Lat, Longitude: c.Lng, Accuracy: 10, Timestamp: day0.Add(time.Hour)}
			So(tracker.Deliver(ctx, "alice", fix), ShouldBeNil)
		})
	})
}

// blockingPrefetcher holds every run open until its context ends.
type blockingPrefetcher struct {
	started  chan struct{}
	runs     atomic.Int32
	canceled atomic.Int32
}

func (b *blockingPrefetcher) Run(ctx context.Context, _ []model.Coordinate, _ func(model.Coordinate, model.Place)) error {
	if b.runs.Add(1) == 1 {
		close(b.started)
	}
	<-ctx.Done()
	b.canceled.Add(1)
	return ctx.Err()
}

func TestDashboardClose(t *testing.T) {
	ctx := context.Background()
	now := day0.Add(8 * time.Hour)

	Convey("Given a dashboard with a place prefetch in flight", t, func() {
		store := repository.NewMemoryStore()
		pf := &blockingPrefetcher{started: make(chan struct{})}
		results := resultcache.New(ctx, snapshot.Nop{})
		d := service.NewDashboard(store, &fakeGeocoder{}, pf, results, nil,
			service.DashboardOptions{Now: func() time.Time { return now }}, nil)

		So(store.InsertSample(ctx, sampleAt("s1", "alice", pune, now.Add(-time.Minute))), ShouldBeNil)
		_, err := d.Presence(ctx)
		So(err, ShouldBeNil)

		select {
		case <-pf.started:
		case <-time.After(2 * time.Second):
		}
		So(pf.runs.Load(), ShouldEqual, 1)

		Convey("Close cancels it and waits for it to return", func() {
			d.Close()
			So(pf.canceled.Load(), ShouldEqual, 1)

			Convey("and later reads start no background work", func() {
				results.Delete("presence")
				recs, err := d.Presence(ctx)
				So(err, ShouldBeNil)
				So(len(recs), ShouldEqual, 1)

				_, err = d.Presence(ctx)
				So(err, ShouldBeNil)
				So(pf.runs.Load(), ShouldEqual, 1)
			})
		})
	})
}
