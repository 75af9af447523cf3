package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/fieldtrack/internal/adapters/repository"
	"github.com/okian/fieldtrack/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sample(id, user string, offset time.Duration) model.LocationSample {
	return model.LocationSample{
		ID:             id,
		UserID:         user,
		Latitude:       18.5204,
		Longitude:      73.8567,
		AccuracyMeters: 12,
		RecordedAt:     base.Add(offset),
	}
}

func day(id, user, date string) model.AttendanceDay {
	return model.AttendanceDay{
		ID:     id,
		UserID: user,
		Date:   date,
		CheckIn: model.CheckPoint{
			Time:  base,
			Lat:   18.5204,
			Lng:   73.8567,
			Place: "Pune",
			Area:  "Maharashtra",
		},
	}
}

func storeContract(t *testing.T, open func(t *testing.T) repository.Store) {
	ctx := context.Background()

	Convey("Samples", t, func() {
		s := open(t)
		defer s.Close()

		Convey("LatestSample returns nil for unknown users", func() {
			got, err := s.LatestSample(ctx, "nobody")
			So(err, ShouldBeNil)
			So(got, ShouldBeNil)
		})

		Convey("LatestSample returns the newest sample", func() {
			So(s.InsertSample(ctx, sample("a1", "alice", 0)), ShouldBeNil)
			So(s.InsertSample(ctx, sample("a2", "alice", 10*time.Minute)), ShouldBeNil)
			So(s.InsertSample(ctx, sample("b1", "bob", 5*time.Minute)), ShouldBeNil)

			got, err := s.LatestSample(ctx, "alice")
			So(err, ShouldBeNil)
			So(got, ShouldNotBeNil)
			So(got.ID, ShouldEqual, "a2")
			So(got.RecordedAt.Equal(base.Add(10*time.Minute)), ShouldBeTrue)
			So(got.AccuracyMeters, ShouldEqual, 12)
		})

		Convey("LatestSamples returns one row per user since the cutoff", func() {
			So(s.InsertSample(ctx, sample("a1", "alice", 0)), ShouldBeNil)
			So(s.InsertSample(ctx, sample("a2", "alice", 10*time.Minute)), ShouldBeNil)
			So(s.InsertSample(ctx, sample("b1", "bob", 5*time.Minute)), ShouldBeNil)
			So(s.InsertSample(ctx, sample("c1", "carol", -2*time.Hour)), ShouldBeNil)

			got, err := s.LatestSamples(ctx, base.Add(-time.Hour))
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			So(got[0].ID, ShouldEqual, "a2")
			So(got[1].ID, ShouldEqual, "b1")
		})

		Convey("SamplesBetween is half open and ordered", func() {
			So(s.InsertSample(ctx, sample("a2", "alice", 10*time.Minute)), ShouldBeNil)
			So(s.InsertSample(ctx, sample("a1", "alice", 0)), ShouldBeNil)
			So(s.InsertSample(ctx, sample("a3", "alice", 20*time.Minute)), ShouldBeNil)

			got, err := s.SamplesBetween(ctx, "alice", base, base.Add(20*time.Minute))
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			So(got[0].ID, ShouldEqual, "a1")
			So(got[1].ID, ShouldEqual, "a2")
		})
	})

	Convey("Attendance", t, func() {
		s := open(t)
		defer s.Close()

		Convey("unknown days are ErrNotFound", func() {
			_, err := s.Attendance(ctx, "alice", "2026-03-02")
			So(err, ShouldEqual, repository.ErrNotFound)
			_, err = s.OpenAttendance(ctx, "alice")
			So(err, ShouldEqual, repository.ErrNotFound)
		})

		Convey("a second check-in on the same date is rejected", func() {
			So(s.CreateAttendance(ctx, day("d1", "alice", "2026-03-02")), ShouldBeNil)
			So(s.CreateAttendance(ctx, day("d2", "alice", "2026-03-02")), ShouldEqual, repository.ErrAlreadyCheckedIn)
			So(s.CreateAttendance(ctx, day("d3", "alice", "2026-03-03")), ShouldBeNil)
		})

		Convey("open days are listed until closed", func() {
			So(s.CreateAttendance(ctx, day("d1", "bob", "2026-03-02")), ShouldBeNil)
			So(s.CreateAttendance(ctx, day("d2", "alice", "2026-03-02")), ShouldBeNil)

			open, err := s.OpenAttendanceOn(ctx, "2026-03-02")
			So(err, ShouldBeNil)
			So(len(open), ShouldEqual, 2)
			So(open[0].UserID, ShouldEqual, "alice")

			got, err := s.OpenAttendance(ctx, "bob")
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, "d1")
			So(got.CheckIn.Place, ShouldEqual, "Pune")
			So(got.Open(), ShouldBeTrue)

			out := model.CheckPoint{Time: base.Add(8 * time.Hour), Lat: 18.53, Lng: 73.85, Place: "Shivajinagar"}
			So(s.CloseAttendance(ctx, "d1", out, 480), ShouldBeNil)

			open, err = s.OpenAttendanceOn(ctx, "2026-03-02")
			So(err, ShouldBeNil)
			So(len(open), ShouldEqual, 1)

			closed, err := s.Attendance(ctx, "bob", "2026-03-02")
			So(err, ShouldBeNil)
			So(closed.CheckOut, ShouldNotBeNil)
			So(closed.CheckOut.Place, ShouldEqual, "Shivajinagar")
			So(closed.CheckOut.Time.Equal(base.Add(8*time.Hour)), ShouldBeTrue)
			So(*closed.TotalMinutes, ShouldEqual, 480)
		})

		Convey("closing twice or closing unknown ids fails", func() {
			So(s.CreateAttendance(ctx, day("d1", "alice", "2026-03-02")), ShouldBeNil)
			out := model.CheckPoint{Time: base.Add(time.Hour)}
			So(s.CloseAttendance(ctx, "d1", out, 60), ShouldBeNil)
			So(s.CloseAttendance(ctx, "d1", out, 60), ShouldEqual, repository.ErrNotCheckedIn)
			So(s.CloseAttendance(ctx, "missing", out, 60), ShouldEqual, repository.ErrNotFound)
		})
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(*testing.T) repository.Store {
		return repository.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storeContract(t, func(t *testing.T) repository.Store {
		s, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "fieldtrack.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return s
	})
}
