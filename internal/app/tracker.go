package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fieldtrack/internal/adapters/mq/recorder"
	"github.com/okian/fieldtrack/internal/adapters/repository"
	"github.com/okian/fieldtrack/internal/adapters/session"
	"github.com/okian/fieldtrack/internal/domain/dedupe"
	"github.com/okian/fieldtrack/internal/domain/geo"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/internal/domain/trail"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

// PlaceResolver names a coordinate. An empty Place means unknown.
type PlaceResolver interface {
	Resolve(ctx context.Context, lat, lng float64) model.Place
}

// Sessions registers and ends tracking sessions.
type Sessions interface {
	Register(token string) (session.Session, error)
	End(userID string)
}

// CheckInRequest starts a working day.
type CheckInRequest struct {
	UserID     string
	Token      string
	Coordinate model.Coordinate
	At         time.Time
	Permission model.Permission
}

// CheckInResult reports what check-in started.
type CheckInResult struct {
	Attendance model.AttendanceDay `json:"attendance"`
	Tracking   bool                `json:"tracking"`
	// BackgroundLimited is set when the device only grants foreground
	// location, so fixes stop while the app is in the background.
	BackgroundLimited bool `json:"background_limited"`
}

// CheckOutRequest ends the open working day.
type CheckOutRequest struct {
	UserID     string
	Coordinate model.Coordinate
	At         time.Time
}

// Tracker owns every write: attendance, session lifecycle and fix intake.
type Tracker struct {
	store    repository.Store
	sup      *recorder.Supervisor
	sessions Sessions
	places   PlaceResolver
	deduper  dedupe.Deduper
	newID    func() string
	log      logger.Logger
}

// NewTracker wires a Tracker.
func NewTracker(store repository.Store, sup *recorder.Supervisor, sessions Sessions, places PlaceResolver, d dedupe.Deduper, log logger.Logger) *Tracker {
	if d == nil {
		d = dedupe.NewInMemoryDeduper()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Tracker{
		store:    store,
		sup:      sup,
		sessions: sessions,
		places:   places,
		deduper:  d,
		newID:    uuid.NewString,
		log:      log,
	}
}

func validCoordinate(c model.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func (t *Tracker) checkPoint(ctx context.Context, c model.Coordinate, at time.Time) model.CheckPoint {
	cp := model.CheckPoint{Time: at.UTC(), Lat: c.Lat, Lng: c.Lng}
	if t.places != nil {
		p := t.places.Resolve(ctx, c.Lat, c.Lng)
		cp.Place, cp.Area = p.Place, p.Area
	}
	return cp
}

// CheckIn creates today's attendance and starts recording. With permission
// denied nothing is written and no recorder starts.
func (t *Tracker) CheckIn(ctx context.Context, req CheckInRequest) (CheckInResult, error) {
	switch {
	case req.Permission == model.PermissionDenied:
		return CheckInResult{}, ErrPermissionDenied
	case req.UserID == "":
		return CheckInResult{}, ErrUnauthorized
	case !validCoordinate(req.Coordinate):
		return CheckInResult{}, ErrInvalidCoordinate
	case req.At.IsZero():
		return CheckInResult{}, ErrInvalidTime
	}

	day := model.AttendanceDay{
		ID:      t.newID(),
		UserID:  req.UserID,
		Date:    geo.DateOf(req.At),
		CheckIn: t.checkPoint(ctx, req.Coordinate, req.At),
	}
	if err := t.store.CreateAttendance(ctx, day); err != nil {
		return CheckInResult{}, fmt.Errorf("check in: %w", err)
	}
	metrics.RecordCheckIn()

	// Recorders stop themselves without a session, so don't start one.
	if t.sessions != nil {
		if _, err := t.sessions.Register(req.Token); err != nil {
			t.log.Warn(ctx, "session not registered, tracking disabled",
				logger.String("user_id", req.UserID),
				logger.Error(err),
			)
			return CheckInResult{Attendance: day}, nil
		}
	}
	t.sup.Start(req.UserID)

	t.log.Info(ctx, "checked in",
		logger.String("user_id", req.UserID),
		logger.String("date", day.Date),
		logger.String("place", day.CheckIn.Place),
	)
	return CheckInResult{
		Attendance:        day,
		Tracking:          true,
		BackgroundLimited: req.Permission == model.PermissionForegroundOnly,
	}, nil
}

// CheckOut closes the user's open day and stops recording after queued
// fixes are written.
func (t *Tracker) CheckOut(ctx context.Context, req CheckOutRequest) (model.AttendanceDay, error) {
	switch {
	case req.UserID == "":
		return model.AttendanceDay{}, ErrUnauthorized
	case !validCoordinate(req.Coordinate):
		return model.AttendanceDay{}, ErrInvalidCoordinate
	case req.At.IsZero():
		return model.AttendanceDay{}, ErrInvalidTime
	}

	day, err := t.store.OpenAttendance(ctx, req.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.AttendanceDay{}, ErrNotCheckedIn
	}
	if err != nil {
		return model.AttendanceDay{}, fmt.Errorf("check out: %w", err)
	}
	if req.At.Before(day.CheckIn.Time) {
		return model.AttendanceDay{}, fmt.Errorf("%w: check-out before check-in", ErrInvalidTime)
	}

	out := t.checkPoint(ctx, req.Coordinate, req.At)
	total := trail.ElapsedMinutes(day.CheckIn, out)
	if err := t.store.CloseAttendance(ctx, day.ID, out, total); err != nil {
		return model.AttendanceDay{}, fmt.Errorf("check out: %w", err)
	}

	// Tracking ends only once the day is closed; a failed close leaves the
	// recorder and session running so the worker can retry.
	if err := t.sup.Stop(ctx, req.UserID); err != nil {
		t.log.Warn(ctx, "recorder did not drain", logger.String("user_id", req.UserID), logger.Error(err))
	}
	if t.sessions != nil {
		t.sessions.End(req.UserID)
	}
	metrics.RecordCheckOut()

	day.CheckOut = &out
	day.TotalMinutes = &total
	t.log.Info(ctx, "checked out",
		logger.String("user_id", req.UserID),
		logger.Int("total_minutes", total),
	)
	return *day, nil
}

// Deliver forwards a fix to the user's recorder. A fix already delivered
// with the same timestamp is reported as ErrDuplicateFix.
func (t *Tracker) Deliver(ctx context.Context, userID string, fix model.Fix) error {
	if !validCoordinate(fix.Coordinate()) || fix.Timestamp.IsZero() {
		metrics.RecordFixDiscarded("invalid")
		return ErrInvalidCoordinate
	}

	key := dedupe.FixKey(userID, fix.Timestamp)
	if t.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordFixDiscarded("duplicate")
		return ErrDuplicateFix
	}
	err := t.sup.Deliver(ctx, userID, fix)
	if err != nil {
		t.deduper.Unrecord(ctx, key)
	}
	return err
}

// Tracking reports whether a recorder runs for userID.
func (t *Tracker) Tracking(userID string) bool { return t.sup.Tracking(userID) }
