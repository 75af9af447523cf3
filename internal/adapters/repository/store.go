// Package repository persists location samples and attendance days.
//
// The tracker side writes through Writer; the dashboard only ever sees a
// Reader, so it cannot mutate samples or attendance.
package repository

import (
	"context"
	"time"

	"github.com/okian/fieldtrack/internal/domain/model"
)

// Reader is the read-only view used by the dashboard.
type Reader interface {
	// LatestSample returns the user's most recent sample, or nil if none exists.
	LatestSample(ctx context.Context, userID string) (*model.LocationSample, error)

	// LatestSamples returns the most recent sample of every user recorded at
	// or after since.
	LatestSamples(ctx context.Context, since time.Time) ([]model.LocationSample, error)

	// SamplesBetween returns the user's samples in [from, to), oldest first.
	SamplesBetween(ctx context.Context, userID string, from, to time.Time) ([]model.LocationSample, error)

	// Attendance returns the user's day. Returns ErrNotFound if there is none.
	Attendance(ctx context.Context, userID, date string) (*model.AttendanceDay, error)

	// OpenAttendance returns the user's most recent day without check-out.
	// Returns ErrNotFound if every day is closed.
	OpenAttendance(ctx context.Context, userID string) (*model.AttendanceDay, error)

	// OpenAttendanceOn returns all days of date that have no check-out.
	OpenAttendanceOn(ctx context.Context, date string) ([]model.AttendanceDay, error)
}

// Writer mutates samples and attendance.
type Writer interface {
	InsertSample(ctx context.Context, s model.LocationSample) error

	// CreateAttendance stores a new day. Returns ErrAlreadyCheckedIn when the
	// user already has a day for that date.
	CreateAttendance(ctx context.Context, day model.AttendanceDay) error

	// CloseAttendance sets the check-out of an open day. Returns ErrNotFound
	// for unknown ids and ErrNotCheckedIn when the day is already closed.
	CloseAttendance(ctx context.Context, id string, out model.CheckPoint, totalMinutes int) error
}

// Store is the full persistence surface.
type Store interface {
	Reader
	Writer
	Close() error
}
