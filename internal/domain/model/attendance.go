package model

import "time"

// CheckPoint stamps a check-in or check-out.
type CheckPoint struct {
	Time  time.Time `json:"time"`
	Lat   float64   `json:"latitude"`
	Lng   float64   `json:"longitude"`
	Place string    `json:"place,omitempty"`
	Area  string    `json:"area,omitempty"`
}

// Coordinate returns the check point position.
func (c CheckPoint) Coordinate() Coordinate { return Coordinate{Lat: c.Lat, Lng: c.Lng} }

// AttendanceDay is one user's working day. It is created at check-in and
// closed once at check-out.
type AttendanceDay struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Date         string      `json:"date"` // YYYY-MM-DD, UTC
	CheckIn      CheckPoint  `json:"check_in"`
	CheckOut     *CheckPoint `json:"check_out,omitempty"`
	TotalMinutes *int        `json:"total_minutes,omitempty"`
}

// Open reports whether the day has no check-out yet.
func (a AttendanceDay) Open() bool { return a.CheckOut == nil }

// Permission is the location permission level granted on the device.
type Permission string

const (
	PermissionGranted        Permission = "granted"
	PermissionForegroundOnly Permission = "foregroundOnly"
	PermissionDenied         Permission = "denied"
)
