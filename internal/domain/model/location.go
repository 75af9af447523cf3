// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Fix is a raw position reading delivered by the device.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// Coordinate returns the fix position.
func (f Fix) Coordinate() Coordinate { return Coordinate{Lat: f.Latitude, Lng: f.Longitude} }

// LocationSample is a persisted fix. Samples are immutable once written and,
// per user, RecordedAt only ever increases.
type LocationSample struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Coordinate returns the sample position.
func (s LocationSample) Coordinate() Coordinate {
	return Coordinate{Lat: s.Latitude, Lng: s.Longitude}
}

// Place is a human readable name for a coordinate. Empty fields mean unknown.
type Place struct {
	Place string `json:"place,omitempty"`
	Area  string `json:"area,omitempty"`
}

// Resolved reports whether any part of the place is known.
func (p Place) Resolved() bool { return p.Place != "" || p.Area != "" }

// Label renders the place for display, falling back to the raw coordinate.
func (p Place) Label(lat, lng float64) string {
	switch {
	case p.Place != "" && p.Area != "":
		return p.Place + ", " + p.Area
	case p.Place != "":
		return p.Place
	case p.Area != "":
		return p.Area
	default:
		return fmt.Sprintf("%.4f, %.4f", lat, lng)
	}
}

// GeoCacheEntry is a cached reverse geocoding result.
type GeoCacheEntry struct {
	Key   string `json:"key"`
	Place string `json:"place,omitempty"`
	Area  string `json:"area,omitempty"`
}
