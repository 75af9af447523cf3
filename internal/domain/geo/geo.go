// Package geo holds the coordinate math shared by the recorder, the caches and
// the dashboard.
package geo

import (
	"fmt"
	"math"
	"time"

	"github.com/okian/fieldtrack/internal/domain/model"
)

// EarthRadiusMeters is the mean earth radius used by Distance.
const EarthRadiusMeters = 6_371_000.0

// KeyPrecision is the number of decimals kept by Key (about 11 m).
const KeyPrecision = 4

// DateLayout is the attendance date format.
const DateLayout = "2006-01-02"

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b model.Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Key buckets a coordinate for cache lookups.
func Key(lat, lng float64) string {
	return fmt.Sprintf("%.4f,%.4f", round4(lat), round4(lng))
}

func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0 // drop the sign of -0
	}
	return r
}

// DateOf returns the UTC attendance date of t.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DayBounds returns [start, end) of a UTC date string.
func DayBounds(date string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
