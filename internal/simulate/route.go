package simulate

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fieldtrack/internal/domain/geo"
	"github.com/okian/fieldtrack/internal/domain/model"
)

const (
	metersPerDegreeLat = 111_320.0
	fixAccuracyMeters  = 8
	userSpacingMeters  = 500
)

// offset moves c by north and east meters.
func offset(c model.Coordinate, north, east float64) model.Coordinate {
	lat := c.Lat + north/metersPerDegreeLat
	lng := c.Lng + east/(metersPerDegreeLat*math.Cos(lat*math.Pi/180))
	return model.Coordinate{Lat: lat, Lng: lng}
}

func newFix(c model.Coordinate, at time.Time) Fix {
	return Fix{
		Latitude:  c.Lat,
		Longitude: c.Lng,
		Accuracy:  fixAccuracyMeters,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// dayStart picks the check-in time so the whole walk fits in the past of
// now without crossing a UTC day boundary.
func dayStart(now time.Time, length time.Duration) time.Time {
	start := now.Add(-length - time.Minute)
	if midnight := geo.StartOfDay(now); start.Before(midnight) {
		start = midnight
	}
	return start.Truncate(time.Second)
}

// Plan lays out one walk per user. Each worker starts userSpacingMeters
// east of the previous one and walks north-east, StepMeters per fix.
func Plan(cfg *Config, now time.Time) []Walk {
	length := time.Duration(cfg.Steps+1) * cfg.StepInterval
	start := dayStart(now.UTC(), length)

	// Split each step evenly between north and east.
	leg := cfg.StepMeters / math.Sqrt2

	walks := make([]Walk, cfg.Users)
	for u := range walks {
		pos := offset(cfg.Origin, 0, float64(u)*userSpacingMeters)
		w := Walk{
			UserID:  fmt.Sprintf("sim-%02d-%s", u+1, uuid.NewString()[:8]),
			CheckIn: newFix(pos, start),
			Fixes:   make([]Fix, 0, cfg.Steps),
		}
		for i := 1; i <= cfg.Steps; i++ {
			pos = offset(pos, leg, leg)
			w.Fixes = append(w.Fixes, newFix(pos, start.Add(time.Duration(i)*cfg.StepInterval)))
		}
		w.CheckOut = newFix(pos, start.Add(length))
		walks[u] = w
	}
	return walks
}

// batches splits fixes into uploads of at most size.
func batches(fixes []Fix, size int) [][]Fix {
	if size <= 0 {
		size = 1
	}
	var out [][]Fix
	for len(fixes) > 0 {
		n := min(size, len(fixes))
		out = append(out, fixes[:n])
		fixes = fixes[n:]
	}
	return out
}
