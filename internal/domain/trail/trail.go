// Package trail reconstructs a user's day as an ordered list of events.
package trail

import (
	"math"
	"sort"

	"github.com/okian/fieldtrack/internal/domain/model"
)

// MaxRenderPoints caps the number of points handed to a map polyline.
const MaxRenderPoints = 80

// Build merges the attendance stamps and the day's samples into one
// chronological trail. Events sharing a timestamp are ordered check-in,
// move, check-out.
func Build(att *model.AttendanceDay, samples []model.LocationSample) []model.TrailEvent {
	events := make([]model.TrailEvent, 0, len(samples)+2)

	if att != nil && !att.CheckIn.Time.IsZero() {
		events = append(events, stamp(model.KindCheckIn, att.ID, att.CheckIn))
	}
	for _, s := range samples {
		events = append(events, model.TrailEvent{
			ID:        MoveID(s.ID),
			Kind:      model.KindMove,
			Timestamp: s.RecordedAt,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
		})
	}
	if att != nil && att.CheckOut != nil {
		events = append(events, stamp(model.KindCheckOut, att.ID, *att.CheckOut))
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Kind < b.Kind
	})
	return events
}

func stamp(kind model.EventKind, attendanceID string, cp model.CheckPoint) model.TrailEvent {
	return model.TrailEvent{
		ID:        kind.String() + "-" + attendanceID,
		Kind:      kind,
		Timestamp: cp.Time,
		Latitude:  cp.Lat,
		Longitude: cp.Lng,
		Place:     cp.Place,
		Area:      cp.Area,
	}
}

// MoveID is the stable event id of a sample.
func MoveID(sampleID string) string { return "move-" + sampleID }

// Decimate reduces points to at most limit entries, always keeping the first
// and last point. Interior points are picked at evenly spaced indices, so
// the same input always yields the same output.
func Decimate(points []model.Coordinate, limit int) []model.Coordinate {
	if limit < 2 {
		limit = 2
	}
	n := len(points)
	if n <= limit {
		out := make([]model.Coordinate, n)
		copy(out, points)
		return out
	}

	out := make([]model.Coordinate, 0, limit)
	out = append(out, points[0])
	step := float64(n-2) / float64(limit-2)
	for i := 1; i <= limit-2; i++ {
		idx := int(math.Round(float64(i) * step))
		if idx > n-2 {
			idx = n - 2
		}
		out = append(out, points[idx])
	}
	return append(out, points[n-1])
}

// Path returns the decimated polyline of a trail.
func Path(events []model.TrailEvent, limit int) []model.Coordinate {
	points := make([]model.Coordinate, len(events))
	for i, e := range events {
		points[i] = e.Coordinate()
	}
	return Decimate(points, limit)
}

// Summary is the compact description of a trail.
type Summary struct {
	MoveCount int `json:"move_count"`
	// ElapsedMinutes is set only when the day has both check-in and check-out.
	ElapsedMinutes *int               `json:"elapsed_minutes,omitempty"`
	Points         []model.Coordinate `json:"points"`
}

// Summarize counts moves, measures the worked time and decimates the path.
func Summarize(att *model.AttendanceDay, events []model.TrailEvent, limit int) Summary {
	s := Summary{Points: Path(events, limit)}
	for _, e := range events {
		if e.Kind == model.KindMove {
			s.MoveCount++
		}
	}
	if att != nil && att.CheckOut != nil && !att.CheckIn.Time.IsZero() {
		m := ElapsedMinutes(att.CheckIn, *att.CheckOut)
		s.ElapsedMinutes = &m
	}
	return s
}

// ElapsedMinutes returns check-out minus check-in rounded to whole minutes.
func ElapsedMinutes(in, out model.CheckPoint) int {
	return int(math.Round(out.Time.Sub(in.Time).Minutes()))
}

// NeedsPlace returns the check-in and check-out events that still lack a
// place or area. Moves are never resolved, so at most two events qualify.
func NeedsPlace(events []model.TrailEvent) []model.TrailEvent {
	var out []model.TrailEvent
	for _, e := range events {
		if e.Kind == model.KindMove {
			continue
		}
		if e.Place == "" || e.Area == "" {
			out = append(out, e)
		}
	}
	return out
}

// ApplyPlace sets the place of the event with the given id. Applying the
// same result twice leaves the trail unchanged. Unresolved places are ignored.
func ApplyPlace(events []model.TrailEvent, id string, p model.Place) {
	if !p.Resolved() {
		return
	}
	for i := range events {
		if events[i].ID == id {
			events[i].Place = p.Place
			events[i].Area = p.Area
			return
		}
	}
}
