// Package presence classifies tracked users for the live dashboard.
package presence

import (
	"sort"
	"time"

	"github.com/okian/fieldtrack/internal/domain/model"
)

// DefaultLiveWindow is the age under which a sample counts as live.
const DefaultLiveWindow = 30 * time.Minute

// Input is what the classifier knows about one user for the current day.
type Input struct {
	UserID string
	// Sample is the latest sample recorded since the start of the window.
	Sample *model.LocationSample
	// Attendance is the user's open attendance day, if any.
	Attendance *model.AttendanceDay
}

// Classifier turns per-user inputs into ordered presence records.
type Classifier struct {
	liveWindow time.Duration
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{liveWindow: DefaultLiveWindow}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LiveWindow returns the configured live window.
func (c *Classifier) LiveWindow() time.Duration { return c.liveWindow }

// Classify returns the status for a user. ok is false when the user has
// neither a sample nor an open attendance and should be left out.
func (c *Classifier) Classify(now time.Time, lastSample *time.Time, hasOpenAttendance bool) (status model.PresenceStatus, ok bool) {
	switch {
	case lastSample != nil && now.Sub(*lastSample) < c.liveWindow:
		return model.StatusLive, true
	case lastSample != nil:
		return model.StatusLastSeen, true
	case hasOpenAttendance:
		return model.StatusOffline, true
	default:
		return "", false
	}
}

// Build classifies every input and sorts the result: live, then lastSeen,
// then offline; within a status the most recent first.
func (c *Classifier) Build(now time.Time, inputs []Input) []model.PresenceRecord {
	out := make([]model.PresenceRecord, 0, len(inputs))
	for _, in := range inputs {
		var last *time.Time
		if in.Sample != nil {
			last = &in.Sample.RecordedAt
		}
		status, ok := c.Classify(now, last, in.Attendance != nil && in.Attendance.Open())
		if !ok {
			continue
		}

		rec := model.PresenceRecord{UserID: in.UserID, Status: status}
		if in.Attendance != nil {
			t := in.Attendance.CheckIn.Time
			rec.CheckInTime = &t
		}
		if in.Sample != nil {
			rec.Latitude = in.Sample.Latitude
			rec.Longitude = in.Sample.Longitude
			rec.RecordedAt = in.Sample.RecordedAt
		} else {
			rec.Latitude = in.Attendance.CheckIn.Lat
			rec.Longitude = in.Attendance.CheckIn.Lng
			rec.RecordedAt = in.Attendance.CheckIn.Time
		}
		out = append(out, rec)
	}

	Sort(out)
	return out
}

// Sort orders records by status rank, then RecordedAt descending, then user.
func Sort(records []model.PresenceRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Status.Rank() != b.Status.Rank() {
			return a.Status.Rank() < b.Status.Rank()
		}
		if !a.RecordedAt.Equal(b.RecordedAt) {
			return a.RecordedAt.After(b.RecordedAt)
		}
		return a.UserID < b.UserID
	})
}

// Counts tallies records per status.
func Counts(records []model.PresenceRecord) map[model.PresenceStatus]int {
	counts := map[model.PresenceStatus]int{
		model.StatusLive:     0,
		model.StatusLastSeen: 0,
		model.StatusOffline:  0,
	}
	for _, r := range records {
		counts[r.Status]++
	}
	return counts
}
