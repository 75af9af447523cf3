package recorder

import (
	"time"

	"github.com/okian/fieldtrack/internal/domain/geo"
	"github.com/okian/fieldtrack/internal/domain/model"
)

// Default gate thresholds.
const (
	DefaultMinDistance   = 100.0 // meters
	DefaultMaxStationary = 20 * time.Minute
)

// Reasons reported by the gate.
const (
	ReasonFirst      = "first"
	ReasonDistance   = "distance"
	ReasonInterval   = "interval"
	ReasonStationary = "stationary"
	ReasonStale      = "stale"
)

// Gate decides whether a fix is worth persisting. It only ever compares
// against the last persisted sample, never against discarded fixes.
type Gate struct {
	MinDistance   float64
	MaxStationary time.Duration
}

// DefaultGate returns a gate with the standard thresholds.
func DefaultGate() Gate {
	return Gate{MinDistance: DefaultMinDistance, MaxStationary: DefaultMaxStationary}
}

// Decision is the outcome of Gate.Evaluate.
type Decision struct {
	Accept   bool
	Reason   string
	Distance float64 // meters from the last sample; zero for the first fix
	Elapsed  time.Duration
}

// Evaluate applies the gate to fix given the last persisted sample.
func (g Gate) Evaluate(last *model.LocationSample, fix model.Fix) Decision {
	if last == nil {
		return Decision{Accept: true, Reason: ReasonFirst}
	}

	elapsed := fix.Timestamp.Sub(last.RecordedAt)
	if elapsed <= 0 {
		return Decision{Reason: ReasonStale, Elapsed: elapsed}
	}

	d := Decision{
		Distance: geo.Distance(last.Coordinate(), fix.Coordinate()),
		Elapsed:  elapsed,
	}
	switch {
	case d.Distance >= g.MinDistance:
		d.Accept, d.Reason = true, ReasonDistance
	case elapsed >= g.MaxStationary:
		d.Accept, d.Reason = true, ReasonInterval
	default:
		d.Reason = ReasonStationary
	}
	return d
}
