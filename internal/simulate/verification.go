package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/okian/fieldtrack/internal/domain/geo"
	"github.com/okian/fieldtrack/pkg/logger"
)

// Gate and rendering limits of a default service configuration.
const (
	gateMinDistanceMeters = 100
	maxRenderPoints       = 80

	presenceAttempts   = 10
	presenceRetryDelay = 300 * time.Millisecond
)

var ErrVerification = errors.New("verification failed")

type trailEvent struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

type trailResponse struct {
	UserID  string       `json:"user_id"`
	Date    string       `json:"date"`
	Events  []trailEvent `json:"events"`
	Summary struct {
		MoveCount      int   `json:"move_count"`
		ElapsedMinutes *int  `json:"elapsed_minutes"`
		Points         []any `json:"points"`
	} `json:"summary"`
}

type presenceResponse struct {
	Records []struct {
		UserID string `json:"user_id"`
	} `json:"records"`
}

// checkTrail reports what is wrong with one worker's trail.
func checkTrail(cfg *Config, w Walk, t trailResponse) error {
	n := len(t.Events)
	if n < 2 {
		return fmt.Errorf("%w: %s: %d events", ErrVerification, w.UserID, n)
	}
	if t.Events[0].Kind != "check_in" {
		return fmt.Errorf("%w: %s: first event is %s", ErrVerification, w.UserID, t.Events[0].Kind)
	}
	if t.Events[n-1].Kind != "check_out" {
		return fmt.Errorf("%w: %s: last event is %s", ErrVerification, w.UserID, t.Events[n-1].Kind)
	}
	for i := 1; i < n; i++ {
		if t.Events[i].Timestamp.Before(t.Events[i-1].Timestamp) {
			return fmt.Errorf("%w: %s: event %s out of order", ErrVerification, w.UserID, t.Events[i].ID)
		}
	}

	moves := t.Summary.MoveCount
	switch {
	case cfg.StepMeters >= gateMinDistanceMeters && moves != len(w.Fixes):
		return fmt.Errorf("%w: %s: %d moves, want %d", ErrVerification, w.UserID, moves, len(w.Fixes))
	case moves > len(w.Fixes):
		return fmt.Errorf("%w: %s: %d moves from %d fixes", ErrVerification, w.UserID, moves, len(w.Fixes))
	}

	in, _ := time.Parse(time.RFC3339Nano, w.CheckIn.Timestamp)
	out, _ := time.Parse(time.RFC3339Nano, w.CheckOut.Timestamp)
	want := int(math.Round(out.Sub(in).Minutes()))
	if t.Summary.ElapsedMinutes == nil || *t.Summary.ElapsedMinutes != want {
		return fmt.Errorf("%w: %s: elapsed minutes %v, want %d", ErrVerification, w.UserID, t.Summary.ElapsedMinutes, want)
	}
	if len(t.Summary.Points) > maxRenderPoints {
		return fmt.Errorf("%w: %s: %d render points", ErrVerification, w.UserID, len(t.Summary.Points))
	}
	return nil
}

// verifyResults fetches every trail and the presence list.
func verifyResults(ctx context.Context, cfg *Config, client *HTTPClient, walks []Walk, stats *Stats) error {
	log := logger.Get()
	var errs []error

	for _, w := range walks {
		at, _ := time.Parse(time.RFC3339Nano, w.CheckIn.Timestamp)
		var t trailResponse
		path := "/v1/trail/" + w.UserID + "?date=" + geo.DateOf(at)
		if err := client.do(ctx, http.MethodGet, path, "", nil, &t, http.StatusOK); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := checkTrail(cfg, w, t); err != nil {
			errs = append(errs, err)
			continue
		}
		stats.TrailsVerified++
		if cfg.Verbose {
			log.Info(ctx, "trail verified",
				logger.String("user_id", w.UserID),
				logger.Int("events", len(t.Events)),
			)
		}
	}

	missing, err := awaitPresence(ctx, client, walks)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, id := range missing {
		errs = append(errs, fmt.Errorf("%w: %s missing from presence", ErrVerification, id))
	}

	return errors.Join(errs...)
}

// awaitPresence polls presence until every walker shows up. Presence is
// served from cache and refreshed behind the read, so the first answer may
// predate the run.
func awaitPresence(ctx context.Context, client *HTTPClient, walks []Walk) ([]string, error) {
	var missing []string
	for attempt := 0; attempt < presenceAttempts; attempt++ {
		var p presenceResponse
		if err := client.do(ctx, http.MethodGet, "/v1/presence", "", nil, &p, http.StatusOK); err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(p.Records))
		for _, r := range p.Records {
			seen[r.UserID] = true
		}
		missing = missing[:0]
		for _, w := range walks {
			if !seen[w.UserID] {
				missing = append(missing, w.UserID)
			}
		}
		if len(missing) == 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(presenceRetryDelay):
		}
	}
	return missing, nil
}

// displayFinalStats logs the run summary.
func displayFinalStats(ctx context.Context, stats *Stats) {
	logger.Get().Info(ctx, "simulation finished",
		logger.Int("users", stats.Users),
		logger.Int("check_ins", stats.CheckIns),
		logger.Int("check_outs", stats.CheckOuts),
		logger.Int("fixes_sent", stats.FixesSent),
		logger.Int("fixes_accepted", stats.FixesAccepted),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
		logger.Int("trails_verified", stats.TrailsVerified),
		logger.Duration("duration", stats.Duration),
	)
}
