// Package recorder runs one distance-gated recorder per checked-in user.
//
// A recorder drains the user's fix queue on a single goroutine, so fixes of
// the same user are evaluated one after another against the latest persisted
// sample. Different users are recorded in parallel.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/fieldtrack/internal/adapters/mq/queue"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

// SampleStore is the persistence the recorder needs.
type SampleStore interface {
	// LatestSample returns the user's most recent sample, or nil if none exists.
	LatestSample(ctx context.Context, userID string) (*model.LocationSample, error)
	InsertSample(ctx context.Context, s model.LocationSample) error
}

// SessionChecker reports whether the user still holds a live session.
type SessionChecker interface {
	Active(ctx context.Context, userID string) bool
}

// Recorder consumes one user's fixes.
type Recorder struct {
	userID   string
	queue    queue.Queue
	store    SampleStore
	sessions SessionChecker
	gate     Gate
	newID    func() string
	logger   logger.Logger

	// onExit is called once Run returns, with the reason it stopped.
	onExit func(r *Recorder, err error)

	done chan struct{}
}

// UserID returns the user this recorder serves.
func (r *Recorder) UserID() string { return r.userID }

// Run processes fixes until the queue is closed, ctx is cancelled or the
// session disappears.
func (r *Recorder) Run(ctx context.Context) {
	var exitErr error
	defer func() {
		close(r.done)
		if r.onExit != nil {
			r.onExit(r, exitErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fixes := r.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			exitErr = ctx.Err()
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			if err := r.handle(ctx, fix); err != nil {
				exitErr = err
				return
			}
		}
	}
}

// Shutdown stops accepting fixes, lets queued ones drain and waits for Run
// to return.
func (r *Recorder) Shutdown(ctx context.Context) error {
	_ = r.queue.Close()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.logger.Warn(ctx, "recorder shutdown timed out", logger.String("user_id", r.userID))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// handle evaluates a single fix. Only a lost session is returned as an
// error; persistence problems are logged, counted and the fix is dropped.
func (r *Recorder) handle(ctx context.Context, fix model.Fix) error {
	metrics.RecordFixReceived()

	if !r.sessions.Active(ctx, r.userID) {
		metrics.RecordFixDiscarded("no_session")
		r.logger.Info(ctx, "no active session, stopping location recording",
			logger.String("user_id", r.userID))
		return ErrSessionLost
	}

	start := time.Now()
	last, err := r.store.LatestSample(ctx, r.userID)
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordFixDiscarded("load_error")
		metrics.RecordErrorByComponent("recorder", "load_last_sample")
		r.logger.Error(ctx, "loading last sample failed",
			logger.String("user_id", r.userID), logger.Error(err))
		return nil
	}

	d := r.gate.Evaluate(last, fix)
	if last != nil && d.Reason != ReasonStale {
		metrics.RecordGateDistance(d.Distance)
	}
	if !d.Accept {
		metrics.RecordFixDiscarded(d.Reason)
		r.logger.Debug(ctx, "fix skipped",
			logger.String("user_id", r.userID),
			logger.String("reason", d.Reason),
			logger.Float64("distance_m", d.Distance),
			logger.Duration("elapsed", d.Elapsed))
		return nil
	}

	sample := model.LocationSample{
		ID:             r.newID(),
		UserID:         r.userID,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyMeters: fix.Accuracy,
		RecordedAt:     fix.Timestamp.UTC(),
	}
	start = time.Now()
	err = r.store.InsertSample(ctx, sample)
	metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordSamplePersistError()
		metrics.RecordErrorByComponent("recorder", "insert_sample")
		r.logger.Error(ctx, "saving sample failed",
			logger.String("user_id", r.userID), logger.Error(err))
		return nil
	}

	metrics.RecordFixAccepted(d.Reason)
	r.logger.Debug(ctx, "sample saved",
		logger.String("user_id", r.userID),
		logger.String("sample_id", sample.ID),
		logger.String("reason", d.Reason),
		logger.Float64("distance_m", d.Distance))
	return nil
}
