// Package simulate drives simulated field workers through a working day
// against a running service and verifies the resulting trails.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/fieldtrack/internal/adapters/mq/amqp"
	"github.com/okian/fieldtrack/internal/adapters/session"
	"github.com/okian/fieldtrack/pkg/logger"
)

// Run executes the complete simulation.
func Run(ctx context.Context, cfg *Config) error {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	stats := &Stats{StartTime: time.Now(), Users: cfg.Users}
	log := logger.Get()

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("transport", string(cfg.Transport)),
		logger.Int("users", cfg.Users),
		logger.Int("steps", cfg.Steps),
		logger.Float64("stepMeters", cfg.StepMeters),
		logger.Duration("stepInterval", cfg.StepInterval),
	)

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := client.health(ctx); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	walks := Plan(cfg, now())
	tokens := session.NewManager(cfg.Secret, cfg.Issuer, 0)
	for i := range walks {
		token, err := tokens.Issue(walks[i].UserID, 0)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		walks[i].Token = token
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, w := range walks {
		g.Go(func() error {
			err := walk(gctx, cfg, client, w, &mu, stats)
			if err != nil {
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				log.Warn(gctx, "walk failed", logger.String("user_id", w.UserID), logger.Error(err))
			}
			// A failed walker does not stop the others.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("simulation interrupted: %w", err)
	}

	verifyErr := verifyResults(ctx, cfg, client, walks, stats)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if stats.Failed > 0 {
		verifyErr = errors.Join(verifyErr, fmt.Errorf("%d of %d walks failed", stats.Failed, len(walks)))
	}
	if verifyErr != nil {
		return fmt.Errorf("result verification failed: %w", verifyErr)
	}
	log.Info(ctx, "simulation completed successfully")
	return nil
}

// walk runs one worker: check in, upload fixes, check out.
func walk(ctx context.Context, cfg *Config, client *HTTPClient, w Walk, mu *sync.Mutex, stats *Stats) error {
	res, err := client.checkIn(ctx, w)
	if err != nil {
		return fmt.Errorf("check in: %w", err)
	}
	if !res.Tracking {
		return fmt.Errorf("check in: tracking not started for %s", w.UserID)
	}
	mu.Lock()
	stats.CheckIns++
	mu.Unlock()

	switch cfg.Transport {
	case TransportAMQP:
		if err := publishFixes(ctx, cfg, w); err != nil {
			return err
		}
		mu.Lock()
		stats.FixesSent += len(w.Fixes)
		mu.Unlock()
		// Fixes travel through the broker; give the consumer time to
		// deliver them before check-out drains the recorder.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Settle):
		}
	default:
		if err := uploadFixes(ctx, cfg, client, w, mu, stats); err != nil {
			return err
		}
	}

	if err := client.checkOut(ctx, w); err != nil {
		return fmt.Errorf("check out: %w", err)
	}
	mu.Lock()
	stats.CheckOuts++
	mu.Unlock()
	return nil
}

func uploadFixes(ctx context.Context, cfg *Config, client *HTTPClient, w Walk, mu *sync.Mutex, stats *Stats) error {
	parts := batches(w.Fixes, cfg.BatchSize)
	for _, b := range parts {
		resp, err := client.postFixes(ctx, w.Token, b)
		if err != nil {
			return fmt.Errorf("post fixes: %w", err)
		}
		mu.Lock()
		stats.FixesSent += len(b)
		stats.FixesAccepted += resp.Accepted
		stats.Duplicates += resp.Duplicates
		mu.Unlock()
	}

	if !cfg.Replay || len(parts) == 0 {
		return nil
	}
	resp, err := client.postFixes(ctx, w.Token, parts[0])
	if err != nil {
		return fmt.Errorf("replay fixes: %w", err)
	}
	mu.Lock()
	stats.Duplicates += resp.Duplicates
	mu.Unlock()
	if resp.Duplicates != len(parts[0]) || resp.Accepted != 0 {
		return fmt.Errorf("%w: replayed %d fixes, %d duplicates", ErrVerification, len(parts[0]), resp.Duplicates)
	}
	return nil
}

func publishFixes(ctx context.Context, cfg *Config, w Walk) error {
	for _, f := range w.Fixes {
		ts, err := time.Parse(time.RFC3339Nano, f.Timestamp)
		if err != nil {
			return err
		}
		err = amqp.Publish(ctx, cfg.AMQPURL, cfg.AMQPQueue, amqp.Message{
			Token:     w.Token,
			Latitude:  f.Latitude,
			Longitude: f.Longitude,
			Accuracy:  f.Accuracy,
			Timestamp: ts,
		})
		if err != nil {
			return fmt.Errorf("publish fix: %w", err)
		}
	}
	return nil
}
