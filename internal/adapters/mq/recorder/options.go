package recorder

import (
	"github.com/okian/fieldtrack/pkg/logger"
)

// Option applies a configuration option to a Supervisor and the recorders it starts.
type Option func(*Supervisor)

// WithGate sets the distance gate. Zero thresholds keep the defaults.
func WithGate(g Gate) Option {
	return func(s *Supervisor) {
		if g.MinDistance > 0 {
			s.gate.MinDistance = g.MinDistance
		}
		if g.MaxStationary > 0 {
			s.gate.MaxStationary = g.MaxStationary
		}
	}
}

// WithQueueCapacity bounds each user's fix queue.
func WithQueueCapacity(capacity int) Option {
	return func(s *Supervisor) {
		if capacity > 0 {
			s.queueCapacity = capacity
		}
	}
}

// WithIDGenerator overrides sample id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}
