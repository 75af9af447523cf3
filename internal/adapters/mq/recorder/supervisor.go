package recorder

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/fieldtrack/internal/adapters/mq/queue"
	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

const defaultQueueCapacity = 256

// Supervisor owns the running recorders, keyed by user.
type Supervisor struct {
	store    SampleStore
	sessions SessionChecker

	gate          Gate
	queueCapacity int
	newID         func() string
	logger        logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	recorders map[string]*Recorder
	wg        sync.WaitGroup
}

// NewSupervisor creates a Supervisor. Recorders run until stopped, their
// session ends or Shutdown is called.
func NewSupervisor(store SampleStore, sessions SessionChecker, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		store:         store,
		sessions:      sessions,
		gate:          DefaultGate(),
		queueCapacity: defaultQueueCapacity,
		newID:         uuid.NewString,
		logger:        logger.Get().Named("recorder"),
		ctx:           ctx,
		cancel:        cancel,
		recorders:     make(map[string]*Recorder),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches a recorder for userID. Starting an already running
// recorder is a no-op; it returns false in that case.
func (s *Supervisor) Start(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recorders[userID]; ok {
		return false
	}

	r := &Recorder{
		userID:   userID,
		queue:    queue.NewInMemoryQueue(queue.WithCapacity(s.queueCapacity)),
		store:    s.store,
		sessions: s.sessions,
		gate:     s.gate,
		newID:    s.newID,
		logger:   s.logger,
		onExit:   s.forget,
		done:     make(chan struct{}),
	}
	s.recorders[userID] = r
	metrics.UpdateRecordersActive(len(s.recorders))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		r.Run(s.ctx)
	}()

	s.logger.Info(s.ctx, "location recording started", logger.String("user_id", userID))
	return true
}

// Stop drains and stops the user's recorder. Stopping a user that is not
// tracked is a no-op.
func (s *Supervisor) Stop(ctx context.Context, userID string) error {
	s.mu.Lock()
	r, ok := s.recorders[userID]
	if ok {
		delete(s.recorders, userID)
		metrics.UpdateRecordersActive(len(s.recorders))
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	err := r.Shutdown(ctx)
	s.logger.Info(ctx, "location recording stopped", logger.String("user_id", userID))
	return err
}

// Deliver hands a fix to the user's recorder without blocking.
func (s *Supervisor) Deliver(ctx context.Context, userID string, fix model.Fix) error {
	s.mu.Lock()
	r, ok := s.recorders[userID]
	s.mu.Unlock()

	if !ok {
		return ErrNotTracking
	}
	if !r.queue.Enqueue(ctx, fix) {
		if r.queue.IsClosed() {
			return ErrNotTracking
		}
		metrics.RecordFixDiscarded("queue_full")
		return ErrQueueFull
	}
	return nil
}

// Tracking reports whether a recorder is running for userID.
func (s *Supervisor) Tracking(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recorders[userID]
	return ok
}

// Active returns the number of running recorders.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recorders)
}

// Backlog returns the number of fixes waiting across all recorders.
func (s *Supervisor) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.recorders {
		n += r.queue.Len()
	}
	metrics.UpdateQueueSize(n)
	return n
}

// Shutdown stops every recorder, draining queued fixes until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	all := make([]*Recorder, 0, len(s.recorders))
	for id, r := range s.recorders {
		all = append(all, r)
		delete(s.recorders, id)
	}
	metrics.UpdateRecordersActive(0)
	s.mu.Unlock()

	var errs []error
	for _, r := range all {
		if err := r.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	s.wg.Wait()
	return errors.Join(errs...)
}

// forget drops a recorder that exited on its own.
func (s *Supervisor) forget(r *Recorder, err error) {
	s.mu.Lock()
	current, ok := s.recorders[r.userID]
	if ok && current == r {
		delete(s.recorders, r.userID)
		metrics.UpdateRecordersActive(len(s.recorders))
	}
	s.mu.Unlock()

	_ = r.queue.Close()
	if errors.Is(err, ErrSessionLost) {
		for range r.queue.Dequeue(context.Background()) {
			metrics.RecordFixDiscarded("no_session")
		}
	}
}
