package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/flight-weather/internal/logger"
	"github.com/i474232898/flight-weather/internal/metrics"
)

// State is the lifecycle of a scheduled one-shot job.
type State int

const (
	StateUnknown State = iota
	StatePending
	StateFired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrAlreadyScheduled is returned when a key already has a job.
var ErrAlreadyScheduled = errors.New("job already scheduled")

// Job is the work run once the delay elapses.
type Job func(ctx context.Context)

// Scheduler runs delayed one-shot jobs keyed by an id. Each key fires at most
// once and can be cancelled while pending.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	log        *logger.Logger
	jobTimeout time.Duration

	mu     sync.Mutex
	states map[string]State
}

// New creates a new Scheduler.
func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &Scheduler{
		scheduler:  s,
		log:        log,
		jobTimeout: 30 * time.Second,
		states:     make(map[string]State),
	}
}

// Start starts the underlying scheduler.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Schedule registers job to run once after delay under key.
func (s *Scheduler) Schedule(key string, delay time.Duration, job Job) error {
	if delay <= 0 {
		return fmt.Errorf("schedule %s: delay must be positive", key)
	}

	s.mu.Lock()
	if _, exists := s.states[key]; exists {
		s.mu.Unlock()
		return fmt.Errorf("schedule %s: %w", key, ErrAlreadyScheduled)
	}
	s.states[key] = StatePending
	s.mu.Unlock()

	_, err := s.scheduler.
		Every(delay).
		WaitForSchedule().
		LimitRunsTo(1).
		Tag(key).
		Do(s.run, key, job)
	if err != nil {
		s.mu.Lock()
		delete(s.states, key)
		s.mu.Unlock()
		return fmt.Errorf("schedule %s: %w", key, err)
	}

	metrics.UpdatesPending.Inc()
	s.log.Debug("job scheduled", map[string]any{"key": key, "delay": delay.String()})
	return nil
}

func (s *Scheduler) run(key string, job Job) {
	s.mu.Lock()
	if s.states[key] != StatePending {
		s.mu.Unlock()
		return
	}
	s.states[key] = StateFired
	s.mu.Unlock()

	metrics.UpdatesPending.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	s.log.Debug("running scheduled job", map[string]any{"key": key})
	job(ctx)
}

// Cancel stops a pending job. It reports whether the job was still pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	if s.states[key] != StatePending {
		s.mu.Unlock()
		return false
	}
	s.states[key] = StateCancelled
	s.mu.Unlock()

	metrics.UpdatesPending.Dec()
	if err := s.scheduler.RemoveByTag(key); err != nil {
		s.log.Warning("remove cancelled job", map[string]any{"key": key, "error": err})
	}
	return true
}

// State returns the lifecycle state of key.
func (s *Scheduler) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[key]
}

// Pending returns the number of jobs that have not fired or been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.states {
		if st == StatePending {
			n++
		}
	}
	return n
}
