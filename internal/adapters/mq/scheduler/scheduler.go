// Package scheduler fires one-shot maintenance tasks at wall-clock instants
// and hands them to the job queue.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/holdout/internal/adapters/mq/queue"
	"github.com/okian/holdout/pkg/logger"
	"github.com/okian/holdout/pkg/metrics"
)

// ErrStopped is returned by Schedule after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Action is the work a task performs when it fires.
type Action func(ctx context.Context) error

// Enqueuer accepts fired jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Task is a pending scheduled action.
type Task struct {
	ID   string
	Name string
	At   time.Time

	s     *Scheduler
	timer *time.Timer
}

// Cancel prevents the task from firing. It reports whether the task was
// still pending.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.tasks[t]; !ok {
		return false
	}
	t.timer.Stop()
	t.s.remove(t)
	return true
}

// Scheduler owns pending tasks. Fired tasks become queue jobs.
type Scheduler struct {
	queue Enqueuer
	log   logger.Logger
	now   func() time.Time

	mu      sync.Mutex
	tasks   map[*Task]struct{}
	stopped bool
}

// New creates a scheduler feeding q.
func New(q Enqueuer, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue: q,
		log:   logger.Default("scheduler"),
		now:   time.Now,
		tasks: make(map[*Task]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arranges for action to run at at. An instant that is not in the
// future is skipped with a warning and (nil, nil) is returned.
func (s *Scheduler) Schedule(ctx context.Context, at time.Time, name string, action Action) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStopped
	}
	now := s.now()
	if !at.After(now) {
		s.log.Warn(ctx, "task not scheduled, time already passed",
			logger.String("task", name),
			logger.Time("at", at),
			logger.Time("now", now),
		)
		return nil, nil
	}

	t := &Task{ID: uuid.NewString(), Name: name, At: at, s: s}
	t.timer = time.AfterFunc(at.Sub(now), func() { s.fire(t, action) })
	s.tasks[t] = struct{}{}
	metrics.UpdateScheduledTasks(len(s.tasks))

	s.log.Info(ctx, "task scheduled",
		logger.String("task", name),
		logger.Time("at", at),
		logger.Duration("in", at.Sub(now)),
	)
	return t, nil
}

func (s *Scheduler) fire(t *Task, action Action) {
	s.mu.Lock()
	if _, ok := s.tasks[t]; !ok {
		s.mu.Unlock()
		return
	}
	s.remove(t)
	s.mu.Unlock()

	ctx := context.Background()
	job := queue.Job{ID: t.ID, Name: t.Name, Run: action}
	if !s.queue.Enqueue(ctx, job) {
		metrics.RecordErrorByComponent("scheduler", "enqueue_failed")
		s.log.Error(ctx, "task fired but could not be queued", logger.String("task", t.Name))
		return
	}
	s.log.Info(ctx, "task fired", logger.String("task", t.Name))
}

// remove requires mu held.
func (s *Scheduler) remove(t *Task) {
	delete(s.tasks, t)
	metrics.UpdateScheduledTasks(len(s.tasks))
}

// Pending returns the number of tasks that have not fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for t := range s.tasks {
		t.timer.Stop()
		s.remove(t)
	}
}
