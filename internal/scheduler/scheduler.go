// Package scheduler runs named periodic tasks, one supervised goroutine
// per task.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
)

var log = logrus.WithField("component", "scheduler")

var (
	ErrInvalidTask = errors.New("invalid task")
	ErrStopTimeout = errors.New("scheduler stop timed out")
)

// TaskFunc is one invocation of a periodic task.
type TaskFunc func(ctx context.Context) error

// Report is a failed invocation, delivered on the supervisor channel.
type Report struct {
	Task string
	Time time.Time
	Err  error
}

// TaskStatus describes a registered task.
type TaskStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

type task struct {
	name     string
	fn       TaskFunc
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	runs      int
	failures  int
	lastRun   time.Time
	lastError string
}

// Scheduler invokes each task, sleeps its interval, and repeats until
// stopped. Failures and panics are logged and reported; the loop goes on.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	// retired holds the done channels of replaced or removed loops that
	// Stop still has to join.
	retired []chan struct{}

	reports     chan Report
	joinTimeout time.Duration
	now         func() time.Time
}

// New creates a stopped scheduler. joinTimeout bounds Stop; zero means 5s.
func New(joinTimeout time.Duration) *Scheduler {
	if joinTimeout <= 0 {
		joinTimeout = 5 * time.Second
	}
	return &Scheduler{
		tasks:       make(map[string]*task),
		reports:     make(chan Report, 64),
		joinTimeout: joinTimeout,
		now:         time.Now,
	}
}

// Reports is the supervisor channel. Reports are dropped while it is full.
func (s *Scheduler) Reports() <-chan Report { return s.reports }

// AddTask registers fn under name, replacing any task of the same name.
// On a running scheduler the old loop is cancelled and the new one starts.
func (s *Scheduler) AddTask(name string, fn TaskFunc, interval time.Duration) error {
	if name == "" || fn == nil || interval <= 0 {
		return fmt.Errorf("%w: name=%q interval=%s", ErrInvalidTask, name, interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[name]; ok && old.cancel != nil {
		s.retireLocked(old)
		log.WithField("task", name).Info("replacing running task")
	}
	t := &task{name: name, fn: fn, interval: interval}
	s.tasks[name] = t
	if s.running {
		s.startLocked(t)
	}
	log.WithFields(logrus.Fields{"task": name, "interval": interval}).Debug("task registered")
	return nil
}

// removeTask cancels and forgets a task.
func (s *Scheduler) removeTask(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	if t.cancel != nil {
		s.retireLocked(t)
	}
	delete(s.tasks, name)
	return true
}

func (s *Scheduler) retireLocked(t *task) {
	t.cancel()
	if t.done != nil {
		s.retired = append(s.retired, t.done)
	}
	t.cancel, t.done = nil, nil
}

// Start launches every registered task. Starting twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, t := range s.tasks {
		s.startLocked(t)
	}
	log.WithField("tasks", len(s.tasks)).Info("scheduler started")
}

func (s *Scheduler) startLocked(t *task) {
	ctx, cancel := context.WithCancel(s.ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go s.loop(ctx, t)
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer close(t.done)
	timer := time.NewTimer(t.interval)
	defer timer.Stop()
	for {
		s.invoke(ctx, t)
		timer.Reset(t.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, t *task) {
	if ctx.Err() != nil {
		return
	}
	var err error
	if rec := panics.Try(func() { err = t.fn(ctx) }); rec != nil {
		err = rec.AsError()
	}

	s.mu.Lock()
	t.runs++
	t.lastRun = s.now().UTC()
	if err != nil {
		t.failures++
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
	s.mu.Unlock()

	if err == nil {
		return
	}
	log.WithError(err).WithField("task", t.name).Error("task failed")
	select {
	case s.reports <- Report{Task: t.name, Time: s.now().UTC(), Err: err}:
	default:
	}
}

// Stop cancels every loop and waits up to the join timeout for them to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	pending := s.retired
	s.retired = nil
	for _, t := range s.tasks {
		if t.done != nil {
			pending = append(pending, t.done)
		}
		t.cancel, t.done = nil, nil
	}
	s.mu.Unlock()

	deadline := time.NewTimer(s.joinTimeout)
	defer deadline.Stop()
	for _, done := range pending {
		select {
		case <-done:
		case <-deadline.C:
			log.WithField("timeout", s.joinTimeout).Warn("tasks still running after stop")
			return ErrStopTimeout
		}
	}
	log.Info("scheduler stopped")
	return nil
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Tasks lists the registered tasks by name.
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskStatus{
			Name:      t.name,
			Interval:  t.interval,
			Runs:      t.runs,
			Failures:  t.failures,
			LastRun:   t.lastRun,
			LastError: t.lastError,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
