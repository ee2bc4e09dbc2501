// Package scheduler runs the pipeline once a day at a fixed wall-clock time
// and on demand, never two runs at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geniass/searchwatch/pkg/pipeline"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrBusy           = errors.New("scheduler busy")
	ErrInvalidTime    = errors.New("invalid time of day")
	ErrPanic          = errors.New("run panicked")
	ErrClosed         = errors.New("scheduler closed")
)

type State int32

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Runner is one execution of the pipeline.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Run, error)
}

// Notifier is told the outcome of every run exactly once.
type Notifier interface {
	Notify(ctx context.Context, run *pipeline.Run, ok bool) int
}

// Config configures the scheduler.
type Config struct {
	// PollInterval is how often the loop checks the trigger. Default: 1 second.
	PollInterval time.Duration
	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Scheduler owns the daily trigger and the executing flag.
type Scheduler struct {
	runner   Runner
	notifier Notifier
	config   Config
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	at       time.Duration
	next     time.Time
	stop     chan struct{}
	stopping bool
	closed   bool
	done     chan struct{}

	executing atomic.Bool
	bg        sync.WaitGroup
}

// New creates a stopped Scheduler. notifier may be nil.
func New(runner Runner, notifier Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

// nextTrigger returns the first instant strictly after now at offset at from
// local midnight.
func nextTrigger(now time.Time, at time.Duration) time.Time {
	y, m, d := now.Date()
	h := int(at / time.Hour)
	mi := int(at % time.Hour / time.Minute)
	sec := int(at % time.Minute / time.Second)
	t := time.Date(y, m, d, h, mi, sec, 0, now.Location())
	if !t.After(now) {
		t = time.Date(y, m, d+1, h, mi, sec, 0, now.Location())
	}
	return t
}

// Start registers a daily trigger at timeOfDay and starts the background loop.
// It does not block.
func (s *Scheduler) Start(timeOfDay string) error {
	at, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != Stopped {
		return ErrAlreadyRunning
	}

	s.state = Starting
	s.at = at
	s.next = nextTrigger(s.config.Now(), at)
	s.stop = make(chan struct{})
	s.stopping = false
	s.done = make(chan struct{})

	s.logger.Info("scheduler starting", "at", timeOfDay, "next", s.next)
	go s.loop(s.stop, s.done)
	return nil
}

// Stop asks the loop to exit and returns the current state. A run in
// progress is not interrupted; the state becomes Stopped once the loop has
// exited. Stopping a stopped scheduler does nothing.
func (s *Scheduler) Stop() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped || s.stopping {
		return s.state
	}
	s.stopping = true
	close(s.stop)
	s.logger.Info("scheduler stop requested", "executing", s.executing.Load())
	return s.state
}

// Close stops the schedule, rejects further runs with ErrClosed and waits for
// the loop and any background run to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Stop()
	s.Wait()
}

// Wait blocks until the loop and any background run have exited.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.bg.Wait()
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Executing reports whether a run is in progress.
func (s *Scheduler) Executing() bool {
	return s.executing.Load()
}

// Next returns the next trigger time, zero when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return time.Time{}
	}
	return s.next
}

func (s *Scheduler) loop(stop, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.state = Stopped
		close(done)
		s.mu.Unlock()
		s.logger.Info("scheduler stopped")
	}()

	s.mu.Lock()
	s.state = Running
	s.mu.Unlock()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := s.config.Now()
	s.mu.Lock()
	due := !now.Before(s.next)
	s.mu.Unlock()
	if !due {
		return
	}

	if !s.executing.CompareAndSwap(false, true) {
		s.logger.Warn("scheduled run skipped, a run is already in progress")
	} else {
		s.execute(context.Background(), "schedule")
		s.executing.Store(false)
	}

	s.mu.Lock()
	s.next = nextTrigger(s.config.Now(), s.at)
	s.logger.Info("next scheduled run", "at", s.next)
	s.mu.Unlock()
}

// RunNow executes a run synchronously. It fails with ErrBusy while the daily
// schedule is active or another run is in progress.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	err := s.claimLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	defer s.executing.Store(false)
	return s.execute(ctx, "manual")
}

// TryRun performs the same checks as RunNow, then executes the run in the
// background. The run is not cancelled when ctx is.
func (s *Scheduler) TryRun(ctx context.Context) error {
	s.mu.Lock()
	if err := s.claimLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	// added under mu so Close cannot already be waiting on bg
	s.bg.Add(1)
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer s.bg.Done()
		defer s.executing.Store(false)
		s.execute(ctx, "manual")
	}()
	return nil
}

func (s *Scheduler) claimLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.state != Stopped {
		return fmt.Errorf("%w: schedule is %s", ErrBusy, s.state)
	}
	if !s.executing.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: a run is in progress", ErrBusy)
	}
	return nil
}

// execute runs the pipeline, converting a panic into a failure, and hands the
// outcome to the notifier.
func (s *Scheduler) execute(ctx context.Context, trigger string) (err error) {
	logger := s.logger.With("trigger", trigger)
	logger.Info("job started")

	var run *pipeline.Run
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, r)
				logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		run, err = s.runner.Run(ctx)
	}()

	ok := err == nil
	if ok {
		logger.Info("job finished")
	} else {
		logger.Error("job failed", "error", err)
	}
	if s.notifier != nil {
		sent := s.notifier.Notify(ctx, run, ok)
		logger.Info("notifications dispatched", "ok", ok, "sent", sent)
	}
	return err
}
