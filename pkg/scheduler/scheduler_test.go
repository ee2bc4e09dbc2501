package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geniass/searchwatch/pkg/pipeline"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fakeRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
	err     error
	panics  bool
}

func (r *fakeRunner) Run(ctx context.Context) (*pipeline.Run, error) {
	r.calls.Add(1)
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	if r.panics {
		panic("boom")
	}
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Run{ID: "run"}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	results []bool
}

func (n *fakeNotifier) Notify(ctx context.Context, run *pipeline.Run, ok bool) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, ok)
	return 1
}

func (n *fakeNotifier) Results() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.results...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestScheduler(r Runner, n Notifier, clock *fakeClock) *Scheduler {
	return New(r, n, Config{PollInterval: time.Millisecond, Now: clock.Now}, nil)
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in       string
		expected time.Duration
		err      bool
	}{
		{"07:00", 7 * time.Hour, false},
		{"23:59:30", 23*time.Hour + 59*time.Minute + 30*time.Second, false},
		{"00:00", 0, false},
		{"24:00", 0, true},
		{"7am", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.err {
			if !errors.Is(err, ErrInvalidTime) {
				t.Errorf("%q: expected ErrInvalidTime, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.expected {
			t.Errorf("%q: got %v, %v expected %v", tt.in, got, err, tt.expected)
		}
	}
}

func TestNextTrigger(t *testing.T) {
	at := 7 * time.Hour
	before := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	exact := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	after := time.Date(2024, 3, 31, 8, 0, 0, 0, time.UTC)

	if got := nextTrigger(before, at); !got.Equal(exact) {
		t.Errorf("got %v expected %v", got, exact)
	}
	if got := nextTrigger(exact, at); !got.Equal(exact.AddDate(0, 0, 1)) {
		t.Errorf("trigger must be strictly in the future, got %v", got)
	}
	if got, expected := nextTrigger(after, at), time.Date(2024, 4, 1, 7, 0, 0, 0, time.UTC); !got.Equal(expected) {
		t.Errorf("got %v expected %v", got, expected)
	}
}

func TestDailyTriggerFiresOncePerDay(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 6, 59, 59, 0, time.UTC)}
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	s := newTestScheduler(runner, notifier, clock)

	if err := s.Start("07:00"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return s.State() == Running })
	time.Sleep(10 * time.Millisecond)
	if runner.calls.Load() != 0 {
		t.Fatal("run fired before its time")
	}

	clock.Set(time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC))
	eventually(t, func() bool { return len(notifier.Results()) == 1 })
	time.Sleep(10 * time.Millisecond)
	if n := runner.calls.Load(); n != 1 {
		t.Fatalf("expected a single run for the day, got %d", n)
	}
	expected := time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC)
	eventually(t, func() bool { return s.Next().Equal(expected) })

	clock.Set(time.Date(2024, 3, 2, 7, 0, 1, 0, time.UTC))
	eventually(t, func() bool { return len(notifier.Results()) == 2 })

	s.Stop()
	s.Wait()
	if s.State() != Stopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
	if got := notifier.Results(); !got[0] || !got[1] {
		t.Errorf("unexpected outcomes %v", got)
	}
}

func TestStartTwiceFails(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)}
	s := newTestScheduler(&fakeRunner{}, nil, clock)

	if err := s.Start("bogus"); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("expected ErrInvalidTime, got %v", err)
	}
	if s.State() != Stopped {
		t.Fatal("invalid start must not change state")
	}
	if err := s.Start("07:00"); err != nil {
		t.Fatal(err)
	}
	if err := s.Start("08:00"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	s.Stop()
	s.Wait()

	if err := s.Start("08:00"); err != nil {
		t.Errorf("restart after stop failed: %v", err)
	}
	s.Stop()
	s.Wait()
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, nil, &fakeClock{t: time.Now()})
	if st := s.Stop(); st != Stopped {
		t.Errorf("got %s expected stopped", st)
	}
	if st := s.Stop(); st != Stopped {
		t.Errorf("got %s expected stopped", st)
	}
	s.Wait()

	if err := s.Start("07:00"); err != nil {
		t.Fatal(err)
	}
	if st := s.Stop(); st == Stopped {
		t.Error("loop cannot have exited before the stop request")
	}
	s.Stop()
	s.Wait()
	if st := s.Stop(); st != Stopped {
		t.Errorf("got %s expected stopped", st)
	}
}

func TestRunNowRejectedWhileScheduled(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)}
	runner := &fakeRunner{}
	s := newTestScheduler(runner, nil, clock)
	if err := s.Start("07:00"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return s.State() == Running })

	if err := s.RunNow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if err := s.TryRun(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if s.State() != Running {
		t.Errorf("rejected run changed state to %s", s.State())
	}
	if runner.calls.Load() != 0 {
		t.Error("rejected run must not execute")
	}
	s.Stop()
	s.Wait()
}

func TestRunNowRejectedWhileExecuting(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	notifier := &fakeNotifier{}
	s := newTestScheduler(runner, notifier, &fakeClock{t: time.Now()})

	if err := s.TryRun(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-runner.started
	if !s.Executing() {
		t.Error("expected executing")
	}
	if err := s.RunNow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	close(runner.block)
	s.Wait()
	if s.Executing() {
		t.Error("executing flag not cleared")
	}
	if runner.calls.Load() != 1 {
		t.Errorf("expected 1 run, got %d", runner.calls.Load())
	}
	if err := s.RunNow(context.Background()); err != nil {
		t.Errorf("run after completion failed: %v", err)
	}
	if got := notifier.Results(); len(got) != 2 {
		t.Errorf("expected one notification per run, got %v", got)
	}
}

func TestRunFailureAndPanicNotifyOnce(t *testing.T) {
	runErr := errors.New("searches file missing")
	notifier := &fakeNotifier{}

	s := newTestScheduler(&fakeRunner{err: runErr}, notifier, &fakeClock{t: time.Now()})
	if err := s.RunNow(context.Background()); !errors.Is(err, runErr) {
		t.Errorf("expected run error, got %v", err)
	}

	s = newTestScheduler(&fakeRunner{panics: true}, notifier, &fakeClock{t: time.Now()})
	if err := s.RunNow(context.Background()); !errors.Is(err, ErrPanic) {
		t.Errorf("expected ErrPanic, got %v", err)
	}
	if s.Executing() {
		t.Error("executing flag not cleared after panic")
	}

	got := notifier.Results()
	if len(got) != 2 || got[0] || got[1] {
		t.Errorf("expected two failure notifications, got %v", got)
	}
}

func TestDueTriggerSkippedWhileExecuting(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 6, 59, 59, 0, time.UTC)}
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	notifier := &fakeNotifier{}
	s := newTestScheduler(runner, notifier, clock)

	if err := s.TryRun(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-runner.started
	if err := s.Start("07:00"); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return s.State() == Running })

	clock.Set(time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC))
	expected := time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC)
	eventually(t, func() bool { return s.Next().Equal(expected) })
	if n := runner.calls.Load(); n != 1 {
		t.Errorf("the due trigger must be skipped while a run executes, got %d runs", n)
	}

	close(runner.block)
	s.Stop()
	s.Wait()
	if n := runner.calls.Load(); n != 1 {
		t.Errorf("skipped trigger must not be queued, got %d runs", n)
	}
	if got := notifier.Results(); len(got) != 1 {
		t.Errorf("expected one notification, got %v", got)
	}
}

func TestStopDoesNotInterruptScheduledRun(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 6, 59, 59, 0, time.UTC)}
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	notifier := &fakeNotifier{}
	s := newTestScheduler(runner, notifier, clock)

	if err := s.Start("07:00"); err != nil {
		t.Fatal(err)
	}
	clock.Set(time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC))
	<-runner.started

	if st := s.Stop(); st != Running {
		t.Errorf("got %s expected running", st)
	}
	time.Sleep(10 * time.Millisecond)
	if st := s.State(); st != Running {
		t.Errorf("loop exited during a run, state %s", st)
	}
	if got := notifier.Results(); len(got) != 0 {
		t.Errorf("notified before the run finished: %v", got)
	}

	close(runner.block)
	s.Wait()
	if st := s.State(); st != Stopped {
		t.Errorf("got %s expected stopped", st)
	}
	if got := notifier.Results(); len(got) != 1 || !got[0] {
		t.Errorf("expected one success notification, got %v", got)
	}
	if n := runner.calls.Load(); n != 1 {
		t.Errorf("expected 1 run, got %d", n)
	}
}

func TestCloseRejectsRunsAndWaits(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := newTestScheduler(runner, nil, &fakeClock{t: time.Now()})

	if err := s.TryRun(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-runner.started

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	eventually(t, func() bool { return errors.Is(s.TryRun(context.Background()), ErrClosed) })

	select {
	case <-closed:
		t.Fatal("Close returned while a run was executing")
	case <-time.After(10 * time.Millisecond):
	}

	close(runner.block)
	<-closed
	if err := s.RunNow(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Start("07:00"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if n := runner.calls.Load(); n != 1 {
		t.Errorf("expected 1 run, got %d", n)
	}
}
