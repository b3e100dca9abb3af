package timectrl

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimClock gives components access to simulation time without depending on
// a concrete executor.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the Executor advances time.
type Mode int

const (
	// RealTime fires tasks against the wall clock.
	RealTime Mode = iota
	// Accelerated advances a virtual clock straight to the next due task.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "realtime" (or "real-time", "") and "accelerated".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "realtime", "real-time":
		return RealTime, nil
	case "accelerated", "fast":
		return Accelerated, nil
	default:
		return RealTime, fmt.Errorf("unknown time mode %q", s)
	}
}

var (
	// ErrInvalidPeriod is returned by Every for non-positive periods.
	ErrInvalidPeriod = errors.New("period must be positive")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("executor already started")
)

type task struct {
	name   string
	period time.Duration
	fn     func(time.Time)
	next   time.Time
	seq    int
}

// Executor runs periodic tasks one at a time on a single goroutine. A task
// never overlaps another task or itself. When two tasks are due at the same
// instant they fire in registration order.
type Executor struct {
	mode Mode

	mu      sync.Mutex
	now     time.Time
	tasks   map[string]*task
	seq     int
	started bool
	halted  bool

	wake chan struct{}
	done chan struct{}

	// wall is the time source in RealTime mode.
	wall func() time.Time
}

// NewExecutor builds an executor whose clock starts at start.
func NewExecutor(start time.Time, mode Mode) *Executor {
	e := &Executor{
		mode:  mode,
		now:   start,
		tasks: make(map[string]*task),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		wall:  time.Now,
	}
	if mode == RealTime {
		e.now = e.wall()
	}
	return e
}

// Mode reports the executor's mode.
func (e *Executor) Mode() Mode { return e.mode }

// Now returns the executor's current time: the virtual clock in
// Accelerated mode, the wall clock in RealTime mode.
func (e *Executor) Now() time.Time {
	if e.mode == RealTime {
		return e.wall()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Every registers fn to run every period, first one period from now.
// Registering an existing name replaces that task and restarts its period.
func (e *Executor) Every(name string, period time.Duration, fn func(now time.Time)) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s got %v", ErrInvalidPeriod, name, period)
	}
	e.mu.Lock()
	now := e.currentLocked()
	t, ok := e.tasks[name]
	if !ok {
		t = &task{name: name, seq: e.seq}
		e.seq++
		e.tasks[name] = t
	}
	t.period = period
	t.fn = fn
	t.next = now.Add(period)
	e.mu.Unlock()

	e.signal()
	return nil
}

// Cancel removes a task. Unknown names are ignored.
func (e *Executor) Cancel(name string) {
	e.mu.Lock()
	delete(e.tasks, name)
	e.mu.Unlock()
	e.signal()
}

// Start launches the worker goroutine.
func (e *Executor) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	go e.loop()
	return nil
}

// Halt asks the worker to exit after the current task. It never blocks and
// may be called from inside a task.
func (e *Executor) Halt() {
	e.mu.Lock()
	e.halted = true
	e.mu.Unlock()
	e.signal()
}

// Stop halts the executor and waits for the in-progress task to finish.
// It must not be called from inside a task; use Halt there.
func (e *Executor) Stop() {
	e.Halt()
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started {
		<-e.done
	}
}

// Done is closed once the worker goroutine has exited.
func (e *Executor) Done() <-chan struct{} { return e.done }

func (e *Executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) currentLocked() time.Time {
	if e.mode == RealTime {
		return e.wall()
	}
	return e.now
}

// nextLocked returns the earliest due task, ties broken by registration.
func (e *Executor) nextLocked() *task {
	var best *task
	for _, t := range e.tasks {
		if best == nil || t.next.Before(best.next) || (t.next.Equal(best.next) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (e *Executor) loop() {
	defer close(e.done)

	for {
		e.mu.Lock()
		if e.halted {
			e.mu.Unlock()
			return
		}
		t := e.nextLocked()
		if t == nil {
			e.mu.Unlock()
			<-e.wake
			continue
		}

		if e.mode == RealTime {
			if wait := t.next.Sub(e.wall()); wait > 0 {
				e.mu.Unlock()
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-e.wake:
					timer.Stop()
				}
				continue
			}
		}

		fireAt := t.next
		if e.mode == Accelerated {
			e.now = fireAt
		}
		t.next = fireAt.Add(t.period)
		if e.mode == RealTime {
			// Drop missed ticks the way time.Ticker does.
			if now := e.wall(); t.next.Before(now) {
				t.next = now.Add(t.period)
			}
		}
		fn := t.fn
		e.mu.Unlock()

		if fn != nil {
			fn(fireAt)
		}
	}
}
