package timectrl

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestAcceleratedOrdersByTimeThenRegistration(t *testing.T) {
	ex := NewExecutor(epoch, Accelerated)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(time.Time) {
		return func(now time.Time) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name+"@"+now.Sub(epoch).String())
			if len(order) == 6 {
				ex.Halt()
			}
		}
	}
	if err := ex.Every("slow", 20*time.Millisecond, record("slow")); err != nil {
		t.Fatalf("Every error: %v", err)
	}
	if err := ex.Every("fast", 10*time.Millisecond, record("fast")); err != nil {
		t.Fatalf("Every error: %v", err)
	}
	if err := ex.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	<-ex.Done()

	want := []string{"fast@10ms", "slow@20ms", "fast@20ms", "fast@30ms", "slow@40ms", "fast@40ms"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if got := ex.Now(); !got.Equal(epoch.Add(40 * time.Millisecond)) {
		t.Fatalf("Now() = %v, want epoch+40ms", got)
	}
}

func TestEveryRejectsNonPositivePeriod(t *testing.T) {
	ex := NewExecutor(epoch, Accelerated)
	if err := ex.Every("bad", 0, func(time.Time) {}); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("Every(0) err = %v, want ErrInvalidPeriod", err)
	}
}

func TestStartTwice(t *testing.T) {
	ex := NewExecutor(epoch, Accelerated)
	if err := ex.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer ex.Stop()
	if err := ex.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestRescheduleReplacesTask(t *testing.T) {
	ex := NewExecutor(epoch, Accelerated)

	var fired []time.Duration
	_ = ex.Every("gen", 100*time.Millisecond, func(now time.Time) {
		fired = append(fired, now.Sub(epoch))
	})
	_ = ex.Every("frame", 10*time.Millisecond, func(now time.Time) {
		if now.Equal(epoch.Add(50 * time.Millisecond)) {
			_ = ex.Every("gen", 5*time.Millisecond, func(now time.Time) {
				fired = append(fired, now.Sub(epoch))
				if len(fired) == 2 {
					ex.Halt()
				}
			})
		}
	})
	_ = ex.Start()
	<-ex.Done()

	want := []time.Duration{55 * time.Millisecond, 60 * time.Millisecond}
	if len(fired) != 2 || fired[0] != want[0] || fired[1] != want[1] {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
}

func TestCancelStopsTask(t *testing.T) {
	ex := NewExecutor(epoch, Accelerated)
	calls := 0
	_ = ex.Every("gen", time.Millisecond, func(time.Time) { calls++ })
	_ = ex.Every("frame", 3*time.Millisecond, func(now time.Time) {
		if now.Equal(epoch.Add(3 * time.Millisecond)) {
			ex.Cancel("gen")
		}
		if now.Equal(epoch.Add(30 * time.Millisecond)) {
			ex.Halt()
		}
	})
	_ = ex.Start()
	<-ex.Done()

	if calls != 3 {
		t.Fatalf("gen ran %d times, want 3", calls)
	}
}

func TestRealTimeStopWaitsForTask(t *testing.T) {
	ex := NewExecutor(epoch, RealTime)

	started := make(chan struct{})
	var (
		mu       sync.Mutex
		finished bool
	)
	var once sync.Once
	_ = ex.Every("tick", time.Millisecond, func(time.Time) {
		once.Do(func() { close(started) })
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
	})
	_ = ex.Start()
	<-started
	ex.Stop()

	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Fatalf("Stop returned before the running task finished")
	}
	select {
	case <-ex.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestStopWithoutStart(t *testing.T) {
	ex := NewExecutor(epoch, RealTime)
	ex.Stop()
	ex.Stop()
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("accelerated"); err != nil || m != Accelerated {
		t.Fatalf("ParseMode(accelerated) = %v, %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != RealTime {
		t.Fatalf("ParseMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseMode("warp"); err == nil {
		t.Fatalf("ParseMode(warp) succeeded")
	}
}
