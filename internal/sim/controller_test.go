package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/wan-balancer-sim/core"
	"github.com/signalsfoundry/wan-balancer-sim/internal/observability"
	"github.com/signalsfoundry/wan-balancer-sim/kb"
	"github.com/signalsfoundry/wan-balancer-sim/model"
	"github.com/signalsfoundry/wan-balancer-sim/timectrl"
)

func intPtr(v int) *int { return &v }

func newTopology(t *testing.T, sites, hosts int, links ...kb.LinkConfig) *kb.Topology {
	t.Helper()
	topo := kb.New()
	if err := topo.Configure(sites, hosts); err != nil {
		t.Fatalf("Configure(%d, %d) error: %v", sites, hosts, err)
	}
	for _, l := range links {
		if _, err := topo.AddLink(l); err != nil {
			t.Fatalf("AddLink(%+v) error: %v", l, err)
		}
	}
	return topo
}

func newController(t *testing.T, topo *kb.Topology, cfg Config, opts ...Option) *Controller {
	t.Helper()
	c, err := NewController(topo, cfg, opts...)
	if err != nil {
		t.Fatalf("NewController error: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

// lifecycleEvents collects every non-frame event.
func lifecycleEvents(c *Controller) <-chan Event {
	ch := make(chan Event, 16)
	c.Subscribe(func(ev Event) {
		if ev.Type == EventFrame {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

func waitForEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestBudgetRunStopsAfterDeliveringEveryPacket(t *testing.T) {
	topo := newTopology(t, 3, 1, kb.LinkConfig{Source: 0, Target: 1})
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector error: %v", err)
	}
	c := newController(t, topo, Config{
		Algorithm:      model.AlgorithmRoundRobin,
		GenerationRate: 1000,
		TotalPackets:   5,
		Mode:           timectrl.Accelerated,
		Seed:           42,
	}, WithMetrics(metrics))
	events := lifecycleEvents(c)

	runID, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if runID == "" {
		t.Fatalf("Start returned empty run id")
	}
	if ev := waitForEvent(t, events, EventStarted); ev.RunID != runID {
		t.Fatalf("Started run id = %q, want %q", ev.RunID, runID)
	}
	stopped := waitForEvent(t, events, EventStopped)
	if stopped.Reason != string(StopBudgetReached) {
		t.Fatalf("Stopped reason = %q, want %q", stopped.Reason, StopBudgetReached)
	}
	if got := c.Status().LastStop; got != StopBudgetReached {
		t.Fatalf("Status().LastStop = %q, want %q", got, StopBudgetReached)
	}

	if st := c.Status(); st.State != StateIdle {
		t.Fatalf("State = %s, want %s", st.State, StateIdle)
	}
	if topo.Frozen() {
		t.Fatalf("topology still frozen after run")
	}

	stats := c.Stats()
	if stats.TotalGenerated != 5 || stats.InFlight != 0 {
		t.Fatalf("generated/in-flight = %d/%d, want 5/0", stats.TotalGenerated, stats.InFlight)
	}
	ls, ok := stats.Link(model.LinkID(1))
	if !ok {
		t.Fatalf("stats missing %s: %+v", model.LinkID(1), stats.Links)
	}
	if ls.TotalDelivered != 5 || ls.ActiveOnLink != 0 || ls.Percentage != 100 {
		t.Fatalf("link stats = %+v, want 5 delivered, 0 active, 100%%", ls)
	}

	frame := c.Frame()
	if frame.State != StateIdle || len(frame.Packets) != 0 || frame.Generated != 5 {
		t.Fatalf("final frame = state %s, %d packets, %d generated", frame.State, len(frame.Packets), frame.Generated)
	}

	if got := testutil.ToFloat64(metrics.PacketsGenerated); got != 5 {
		t.Fatalf("packets generated metric = %v, want 5", got)
	}
	if got := testutil.ToFloat64(metrics.PacketsDelivered); got != 5 {
		t.Fatalf("packets delivered metric = %v, want 5", got)
	}
	if got := testutil.ToFloat64(metrics.RunsStopped.WithLabelValues(string(StopBudgetReached))); got != 1 {
		t.Fatalf("runs stopped metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Running); got != 0 {
		t.Fatalf("run active gauge = %v, want 0", got)
	}
}

func TestWeightedRunMatchesTheoreticalShares(t *testing.T) {
	topo := newTopology(t, 2, 1,
		kb.LinkConfig{Source: 0, Target: 1, Weight: intPtr(1)},
		kb.LinkConfig{Source: 0, Target: 1, Weight: intPtr(4)},
	)
	c := newController(t, topo, Config{
		Algorithm:      model.AlgorithmWeightedRoundRobin,
		GenerationRate: 1000,
		TotalPackets:   500,
		Mode:           timectrl.Accelerated,
		Seed:           7,
	})
	events := lifecycleEvents(c)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitForEvent(t, events, EventStopped)

	stats := c.Stats()
	if stats.TotalGenerated != 500 {
		t.Fatalf("TotalGenerated = %d, want 500", stats.TotalGenerated)
	}
	want := map[string]float64{model.LinkID(1): 20, model.LinkID(2): 80}
	for id, share := range want {
		ls, ok := stats.Link(id)
		if !ok {
			t.Fatalf("stats missing %s", id)
		}
		if math.Abs(ls.Percentage-share) > core.ComplianceMargin {
			t.Fatalf("%s share = %.2f, want within %v of %v", id, ls.Percentage, core.ComplianceMargin, share)
		}
		if ls.Theoretical == nil || math.Abs(*ls.Theoretical-share) > 1e-9 {
			t.Fatalf("%s theoretical = %v, want %v", id, ls.Theoretical, share)
		}
		if ls.Classification != core.Compliant {
			t.Fatalf("%s classification = %s, want %s", id, ls.Classification, core.Compliant)
		}
	}
}

func TestStartRejectsUnusableTopology(t *testing.T) {
	cases := []struct {
		name  string
		sites int
		links []kb.LinkConfig
	}{
		{name: "single site", sites: 1},
		{name: "no links", sites: 3},
		{name: "self loop only", sites: 2, links: []kb.LinkConfig{{Source: 1, Target: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			topo := newTopology(t, tc.sites, 1, tc.links...)
			c := newController(t, topo, Config{GenerationRate: 10, Mode: timectrl.Accelerated})
			events := lifecycleEvents(c)

			_, err := c.Start(context.Background())
			if !errors.Is(err, ErrConfigurationRejected) {
				t.Fatalf("Start error = %v, want ErrConfigurationRejected", err)
			}
			ev := waitForEvent(t, events, EventConfigurationRejected)
			if ev.Reason == "" {
				t.Fatalf("ConfigurationRejected without reason")
			}
			if c.Status().State != StateIdle {
				t.Fatalf("controller left Idle after rejection")
			}
			if topo.Frozen() {
				t.Fatalf("topology frozen after rejection")
			}
		})
	}
}

func TestRunningControllerGuardsTopologyAndAlgorithm(t *testing.T) {
	topo := newTopology(t, 3, 1, kb.LinkConfig{Source: 0, Target: 1})
	c := newController(t, topo, Config{Mode: timectrl.Accelerated})

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Start error = %v, want ErrRunActive", err)
	}
	if _, err := topo.AddLink(kb.LinkConfig{Source: 1, Target: 2}); !errors.Is(err, ErrTopologyFrozen) {
		t.Fatalf("AddLink while running error = %v, want ErrTopologyFrozen", err)
	}
	if err := topo.Configure(4, 1); !errors.Is(err, ErrTopologyFrozen) {
		t.Fatalf("Configure while running error = %v, want ErrTopologyFrozen", err)
	}
	if _, err := topo.UpdateLink(model.LinkID(1), kb.LinkPatch{Weight: intPtr(9)}); err != nil {
		t.Fatalf("weight edit while running error: %v", err)
	}
	if err := c.SetAlgorithm(model.AlgorithmWeightedRoundRobin); !errors.Is(err, ErrRunActive) {
		t.Fatalf("SetAlgorithm while running error = %v, want ErrRunActive", err)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}
	if _, err := topo.AddLink(kb.LinkConfig{Source: 1, Target: 2}); err != nil {
		t.Fatalf("AddLink after Stop error: %v", err)
	}
	if err := c.SetAlgorithm(model.AlgorithmWeightedRoundRobin); err != nil {
		t.Fatalf("SetAlgorithm after Stop error: %v", err)
	}
}

func TestStopFreezesOutput(t *testing.T) {
	topo := newTopology(t, 3, 2, kb.LinkConfig{Source: 0, Target: 1})
	c := newController(t, topo, Config{
		GenerationRate: 200,
		FrameInterval:  2 * time.Millisecond,
		Mode:           timectrl.RealTime,
	})
	events := lifecycleEvents(c)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if ev := waitForEvent(t, events, EventStopped); ev.Reason != string(StopManual) {
		t.Fatalf("Stopped reason = %q, want %q", ev.Reason, StopManual)
	}

	before := c.Frame()
	if before.Generated == 0 {
		t.Fatalf("no packets generated during a 50ms run at 200/s")
	}
	time.Sleep(20 * time.Millisecond)
	after := c.Frame()
	if after.Sequence != before.Sequence || after.Generated != before.Generated {
		t.Fatalf("frame changed after Stop: %d/%d -> %d/%d",
			before.Sequence, before.Generated, after.Sequence, after.Generated)
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after Stop error: %v", err)
	}
}

func TestSetGenerationRateRearmsRunningSource(t *testing.T) {
	topo := newTopology(t, 2, 1, kb.LinkConfig{Source: 0, Target: 1})
	c := newController(t, topo, Config{
		TotalPackets: 3,
		Mode:         timectrl.Accelerated,
	})
	events := lifecycleEvents(c)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if got := c.Status().Generated; got != 0 {
		t.Fatalf("Generated with rate 0 = %d, want 0", got)
	}
	if err := c.SetGenerationRate(500); err != nil {
		t.Fatalf("SetGenerationRate error: %v", err)
	}
	if ev := waitForEvent(t, events, EventStopped); ev.Reason != string(StopBudgetReached) {
		t.Fatalf("Stopped reason = %q, want %q", ev.Reason, StopBudgetReached)
	}
	if got := c.Stats().TotalGenerated; got != 3 {
		t.Fatalf("TotalGenerated = %d, want 3", got)
	}
}

// waitForStatus polls until cond holds for the controller's status.
func waitForStatus(t *testing.T, c *Controller, what string, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		st := c.Status()
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last status %+v", what, st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// slowRun starts a real-time run whose packets crawl, so they are still in
// flight when the budget changes.
func slowRun(t *testing.T, budget int) (*Controller, <-chan Event) {
	t.Helper()
	topo := newTopology(t, 2, 1, kb.LinkConfig{Source: 0, Target: 1})
	c := newController(t, topo, Config{
		GenerationRate: 1000,
		TotalPackets:   budget,
		AnimationSpeed: 1,
		Mode:           timectrl.RealTime,
	})
	events := lifecycleEvents(c)
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	return c, events
}

func TestRaisingBudgetRearmsGeneration(t *testing.T) {
	c, events := slowRun(t, 3)

	waitForStatus(t, c, "first budget spawned", func(st Status) bool { return st.Generated == 3 })
	// Let the generate task notice the budget is used up and disarm itself.
	time.Sleep(50 * time.Millisecond)
	if st := c.Status(); st.State != StateRunning || st.InFlight != 3 {
		t.Fatalf("before raise = %s with %d in flight, want running with 3", st.State, st.InFlight)
	}

	if err := c.SetTotalPackets(6); err != nil {
		t.Fatalf("SetTotalPackets(6) error: %v", err)
	}
	waitForStatus(t, c, "raised budget spawned", func(st Status) bool { return st.Generated == 6 })

	if err := c.SetAnimationSpeed(100000); err != nil {
		t.Fatalf("SetAnimationSpeed error: %v", err)
	}
	if ev := waitForEvent(t, events, EventStopped); ev.Reason != string(StopBudgetReached) {
		t.Fatalf("Stopped reason = %q, want %q", ev.Reason, StopBudgetReached)
	}
	if got := c.Stats().TotalGenerated; got != 6 {
		t.Fatalf("TotalGenerated = %d, want 6", got)
	}
}

func TestLoweringBudgetStopsGenerationAndDrains(t *testing.T) {
	c, events := slowRun(t, 100)

	waitForStatus(t, c, "a few packets spawned", func(st Status) bool { return st.Generated >= 5 })
	if err := c.SetTotalPackets(2); err != nil {
		t.Fatalf("SetTotalPackets(2) error: %v", err)
	}
	spawned := c.Status().Generated
	time.Sleep(50 * time.Millisecond)
	st := c.Status()
	if st.Generated != spawned {
		t.Fatalf("Generated after lowering budget = %d, want it to stay at %d", st.Generated, spawned)
	}
	if st.State != StateRunning {
		t.Fatalf("state with packets in flight = %s, want running", st.State)
	}

	if err := c.SetAnimationSpeed(100000); err != nil {
		t.Fatalf("SetAnimationSpeed error: %v", err)
	}
	if ev := waitForEvent(t, events, EventStopped); ev.Reason != string(StopBudgetReached) {
		t.Fatalf("Stopped reason = %q, want %q", ev.Reason, StopBudgetReached)
	}
	stats := c.Stats()
	if stats.TotalGenerated != spawned || stats.InFlight != 0 {
		t.Fatalf("generated/in-flight = %d/%d, want %d/0", stats.TotalGenerated, stats.InFlight, spawned)
	}
}

func TestSettingValidation(t *testing.T) {
	c := newController(t, kb.New(), Config{})
	if err := c.SetGenerationRate(-1); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("SetGenerationRate(-1) error = %v, want ErrInvalidSetting", err)
	}
	if err := c.SetAnimationSpeed(0); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("SetAnimationSpeed(0) error = %v, want ErrInvalidSetting", err)
	}
	if err := c.SetTotalPackets(-5); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("SetTotalPackets(-5) error = %v, want ErrInvalidSetting", err)
	}
	if err := c.SetAlgorithm("random"); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("SetAlgorithm(random) error = %v, want ErrInvalidSetting", err)
	}
	if _, err := NewController(kb.New(), Config{Algorithm: "random"}); !errors.Is(err, ErrInvalidSetting) {
		t.Fatalf("NewController with bad algorithm error = %v, want ErrInvalidSetting", err)
	}

	cfg := c.Config()
	if cfg.AnimationSpeed != DefaultAnimationSpeed || cfg.FrameInterval != DefaultFrameInterval {
		t.Fatalf("defaults = %v/%v, want %v/%v", cfg.AnimationSpeed, cfg.FrameInterval, DefaultAnimationSpeed, DefaultFrameInterval)
	}
	if cfg.Algorithm != model.AlgorithmRoundRobin {
		t.Fatalf("default algorithm = %s, want %s", cfg.Algorithm, model.AlgorithmRoundRobin)
	}
}

func TestIdleStatsFollowTopology(t *testing.T) {
	topo := newTopology(t, 3, 1, kb.LinkConfig{Source: 0, Target: 1})
	c := newController(t, topo, Config{})

	if got := len(c.Stats().Links); got != 1 {
		t.Fatalf("idle stats links = %d, want 1", got)
	}
	if _, err := topo.AddLink(kb.LinkConfig{Source: 1, Target: 2}); err != nil {
		t.Fatalf("AddLink error: %v", err)
	}
	if got := len(c.Stats().Links); got != 2 {
		t.Fatalf("idle stats links after AddLink = %d, want 2", got)
	}
	if got := len(c.Frame().Links); got != 2 {
		t.Fatalf("idle frame links = %d, want 2", got)
	}
}
