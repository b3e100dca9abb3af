package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/wan-balancer-sim/core"
	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/kb"
	"github.com/signalsfoundry/wan-balancer-sim/model"
	"github.com/signalsfoundry/wan-balancer-sim/timectrl"
)

// Re-export topology sentinels so callers can depend on sim.* alone.
var (
	ErrTopologyFrozen  = kb.ErrTopologyFrozen
	ErrInvalidTopology = kb.ErrInvalidTopology
	ErrInvalidLink     = kb.ErrInvalidLink
	ErrLinkNotFound    = kb.ErrLinkNotFound
)

var (
	// ErrConfigurationRejected is returned by Start when the topology or the
	// run settings cannot support a run. The run stays Idle.
	ErrConfigurationRejected = errors.New("configuration rejected")
	// ErrRunActive is returned by operations that need the controller Idle.
	ErrRunActive = errors.New("simulation is running")
	// ErrInvalidSetting indicates an out-of-range run setting.
	ErrInvalidSetting = errors.New("invalid setting")
)

const (
	DefaultAnimationSpeed = 50.0
	DefaultFrameInterval  = 16 * time.Millisecond
	// speedDivisor turns the animation-speed setting into packet speed.
	speedDivisor = 1000.0

	taskGenerate = "generate"
	taskFrame    = "frame"
)

// State is the controller's run state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// StopReason says why a run ended.
type StopReason string

const (
	StopManual        StopReason = "manual"
	StopBudgetReached StopReason = "budget-reached"
)

// Config holds run settings. Zero values fall back to defaults where noted.
type Config struct {
	Algorithm model.Algorithm
	// GenerationRate is packets per second; 0 disables automatic generation.
	GenerationRate float64
	// TotalPackets is the packet budget; 0 means unlimited.
	TotalPackets int
	// AnimationSpeed is the speed setting, where packet speed is
	// AnimationSpeed/1000 and each frame adds speed*5 progress points.
	// Defaults to 50.
	AnimationSpeed float64
	// FrameInterval is the advancement period. Defaults to 16ms.
	FrameInterval time.Duration
	Mode          timectrl.Mode
	// Seed makes packet placement reproducible; 0 picks a random seed.
	Seed uint64
}

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = model.AlgorithmRoundRobin
	}
	if c.AnimationSpeed <= 0 {
		c.AnimationSpeed = DefaultAnimationSpeed
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	return c
}

func (c Config) validate() error {
	switch c.Algorithm {
	case model.AlgorithmRoundRobin, model.AlgorithmWeightedRoundRobin:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidSetting, c.Algorithm)
	}
	if c.GenerationRate < 0 {
		return fmt.Errorf("%w: generation rate must be >= 0, got %v", ErrInvalidSetting, c.GenerationRate)
	}
	if c.TotalPackets < 0 {
		return fmt.Errorf("%w: total packets must be >= 0, got %d", ErrInvalidSetting, c.TotalPackets)
	}
	return nil
}

// MetricsRecorder receives run metrics. observability.SimCollector
// satisfies it.
type MetricsRecorder interface {
	RunStarted()
	RunStopped(reason string)
	PacketGenerated()
	PacketDelivered()
	PacketDropped(reason string)
	SpawnFailed(reason string)
	SetInFlight(n int)
	SetLinkCounters(linkID string, active, sent int)
	ObserveTick(d time.Duration)
}

// Frame is the output snapshot produced by every advancement tick.
type Frame struct {
	RunID     string          `json:"run_id,omitempty"`
	Sequence  uint64          `json:"sequence"`
	SimTime   time.Time       `json:"sim_time"`
	State     State           `json:"state"`
	Generated int             `json:"generated"`
	InFlight  int             `json:"in_flight"`
	Packets   []core.Packet   `json:"packets"`
	Links     []model.WanLink `json:"links"`
}

// Status summarises the controller.
type Status struct {
	State     State   `json:"state"`
	RunID     string  `json:"run_id,omitempty"`
	Generated int     `json:"generated"`
	InFlight  int     `json:"in_flight"`
	Config    Config  `json:"-"`
	Algorithm string  `json:"algorithm"`
	Rate      float64 `json:"generation_rate"`
	Budget    int     `json:"total_packets"`
	Speed     float64 `json:"animation_speed"`

	// LastStop is why the most recent run ended; empty before the first.
	LastStop StopReason `json:"last_stop_reason,omitempty"`
}

// runContext owns everything that lives for exactly one run.
type runContext struct {
	id        string
	cfg       Config
	engine    *core.Engine
	scheduler *core.LinkScheduler
	exec      *timectrl.Executor
	frameSeq  uint64
	done      chan struct{}
}

// Controller owns the run lifecycle. Every generation and advancement tick
// runs to completion under mu, and mu is always taken before the topology
// lock.
type Controller struct {
	mu sync.Mutex

	topo    *kb.Topology
	cfg     Config
	log     logging.Logger
	metrics MetricsRecorder

	state State
	run   *runContext

	lastFrame     Frame
	lastStats     core.Stats
	lastAlgorithm model.Algorithm
	lastStop      StopReason

	subMu  sync.Mutex
	subs   map[int]func(Event)
	subSeq int
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewController builds an Idle controller over topo.
func NewController(topo *kb.Topology, cfg Config, opts ...Option) (*Controller, error) {
	if topo == nil {
		return nil, fmt.Errorf("NewController: topology is nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		topo:          topo,
		cfg:           cfg,
		log:           logging.Noop(),
		metrics:       noopMetrics{},
		state:         StateIdle,
		lastAlgorithm: cfg.Algorithm,
		subs:          make(map[int]func(Event)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = c.log.With(logging.String("component", "sim"))
	return c, nil
}

// Topology exposes the underlying store for read-only consumers.
func (c *Controller) Topology() *kb.Topology { return c.topo }

// Start begins a run. It fails with ErrConfigurationRejected when fewer than
// two sites or no eligible link exist, and with ErrRunActive when a run is
// already in progress.
func (c *Controller) Start(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return "", ErrRunActive
	}

	c.topo.Freeze()
	if reason := c.checkStartable(); reason != "" {
		c.topo.Thaw()
		c.mu.Unlock()
		c.log.Warn(ctx, "start rejected", logging.String("reason", reason))
		c.emit(Event{Type: EventConfigurationRejected, Reason: reason})
		return "", fmt.Errorf("%w: %s", ErrConfigurationRejected, reason)
	}

	cfg := c.cfg
	rc := &runContext{
		id:        uuid.NewString(),
		cfg:       cfg,
		scheduler: core.NewLinkScheduler(),
		exec:      timectrl.NewExecutor(time.Now(), cfg.Mode),
		done:      make(chan struct{}),
	}
	engineOpts := []core.EngineOption{core.WithObserver(engineObserver{metrics: c.metrics})}
	if cfg.Seed != 0 {
		engineOpts = append(engineOpts, core.WithSeed(cfg.Seed))
	}
	rc.engine = core.NewEngine(engineOpts...)

	c.metrics.RunStarted()
	speed := cfg.AnimationSpeed / speedDivisor
	c.topo.Mutate(func(sites []*model.Site, links []*model.WanLink) {
		for _, l := range links {
			l.ResetCounters()
		}
		rc.scheduler.Prepare(links, len(sites), cfg.Algorithm)
		if cfg.GenerationRate > 0 && c.underBudget(rc) {
			rc.engine.Spawn(sites, rc.scheduler, speed)
		}
	})

	c.run = rc
	c.state = StateRunning
	c.lastAlgorithm = cfg.Algorithm
	c.lastFrame = c.captureFrameLocked(rc, rc.exec.Now())
	c.lastStats = c.aggregateLocked(rc)

	if cfg.GenerationRate > 0 {
		_ = rc.exec.Every(taskGenerate, ratePeriod(cfg.GenerationRate), c.generateTick(rc))
	}
	_ = rc.exec.Every(taskFrame, cfg.FrameInterval, c.frameTick(rc))
	_ = rc.exec.Start()
	c.mu.Unlock()

	c.log.Info(ctx, "simulation started",
		logging.String("run_id", rc.id),
		logging.String("algorithm", cfg.Algorithm.String()),
		logging.Float64("generation_rate", cfg.GenerationRate),
		logging.Int("total_packets", cfg.TotalPackets),
		logging.String("mode", cfg.Mode.String()),
		logging.Int("eligible_links", rc.scheduler.Eligible()),
	)
	c.emit(Event{Type: EventStarted, RunID: rc.id})
	return rc.id, nil
}

func (c *Controller) checkStartable() string {
	if n := c.topo.NumSites(); n < 2 {
		return fmt.Sprintf("at least 2 sites are required, have %d", n)
	}
	if c.topo.EligibleLinkCount() == 0 {
		return "at least 1 WAN link between two different existing sites is required"
	}
	return ""
}

// Stop ends the current run. Calling it while Idle is a no-op. Once Stop
// returns no tick of the stopped run will mutate state again.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	rc := c.run
	if rc == nil {
		c.mu.Unlock()
		return nil
	}
	c.finishLocked(rc, StopManual)
	c.mu.Unlock()

	rc.exec.Stop()
	c.announceStop(ctx, rc, StopManual)
	return nil
}

// finishLocked moves the controller to Idle and takes the final snapshot.
func (c *Controller) finishLocked(rc *runContext, reason StopReason) {
	c.lastFrame = c.captureFrameLocked(rc, rc.exec.Now())
	c.lastFrame.State = StateIdle
	c.lastStats = c.aggregateLocked(rc)
	c.lastStop = reason
	c.run = nil
	c.state = StateIdle
	c.topo.Thaw()
	c.metrics.RunStopped(string(reason))
	close(rc.done)
}

func (c *Controller) announceStop(ctx context.Context, rc *runContext, reason StopReason) {
	c.log.Info(ctx, "simulation stopped",
		logging.String("run_id", rc.id),
		logging.String("reason", string(reason)),
		logging.Int("generated", rc.engine.Spawned()),
	)
	c.emit(Event{Type: EventStopped, RunID: rc.id, Reason: string(reason)})
}

// Wait blocks until the current run ends or ctx is done. It returns nil at
// once when no run is active.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	rc := c.run
	c.mu.Unlock()
	if rc == nil {
		return nil
	}
	select {
	case <-rc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) generateTick(rc *runContext) func(time.Time) {
	return func(time.Time) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.run != rc {
			return
		}
		if !c.underBudget(rc) {
			rc.exec.Cancel(taskGenerate)
			return
		}
		speed := rc.cfg.AnimationSpeed / speedDivisor
		c.topo.Mutate(func(sites []*model.Site, _ []*model.WanLink) {
			rc.engine.Spawn(sites, rc.scheduler, speed)
		})
	}
}

func (c *Controller) frameTick(rc *runContext) func(time.Time) {
	return func(now time.Time) {
		c.mu.Lock()
		if c.run != rc {
			c.mu.Unlock()
			return
		}
		began := time.Now()
		c.topo.Mutate(func(sites []*model.Site, _ []*model.WanLink) {
			rc.engine.Step(sites)
		})
		rc.frameSeq++
		frame := c.captureFrameLocked(rc, now)
		c.lastFrame = frame
		c.lastStats = c.aggregateLocked(rc)
		c.publishMetricsLocked(rc, frame)
		c.metrics.ObserveTick(time.Since(began))

		budget := rc.cfg.TotalPackets
		finished := budget > 0 && rc.engine.Spawned() >= budget && rc.engine.InFlight() == 0
		if finished {
			c.finishLocked(rc, StopBudgetReached)
			rc.exec.Halt()
		}
		c.mu.Unlock()

		c.emit(Event{Type: EventFrame, RunID: rc.id, Frame: &frame})
		if finished {
			c.announceStop(context.Background(), rc, StopBudgetReached)
		}
	}
}

func (c *Controller) underBudget(rc *runContext) bool {
	return rc.cfg.TotalPackets == 0 || rc.engine.Spawned() < rc.cfg.TotalPackets
}

func (c *Controller) captureFrameLocked(rc *runContext, now time.Time) Frame {
	return Frame{
		RunID:     rc.id,
		Sequence:  rc.frameSeq,
		SimTime:   now,
		State:     StateRunning,
		Generated: rc.engine.Spawned(),
		InFlight:  rc.engine.InFlight(),
		Packets:   rc.engine.Packets(),
		Links:     c.topo.Links(),
	}
}

func (c *Controller) aggregateLocked(rc *runContext) core.Stats {
	return core.Aggregate(core.StatsInput{
		Links:          c.topo.Links(),
		NumSites:       c.topo.NumSites(),
		Algorithm:      rc.cfg.Algorithm,
		TotalGenerated: rc.engine.Spawned(),
		InFlight:       rc.engine.InFlight(),
	})
}

func (c *Controller) publishMetricsLocked(rc *runContext, f Frame) {
	c.metrics.SetInFlight(f.InFlight)
	for _, l := range f.Links {
		c.metrics.SetLinkCounters(l.ID, l.ActiveOnLink, l.TotalDelivered)
	}
}

// SetGenerationRate changes the generation rate. While running the
// generation task is re-armed with the new period; 0 disarms it.
func (c *Controller) SetGenerationRate(rate float64) error {
	if rate < 0 {
		return fmt.Errorf("%w: generation rate must be >= 0, got %v", ErrInvalidSetting, rate)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.GenerationRate = rate
	rc := c.run
	if rc == nil {
		return nil
	}
	rc.cfg.GenerationRate = rate
	if rate == 0 || !c.underBudget(rc) {
		rc.exec.Cancel(taskGenerate)
		return nil
	}
	return rc.exec.Every(taskGenerate, ratePeriod(rate), c.generateTick(rc))
}

// SetAnimationSpeed changes the speed setting and applies it to every
// in-flight packet.
func (c *Controller) SetAnimationSpeed(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("%w: animation speed must be > 0, got %v", ErrInvalidSetting, speed)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.AnimationSpeed = speed
	if rc := c.run; rc != nil {
		rc.cfg.AnimationSpeed = speed
		rc.engine.SetSpeed(speed / speedDivisor)
	}
	return nil
}

// SetTotalPackets changes the packet budget. While running, a budget with
// room left re-arms generation and an exhausted one disarms it; the run
// then ends once the in-flight packets drain.
func (c *Controller) SetTotalPackets(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: total packets must be >= 0, got %d", ErrInvalidSetting, n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.TotalPackets = n
	rc := c.run
	if rc == nil {
		return nil
	}
	rc.cfg.TotalPackets = n
	if rc.cfg.GenerationRate == 0 || !c.underBudget(rc) {
		rc.exec.Cancel(taskGenerate)
		return nil
	}
	return rc.exec.Every(taskGenerate, ratePeriod(rc.cfg.GenerationRate), c.generateTick(rc))
}

// SetAlgorithm selects the scheduling algorithm for the next run.
func (c *Controller) SetAlgorithm(a model.Algorithm) error {
	switch a {
	case model.AlgorithmRoundRobin, model.AlgorithmWeightedRoundRobin:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidSetting, a)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return ErrRunActive
	}
	c.cfg.Algorithm = a
	return nil
}

// Config returns the settings the next run will use.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Status reports the current state and counters.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:     c.state,
		Config:    c.cfg,
		Algorithm: c.cfg.Algorithm.String(),
		Rate:      c.cfg.GenerationRate,
		Budget:    c.cfg.TotalPackets,
		Speed:     c.cfg.AnimationSpeed,
		Generated: c.lastFrame.Generated,
		InFlight:  c.lastFrame.InFlight,
		LastStop:  c.lastStop,
	}
	if rc := c.run; rc != nil {
		st.RunID = rc.id
		st.Generated = rc.engine.Spawned()
		st.InFlight = rc.engine.InFlight()
	}
	return st
}

// Frame returns the latest output snapshot. While Idle the links reflect
// the current topology.
func (c *Controller) Frame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.lastFrame
	if c.run == nil {
		f.State = StateIdle
		f.Links = c.topo.Links()
	}
	return f
}

// Stats returns the latest statistics. While Idle they are recomputed from
// the current link counters so topology edits show up immediately.
func (c *Controller) Stats() core.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return c.lastStats
	}
	return core.Aggregate(core.StatsInput{
		Links:          c.topo.Links(),
		NumSites:       c.topo.NumSites(),
		Algorithm:      c.lastAlgorithm,
		TotalGenerated: c.lastFrame.Generated,
		InFlight:       c.lastFrame.InFlight,
	})
}

func ratePeriod(rate float64) time.Duration {
	p := time.Duration(float64(time.Second) / rate)
	if p <= 0 {
		p = time.Nanosecond
	}
	return p
}

type engineObserver struct {
	metrics MetricsRecorder
}

func (o engineObserver) PacketSpawned(*core.Packet) { o.metrics.PacketGenerated() }

func (o engineObserver) SpawnFailed(reason core.SpawnFailure) {
	o.metrics.SpawnFailed(string(reason))
}

func (o engineObserver) StageChanged(*core.Packet, core.Stage, core.Stage) {}

func (o engineObserver) PacketDelivered(*core.Packet) { o.metrics.PacketDelivered() }

func (o engineObserver) PacketDropped(_ *core.Packet, reason core.DropReason) {
	o.metrics.PacketDropped(string(reason))
}

type noopMetrics struct{}

func (noopMetrics) RunStarted()                      {}
func (noopMetrics) RunStopped(string)                {}
func (noopMetrics) PacketGenerated()                 {}
func (noopMetrics) PacketDelivered()                 {}
func (noopMetrics) PacketDropped(string)             {}
func (noopMetrics) SpawnFailed(string)               {}
func (noopMetrics) SetInFlight(int)                  {}
func (noopMetrics) SetLinkCounters(string, int, int) {}
func (noopMetrics) ObserveTick(time.Duration)        {}
