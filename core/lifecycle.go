package core

import (
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/wan-balancer-sim/model"
)

// SpeedScale converts a packet's speed into progress points per Step.
const SpeedScale = 5.0

// Stage is the leg of the journey a packet is currently on.
type Stage int

const (
	StageToSourceCPE Stage = iota
	StageOnLink
	StageToTargetHost
)

func (s Stage) String() string {
	switch s {
	case StageToSourceCPE:
		return "to-source-cpe"
	case StageOnLink:
		return "on-link"
	case StageToTargetHost:
		return "to-target-host"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// SpawnFailure explains why Spawn produced no packet.
type SpawnFailure string

const (
	SpawnTooFewSites           SpawnFailure = "too-few-sites"
	SpawnNoSourceHost          SpawnFailure = "no-source-host"
	SpawnNoLink                SpawnFailure = "no-link"
	SpawnDegenerateDestination SpawnFailure = "degenerate-destination"
)

// DropReason explains why a packet left the engine without being delivered.
type DropReason string

const (
	DropNoDestinationHost DropReason = "no-destination-host"
	DropMissingReference  DropReason = "missing-reference"
)

// Packet is a single in-flight unit of traffic.
type Packet struct {
	ID           string      `json:"id"`
	SourceHostID string      `json:"source_host_id"`
	SourceSite   int         `json:"source_site"`
	OriginCPE    string      `json:"origin_cpe"`
	TerminalCPE  string      `json:"terminal_cpe"`
	TerminalSite int         `json:"terminal_site"`
	LinkID       string      `json:"link_id"`
	Color        string      `json:"color"`
	Stage        Stage       `json:"stage"`
	Progress     float64     `json:"progress"`
	Speed        float64     `json:"speed"`
	Position     model.Point `json:"position"`
	FinalHostID  string      `json:"final_host_id,omitempty"`

	link       *model.WanLink
	sourceHost *model.Host
	finalHost  *model.Host
	// onLink is true while the packet is counted in link.ActiveOnLink.
	onLink bool
}

// Observer receives lifecycle notifications. All methods are called
// synchronously from Spawn and Step.
type Observer interface {
	PacketSpawned(p *Packet)
	SpawnFailed(reason SpawnFailure)
	StageChanged(p *Packet, from, to Stage)
	PacketDelivered(p *Packet)
	PacketDropped(p *Packet, reason DropReason)
}

// Engine owns the in-flight packets of one run and advances them through
// ToSourceCPE, OnLink and ToTargetHost. It is not safe for concurrent use;
// callers serialise Spawn and Step.
type Engine struct {
	rng      *rand.Rand
	observer Observer

	packets []*Packet
	seq     int
	spawned int
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithObserver attaches an Observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithRand sets the random source used for site and host choices.
func WithRand(r *rand.Rand) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.rng = r
		}
	}
}

// WithSeed seeds a PCG source for reproducible runs.
func WithSeed(seed uint64) EngineOption {
	return func(e *Engine) { e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewEngine constructs an engine with no packets.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return e
}

// Reset discards every in-flight packet and the spawn count. Link counters
// are owned by the topology and reset separately.
func (e *Engine) Reset() {
	e.packets = e.packets[:0]
	e.seq = 0
	e.spawned = 0
}

// Spawn tries to create one packet. It fails without error when the
// topology cannot produce a packet right now.
//
// The destination is derived from the selected link rather than the
// randomly drawn target: a link leaving the source site leads to its target,
// a link entering it is used in reverse, and a link that does not touch the
// source site at all leads to its configured target.
func (e *Engine) Spawn(sites []*model.Site, sel Selector, speed float64) (*Packet, bool) {
	if len(sites) < 2 {
		return e.fail(SpawnTooFewSites)
	}

	src := e.rng.IntN(len(sites))
	// The drawn target only consumes randomness; the link decides where
	// the packet really goes.
	tgt := e.rng.IntN(len(sites))
	for tgt == src {
		tgt = e.rng.IntN(len(sites))
	}

	srcSite := sites[src]
	if len(srcSite.Hosts) == 0 {
		return e.fail(SpawnNoSourceHost)
	}
	host := srcSite.Hosts[e.rng.IntN(len(srcSite.Hosts))]

	if sel == nil {
		return e.fail(SpawnNoLink)
	}
	link, ok := sel.SelectNext()
	if !ok || link == nil {
		return e.fail(SpawnNoLink)
	}

	var dest int
	switch src {
	case link.SourceSiteIndex:
		dest = link.TargetSiteIndex
	case link.TargetSiteIndex:
		dest = link.SourceSiteIndex
	default:
		dest = link.TargetSiteIndex
	}
	if dest == src || dest < 0 || dest >= len(sites) {
		return e.fail(SpawnDegenerateDestination)
	}

	link.ActiveOnLink++
	link.TotalDelivered++
	e.seq++
	e.spawned++

	p := &Packet{
		ID:           fmt.Sprintf("pkt-%d", e.seq),
		SourceHostID: host.ID,
		SourceSite:   src,
		OriginCPE:    srcSite.CPE.ID,
		TerminalCPE:  sites[dest].CPE.ID,
		TerminalSite: dest,
		LinkID:       link.ID,
		Color:        link.Color,
		Stage:        StageToSourceCPE,
		Speed:        speed,
		Position:     host.Position,
		link:         link,
		sourceHost:   host,
		onLink:       true,
	}
	e.packets = append(e.packets, p)
	if e.observer != nil {
		e.observer.PacketSpawned(p)
	}
	return p, true
}

func (e *Engine) fail(reason SpawnFailure) (*Packet, bool) {
	if e.observer != nil {
		e.observer.SpawnFailed(reason)
	}
	return nil, false
}

// Step advances every in-flight packet by one tick and removes the ones
// that finished or lost a required reference.
func (e *Engine) Step(sites []*model.Site) {
	kept := e.packets[:0]
	for _, p := range e.packets {
		if e.advance(p, sites) {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(e.packets); i++ {
		e.packets[i] = nil
	}
	e.packets = kept
}

// advance moves p forward and reports whether it stays in flight.
func (e *Engine) advance(p *Packet, sites []*model.Site) bool {
	p.Progress += p.Speed * SpeedScale

	switch p.Stage {
	case StageToSourceCPE:
		srcSite, ok := siteAt(sites, p.SourceSite)
		if !ok || p.sourceHost == nil {
			return e.drop(p, DropMissingReference)
		}
		if p.Progress < 100 {
			p.Position = Lerp(p.sourceHost.Position, srcSite.CPE.Position, p.Progress)
			return true
		}
		p.Position = srcSite.CPE.Position
		e.transition(p, StageOnLink)
		return true

	case StageOnLink:
		if p.link == nil {
			return e.drop(p, DropMissingReference)
		}
		from, okFrom := siteAt(sites, p.link.SourceSiteIndex)
		to, okTo := siteAt(sites, p.link.TargetSiteIndex)
		if !okFrom || !okTo {
			return e.drop(p, DropMissingReference)
		}
		if p.OriginCPE != from.CPE.ID {
			from, to = to, from
		}
		if p.Progress < 100 {
			p.Position = Lerp(from.CPE.Position, to.CPE.Position, p.Progress)
			return true
		}
		p.Position = to.CPE.Position
		e.release(p)

		dest, ok := siteAt(sites, p.TerminalSite)
		if !ok {
			return e.drop(p, DropMissingReference)
		}
		if len(dest.Hosts) == 0 {
			return e.drop(p, DropNoDestinationHost)
		}
		p.finalHost = dest.Hosts[e.rng.IntN(len(dest.Hosts))]
		p.FinalHostID = p.finalHost.ID
		e.transition(p, StageToTargetHost)
		return true

	case StageToTargetHost:
		dest, ok := siteAt(sites, p.TerminalSite)
		if !ok || p.finalHost == nil {
			return e.drop(p, DropMissingReference)
		}
		if p.Progress < 100 {
			p.Position = Lerp(dest.CPE.Position, p.finalHost.Position, p.Progress)
			return true
		}
		p.Position = p.finalHost.Position
		if e.observer != nil {
			e.observer.PacketDelivered(p)
		}
		return false

	default:
		return e.drop(p, DropMissingReference)
	}
}

func (e *Engine) transition(p *Packet, to Stage) {
	from := p.Stage
	p.Stage = to
	p.Progress = 0
	if e.observer != nil {
		e.observer.StageChanged(p, from, to)
	}
}

// release takes p off its link's active count, at most once.
func (e *Engine) release(p *Packet) {
	if p.onLink && p.link != nil {
		p.link.ReleaseActive()
	}
	p.onLink = false
}

func (e *Engine) drop(p *Packet, reason DropReason) bool {
	e.release(p)
	if e.observer != nil {
		e.observer.PacketDropped(p, reason)
	}
	return false
}

// SetSpeed changes the speed of every in-flight packet.
func (e *Engine) SetSpeed(speed float64) {
	for _, p := range e.packets {
		p.Speed = speed
	}
}

// InFlight returns the number of packets not yet removed.
func (e *Engine) InFlight() int { return len(e.packets) }

// Spawned returns the number of packets created since the last Reset.
func (e *Engine) Spawned() int { return e.spawned }

// Packets returns copies of the in-flight packets.
func (e *Engine) Packets() []Packet {
	out := make([]Packet, len(e.packets))
	for i, p := range e.packets {
		out[i] = *p
	}
	return out
}

func siteAt(sites []*model.Site, idx int) (*model.Site, bool) {
	if idx < 0 || idx >= len(sites) || sites[idx] == nil {
		return nil, false
	}
	return sites[idx], true
}

// MarshalText renders the stage by name in JSON and logs.
func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a stage name produced by MarshalText.
func (s *Stage) UnmarshalText(text []byte) error {
	for _, st := range []Stage{StageToSourceCPE, StageOnLink, StageToTargetHost} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", text)
}
