package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/wan-balancer-sim/model"
)

var (
	// ErrTopologyFrozen is returned by structural mutations while a run holds
	// the topology frozen.
	ErrTopologyFrozen = errors.New("topology is frozen while a simulation is running")
	// ErrInvalidTopology indicates out-of-range site or host counts.
	ErrInvalidTopology = errors.New("invalid topology")
	// ErrInvalidLink indicates a link configuration failed validation.
	ErrInvalidLink = errors.New("invalid link")
	// ErrLinkNotFound indicates a requested link was not found.
	ErrLinkNotFound = errors.New("link not found")
)

// EventType indicates what kind of change happened in the topology.
type EventType int

const (
	EventSitesReconfigured EventType = iota
	EventLinkAdded
	EventLinkUpdated
	EventLinkRemoved
	EventLayoutChanged
)

// Event is emitted to subscribers after a topology change has been applied.
type Event struct {
	Type     EventType
	LinkID   string
	NumSites int
}

// Topology is the in-memory, thread-safe store of sites, hosts and WAN links.
//
// Sites are rebuilt wholesale by Configure. Links are kept across
// reconfiguration even when they reference sites that no longer exist; such
// links are simply not eligible for traffic until corrected.
type Topology struct {
	mu sync.RWMutex

	sites        []*model.Site
	links        []*model.WanLink
	hostsPerSite int
	linkSeq      int

	layout Layout
	frozen bool

	subs   map[int]func(Event)
	subSeq int
}

// Option customises Topology construction.
type Option func(*Topology)

// WithLayout overrides the default circular layout.
func WithLayout(l Layout) Option {
	return func(t *Topology) {
		if l != nil {
			t.layout = l
		}
	}
}

// New constructs an empty topology. Call Configure to create sites.
func New(opts ...Option) *Topology {
	t := &Topology{
		layout: NewCircularLayout(DefaultCanvasWidth, DefaultCanvasHeight),
		subs:   make(map[int]func(Event)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Configure replaces every site and host. Existing links are left in place.
func (t *Topology) Configure(numSites, hostsPerSite int) error {
	if numSites < 1 {
		return fmt.Errorf("%w: need at least one site, got %d", ErrInvalidTopology, numSites)
	}
	if hostsPerSite < 0 {
		return fmt.Errorf("%w: hosts per site must be >= 0, got %d", ErrInvalidTopology, hostsPerSite)
	}

	t.mu.Lock()
	if t.frozen {
		t.mu.Unlock()
		return ErrTopologyFrozen
	}
	sites := make([]*model.Site, numSites)
	for i := range sites {
		site := &model.Site{
			ID:    model.SiteID(i),
			Name:  model.SiteName(i),
			Index: i,
			CPE:   model.CPE{ID: model.CPEID(i)},
			Hosts: make([]*model.Host, hostsPerSite),
		}
		for j := range site.Hosts {
			site.Hosts[j] = &model.Host{ID: model.HostID(i, j), SiteIndex: i}
		}
		sites[i] = site
	}
	t.layout.Place(sites)
	t.sites = sites
	t.hostsPerSite = hostsPerSite
	subs := t.subscribersLocked()
	t.mu.Unlock()

	notify(subs, Event{Type: EventSitesReconfigured, NumSites: numSites})
	return nil
}

// SetLayout swaps the layout collaborator and re-places the current sites.
// Positions are rendering-only, so this is allowed during a run.
func (t *Topology) SetLayout(l Layout) {
	if l == nil {
		return
	}
	t.mu.Lock()
	t.layout = l
	l.Place(t.sites)
	n := len(t.sites)
	subs := t.subscribersLocked()
	t.mu.Unlock()

	notify(subs, Event{Type: EventLayoutChanged, NumSites: n})
}

// AddLink appends a link built from cfg and returns a copy of it.
func (t *Topology) AddLink(cfg LinkConfig) (model.WanLink, error) {
	t.mu.Lock()
	if t.frozen {
		t.mu.Unlock()
		return model.WanLink{}, ErrTopologyFrozen
	}
	link, err := cfg.build(len(t.links), len(t.sites))
	if err != nil {
		t.mu.Unlock()
		return model.WanLink{}, err
	}
	link.ID = model.LinkID(t.linkSeq)
	t.linkSeq++
	t.links = append(t.links, link)
	out := *link
	subs := t.subscribersLocked()
	n := len(t.sites)
	t.mu.Unlock()

	notify(subs, Event{Type: EventLinkAdded, LinkID: out.ID, NumSites: n})
	return out, nil
}

// UpdateLink applies patch to the link with the given ID. Endpoint changes
// are structural and rejected while frozen; weight and descriptive fields
// may change at any time.
func (t *Topology) UpdateLink(id string, patch LinkPatch) (model.WanLink, error) {
	t.mu.Lock()
	link := t.findLocked(id)
	if link == nil {
		t.mu.Unlock()
		return model.WanLink{}, fmt.Errorf("%w: %q", ErrLinkNotFound, id)
	}
	if t.frozen && patch.changesEndpoints(link) {
		t.mu.Unlock()
		return model.WanLink{}, ErrTopologyFrozen
	}
	if err := patch.apply(link, len(t.sites)); err != nil {
		t.mu.Unlock()
		return model.WanLink{}, err
	}
	out := *link
	subs := t.subscribersLocked()
	n := len(t.sites)
	t.mu.Unlock()

	notify(subs, Event{Type: EventLinkUpdated, LinkID: id, NumSites: n})
	return out, nil
}

// RemoveLink deletes a link by ID.
func (t *Topology) RemoveLink(id string) error {
	t.mu.Lock()
	if t.frozen {
		t.mu.Unlock()
		return ErrTopologyFrozen
	}
	idx := -1
	for i, l := range t.links {
		if l.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrLinkNotFound, id)
	}
	t.links = append(t.links[:idx], t.links[idx+1:]...)
	subs := t.subscribersLocked()
	n := len(t.sites)
	t.mu.Unlock()

	notify(subs, Event{Type: EventLinkRemoved, LinkID: id, NumSites: n})
	return nil
}

// Link returns a copy of a single link.
func (t *Topology) Link(id string) (model.WanLink, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	link := t.findLocked(id)
	if link == nil {
		return model.WanLink{}, fmt.Errorf("%w: %q", ErrLinkNotFound, id)
	}
	return *link, nil
}

// Links returns copies of every link in enumeration order.
func (t *Topology) Links() []model.WanLink {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyLinks(t.links)
}

// NumSites returns the current site count.
func (t *Topology) NumSites() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sites)
}

// HostsPerSite returns the host count used by the last Configure.
func (t *Topology) HostsPerSite() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hostsPerSite
}

// EligibleLinkCount counts links that can carry traffic right now.
func (t *Topology) EligibleLinkCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, l := range t.links {
		if l.Eligible(len(t.sites)) {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy of sites and links.
func (t *Topology) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sites := make([]model.Site, len(t.sites))
	for i, s := range t.sites {
		cp := *s
		cp.Hosts = make([]*model.Host, len(s.Hosts))
		for j, h := range s.Hosts {
			hc := *h
			cp.Hosts[j] = &hc
		}
		sites[i] = cp
	}
	return Snapshot{Sites: sites, Links: copyLinks(t.links)}
}

// Snapshot is a read-only copy of the topology for external consumers.
type Snapshot struct {
	Sites []model.Site    `json:"sites"`
	Links []model.WanLink `json:"links"`
}

// Mutate runs fn with exclusive access to the live sites and links. It is
// the entry point the simulation uses to spawn and advance packets, which
// mutate link counters in place. fn must not call other Topology methods.
func (t *Topology) Mutate(fn func(sites []*model.Site, links []*model.WanLink)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.sites, t.links)
}

// Freeze blocks structural mutations until Thaw is called.
func (t *Topology) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Thaw re-enables structural mutations.
func (t *Topology) Thaw() {
	t.mu.Lock()
	t.frozen = false
	t.mu.Unlock()
}

// Frozen reports whether structural mutations are currently blocked.
func (t *Topology) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// Subscribe registers a callback for topology events. It returns an
// unsubscribe function.
func (t *Topology) Subscribe(fn func(Event)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.subSeq
	t.subSeq++
	t.subs[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

func (t *Topology) findLocked(id string) *model.WanLink {
	for _, l := range t.links {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (t *Topology) subscribersLocked() []func(Event) {
	out := make([]func(Event), 0, len(t.subs))
	for _, fn := range t.subs {
		out = append(out, fn)
	}
	return out
}

// notify runs outside the lock so callbacks may read the topology.
func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		if fn != nil {
			fn(ev)
		}
	}
}

func copyLinks(links []*model.WanLink) []model.WanLink {
	out := make([]model.WanLink, len(links))
	for i, l := range links {
		out[i] = *l
	}
	return out
}
