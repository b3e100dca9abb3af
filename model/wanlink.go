package model

import "fmt"

// LinkProfile is a named preset for the descriptive attributes of a WAN
// link. None of these values are enforced by the simulation.
type LinkProfile struct {
	Name          string  `json:"name" yaml:"name"`
	Color         string  `json:"color" yaml:"color"`
	BandwidthMbps float64 `json:"bandwidth_mbps" yaml:"bandwidth_mbps"`
	LatencyMs     float64 `json:"latency_ms" yaml:"latency_ms"`
	LossPercent   float64 `json:"loss_percent" yaml:"loss_percent"`
	Weight        int     `json:"weight" yaml:"weight"`
}

// LinkProfiles are the built-in presets, in the order new links cycle
// through them.
var LinkProfiles = []LinkProfile{
	{Name: "MPLS", Color: "#3498db", BandwidthMbps: 100, LatencyMs: 20, LossPercent: 0.1, Weight: 3},
	{Name: "Fibre Optique", Color: "#2ecc71", BandwidthMbps: 1000, LatencyMs: 5, LossPercent: 0.01, Weight: 5},
	{Name: "Internet (Broadband)", Color: "#f1c40f", BandwidthMbps: 200, LatencyMs: 50, LossPercent: 1, Weight: 2},
	{Name: "4G/LTE", Color: "#e74c3c", BandwidthMbps: 50, LatencyMs: 80, LossPercent: 2, Weight: 1},
	{Name: "Satellite", Color: "#9b59b6", BandwidthMbps: 20, LatencyMs: 600, LossPercent: 3, Weight: 1},
}

// ProfileByName looks up a preset by its display name.
func ProfileByName(name string) (LinkProfile, bool) {
	for _, p := range LinkProfiles {
		if p.Name == name {
			return p, true
		}
	}
	return LinkProfile{}, false
}

// WanLink connects two sites by index. The direction is nominal: packets
// may traverse a link in either direction, and SourceSiteIndex is only used
// to work out which way a given packet travels.
type WanLink struct {
	ID              string  `json:"id"`
	SourceSiteIndex int     `json:"source_site_index"`
	TargetSiteIndex int     `json:"target_site_index"`
	Type            string  `json:"type"`
	Color           string  `json:"color"`
	BandwidthMbps   float64 `json:"bandwidth_mbps"`
	LatencyMs       float64 `json:"latency_ms"`
	LossPercent     float64 `json:"loss_percent"`
	Weight          int     `json:"weight"`

	// TotalDelivered counts packets assigned to this link during the
	// current run. It only grows until the next run resets it.
	TotalDelivered int `json:"total_delivered"`
	// ActiveOnLink counts packets currently in the OnLink stage (or
	// spawned and heading for it). Never negative.
	ActiveOnLink int `json:"active_on_link"`
}

// LinkID returns the canonical identifier for the n-th link created in a
// topology.
func LinkID(n int) string { return fmt.Sprintf("wanlink-%d", n) }

// IsSelfLoop reports whether both ends reference the same site.
func (l *WanLink) IsSelfLoop() bool {
	return l.SourceSiteIndex == l.TargetSiteIndex
}

// Eligible reports whether the link may carry traffic in a topology with
// numSites sites: both ends must exist and differ.
func (l *WanLink) Eligible(numSites int) bool {
	if l == nil || l.IsSelfLoop() {
		return false
	}
	return validIndex(l.SourceSiteIndex, numSites) && validIndex(l.TargetSiteIndex, numSites)
}

// ResetCounters zeroes the per-run counters.
func (l *WanLink) ResetCounters() {
	l.TotalDelivered = 0
	l.ActiveOnLink = 0
}

// ReleaseActive decrements ActiveOnLink, flooring at zero.
func (l *WanLink) ReleaseActive() {
	if l.ActiveOnLink > 0 {
		l.ActiveOnLink--
	}
}

func validIndex(i, n int) bool { return i >= 0 && i < n }
