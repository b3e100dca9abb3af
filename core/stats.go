package core

import (
	"math"

	"github.com/signalsfoundry/wan-balancer-sim/model"
)

const (
	// ComplianceMargin is the largest deviation, in percentage points,
	// still considered compliant with the configured weights.
	ComplianceMargin = 5.0
	// WarmUpPackets is the number of generated packets that must be
	// exceeded before links are classified.
	WarmUpPackets = 20
)

// Classification grades a link's share against its weight.
type Classification string

const (
	Unclassified Classification = "unclassified"
	Compliant    Classification = "compliant"
	Deviating    Classification = "deviating"
)

// StatsInput is everything Aggregate needs. It is a value so the caller can
// capture it under its own lock and aggregate outside it.
type StatsInput struct {
	Links          []model.WanLink
	NumSites       int
	Algorithm      model.Algorithm
	TotalGenerated int
	InFlight       int
}

// LinkStats is the per-link part of a Stats snapshot.
type LinkStats struct {
	LinkID         string         `json:"link_id"`
	Type           string         `json:"type"`
	Source         int            `json:"source"`
	Target         int            `json:"target"`
	Weight         int            `json:"weight"`
	TotalDelivered int            `json:"total_delivered"`
	ActiveOnLink   int            `json:"active_on_link"`
	Percentage     float64        `json:"percentage"`
	Theoretical    *float64       `json:"theoretical_percentage,omitempty"`
	Deviation      *float64       `json:"deviation,omitempty"`
	Classification Classification `json:"classification,omitempty"`
}

// Stats is a point-in-time summary of a run.
type Stats struct {
	Algorithm      model.Algorithm `json:"algorithm"`
	TotalGenerated int             `json:"total_generated"`
	InFlight       int             `json:"in_flight"`
	Links          []LinkStats     `json:"links"`
}

// Aggregate derives per-link shares from the link counters. Only eligible
// links are reported. Theoretical shares, deviations and classifications
// are filled in weighted mode only.
func Aggregate(in StatsInput) Stats {
	out := Stats{
		Algorithm:      in.Algorithm,
		TotalGenerated: in.TotalGenerated,
		InFlight:       in.InFlight,
		Links:          make([]LinkStats, 0, len(in.Links)),
	}

	weighted := in.Algorithm == model.AlgorithmWeightedRoundRobin
	totalWeight := 0
	for i := range in.Links {
		if in.Links[i].Eligible(in.NumSites) {
			totalWeight += in.Links[i].Weight
		}
	}

	for i := range in.Links {
		l := &in.Links[i]
		if !l.Eligible(in.NumSites) {
			continue
		}
		ls := LinkStats{
			LinkID:         l.ID,
			Type:           l.Type,
			Source:         l.SourceSiteIndex,
			Target:         l.TargetSiteIndex,
			Weight:         l.Weight,
			TotalDelivered: l.TotalDelivered,
			ActiveOnLink:   l.ActiveOnLink,
		}
		if in.TotalGenerated > 0 {
			ls.Percentage = float64(l.TotalDelivered) / float64(in.TotalGenerated) * 100
		}
		if weighted && totalWeight > 0 {
			theo := float64(l.Weight) / float64(totalWeight) * 100
			dev := math.Abs(ls.Percentage - theo)
			ls.Theoretical = &theo
			ls.Deviation = &dev
			ls.Classification = Classify(dev, in.TotalGenerated)
		}
		out.Links = append(out.Links, ls)
	}
	return out
}

// Classify grades a deviation once more than WarmUpPackets packets have
// been generated.
func Classify(deviation float64, totalGenerated int) Classification {
	switch {
	case totalGenerated <= WarmUpPackets:
		return Unclassified
	case deviation > ComplianceMargin:
		return Deviating
	default:
		return Compliant
	}
}

// Link returns the stats for id, if present.
func (s Stats) Link(id string) (LinkStats, bool) {
	for _, l := range s.Links {
		if l.LinkID == id {
			return l, true
		}
	}
	return LinkStats{}, false
}
