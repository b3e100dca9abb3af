package kb

import (
	"fmt"

	"github.com/signalsfoundry/wan-balancer-sim/model"
)

// LinkConfig describes a link to add. Profile selects a preset by name;
// when empty the preset cycles with the number of existing links. Nil
// pointer fields inherit the preset value.
type LinkConfig struct {
	Profile       string   `json:"profile,omitempty" yaml:"profile,omitempty"`
	Source        int      `json:"source" yaml:"source"`
	Target        int      `json:"target" yaml:"target"`
	Weight        *int     `json:"weight,omitempty" yaml:"weight,omitempty"`
	BandwidthMbps *float64 `json:"bandwidth_mbps,omitempty" yaml:"bandwidth_mbps,omitempty"`
	LatencyMs     *float64 `json:"latency_ms,omitempty" yaml:"latency_ms,omitempty"`
	LossPercent   *float64 `json:"loss_percent,omitempty" yaml:"loss_percent,omitempty"`
	Color         string   `json:"color,omitempty" yaml:"color,omitempty"`
}

func (c LinkConfig) build(existing, numSites int) (*model.WanLink, error) {
	var profile model.LinkProfile
	if c.Profile == "" {
		profile = model.LinkProfiles[existing%len(model.LinkProfiles)]
	} else {
		p, ok := model.ProfileByName(c.Profile)
		if !ok {
			return nil, fmt.Errorf("%w: unknown profile %q", ErrInvalidLink, c.Profile)
		}
		profile = p
	}
	if err := checkIndex("source", c.Source, numSites); err != nil {
		return nil, err
	}
	if err := checkIndex("target", c.Target, numSites); err != nil {
		return nil, err
	}

	link := &model.WanLink{
		SourceSiteIndex: c.Source,
		TargetSiteIndex: c.Target,
		Type:            profile.Name,
		Color:           profile.Color,
		BandwidthMbps:   profile.BandwidthMbps,
		LatencyMs:       profile.LatencyMs,
		LossPercent:     profile.LossPercent,
		Weight:          profile.Weight,
	}
	if c.Color != "" {
		link.Color = c.Color
	}
	if c.Weight != nil {
		if *c.Weight < 1 {
			return nil, fmt.Errorf("%w: weight must be >= 1, got %d", ErrInvalidLink, *c.Weight)
		}
		link.Weight = *c.Weight
	}
	if err := applyDescriptors(link, c.BandwidthMbps, c.LatencyMs, c.LossPercent); err != nil {
		return nil, err
	}
	return link, nil
}

// LinkPatch lists the fields to change on an existing link. Nil fields are
// left untouched. Setting Profile resets type, colour and descriptors to
// the preset before the explicit fields are applied; weight is kept unless
// Weight is set.
type LinkPatch struct {
	Profile       *string  `json:"profile,omitempty"`
	Source        *int     `json:"source,omitempty"`
	Target        *int     `json:"target,omitempty"`
	Weight        *int     `json:"weight,omitempty"`
	BandwidthMbps *float64 `json:"bandwidth_mbps,omitempty"`
	LatencyMs     *float64 `json:"latency_ms,omitempty"`
	LossPercent   *float64 `json:"loss_percent,omitempty"`
	Color         *string  `json:"color,omitempty"`
}

func (p LinkPatch) changesEndpoints(l *model.WanLink) bool {
	return (p.Source != nil && *p.Source != l.SourceSiteIndex) ||
		(p.Target != nil && *p.Target != l.TargetSiteIndex)
}

// apply validates the whole patch before touching the link.
func (p LinkPatch) apply(l *model.WanLink, numSites int) error {
	next := *l
	if p.Profile != nil {
		prof, ok := model.ProfileByName(*p.Profile)
		if !ok {
			return fmt.Errorf("%w: unknown profile %q", ErrInvalidLink, *p.Profile)
		}
		next.Type = prof.Name
		next.Color = prof.Color
		next.BandwidthMbps = prof.BandwidthMbps
		next.LatencyMs = prof.LatencyMs
		next.LossPercent = prof.LossPercent
	}
	if p.Source != nil {
		if err := checkIndex("source", *p.Source, numSites); err != nil {
			return err
		}
		next.SourceSiteIndex = *p.Source
	}
	if p.Target != nil {
		if err := checkIndex("target", *p.Target, numSites); err != nil {
			return err
		}
		next.TargetSiteIndex = *p.Target
	}
	if p.Weight != nil {
		if *p.Weight < 1 {
			return fmt.Errorf("%w: weight must be >= 1, got %d", ErrInvalidLink, *p.Weight)
		}
		next.Weight = *p.Weight
	}
	if p.Color != nil {
		next.Color = *p.Color
	}
	if err := applyDescriptors(&next, p.BandwidthMbps, p.LatencyMs, p.LossPercent); err != nil {
		return err
	}
	*l = next
	return nil
}

func applyDescriptors(l *model.WanLink, bw, lat, loss *float64) error {
	if bw != nil {
		if *bw < 0 {
			return fmt.Errorf("%w: bandwidth must be >= 0", ErrInvalidLink)
		}
		l.BandwidthMbps = *bw
	}
	if lat != nil {
		if *lat < 0 {
			return fmt.Errorf("%w: latency must be >= 0", ErrInvalidLink)
		}
		l.LatencyMs = *lat
	}
	if loss != nil {
		if *loss < 0 || *loss > 100 {
			return fmt.Errorf("%w: loss must be within [0,100]", ErrInvalidLink)
		}
		l.LossPercent = *loss
	}
	return nil
}

func checkIndex(name string, idx, numSites int) error {
	if idx < 0 || idx >= numSites {
		return fmt.Errorf("%w: %s site index %d out of range [0,%d)", ErrInvalidLink, name, idx, numSites)
	}
	return nil
}
