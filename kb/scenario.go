package kb

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/wan-balancer-sim/model"
)

// Scenario is the on-disk description of a topology. YAML is the primary
// format; JSON documents decode as well since JSON is valid YAML.
type Scenario struct {
	Sites        int          `yaml:"sites"`
	HostsPerSite int          `yaml:"hosts_per_site"`
	Canvas       *Canvas      `yaml:"canvas,omitempty"`
	Links        []LinkConfig `yaml:"links"`
}

// Canvas carries the drawing area the layout positions sites in.
type Canvas struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// ScenarioSummary reports what Apply created.
type ScenarioSummary struct {
	NumSites int
	LinkIDs  []string
}

// DefaultScenario mirrors the quick-start setup: three sites with two hosts
// each, a first link on the first preset between sites 0 and 1, and a fibre
// link from site 0 to site 2.
func DefaultScenario() Scenario {
	return QuickStart(3, 2)
}

// QuickStart builds the default links for an arbitrary site count. With
// only two sites the second link runs the other way, 1 to 0.
func QuickStart(sites, hostsPerSite int) Scenario {
	s := Scenario{Sites: sites, HostsPerSite: hostsPerSite}
	if sites < 2 {
		return s
	}
	second := LinkConfig{Profile: model.LinkProfiles[1].Name, Source: 0, Target: 2}
	if sites == 2 {
		second.Source, second.Target = 1, 0
	}
	s.Links = []LinkConfig{{Source: 0, Target: 1}, second}
	return s
}

// LoadScenario decodes a scenario document from r.
func LoadScenario(r io.Reader) (Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return Scenario{}, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	return sc, nil
}

// Apply configures t from the scenario: sites and hosts are replaced and
// every listed link is appended in order. It stops at the first invalid
// link and returns what had been created so far.
func (sc Scenario) Apply(t *Topology) (*ScenarioSummary, error) {
	if t == nil {
		return nil, fmt.Errorf("Apply: topology is nil")
	}
	if sc.Canvas != nil {
		t.SetLayout(NewCircularLayout(sc.Canvas.Width, sc.Canvas.Height))
	}
	if err := t.Configure(sc.Sites, sc.HostsPerSite); err != nil {
		return nil, err
	}

	summary := &ScenarioSummary{NumSites: sc.Sites, LinkIDs: make([]string, 0, len(sc.Links))}
	for i, cfg := range sc.Links {
		link, err := t.AddLink(cfg)
		if err != nil {
			return summary, fmt.Errorf("Apply: link %d: %w", i, err)
		}
		summary.LinkIDs = append(summary.LinkIDs, link.ID)
	}
	return summary, nil
}
