package model

import "fmt"

// Point is a 2-D position in canvas units. Positions are only used to
// interpolate packet motion for rendering; no engine decision depends on them.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CPE is the customer-premises equipment of a site: the single WAN
// ingress/egress point for every host behind it.
type CPE struct {
	ID       string `json:"id"`
	Position Point  `json:"position"`
}

// Host is an endpoint attached to a site. SiteIndex is a back-reference into
// the topology's site slice, not an ownership edge.
type Host struct {
	ID        string `json:"id"`
	SiteIndex int    `json:"site_index"`
	Position  Point  `json:"position"`
}

// Site groups a CPE and the hosts behind it.
type Site struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Index    int     `json:"index"`
	Position Point   `json:"position"`
	CPE      CPE     `json:"cpe"`
	Hosts    []*Host `json:"hosts"`
}

// SiteID returns the canonical identifier for the site at index i.
func SiteID(i int) string { return fmt.Sprintf("site-%d", i) }

// CPEID returns the canonical identifier for the CPE of site i.
func CPEID(i int) string { return fmt.Sprintf("cpe-%d", i) }

// HostID returns the canonical identifier for host j of site i.
func HostID(i, j int) string { return fmt.Sprintf("host-%d-%d", i, j) }

// SiteName returns the display name for site i: "Site A", "Site B", ...
// Past Z the letters continue with a numeric suffix.
func SiteName(i int) string {
	letter := string(rune('A' + i%26))
	if i < 26 {
		return "Site " + letter
	}
	return fmt.Sprintf("Site %s%d", letter, i/26)
}
