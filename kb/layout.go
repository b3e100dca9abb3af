package kb

import (
	"math"

	"github.com/signalsfoundry/wan-balancer-sim/model"
)

const (
	DefaultCanvasWidth  = 1000.0
	DefaultCanvasHeight = 700.0

	hostRingRadius  = 45.0
	hostRingOffset  = math.Pi / 4
	siteRingDivisor = 3.0
)

// Layout assigns canvas positions to sites, their CPE and their hosts.
type Layout interface {
	Place(sites []*model.Site)
}

// CircularLayout spreads sites evenly on a circle around the canvas centre
// and arranges each site's hosts on a small ring around its CPE, rotated
// with the site's own angle.
type CircularLayout struct {
	Width  float64
	Height float64
}

// NewCircularLayout returns a layout for a canvas of the given size.
// Non-positive dimensions fall back to the defaults.
func NewCircularLayout(width, height float64) *CircularLayout {
	if width <= 0 {
		width = DefaultCanvasWidth
	}
	if height <= 0 {
		height = DefaultCanvasHeight
	}
	return &CircularLayout{Width: width, Height: height}
}

// Place implements Layout.
func (c *CircularLayout) Place(sites []*model.Site) {
	n := len(sites)
	if n == 0 {
		return
	}
	centre := model.Point{X: c.Width / 2, Y: c.Height / 2}
	radius := math.Min(c.Width, c.Height) / siteRingDivisor

	for i, site := range sites {
		angle := 2 * math.Pi * float64(i) / float64(n)
		pos := model.Point{
			X: centre.X + radius*math.Cos(angle),
			Y: centre.Y + radius*math.Sin(angle),
		}
		site.Position = pos
		site.CPE.Position = pos

		hosts := len(site.Hosts)
		for j, h := range site.Hosts {
			a := 2*math.Pi*float64(j)/float64(hosts) + angle + hostRingOffset
			h.Position = model.Point{
				X: pos.X + hostRingRadius*math.Cos(a),
				Y: pos.Y + hostRingRadius*math.Sin(a),
			}
		}
	}
}
