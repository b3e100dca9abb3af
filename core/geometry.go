package core

import (
	"math"

	"github.com/signalsfoundry/wan-balancer-sim/model"
)

// Lerp interpolates between a and b. progress is a percentage and is
// clamped to [0,100].
func Lerp(a, b model.Point, progress float64) model.Point {
	f := math.Max(0, math.Min(progress, 100)) / 100
	return model.Point{
		X: a.X + (b.X-a.X)*f,
		Y: a.Y + (b.Y-a.Y)*f,
	}
}

// Distance returns the straight-line distance between two canvas points.
func Distance(a, b model.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
