package planar

import (
	"math"

	"github.com/quadrature/isam2/nonlinear"
)

// Point2 is a point in the 2D plane.
type Point2 struct {
	X, Y float64
}

// Dim returns 2.
func (p Point2) Dim() int { return 2 }

// Retract applies a Euclidean delta.
func (p Point2) Retract(delta []float64) nonlinear.Value {
	return Point2{X: p.X + delta[0], Y: p.Y + delta[1]}
}

// LocalCoordinates returns other - p.
func (p Point2) LocalCoordinates(other nonlinear.Value) []float64 {
	o := other.(Point2)
	return []float64{o.X - p.X, o.Y - p.Y}
}

// Sub returns p - other.
func (p Point2) Sub(other Point2) Point2 {
	return Point2{X: p.X - other.X, Y: p.Y - other.Y}
}

// Norm returns the Euclidean length of p treated as a vector.
func (p Point2) Norm() float64 {
	return math.Hypot(p.X, p.Y)
}
