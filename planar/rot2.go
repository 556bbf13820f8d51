package planar

import (
	"math"

	"github.com/quadrature/isam2/nonlinear"
)

// Rot2 is a 2D rotation, stored as an angle in radians.
type Rot2 struct {
	Theta float64
}

// NewRot2 returns the rotation by theta radians.
func NewRot2(theta float64) Rot2 { return Rot2{Theta: wrapAngle(theta)} }

// Dim returns 1: a 2D rotation's tangent space is one angle.
func (r Rot2) Dim() int { return 1 }

// Retract applies a tangent-space angle delta.
func (r Rot2) Retract(delta []float64) nonlinear.Value {
	return Rot2{Theta: wrapAngle(r.Theta + delta[0])}
}

// LocalCoordinates returns the wrapped angle difference needed to retract
// r onto other.
func (r Rot2) LocalCoordinates(other nonlinear.Value) []float64 {
	o := other.(Rot2)
	return []float64{wrapAngle(o.Theta - r.Theta)}
}

// Compose returns r * other (rotating by r then by other).
func (r Rot2) Compose(other Rot2) Rot2 {
	return NewRot2(r.Theta + other.Theta)
}

// Inverse returns the inverse rotation.
func (r Rot2) Inverse() Rot2 { return NewRot2(-r.Theta) }

// Between returns r.Inverse().Compose(other).
func (r Rot2) Between(other Rot2) Rot2 { return r.Inverse().Compose(other) }

// Cos returns cos(Theta).
func (r Rot2) Cos() float64 { return math.Cos(r.Theta) }

// Sin returns sin(Theta).
func (r Rot2) Sin() float64 { return math.Sin(r.Theta) }

func wrapAngle(theta float64) float64 {
	for theta > math.Pi {
		theta -= 2 * math.Pi
	}
	for theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}
