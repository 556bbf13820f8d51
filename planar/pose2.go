package planar

import (
	"math"

	"github.com/quadrature/isam2/nonlinear"
)

// Pose2 is a robot pose in the 2D plane: a translation plus a heading.
type Pose2 struct {
	X, Y, Theta float64
}

// NewPose2 returns the pose (x, y, theta), wrapping theta to (-pi, pi].
func NewPose2(x, y, theta float64) Pose2 {
	return Pose2{X: x, Y: y, Theta: wrapAngle(theta)}
}

// Dim returns 3: SE(2) has a 3-dimensional tangent space.
func (p Pose2) Dim() int { return 3 }

// Retract applies delta = (vx, vy, w) via the SE(2) exponential map,
// composed onto p: Retract(p, xi) = p.Compose(Expmap(xi)).
func (p Pose2) Retract(delta []float64) nonlinear.Value {
	return p.Compose(expmap(delta))
}

// LocalCoordinates returns the tangent vector that Retract would need to
// move p onto other: Logmap(p.Between(other)).
func (p Pose2) LocalCoordinates(other nonlinear.Value) []float64 {
	o := other.(Pose2)
	return logmap(p.Between(o))
}

// Compose returns p composed with other (apply p, then other in p's
// original frame... conventionally, the pose reached by first going to p
// then moving by other as expressed in p's frame).
func (p Pose2) Compose(other Pose2) Pose2 {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	return NewPose2(
		p.X+c*other.X-s*other.Y,
		p.Y+s*other.X+c*other.Y,
		p.Theta+other.Theta,
	)
}

// Inverse returns the pose such that p.Compose(p.Inverse()) is identity.
func (p Pose2) Inverse() Pose2 {
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	return NewPose2(-c*p.X-s*p.Y, s*p.X-c*p.Y, -p.Theta)
}

// Between returns p.Inverse().Compose(other): the relative pose of other
// as seen from p.
func (p Pose2) Between(other Pose2) Pose2 {
	return p.Inverse().Compose(other)
}

// Rotation returns p's heading as a Rot2.
func (p Pose2) Rotation() Rot2 { return NewRot2(p.Theta) }

// Translation returns p's position as a Point2.
func (p Pose2) Translation() Point2 { return Point2{X: p.X, Y: p.Y} }

// expmap is the SE(2) exponential map: it turns a twist (vx, vy, w) into
// the pose reached by following that constant body-frame velocity for unit
// time.
func expmap(xi []float64) Pose2 {
	vx, vy, w := xi[0], xi[1], xi[2]
	if math.Abs(w) < 1e-10 {
		return NewPose2(vx, vy, w)
	}
	s := math.Sin(w) / w
	c := (1 - math.Cos(w)) / w
	return NewPose2(vx*s-vy*c, vx*c+vy*s, w)
}

// logmap inverts expmap.
func logmap(p Pose2) []float64 {
	w := p.Theta
	if math.Abs(w) < 1e-10 {
		return []float64{p.X, p.Y, w}
	}
	s := math.Sin(w) / w
	c := (1 - math.Cos(w)) / w
	det := s*s + c*c
	vx := (s*p.X + c*p.Y) / det
	vy := (-c*p.X + s*p.Y) / det
	return []float64{vx, vy, w}
}
