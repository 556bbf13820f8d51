package planar

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/quadrature/isam2/graph"
	"github.com/quadrature/isam2/nonlinear"
)

// PriorFactor anchors a single variable to a prior value, for any manifold
// type implementing nonlinear.Value.
type PriorFactor struct {
	key   nonlinear.Key
	prior nonlinear.Value
	noise *DiagonalNoise
}

// NewPriorFactor returns a PriorFactor pinning key near prior.
func NewPriorFactor(key nonlinear.Key, prior nonlinear.Value, noise *DiagonalNoise) *PriorFactor {
	return &PriorFactor{key: key, prior: prior, noise: noise}
}

// Keys returns the single variable this factor constrains.
func (f *PriorFactor) Keys() []nonlinear.Key { return []nonlinear.Key{f.key} }

// Dim returns the noise model's dimension.
func (f *PriorFactor) Dim() int { return f.noise.Dim() }

// Linearize returns the identity-Jacobian linear factor whose solution is
// exactly the correction that retracts the current value onto the prior.
func (f *PriorFactor) Linearize(est *nonlinear.Estimate) (nonlinear.LinearFactor, error) {
	v, ok := est.At(f.key)
	if !ok {
		return nil, errors.Errorf("prior factor: no value for key %v", f.key)
	}
	r := v.LocalCoordinates(f.prior)
	n := f.noise.Dim()
	A := mat.NewDense(n, n, nil)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		inv := 1 / f.noise.Sigma(i)
		A.Set(i, i, inv)
		b.SetVec(i, r[i]*inv)
	}
	return graph.NewJacobianFactor(f.Keys(), []*mat.Dense{A}, b), nil
}

// Error returns the whitened squared error of this factor at est.
func (f *PriorFactor) Error(est *nonlinear.Estimate) float64 {
	v, ok := est.At(f.key)
	if !ok {
		return 0
	}
	r := f.noise.Whiten(v.LocalCoordinates(f.prior))
	return 0.5 * sumSquares(r)
}

// PositionFactor anchors a Pose2's translation to a measured (x, y),
// leaving its heading unconstrained — the GPS-like unary factor a
// pose-chain localization problem uses in place of a full PriorFactor when
// only position, not orientation, is observed.
type PositionFactor struct {
	key      nonlinear.Key
	measured Point2
	noise    *DiagonalNoise
}

// NewPositionFactor returns a PositionFactor pinning key's translation near
// measured.
func NewPositionFactor(key nonlinear.Key, measured Point2, noise *DiagonalNoise) *PositionFactor {
	return &PositionFactor{key: key, measured: measured, noise: noise}
}

// Keys returns the single variable this factor constrains.
func (f *PositionFactor) Keys() []nonlinear.Key { return []nonlinear.Key{f.key} }

// Dim returns the noise model's dimension (2: x, y).
func (f *PositionFactor) Dim() int { return f.noise.Dim() }

func (f *PositionFactor) value(est *nonlinear.Estimate) (Pose2, error) {
	v, ok := est.At(f.key)
	if !ok {
		return Pose2{}, errors.Errorf("position factor: no value for key %v", f.key)
	}
	return v.(Pose2), nil
}

func (f *PositionFactor) residual(p Pose2) []float64 {
	return []float64{p.X - f.measured.X, p.Y - f.measured.Y}
}

// Linearize returns the Jacobian of the pose's global (x, y) translation
// with respect to its body-frame tangent vector: since Pose2.Retract
// composes the tangent delta in the pose's own frame (p.Compose(Expmap(xi))),
// a perturbation along the body x/y axes reaches the global frame rotated
// by the pose's current heading, the same rotation block BetweenFactor's
// Jacobians use.
func (f *PositionFactor) Linearize(est *nonlinear.Estimate) (nonlinear.LinearFactor, error) {
	p, err := f.value(est)
	if err != nil {
		return nil, err
	}
	c, s := math.Cos(p.Theta), math.Sin(p.Theta)
	A := mat.NewDense(2, 3, []float64{
		c, -s, 0,
		s, c, 0,
	})
	r := f.residual(p)

	n := f.noise.Dim()
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		inv := 1 / f.noise.Sigma(i)
		b.SetVec(i, -r[i]*inv)
		for c := 0; c < 3; c++ {
			A.Set(i, c, A.At(i, c)*inv)
		}
	}
	return graph.NewJacobianFactor(f.Keys(), []*mat.Dense{A}, b), nil
}

// Error returns the whitened squared error of this factor at est.
func (f *PositionFactor) Error(est *nonlinear.Estimate) float64 {
	p, err := f.value(est)
	if err != nil {
		return 0
	}
	r := f.noise.Whiten(f.residual(p))
	return 0.5 * sumSquares(r)
}

// BetweenFactor constrains the relative pose between two variables to a
// measured odometry or loop-closure pose.
type BetweenFactor struct {
	key1, key2 nonlinear.Key
	measured   Pose2
	noise      *DiagonalNoise
}

// NewBetweenFactor returns a BetweenFactor constraining key1.Between(key2)
// near measured.
func NewBetweenFactor(key1, key2 nonlinear.Key, measured Pose2, noise *DiagonalNoise) *BetweenFactor {
	return &BetweenFactor{key1: key1, key2: key2, measured: measured, noise: noise}
}

// Keys returns (key1, key2).
func (f *BetweenFactor) Keys() []nonlinear.Key { return []nonlinear.Key{f.key1, f.key2} }

// Dim returns 3.
func (f *BetweenFactor) Dim() int { return f.noise.Dim() }

func (f *BetweenFactor) values(est *nonlinear.Estimate) (Pose2, Pose2, error) {
	v1, ok1 := est.At(f.key1)
	v2, ok2 := est.At(f.key2)
	if !ok1 || !ok2 {
		return Pose2{}, Pose2{}, errors.Errorf("between factor: missing value for %v or %v", f.key1, f.key2)
	}
	return v1.(Pose2), v2.(Pose2), nil
}

// Linearize returns the standard SE(2) relative-pose Jacobians of the
// predicted relative pose with respect to each endpoint, evaluated at the
// current estimate.
func (f *BetweenFactor) Linearize(est *nonlinear.Estimate) (nonlinear.LinearFactor, error) {
	p1, p2, err := f.values(est)
	if err != nil {
		return nil, err
	}
	predicted := p1.Between(p2)
	r := f.measured.LocalCoordinates(predicted)

	// J1 = -Ad(predicted^-1) and J2 = I, both in the body-frame tangent
	// Pose2.Retract uses.
	cr, sr := math.Cos(predicted.Theta), math.Sin(predicted.Theta)
	x, y := predicted.X, predicted.Y

	j1 := mat.NewDense(3, 3, []float64{
		-cr, -sr, -sr*x + cr*y,
		sr, -cr, -cr*x - sr*y,
		0, 0, -1,
	})
	j2 := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})

	n := f.noise.Dim()
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		inv := 1 / f.noise.Sigma(i)
		b.SetVec(i, -r[i]*inv)
		for c := 0; c < 3; c++ {
			j1.Set(i, c, j1.At(i, c)*inv)
			j2.Set(i, c, j2.At(i, c)*inv)
		}
	}

	return graph.NewJacobianFactor(f.Keys(), []*mat.Dense{j1, j2}, b), nil
}

// Error returns the whitened squared error of this factor at est.
func (f *BetweenFactor) Error(est *nonlinear.Estimate) float64 {
	p1, p2, err := f.values(est)
	if err != nil {
		return 0
	}
	predicted := p1.Between(p2)
	r := f.noise.Whiten(f.measured.LocalCoordinates(predicted))
	return 0.5 * sumSquares(r)
}

// BearingRangeFactor constrains the bearing and range from a pose to a
// landmark to a measured value.
type BearingRangeFactor struct {
	poseKey, pointKey nonlinear.Key
	measuredBearing   Rot2
	measuredRange     float64
	noise             *DiagonalNoise
}

// NewBearingRangeFactor returns a BearingRangeFactor constraining the
// bearing and range from poseKey to pointKey.
func NewBearingRangeFactor(poseKey, pointKey nonlinear.Key, bearing Rot2, rng float64, noise *DiagonalNoise) *BearingRangeFactor {
	return &BearingRangeFactor{poseKey: poseKey, pointKey: pointKey, measuredBearing: bearing, measuredRange: rng, noise: noise}
}

// Keys returns (poseKey, pointKey).
func (f *BearingRangeFactor) Keys() []nonlinear.Key { return []nonlinear.Key{f.poseKey, f.pointKey} }

// Dim returns 2.
func (f *BearingRangeFactor) Dim() int { return f.noise.Dim() }

func (f *BearingRangeFactor) values(est *nonlinear.Estimate) (Pose2, Point2, error) {
	v1, ok1 := est.At(f.poseKey)
	v2, ok2 := est.At(f.pointKey)
	if !ok1 || !ok2 {
		return Pose2{}, Point2{}, errors.Errorf("bearing-range factor: missing value for %v or %v", f.poseKey, f.pointKey)
	}
	return v1.(Pose2), v2.(Point2), nil
}

// Linearize returns the standard range/bearing Jacobians with respect to
// the pose and the landmark, evaluated at the current estimate. The pose
// block is taken with respect to the pose's body-frame tangent (see
// Pose2.Retract), so its x/y columns are rotated by the current heading.
func (f *BearingRangeFactor) Linearize(est *nonlinear.Estimate) (nonlinear.LinearFactor, error) {
	pose, point, err := f.values(est)
	if err != nil {
		return nil, err
	}
	dx := point.X - pose.X
	dy := point.Y - pose.Y
	q := dx*dx + dy*dy
	rangeVal := math.Sqrt(q)
	bearingVal := NewRot2(math.Atan2(dy, dx) - pose.Theta)

	rangeResidual := rangeVal - f.measuredRange
	bearingResidual := f.measuredBearing.LocalCoordinates(bearingVal)[0]

	ch, sh := math.Cos(pose.Theta), math.Sin(pose.Theta)
	jPose := mat.NewDense(2, 3, []float64{
		-(dx*ch + dy*sh) / rangeVal, (dx*sh - dy*ch) / rangeVal, 0,
		(dy*ch - dx*sh) / q, -(dy*sh + dx*ch) / q, -1,
	})
	jPoint := mat.NewDense(2, 2, []float64{
		dx / rangeVal, dy / rangeVal,
		-dy / q, dx / q,
	})

	n := f.noise.Dim()
	b := mat.NewVecDense(n, []float64{-rangeResidual, -bearingResidual})
	for i := 0; i < n; i++ {
		inv := 1 / f.noise.Sigma(i)
		b.SetVec(i, b.AtVec(i)*inv)
		for c := 0; c < 3; c++ {
			jPose.Set(i, c, jPose.At(i, c)*inv)
		}
		for c := 0; c < 2; c++ {
			jPoint.Set(i, c, jPoint.At(i, c)*inv)
		}
	}

	return graph.NewJacobianFactor(f.Keys(), []*mat.Dense{jPose, jPoint}, b), nil
}

// Error returns the whitened squared error of this factor at est.
func (f *BearingRangeFactor) Error(est *nonlinear.Estimate) float64 {
	pose, point, err := f.values(est)
	if err != nil {
		return 0
	}
	dx := point.X - pose.X
	dy := point.Y - pose.Y
	rangeVal := math.Hypot(dx, dy)
	bearingVal := NewRot2(math.Atan2(dy, dx) - pose.Theta)

	r := f.noise.Whiten([]float64{
		rangeVal - f.measuredRange,
		f.measuredBearing.LocalCoordinates(bearingVal)[0],
	})
	return 0.5 * sumSquares(r)
}

func sumSquares(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return sum
}
