package isam2_test

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/quadrature/isam2/isam2"
	"github.com/quadrature/isam2/linalg"
	"github.com/quadrature/isam2/nonlinear"
	"github.com/quadrature/isam2/ordering"
	"github.com/quadrature/isam2/planar"
)

// slamlikeOdoNoise and slamlikeBearingRangeNoise are the noise models a
// 12-pose, 2-landmark pose-graph walk uses throughout: odometry is noisy in
// (x, y, theta), range/bearing measurements are noisy in (range, bearing) —
// the order this module's BearingRangeFactor residual is built in, the
// mirror image of how the sigmas are conventionally quoted (bearing first).
func slamlikeOdoNoise(t *testing.T) *planar.DiagonalNoise {
	return mustNoise(t, 0.1, 0.1, math.Pi/100.0)
}

func slamlikeBearingRangeNoise(t *testing.T) *planar.DiagonalNoise {
	return mustNoise(t, 0.1, math.Pi/100.0)
}

// runSlamlikePrefix replays the first ten time steps of a straight-line
// 1-unit-per-step odometry walk with two landmarks sighted at t=5: a prior
// on x0, odometry out to x10, and bearing-range sightings of L100 and L101
// from x5. If constrained is non-nil, every Update call from the point x4
// is first inserted onward passes it, so x3 and x4 get pinned to the tail
// of the elimination ordering throughout the rest of the walk.
func runSlamlikePrefix(t *testing.T, engine *isam2.Engine, constrained ordering.ConstrainedLastKeys) {
	odoNoise := slamlikeOdoNoise(t)
	brNoise := slamlikeBearingRangeNoise(t)

	update := func(factors []nonlinear.Factor, values map[nonlinear.Key]nonlinear.Value, constrainThis bool) {
		var c ordering.ConstrainedLastKeys
		if constrainThis {
			c = constrained
		}
		_, err := engine.Update(factors, values, nil, c)
		test.That(t, err, test.ShouldBeNil)
	}

	x0 := planar.X(0)
	update(
		[]nonlinear.Factor{planar.NewPriorFactor(x0, planar.NewPose2(0, 0, 0), odoNoise)},
		map[nonlinear.Key]nonlinear.Value{x0: planar.NewPose2(0.01, 0.01, 0.01)},
		false,
	)

	for i := 0; i < 5; i++ {
		xi, xi1 := planar.X(uint64(i)), planar.X(uint64(i+1))
		update(
			[]nonlinear.Factor{planar.NewBetweenFactor(xi, xi1, planar.NewPose2(1, 0, 0), odoNoise)},
			map[nonlinear.Key]nonlinear.Value{xi1: planar.NewPose2(float64(i+1)+0.1, -0.1, 0.01)},
			i >= 3,
		)
	}

	x5, x6 := planar.X(5), planar.X(6)
	l100, l101 := planar.L(100), planar.L(101)
	update(
		[]nonlinear.Factor{
			planar.NewBetweenFactor(x5, x6, planar.NewPose2(1, 0, 0), odoNoise),
			planar.NewBearingRangeFactor(x5, l100, planar.NewRot2(math.Pi/4), 5.0, brNoise),
			planar.NewBearingRangeFactor(x5, l101, planar.NewRot2(-math.Pi/4), 5.0, brNoise),
		},
		map[nonlinear.Key]nonlinear.Value{
			x6:   planar.NewPose2(1.01, 0.01, 0.01),
			l100: planar.Point2{X: 5.0 / math.Sqrt2, Y: 5.0 / math.Sqrt2},
			l101: planar.Point2{X: 5.0 / math.Sqrt2, Y: -5.0 / math.Sqrt2},
		},
		true,
	)

	for i := 6; i < 10; i++ {
		xi, xi1 := planar.X(uint64(i)), planar.X(uint64(i+1))
		update(
			[]nonlinear.Factor{planar.NewBetweenFactor(xi, xi1, planar.NewPose2(1, 0, 0), odoNoise)},
			map[nonlinear.Key]nonlinear.Value{xi1: planar.NewPose2(float64(i+1)+0.1, -0.1, 0.01)},
			true,
		)
	}
}

// runSlamlikeFinalStep replays the eleventh time step: odometry from x10 to
// x11, plus a second round of bearing-range sightings of both landmarks.
// It returns the new factor slots in the order (odometry, L100 sighting,
// L101 sighting), which the factor-removal and factor-swap scenarios need.
func runSlamlikeFinalStep(t *testing.T, engine *isam2.Engine, constrained ordering.ConstrainedLastKeys) []int {
	brNoise := slamlikeBearingRangeNoise(t)
	x10, x11 := planar.X(10), planar.X(11)
	l100, l101 := planar.L(100), planar.L(101)

	result, err := engine.Update(
		[]nonlinear.Factor{
			planar.NewBetweenFactor(x10, x11, planar.NewPose2(1, 0, 0), slamlikeOdoNoise(t)),
			planar.NewBearingRangeFactor(x10, l100, planar.NewRot2(math.Pi/4+math.Pi/16), 4.5, brNoise),
			planar.NewBearingRangeFactor(x10, l101, planar.NewRot2(-math.Pi/4+math.Pi/16), 4.5, brNoise),
		},
		map[nonlinear.Key]nonlinear.Value{x11: planar.NewPose2(6.9, 0.1, 0.01)},
		nil,
		constrained,
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(result.NewFactorSlots), test.ShouldEqual, 3)
	return result.NewFactorSlots
}

// assertSlamlikeTrajectorySane checks that the straight-line walk converged
// near its true shape: x_i's position near (i, 0) with heading near zero.
// The tolerance is loose because, unlike a from-scratch batch solve, each
// pose here was linearized incrementally over several Update calls rather
// than iterated to full nonlinear convergence in one shot.
func assertSlamlikeTrajectorySane(t *testing.T, engine *isam2.Engine, poseCount int) {
	estimate := engine.CalculateEstimate()
	for i := 0; i < poseCount; i++ {
		p, ok := estimate[planar.X(uint64(i))].(planar.Pose2)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, p.X, test.ShouldAlmostEqual, float64(i), 0.3)
		test.That(t, p.Y, test.ShouldAlmostEqual, 0.0, 0.3)
		test.That(t, p.Theta, test.ShouldAlmostEqual, 0.0, 0.3)
	}
}

func slamlikeParams(opt isam2.OptimizationMode, factorization linalg.Factorization) isam2.Params {
	params := isam2.DefaultParams()
	params.Optimization = opt
	params.Factorization = factorization
	params.GaussNewton.WildfireThreshold = 0.001
	params.RelinearizeThreshold = 0
	params.RelinearizeSkip = 0
	params.EnableRelinearization = false
	return params
}

func TestEngineSlamlikeGaussNewton(t *testing.T) {
	engine := isam2.NewEngine(slamlikeParams(isam2.GaussNewton, linalg.Cholesky), golog.NewTestLogger(t))
	runSlamlikePrefix(t, engine, nil)
	runSlamlikeFinalStep(t, engine, nil)
	assertSlamlikeTrajectorySane(t, engine, 12)
}

func TestEngineSlamlikeDogleg(t *testing.T) {
	engine := isam2.NewEngine(slamlikeParams(isam2.Dogleg, linalg.Cholesky), golog.NewTestLogger(t))
	runSlamlikePrefix(t, engine, nil)
	runSlamlikeFinalStep(t, engine, nil)
	assertSlamlikeTrajectorySane(t, engine, 12)
}

func TestEngineSlamlikeQR(t *testing.T) {
	engine := isam2.NewEngine(slamlikeParams(isam2.GaussNewton, linalg.QR), golog.NewTestLogger(t))
	runSlamlikePrefix(t, engine, nil)
	runSlamlikeFinalStep(t, engine, nil)
	assertSlamlikeTrajectorySane(t, engine, 12)
}

// TestEngineSlamlikeFactorRemoval mirrors the "removeFactors" scenario: the
// final step's sighting of L100 is added, then immediately retracted in a
// follow-up Update, leaving only the L101 sighting from that step live.
func TestEngineSlamlikeFactorRemoval(t *testing.T) {
	engine := isam2.NewEngine(slamlikeParams(isam2.GaussNewton, linalg.Cholesky), golog.NewTestLogger(t))
	runSlamlikePrefix(t, engine, nil)
	slots := runSlamlikeFinalStep(t, engine, nil)
	l100Slot := slots[1]

	before := engine.GetFactorsUnsafe().Size()
	_, err := engine.Update(nil, nil, []int{l100Slot}, nil)
	test.That(t, err, test.ShouldBeNil)

	view := engine.GetFactorsUnsafe()
	test.That(t, view.Size(), test.ShouldEqual, before)
	_, ok := view.At(l100Slot)
	test.That(t, ok, test.ShouldBeFalse)

	assertSlamlikeTrajectorySane(t, engine, 12)
}

// TestEngineSlamlikeFactorSwap mirrors the "swapFactors" scenario: the final
// step's sighting of L100 (range 4.5) is replaced, in a single Update call,
// with a sighting at the same bearing but a different range (5.0).
func TestEngineSlamlikeFactorSwap(t *testing.T) {
	engine := isam2.NewEngine(slamlikeParams(isam2.GaussNewton, linalg.Cholesky), golog.NewTestLogger(t))
	runSlamlikePrefix(t, engine, nil)
	slots := runSlamlikeFinalStep(t, engine, nil)
	l100Slot := slots[1]

	before := engine.GetFactorsUnsafe().Size()
	x10, l100 := planar.X(10), planar.L(100)
	replacement := planar.NewBearingRangeFactor(x10, l100, planar.NewRot2(math.Pi/4+math.Pi/16), 5.0, slamlikeBearingRangeNoise(t))
	result, err := engine.Update([]nonlinear.Factor{replacement}, nil, []int{l100Slot}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(result.NewFactorSlots), test.ShouldEqual, 1)

	view := engine.GetFactorsUnsafe()
	test.That(t, view.Size(), test.ShouldEqual, before+1)
	_, ok := view.At(l100Slot)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = view.At(result.NewFactorSlots[0])
	test.That(t, ok, test.ShouldBeTrue)

	assertSlamlikeTrajectorySane(t, engine, 12)
}

// TestEngineSlamlikeConstrainedOrdering mirrors the "constrained_ordering"
// scenario: x3 and x4 are pinned to the tail of the elimination ordering
// from the moment x4 is first inserted onward, and must end up last (x3
// before x4, since x3's group 1 sorts ahead of x4's group 2) no matter how
// many more variables are added afterward.
func TestEngineSlamlikeConstrainedOrdering(t *testing.T) {
	engine := isam2.NewEngine(slamlikeParams(isam2.GaussNewton, linalg.Cholesky), golog.NewTestLogger(t))
	x3, x4 := planar.X(3), planar.X(4)
	constrained := ordering.ConstrainedLastKeys{x3: 1, x4: 2}

	runSlamlikePrefix(t, engine, constrained)
	runSlamlikeFinalStep(t, engine, constrained)

	o := engine.GetOrdering()
	test.That(t, o.Len(), test.ShouldEqual, 14)
	idx3, ok3 := o.At(x3)
	idx4, ok4 := o.At(x4)
	test.That(t, ok3, test.ShouldBeTrue)
	test.That(t, ok4, test.ShouldBeTrue)
	test.That(t, int(idx3), test.ShouldEqual, 12)
	test.That(t, int(idx4), test.ShouldEqual, 13)

	assertSlamlikeTrajectorySane(t, engine, 12)
}
