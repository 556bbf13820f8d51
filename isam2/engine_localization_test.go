package isam2_test

import (
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/quadrature/isam2/isam2"
	"github.com/quadrature/isam2/nonlinear"
	"github.com/quadrature/isam2/planar"
)

// TestEngineUpdateSolvesLocalizationChain mirrors a pose chain with no
// landmarks at all: three poses connected by odometry, each additionally
// pinned by a position-only ("GPS-like") observation rather than a full
// pose prior, starting from initial guesses that are deliberately off in
// both position and heading.
func TestEngineUpdateSolvesLocalizationChain(t *testing.T) {
	engine := isam2.NewEngine(isam2.DefaultParams(), golog.NewTestLogger(t))

	x0, x1, x2 := planar.X(0), planar.X(1), planar.X(2)
	odometryNoise := mustNoise(t, 0.2, 0.2, 0.1)
	gpsNoise := mustNoise(t, 0.1, 0.1)

	factors := []nonlinear.Factor{
		planar.NewBetweenFactor(x0, x1, planar.NewPose2(2, 0, 0), odometryNoise),
		planar.NewBetweenFactor(x1, x2, planar.NewPose2(2, 0, 0), odometryNoise),
		planar.NewPositionFactor(x0, planar.Point2{X: 0, Y: 0}, gpsNoise),
		planar.NewPositionFactor(x1, planar.Point2{X: 2, Y: 0}, gpsNoise),
		planar.NewPositionFactor(x2, planar.Point2{X: 4, Y: 0}, gpsNoise),
	}
	initial := map[nonlinear.Key]nonlinear.Value{
		x0: planar.NewPose2(0.5, 0, 0.2),
		x1: planar.NewPose2(2.3, 0.1, -0.2),
		x2: planar.NewPose2(4.1, 0.1, 0.1),
	}

	result, err := engine.Update(factors, initial, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.CliqueCount, test.ShouldEqual, 3)

	// The initial guesses carry enough heading error that one linearization
	// does not fully resolve the chain; each no-op Update past this point
	// only relinearizes variables whose pending delta still exceeds
	// RelinearizeThreshold and re-runs the step controller on them, the same
	// incremental mechanism a caller would rely on rather than a bespoke
	// convergence loop.
	for i := 0; i < 5; i++ {
		_, err := engine.Update(nil, nil, nil, nil)
		test.That(t, err, test.ShouldBeNil)
	}

	estimate := engine.CalculateEstimate()
	p0 := estimate[x0].(planar.Pose2)
	p1 := estimate[x1].(planar.Pose2)
	p2 := estimate[x2].(planar.Pose2)

	test.That(t, p0.X, test.ShouldAlmostEqual, 0.0, 1e-3)
	test.That(t, p0.Y, test.ShouldAlmostEqual, 0.0, 1e-3)
	test.That(t, p0.Theta, test.ShouldAlmostEqual, 0.0, 1e-3)
	test.That(t, p1.X, test.ShouldAlmostEqual, 2.0, 1e-3)
	test.That(t, p1.Y, test.ShouldAlmostEqual, 0.0, 1e-3)
	test.That(t, p2.X, test.ShouldAlmostEqual, 4.0, 1e-3)
	test.That(t, p2.Y, test.ShouldAlmostEqual, 0.0, 1e-3)
}
