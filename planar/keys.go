// Package planar supplies the concrete SE(2) SLAM types (poses, points,
// rotations) and factors (prior, odometry, bearing-range) that exercise the
// nonlinear/ordering/graph/bayestree/isam2 engine end to end. None of it is
// consumed by the engine packages themselves; it is the kind of
// application code an engine user writes.
package planar

import "github.com/quadrature/isam2/nonlinear"

// Pose tag/index constants mirror GTSAM's Symbol convention: a
// one-character tag packed with an integer index into a single Key.
const (
	poseTag     = 'x'
	landmarkTag = 'l'
)

// X returns the key for robot pose i.
func X(i uint64) nonlinear.Key { return nonlinear.NewKey(poseTag, i) }

// L returns the key for landmark i.
func L(i uint64) nonlinear.Key { return nonlinear.NewKey(landmarkTag, i) }
