package nonlinear

// Value is a point on a manifold associated with a Key. The engine never
// interprets Value contents beyond this capability set: it can ask for the
// tangent space dimension, retract a tangent vector to get a new point, and
// compute the tangent vector between two points.
type Value interface {
	// Dim returns the dimension of the tangent space at this point.
	Dim() int

	// Retract applies a tangent-space delta to this value, returning a new
	// value on the manifold. len(delta) must equal Dim().
	Retract(delta []float64) Value

	// LocalCoordinates returns the tangent vector that Retract would need
	// to move from this value to other.
	LocalCoordinates(other Value) []float64
}
