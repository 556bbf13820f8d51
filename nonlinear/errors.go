package nonlinear

import "github.com/pkg/errors"

// Sentinel errors forming the engine's error taxonomy. Callers should use
// errors.Is against these, since every returned error is wrapped with
// call-site context via errors.Wrapf.
var (
	// ErrDuplicateKey is returned when a key is added that already exists,
	// or when a constrained-last list names an unknown key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrUnknownSlot is returned when removeSlots references a dead or
	// out-of-range factor slot.
	ErrUnknownSlot = errors.New("unknown factor slot")

	// ErrIndefiniteSystem is returned when a Cholesky pivot is non-positive.
	// The caller may retry with QR factorization.
	ErrIndefiniteSystem = errors.New("indefinite system: cholesky pivot <= 0")

	// ErrInconsistentDims is returned when a linearized factor's block
	// width disagrees with a variable's manifold dimension.
	ErrInconsistentDims = errors.New("inconsistent block dimensions")
)
