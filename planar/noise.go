package planar

import "github.com/pkg/errors"

// DiagonalNoise is a diagonal Gaussian noise model: independent sigma per
// residual component.
type DiagonalNoise struct {
	sigmas []float64
}

// NewDiagonalNoise returns a DiagonalNoise with the given per-component
// standard deviations. Returns an error if any sigma is non-positive.
func NewDiagonalNoise(sigmas ...float64) (*DiagonalNoise, error) {
	for i, s := range sigmas {
		if s <= 0 {
			return nil, errors.Errorf("sigma %d must be positive, got %v", i, s)
		}
	}
	return &DiagonalNoise{sigmas: append([]float64(nil), sigmas...)}, nil
}

// Dim returns the number of residual components this noise model covers.
func (n *DiagonalNoise) Dim() int { return len(n.sigmas) }

// Sigma returns the standard deviation of component i.
func (n *DiagonalNoise) Sigma(i int) float64 { return n.sigmas[i] }

// Whiten divides r elementwise by sigma.
func (n *DiagonalNoise) Whiten(r []float64) []float64 {
	out := make([]float64, len(r))
	for i, v := range r {
		out[i] = v / n.sigmas[i]
	}
	return out
}
