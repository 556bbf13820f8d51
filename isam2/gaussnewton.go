package isam2

import (
	"github.com/quadrature/isam2/bayestree"
	"github.com/quadrature/isam2/nonlinear"
	"github.com/quadrature/isam2/ordering"
)

// runStepController dispatches to the configured nonlinear step controller
// (C6) and leaves the result in e.delta.
func (e *Engine) runStepController() error {
	switch e.params.Optimization {
	case Dogleg:
		return e.doglegStep()
	default:
		return e.backSubstitute(e.delta)
	}
}

// backSubstitute runs Gauss-Newton back-substitution from every Bayes tree
// root down through children, writing each clique's solved frontal update
// into dst. A clique whose frontal variable is not marked replaced carries
// no new conditional and no separator value that could have moved (every
// ancestor of a replaced clique is replaced too, by construction of
// AffectedCliques), so it and its whole subtree are skipped outright. Among
// replaced cliques that are visited, one whose solved update barely differs
// (in the infinity norm) from what dst already held still leaves its
// subtree unmarked: wildfire propagation, bounded by
// Params.GaussNewton.WildfireThreshold.
func (e *Engine) backSubstitute(dst *ordering.PermutedVector) error {
	visited := make(map[*bayestree.Clique]bool)

	var visit func(c *bayestree.Clique) error
	visit = func(c *bayestree.Clique) error {
		if visited[c] {
			return nil
		}
		visited[c] = true

		frontal := c.FrontalKeys()[0]
		if !e.replaced[frontal] {
			return nil
		}

		sep := make(map[nonlinear.Key][]float64, len(c.SeparatorKeys()))
		for _, k := range c.SeparatorKeys() {
			idx, _ := e.ordering.At(k)
			sep[k] = dst.At(idx)
		}

		x, err := c.Conditional().SolveInPlace(sep)
		if err != nil {
			return err
		}

		idx, _ := e.ordering.At(frontal)
		old := dst.At(idx)
		changed := len(old) != len(x) || vectorInfNorm(diff(old, x)) > e.params.GaussNewton.WildfireThreshold
		dst.Set(idx, x)
		delete(e.replaced, frontal)

		if changed {
			for _, ch := range c.Children() {
				e.replaced[ch.FrontalKeys()[0]] = true
				if err := visit(ch); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, r := range e.tree.Roots() {
		if err := visit(r); err != nil {
			return err
		}
	}
	return nil
}

func diff(a, b []float64) []float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i] = av - bv
	}
	return out
}
