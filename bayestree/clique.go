// Package bayestree implements the Bayes tree (C4): a clique tree in which
// each clique holds a GaussianConditional over one frontal variable given
// its separator, plus a cached HessianFactor summarizing everything
// eliminated beneath it. This implementation gives every clique exactly one
// frontal variable (see DESIGN.md) rather than merging multiple frontals
// into a clique; every invariant spec.md states about frontal sets,
// separators, and affected subtrees holds regardless of how many frontals a
// clique carries, so the simplification costs nothing but the (optional)
// performance win of merging.
package bayestree

import (
	"gonum.org/v1/gonum/mat"

	"github.com/quadrature/isam2/graph"
	"github.com/quadrature/isam2/nonlinear"
	"github.com/quadrature/isam2/ordering"
)

// Clique is one node of the Bayes tree: a conditional on its frontal
// variable given its separator, plus bookkeeping the engine needs to avoid
// recomputing work that an update did not actually invalidate.
type Clique struct {
	index       ordering.Index
	conditional *graph.GaussianConditional

	cachedSeparator *graph.HessianFactor
	gradient        *mat.VecDense

	parent   *Clique
	children []*Clique
}

// NewClique wraps conditional as a fresh, unattached clique at the given
// elimination index (the index of its single frontal variable).
func NewClique(index ordering.Index, conditional *graph.GaussianConditional) *Clique {
	return &Clique{index: index, conditional: conditional}
}

// Index returns the elimination index of this clique's frontal variable.
func (c *Clique) Index() ordering.Index { return c.index }

// Conditional returns the clique's GaussianConditional.
func (c *Clique) Conditional() *graph.GaussianConditional { return c.conditional }

// FrontalKeys returns the clique's frontal variables (always length 1 in
// this implementation).
func (c *Clique) FrontalKeys() []nonlinear.Key { return c.conditional.FrontalKeys() }

// SeparatorKeys returns the clique's separator variables.
func (c *Clique) SeparatorKeys() []nonlinear.Key { return c.conditional.SeparatorKeys() }

// Parent returns the clique's parent, or nil at the root.
func (c *Clique) Parent() *Clique { return c.parent }

// Children returns the clique's children. The returned slice must not be
// mutated by the caller.
func (c *Clique) Children() []*Clique { return c.children }

// IsRoot reports whether this clique has no parent.
func (c *Clique) IsRoot() bool { return c.parent == nil }

// CachedSeparator returns the memoized marginal on the separator
// contributed by this clique's subtree, or nil if never computed.
func (c *Clique) CachedSeparator() *graph.HessianFactor { return c.cachedSeparator }

// SetCachedSeparator stores the memoized separator marginal.
func (c *Clique) SetCachedSeparator(h *graph.HessianFactor) { c.cachedSeparator = h }

// GradientContribution returns this clique's contribution to the global
// gradient at the current linearization point, used by the dogleg
// controller's Cauchy-point direction without re-touching the whole system.
func (c *Clique) GradientContribution() *mat.VecDense { return c.gradient }

// SetGradientContribution stores the clique's gradient contribution.
func (c *Clique) SetGradientContribution(g *mat.VecDense) { c.gradient = g }

func removeChild(parent, child *Clique) {
	for i, ch := range parent.children {
		if ch == child {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
}
