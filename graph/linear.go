// Package graph implements the Gaussian linear-factor types the engine
// elimination produces and consumes, and the Factor Cache (C3) that stores
// nonlinear factors alongside their current linearizations.
package graph

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/quadrature/isam2/nonlinear"
)

// JacobianFactor holds a block matrix [A1 ... Ak | b] and implicitly
// represents the residual ||A*x - b||^2. Blocks is parallel to Keys.
type JacobianFactor struct {
	keys   []nonlinear.Key
	blocks []*mat.Dense
	b      *mat.VecDense
}

// NewJacobianFactor constructs a JacobianFactor. len(blocks) must equal
// len(keys); every block must have the same number of rows as b.
func NewJacobianFactor(keys []nonlinear.Key, blocks []*mat.Dense, b *mat.VecDense) *JacobianFactor {
	return &JacobianFactor{keys: append([]nonlinear.Key(nil), keys...), blocks: blocks, b: b}
}

// Keys returns the ordered tuple of variables this factor touches.
func (j *JacobianFactor) Keys() []nonlinear.Key { return j.keys }

// Dim returns the number of residual rows.
func (j *JacobianFactor) Dim() int { return j.b.Len() }

// Block returns the Jacobian block for key, if this factor touches it.
func (j *JacobianFactor) Block(key nonlinear.Key) (*mat.Dense, bool) {
	for i, k := range j.keys {
		if k == key {
			return j.blocks[i], true
		}
	}
	return nil, false
}

// B returns the right-hand side vector.
func (j *JacobianFactor) B() *mat.VecDense { return j.b }

// HessianFactor holds the equivalent x^T G x - 2 g^T x + c information form,
// used to represent a clique's cached separator factor: the marginal
// contribution passed up from a clique's descendants.
type HessianFactor struct {
	keys []nonlinear.Key
	dims []int
	g    *mat.VecDense
	bigG *mat.SymDense
	c    float64
}

// NewHessianFactor constructs a HessianFactor over the given keys (with
// per-key tangent dimensions dims, same order), quadratic term G, linear
// term g, and constant c.
func NewHessianFactor(keys []nonlinear.Key, dims []int, G *mat.SymDense, g *mat.VecDense, c float64) *HessianFactor {
	return &HessianFactor{
		keys: append([]nonlinear.Key(nil), keys...),
		dims: append([]int(nil), dims...),
		bigG: G,
		g:    g,
		c:    c,
	}
}

// EmptyHessianFactor returns a HessianFactor over zero keys, representing
// "no cached contribution" (the root clique's cache).
func EmptyHessianFactor() *HessianFactor {
	return &HessianFactor{}
}

// Keys returns the ordered tuple of variables this factor touches.
func (h *HessianFactor) Keys() []nonlinear.Key { return h.keys }

// Dim returns the total dimension (sum of per-key dims).
func (h *HessianFactor) Dim() int {
	n := 0
	for _, d := range h.dims {
		n += d
	}
	return n
}

// Dims returns the per-key tangent dimensions, parallel to Keys.
func (h *HessianFactor) Dims() []int { return h.dims }

// Empty reports whether this factor carries no variables (the root
// clique's empty cache).
func (h *HessianFactor) Empty() bool { return len(h.keys) == 0 }

// G returns the quadratic term.
func (h *HessianFactor) G() *mat.SymDense { return h.bigG }

// Block returns the block of G at (keyRow, keyCol), found by the offsets
// implied by Dims/Keys order.
func (h *HessianFactor) Block(keyRow, keyCol nonlinear.Key) (*mat.Dense, bool) {
	ro, rd, ok1 := h.offsetOf(keyRow)
	co, cd, ok2 := h.offsetOf(keyCol)
	if !ok1 || !ok2 {
		return nil, false
	}
	out := mat.NewDense(rd, cd, nil)
	for r := 0; r < rd; r++ {
		for c := 0; c < cd; c++ {
			out.Set(r, c, h.bigG.At(ro+r, co+c))
		}
	}
	return out, true
}

// GVec returns the linear term g.
func (h *HessianFactor) GVec() *mat.VecDense { return h.g }

// C returns the constant term.
func (h *HessianFactor) C() float64 { return h.c }

func (h *HessianFactor) offsetOf(key nonlinear.Key) (offset, dim int, ok bool) {
	off := 0
	for i, k := range h.keys {
		if k == key {
			return off, h.dims[i], true
		}
		off += h.dims[i]
	}
	return 0, 0, false
}

// GaussianConditional represents p(frontal | separator), stored as the
// upper-triangular block [R_FF R_FS | d_F] plus a per-frontal-row diagonal
// noise scaling. This implementation always uses a single frontal variable
// per conditional/clique (see DESIGN.md on clique merging); nothing in the
// type itself assumes that, so it generalizes cleanly if merging is added.
type GaussianConditional struct {
	frontalKeys   []nonlinear.Key
	frontalDims   []int
	separatorKeys []nonlinear.Key
	separatorDims []int
	rFF           *mat.Dense // upper triangular, frontalDim x frontalDim
	rFS           *mat.Dense // frontalDim x separatorDim, nil if separator is empty
	d             *mat.VecDense
	sigma         []float64 // per-frontal-row noise scaling
}

// NewGaussianConditional constructs a conditional. rFS may be nil when the
// separator is empty (the root of a Bayes tree).
func NewGaussianConditional(
	frontalKeys []nonlinear.Key, frontalDims []int,
	separatorKeys []nonlinear.Key, separatorDims []int,
	rFF, rFS *mat.Dense, d *mat.VecDense, sigma []float64,
) *GaussianConditional {
	return &GaussianConditional{
		frontalKeys:   append([]nonlinear.Key(nil), frontalKeys...),
		frontalDims:   append([]int(nil), frontalDims...),
		separatorKeys: append([]nonlinear.Key(nil), separatorKeys...),
		separatorDims: append([]int(nil), separatorDims...),
		rFF:           rFF,
		rFS:           rFS,
		d:             d,
		sigma:         sigma,
	}
}

// FrontalKeys returns the conditional's frontal variables.
func (g *GaussianConditional) FrontalKeys() []nonlinear.Key { return g.frontalKeys }

// SeparatorKeys returns the conditional's separator variables.
func (g *GaussianConditional) SeparatorKeys() []nonlinear.Key { return g.separatorKeys }

// FrontalDim returns the total dimension across frontal variables.
func (g *GaussianConditional) FrontalDim() int {
	n := 0
	for _, d := range g.frontalDims {
		n += d
	}
	return n
}

// RFF returns the upper-triangular frontal block.
func (g *GaussianConditional) RFF() *mat.Dense { return g.rFF }

// RFS returns the frontal-by-separator block, or nil if the separator is
// empty.
func (g *GaussianConditional) RFS() *mat.Dense { return g.rFS }

// D returns the right-hand side.
func (g *GaussianConditional) D() *mat.VecDense { return g.d }

// Sigma returns the per-frontal-row noise scaling.
func (g *GaussianConditional) Sigma() []float64 { return g.sigma }

// SolveInPlace solves R_FF * x_F = d - R_FS * x_S for x_F, given the already
// -solved separator values in sep (keyed by nonlinear.Key, in this
// conditional's separatorKeys order is not required: lookups are by key).
func (g *GaussianConditional) SolveInPlace(sep map[nonlinear.Key][]float64) ([]float64, error) {
	rhs := mat.VecDenseCopyOf(g.d)
	if g.rFS != nil && len(g.separatorKeys) > 0 {
		xS := make([]float64, 0, g.rFS.RawMatrix().Cols)
		for _, k := range g.separatorKeys {
			v, ok := sep[k]
			if !ok {
				return nil, errors.Errorf("missing separator value for key %v", k)
			}
			xS = append(xS, v...)
		}
		var correction mat.VecDense
		correction.MulVec(g.rFS, mat.NewVecDense(len(xS), xS))
		rhs.SubVec(rhs, &correction)
	}
	x := mat.NewVecDense(rhs.Len(), nil)
	u := mat.NewTriDense(g.rFF.RawMatrix().Rows, mat.Upper, nil)
	u.Copy(g.rFF)
	if err := x.SolveVec(u, rhs); err != nil {
		return nil, errors.Wrap(err, "triangular solve failed")
	}
	return x.RawVector().Data, nil
}
