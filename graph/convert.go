package graph

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/quadrature/isam2/nonlinear"
)

// JacobianToHessian converts j's residual ||Ax - b||^2 to information form
// G = A^T A, g = A^T b, c = b^T b. Used to cache a clique's contribution to
// its separator in the form spec.md's data model stores (a HessianFactor),
// so that several children's contributions can later be combined by simple
// addition rather than by re-stacking Jacobian rows of possibly differing
// column structure.
func JacobianToHessian(j *JacobianFactor) *HessianFactor {
	keys := j.Keys()
	dims := make([]int, len(keys))
	n := 0
	offsets := make([]int, len(keys))
	for i, k := range keys {
		block, _ := j.Block(k)
		_, cols := block.Dims()
		dims[i] = cols
		offsets[i] = n
		n += cols
	}

	A := mat.NewDense(j.Dim(), n, nil)
	for i, k := range keys {
		block, _ := j.Block(k)
		sub := A.Slice(0, j.Dim(), offsets[i], offsets[i]+dims[i]).(*mat.Dense)
		sub.Copy(block)
	}

	var GDense mat.Dense
	GDense.Mul(A.T(), A)
	G := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for k := i; k < n; k++ {
			G.SetSym(i, k, GDense.At(i, k))
		}
	}

	g := mat.NewVecDense(n, nil)
	g.MulVec(A.T(), j.B())

	c := mat.Dot(j.B(), j.B())

	return NewHessianFactor(keys, dims, G, g, c)
}

// HessianToPseudoJacobian converts an information-form HessianFactor back
// into an equivalent square-root (Jacobian) factor via the Cholesky factor
// of G, so that a cached separator marginal can be fed back into
// linalg.EliminateOne alongside ordinary JacobianFactors. Returns
// nonlinear.ErrIndefiniteSystem if G is not positive definite, which should
// not happen for a Hessian produced by JacobianToHessian from a
// well-posed elimination.
func HessianToPseudoJacobian(h *HessianFactor) (*JacobianFactor, error) {
	n := h.Dim()
	var chol mat.Cholesky
	if ok := chol.Factorize(h.G()); !ok {
		return nil, errors.WithStack(nonlinear.ErrIndefiniteSystem)
	}
	var uTri mat.TriDense
	chol.UTo(&uTri)
	U := mat.DenseCopyOf(&uTri)

	lowerData := make([]float64, n*n)
	lower := mat.NewTriDense(n, mat.Lower, lowerData)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			lower.SetTri(i, j, U.At(j, i))
		}
	}
	b := mat.NewVecDense(n, nil)
	if err := b.SolveVec(lower, h.GVec()); err != nil {
		return nil, errors.Wrap(err, "recovering square-root factor from cached separator")
	}

	blocks := make([]*mat.Dense, len(h.Keys()))
	offset := 0
	for i, dim := range h.Dims() {
		blocks[i] = mat.DenseCopyOf(U.Slice(0, n, offset, offset+dim))
		offset += dim
	}
	return NewJacobianFactor(h.Keys(), blocks, b), nil
}
