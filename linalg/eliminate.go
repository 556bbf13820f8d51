// Package linalg drives gonum's dense factorizations (C2): it turns a set
// of stacked JacobianFactors touching one variable into a GaussianConditional
// for that variable plus a JacobianFactor summarizing what remains on the
// separator, using either Cholesky-on-the-information-matrix or direct QR.
package linalg

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/quadrature/isam2/graph"
	"github.com/quadrature/isam2/nonlinear"
)

// Factorization selects the numerical method used to eliminate a variable.
type Factorization int

const (
	// Cholesky forms the information matrix and factorizes it in place.
	// The default; fails with nonlinear.ErrIndefiniteSystem on a
	// non-positive pivot.
	Cholesky Factorization = iota
	// QR factorizes [A|b] directly, avoiding squaring the condition number.
	QR
)

// EliminateOne eliminates variable v from the combined rows of factors
// (every factor in factors must touch v). dims supplies the tangent-space
// dimension for v and every other key appearing in factors. It returns the
// conditional p(v | separator) and the JacobianFactor summarizing the
// remaining separator variables (nil if the separator is empty, i.e. v was
// the last variable and this was the root).
func EliminateOne(
	mode Factorization,
	v nonlinear.Key,
	factors []*graph.JacobianFactor,
	dims map[nonlinear.Key]int,
) (*graph.GaussianConditional, *graph.JacobianFactor, error) {
	vDim, ok := dims[v]
	if !ok {
		return nil, nil, errors.Wrapf(nonlinear.ErrInconsistentDims, "no dimension supplied for key %v", v)
	}

	separatorKeys := orderedSeparatorKeys(v, factors)
	separatorDims := make([]int, len(separatorKeys))
	sepTotal := 0
	for i, k := range separatorKeys {
		d, ok := dims[k]
		if !ok {
			return nil, nil, errors.Wrapf(nonlinear.ErrInconsistentDims, "no dimension supplied for key %v", k)
		}
		separatorDims[i] = d
		sepTotal += d
	}
	n := vDim + sepTotal

	allKeys := append([]nonlinear.Key{v}, separatorKeys...)
	allDims := append([]int{vDim}, separatorDims...)

	A, b, err := stackFactors(factors, allKeys, allDims)
	if err != nil {
		return nil, nil, err
	}
	rows, _ := A.Dims()
	if rows < n {
		return nil, nil, errors.Wrapf(nonlinear.ErrInconsistentDims,
			"variable %v underconstrained: %d measurement rows for %d unknowns", v, rows, n)
	}

	var R *mat.Dense // n x n upper triangular
	var d *mat.VecDense

	switch mode {
	case QR:
		R, d, err = eliminateQR(A, b, n)
	case Cholesky:
		R, d, err = eliminateCholesky(A, b, n)
	default:
		err = errors.Errorf("unknown factorization mode %d", mode)
	}
	if err != nil {
		return nil, nil, err
	}

	rFF := mat.DenseCopyOf(R.Slice(0, vDim, 0, vDim))
	dF := mat.NewVecDense(vDim, append([]float64(nil), d.RawVector().Data[:vDim]...))
	sigmaF := make([]float64, vDim)
	for i := range sigmaF {
		sigmaF[i] = 1.0
	}

	var rFS *mat.Dense
	if sepTotal > 0 {
		rFS = mat.DenseCopyOf(R.Slice(0, vDim, vDim, n))
	}

	conditional := graph.NewGaussianConditional(
		[]nonlinear.Key{v}, []int{vDim},
		separatorKeys, separatorDims,
		rFF, rFS, dF, sigmaF,
	)

	if sepTotal == 0 {
		return conditional, nil, nil
	}

	remA := mat.DenseCopyOf(R.Slice(vDim, n, vDim, n))
	remB := mat.NewVecDense(sepTotal, append([]float64(nil), d.RawVector().Data[vDim:n]...))

	blocks := make([]*mat.Dense, len(separatorKeys))
	offset := 0
	for i, dim := range separatorDims {
		blocks[i] = mat.DenseCopyOf(remA.Slice(0, sepTotal, offset, offset+dim))
		offset += dim
	}
	remaining := graph.NewJacobianFactor(separatorKeys, blocks, remB)

	return conditional, remaining, nil
}

func eliminateQR(A *mat.Dense, b *mat.VecDense, n int) (*mat.Dense, *mat.VecDense, error) {
	rows, cols := A.Dims()
	// mat.QR needs at least as many rows as columns; zero rows padded below
	// leave the least-squares solution unchanged.
	qrRows := rows
	if qrRows < cols+1 {
		qrRows = cols + 1
	}
	augmented := mat.NewDense(qrRows, cols+1, nil)
	augmented.Slice(0, rows, 0, cols).(*mat.Dense).Copy(A)
	for i := 0; i < rows; i++ {
		augmented.Set(i, cols, b.AtVec(i))
	}

	var qr mat.QR
	qr.Factorize(augmented)
	var r mat.Dense
	qr.RTo(&r)

	top := mat.DenseCopyOf(r.Slice(0, n, 0, n+1))
	R := mat.DenseCopyOf(top.Slice(0, n, 0, n))
	d := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		d.SetVec(i, top.At(i, n))
	}
	return R, d, nil
}

func eliminateCholesky(A *mat.Dense, b *mat.VecDense, n int) (*mat.Dense, *mat.VecDense, error) {
	var lambdaDense mat.Dense
	lambdaDense.Mul(A.T(), A)
	lambda := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			lambda.SetSym(i, j, lambdaDense.At(i, j))
		}
	}

	eta := mat.NewVecDense(n, nil)
	eta.MulVec(A.T(), b)

	var chol mat.Cholesky
	if ok := chol.Factorize(lambda); !ok {
		return nil, nil, errors.WithStack(nonlinear.ErrIndefiniteSystem)
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

	z := mat.NewVecDense(n, nil)
	if err := z.SolveVec(lower, eta); err != nil {
		return nil, nil, errors.Wrap(err, "back-substitution against cholesky factor failed")
	}

	return U, z, nil
}

// stackFactors builds the dense [A | b] representation for factors, laid
// out in column blocks matching allKeys/allDims. Factors that do not touch
// a given key contribute a zero block for it.
func stackFactors(factors []*graph.JacobianFactor, allKeys []nonlinear.Key, allDims []int) (*mat.Dense, *mat.VecDense, error) {
	totalRows := 0
	for _, f := range factors {
		totalRows += f.Dim()
	}
	n := 0
	offsets := make(map[nonlinear.Key]int, len(allKeys))
	for i, k := range allKeys {
		offsets[k] = n
		n += allDims[i]
	}

	A := mat.NewDense(totalRows, n, nil)
	b := mat.NewVecDense(totalRows, nil)

	rowOffset := 0
	for _, f := range factors {
		rows := f.Dim()
		for _, k := range f.Keys() {
			block, ok := f.Block(k)
			if !ok {
				continue
			}
			colOffset, known := offsets[k]
			if !known {
				return nil, nil, errors.Wrapf(nonlinear.ErrInconsistentDims, "factor touches unexpected key %v", k)
			}
			br, bc := block.Dims()
			if br != rows {
				return nil, nil, errors.Wrapf(nonlinear.ErrInconsistentDims, "block for %v has %d rows, factor has dim %d", k, br, rows)
			}
			sub := A.Slice(rowOffset, rowOffset+rows, colOffset, colOffset+bc).(*mat.Dense)
			sub.Copy(block)
		}
		for i := 0; i < rows; i++ {
			b.SetVec(rowOffset+i, f.B().AtVec(i))
		}
		rowOffset += rows
	}
	return A, b, nil
}

func orderedSeparatorKeys(v nonlinear.Key, factors []*graph.JacobianFactor) []nonlinear.Key {
	seen := map[nonlinear.Key]bool{v: true}
	var out []nonlinear.Key
	for _, f := range factors {
		for _, k := range f.Keys() {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
