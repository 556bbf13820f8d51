package ordering

import "github.com/pkg/errors"

// VectorValues is a dense, Index-addressable container of variable-dimension
// float64 rows: the physical storage backing the engine's running delta
// vectors (delta, deltaNewton, deltaRg).
type VectorValues struct {
	rows [][]float64
}

// NewVectorValues returns an empty VectorValues.
func NewVectorValues() *VectorValues {
	return &VectorValues{}
}

// Len returns the number of rows.
func (v *VectorValues) Len() int {
	return len(v.rows)
}

// At returns the row physically stored at i.
func (v *VectorValues) At(i Index) []float64 {
	return v.rows[i]
}

// Set overwrites the row physically stored at i.
func (v *VectorValues) Set(i Index, row []float64) {
	v.rows[i] = row
}

// Extend appends one zero row of the given dimension for every dim in dims,
// in order. Used by AddVariables to grow delta/deltaNewton/deltaRg in
// lockstep with the ordering.
func (v *VectorValues) Extend(dims ...int) {
	for _, d := range dims {
		v.rows = append(v.rows, make([]float64, d))
	}
}

// Clone returns a deep copy.
func (v *VectorValues) Clone() *VectorValues {
	out := &VectorValues{rows: make([][]float64, len(v.rows))}
	for i, r := range v.rows {
		out.rows[i] = append([]float64(nil), r...)
	}
	return out
}

// PermutedVector pairs a Permutation with a VectorValues. Reading at logical
// index i returns the row physically stored at permutation[i]; the
// permutation and the container share no coupling beyond this indirection,
// so re-sorting the ordering is an O(N) rewrite of the permutation, never a
// data move (spec.md section 9).
type PermutedVector struct {
	perm      Permutation
	container *VectorValues
}

// NewPermutedVector returns a PermutedVector with the identity permutation,
// sized to container's current length.
func NewPermutedVector(container *VectorValues) *PermutedVector {
	return &PermutedVector{
		perm:      IdentityPermutation(container.Len()),
		container: container,
	}
}

// At returns the row at logical index i.
func (p *PermutedVector) At(i Index) []float64 {
	return p.container.At(p.perm[i])
}

// Set overwrites the row at logical index i.
func (p *PermutedVector) Set(i Index, row []float64) {
	p.container.Set(p.perm[i], row)
}

// Len returns the number of logical rows.
func (p *PermutedVector) Len() int {
	return len(p.perm)
}

// Permutation returns the current permutation. The returned slice must not
// be mutated by the caller.
func (p *PermutedVector) Permutation() Permutation {
	return p.perm
}

// ExtendIdentity grows the logical length to newLen by appending identity
// entries on the new indices: the new logical index i maps to physical
// index i, matching the AddVariables extension law (new rows are zero
// vectors at identity-permuted positions).
func (p *PermutedVector) ExtendIdentity(newLen int) error {
	if newLen < len(p.perm) {
		return errors.Errorf("cannot shrink permuted vector from %d to %d", len(p.perm), newLen)
	}
	for i := len(p.perm); i < newLen; i++ {
		p.perm = append(p.perm, Index(i))
	}
	return nil
}

// permuteInPlace rewrites p's own permutation metadata so that its logical
// contents follow an ordering-wide PermuteInPlace(structPerm) call: the new
// permutation composes the old one with structPerm (newPerm[i] =
// oldPerm[structPerm[i]]), which is exactly the "reading at logical index i
// returns what reading at structPerm[i] returned before" rule applied to
// this view.
func (p *PermutedVector) permuteInPlace(structPerm Permutation) {
	structPerm = structPerm.Extended(len(p.perm))
	newPerm := make(Permutation, len(p.perm))
	for i, s := range structPerm {
		newPerm[i] = p.perm[s]
	}
	p.perm = newPerm
}

// Clone returns a deep copy sharing no storage with the receiver.
func (p *PermutedVector) Clone() *PermutedVector {
	return &PermutedVector{
		perm:      append(Permutation(nil), p.perm...),
		container: p.container.Clone(),
	}
}

// CloneWithContainer returns a deep copy using container as the (already
// cloned) physical storage, and a copy of p's permutation. Used when
// several PermutedVectors must all move to a freshly cloned Engine's own
// VectorValues instances while keeping the rest of Engine.Clone simple.
func (p *PermutedVector) CloneWithContainer(container *VectorValues) *PermutedVector {
	return &PermutedVector{
		perm:      append(Permutation(nil), p.perm...),
		container: container,
	}
}
