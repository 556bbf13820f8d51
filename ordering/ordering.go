// Package ordering implements the bijection between variable Keys and dense
// elimination indices (C1), and the permutation machinery used to reindex
// it and any registered per-variable vector storage without rewriting the
// underlying data.
package ordering

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/quadrature/isam2/nonlinear"
)

// Index is a dense elimination index. Lower indices are eliminated first.
type Index int

// Ordering is a bijection between nonlinear.Key and Index, backed by a
// hashed dual index so both directions are O(1) expected.
type Ordering struct {
	keyToIndex map[nonlinear.Key]Index
	indexToKey []nonlinear.Key
}

// New returns an empty Ordering.
func New() *Ordering {
	return &Ordering{keyToIndex: make(map[nonlinear.Key]Index)}
}

// Insert appends a fresh Index for key. Returns nonlinear.ErrDuplicateKey if
// key is already present.
func (o *Ordering) Insert(key nonlinear.Key) (Index, error) {
	if _, ok := o.keyToIndex[key]; ok {
		return 0, errors.Wrapf(nonlinear.ErrDuplicateKey, "key %v", key)
	}
	idx := Index(len(o.indexToKey))
	o.indexToKey = append(o.indexToKey, key)
	o.keyToIndex[key] = idx
	return idx, nil
}

// At returns the Index assigned to key.
func (o *Ordering) At(key nonlinear.Key) (Index, bool) {
	idx, ok := o.keyToIndex[key]
	return idx, ok
}

// KeyOf returns the Key assigned to idx. Panics if idx is out of range,
// which indicates a programmer error (an internal invariant violation, not
// a surfaceable condition per spec).
func (o *Ordering) KeyOf(idx Index) nonlinear.Key {
	return o.indexToKey[idx]
}

// Len returns the number of variables in the ordering.
func (o *Ordering) Len() int {
	return len(o.indexToKey)
}

// Keys returns every key, ordered by Index. The returned slice is a copy.
func (o *Ordering) Keys() []nonlinear.Key {
	out := make([]nonlinear.Key, len(o.indexToKey))
	copy(out, o.indexToKey)
	return out
}

// Clone returns a deep copy.
func (o *Ordering) Clone() *Ordering {
	out := &Ordering{
		keyToIndex: make(map[nonlinear.Key]Index, len(o.keyToIndex)),
		indexToKey: make([]nonlinear.Key, len(o.indexToKey)),
	}
	copy(out.indexToKey, o.indexToKey)
	for k, v := range o.keyToIndex {
		out.keyToIndex[k] = v
	}
	return out
}

// PermuteInPlace reorders every Key<->Index pair according to perm, and
// rewrites every PermutedVector registered via views so that their logical
// contents move with the ordering. perm shorter than o.Len() is implicitly
// extended by identity on the remaining tail, per the edge policy in
// spec.md section 4.1.
//
// Rule: reading at logical index i after the permute returns what reading
// at perm[i] returned before.
func (o *Ordering) PermuteInPlace(perm Permutation, views ...*PermutedVector) error {
	perm = perm.Extended(o.Len())
	if err := perm.validate(o.Len()); err != nil {
		return err
	}

	newIndexToKey := make([]nonlinear.Key, o.Len())
	for i, p := range perm {
		newIndexToKey[i] = o.indexToKey[p]
	}
	o.indexToKey = newIndexToKey
	for k := range o.keyToIndex {
		delete(o.keyToIndex, k)
	}
	for i, k := range o.indexToKey {
		o.keyToIndex[k] = Index(i)
	}

	for _, v := range views {
		v.permuteInPlace(perm)
	}
	return nil
}

// Permutation is a bijection Index -> Index.
type Permutation []Index

// IdentityPermutation returns the identity permutation of length n.
func IdentityPermutation(n int) Permutation {
	p := make(Permutation, n)
	for i := range p {
		p[i] = Index(i)
	}
	return p
}

// Extended returns a copy of p extended to length n by identity on any
// added tail indices. If p is already at least length n, it is returned
// unchanged (not copied).
func (p Permutation) Extended(n int) Permutation {
	if len(p) >= n {
		return p
	}
	out := make(Permutation, n)
	copy(out, p)
	for i := len(p); i < n; i++ {
		out[i] = Index(i)
	}
	return out
}

// Inverse returns the inverse permutation.
func (p Permutation) Inverse() Permutation {
	inv := make(Permutation, len(p))
	for i, v := range p {
		inv[v] = Index(i)
	}
	return inv
}

// Compose returns the permutation equivalent to applying p first, then q:
// result[i] = q[p[i]].
func Compose(q, p Permutation) Permutation {
	n := len(p)
	if len(q) > n {
		n = len(q)
	}
	p = p.Extended(n)
	q = q.Extended(n)
	out := make(Permutation, n)
	for i := range out {
		out[i] = q[p[i]]
	}
	return out
}

func (p Permutation) validate(n int) error {
	if len(p) != n {
		return errors.Errorf("permutation length %d does not match ordering length %d", len(p), n)
	}
	seen := make([]bool, n)
	for _, v := range p {
		if int(v) < 0 || int(v) >= n || seen[v] {
			return errors.Errorf("permutation is not a bijection on [0,%d)", n)
		}
		seen[v] = true
	}
	return nil
}

// ConstrainedLastKeys forces the listed keys to the tail of an elimination
// ordering, grouped and ordered by ascending group number, with ties
// within a group broken by the keys' current Index (see OrderIndices).
type ConstrainedLastKeys map[nonlinear.Key]int

// OrderIndices returns indices sorted for elimination: unconstrained
// indices first (by current Index, ascending), then constrained indices
// grouped by ascending group, ties within a group broken by current Index.
func OrderIndices(indices []Index, o *Ordering, constrained ConstrainedLastKeys) []Index {
	type entry struct {
		idx       Index
		group     int
		isGrouped bool
	}
	entries := make([]entry, len(indices))
	for i, idx := range indices {
		e := entry{idx: idx}
		if constrained != nil {
			if g, ok := constrained[o.KeyOf(idx)]; ok {
				e.group, e.isGrouped = g, true
			}
		}
		entries[i] = e
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.isGrouped != b.isGrouped {
			return !a.isGrouped // unconstrained before constrained
		}
		if a.isGrouped && a.group != b.group {
			return a.group < b.group
		}
		return a.idx < b.idx
	})
	out := make([]Index, len(entries))
	for i, e := range entries {
		out[i] = e.idx
	}
	return out
}
