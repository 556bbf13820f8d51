package bayestree

import (
	"github.com/pkg/errors"

	"github.com/quadrature/isam2/nonlinear"
	"github.com/quadrature/isam2/ordering"
)

// Tree is a forest of Clique trees (normally a single tree; a forest only
// transiently, mid-update, while a removed subtree has not yet been
// re-attached). It maintains indices from both elimination Index and
// variable Key to the owning clique so affected-subtree detection does not
// need a linear scan.
type Tree struct {
	byIndex map[ordering.Index]*Clique
	byKey   map[nonlinear.Key]*Clique
	roots   []*Clique
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{
		byIndex: make(map[ordering.Index]*Clique),
		byKey:   make(map[nonlinear.Key]*Clique),
	}
}

// Insert registers c in the tree's indices without attaching it to a
// parent; callers follow with Attach (or leave it a root).
func (t *Tree) Insert(c *Clique) {
	t.byIndex[c.index] = c
	for _, k := range c.FrontalKeys() {
		t.byKey[k] = c
	}
}

// Attach sets child's parent to parent (nil meaning child becomes a root)
// and updates parent's children list.
func (t *Tree) Attach(child, parent *Clique) {
	child.parent = parent
	if parent == nil {
		t.roots = append(t.roots, child)
		return
	}
	parent.children = append(parent.children, child)
}

// CliqueForKey returns the clique whose frontal variable is key.
func (t *Tree) CliqueForKey(key nonlinear.Key) (*Clique, bool) {
	c, ok := t.byKey[key]
	return c, ok
}

// CliqueForIndex returns the clique whose frontal variable has the given
// elimination index.
func (t *Tree) CliqueForIndex(idx ordering.Index) (*Clique, bool) {
	c, ok := t.byIndex[idx]
	return c, ok
}

// Roots returns the tree's root cliques (ordinarily exactly one).
func (t *Tree) Roots() []*Clique { return t.roots }

// Size returns the total number of cliques currently in the tree.
func (t *Tree) Size() int { return len(t.byIndex) }

// AffectedCliques returns, for the given keys, the set of cliques that must
// be re-eliminated: every clique directly containing one of keys as its
// frontal variable, plus every ancestor of such a clique up to the root.
// An ancestor's cached separator marginal summarizes its whole subtree, so
// it goes stale the moment anything beneath it changes.
func (t *Tree) AffectedCliques(keys []nonlinear.Key) map[*Clique]struct{} {
	affected := make(map[*Clique]struct{})
	for _, k := range keys {
		c, ok := t.byKey[k]
		if !ok {
			continue
		}
		for cur := c; cur != nil; cur = cur.parent {
			if _, seen := affected[cur]; seen {
				break
			}
			affected[cur] = struct{}{}
		}
	}
	return affected
}

// DetachAffected removes every clique in affected from the tree: it is
// unlinked from its parent (or from the root list) and dropped from the
// byKey/byIndex indices. For every affected clique's child that is itself
// not in affected, the child is unlinked (its parent set to nil) and
// returned as an orphan; callers must reattach each orphan under whichever
// newly eliminated clique ends up owning the top of its separator.
func (t *Tree) DetachAffected(affected map[*Clique]struct{}) []*Clique {
	var orphans []*Clique
	for c := range affected {
		for _, ch := range c.children {
			if _, also := affected[ch]; !also {
				ch.parent = nil
				orphans = append(orphans, ch)
			}
		}
		if c.parent != nil {
			if _, also := affected[c.parent]; !also {
				removeChild(c.parent, c)
			}
		} else {
			t.removeRoot(c)
		}
		delete(t.byIndex, c.index)
		for _, k := range c.FrontalKeys() {
			delete(t.byKey, k)
		}
	}
	return orphans
}

func (t *Tree) removeRoot(c *Clique) {
	for i, r := range t.roots {
		if r == c {
			t.roots = append(t.roots[:i], t.roots[i+1:]...)
			return
		}
	}
}

// PermuteWithInverse rewrites the tree's elimination-index bookkeeping
// (byIndex and every clique's stored Index) to follow a structural
// permutation applied to the underlying Ordering. inverse must be the
// inverse of the permutation passed to Ordering.PermuteInPlace: clique
// formerly at physical index p now sits at logical index inverse[p].
func (t *Tree) PermuteWithInverse(inverse ordering.Permutation) error {
	newByIndex := make(map[ordering.Index]*Clique, len(t.byIndex))
	for oldIdx, c := range t.byIndex {
		if int(oldIdx) >= len(inverse) {
			return errors.Errorf("index %d out of range for permutation of length %d", oldIdx, len(inverse))
		}
		c.index = inverse[oldIdx]
		newByIndex[c.index] = c
	}
	t.byIndex = newByIndex
	return nil
}

// FindAll returns every clique in the tree whose frontal or separator set
// intersects keys, without the ancestor closure AffectedCliques applies.
// Exposed to match spec.md's Bayes Tree external interface for callers
// that want the raw touch set (for example, gradient recomputation scoping)
// rather than the affected-for-re-elimination closure.
func (t *Tree) FindAll(keys []nonlinear.Key) []*Clique {
	want := make(map[nonlinear.Key]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	seen := make(map[*Clique]struct{})
	var out []*Clique
	for _, c := range t.byIndex {
		if _, ok := seen[c]; ok {
			continue
		}
		touches := false
		for _, k := range c.FrontalKeys() {
			if _, ok := want[k]; ok {
				touches = true
				break
			}
		}
		if !touches {
			for _, k := range c.SeparatorKeys() {
				if _, ok := want[k]; ok {
					touches = true
					break
				}
			}
		}
		if touches {
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// AllCliques returns every clique currently in the tree, in no particular
// order.
func (t *Tree) AllCliques() []*Clique {
	out := make([]*Clique, 0, len(t.byIndex))
	for _, c := range t.byIndex {
		out = append(out, c)
	}
	return out
}

// Clone returns a deep copy of the tree: fresh Clique values with parent
// and child pointers re-threaded to point within the clone, never into the
// receiver.
func (t *Tree) Clone() *Tree {
	out := New()
	copies := make(map[*Clique]*Clique, len(t.byIndex))
	for _, c := range t.byIndex {
		nc := &Clique{index: c.index, conditional: c.conditional}
		if c.cachedSeparator != nil {
			nc.cachedSeparator = c.cachedSeparator
		}
		if c.gradient != nil {
			nc.gradient = c.gradient
		}
		copies[c] = nc
	}
	for old, nc := range copies {
		if old.parent != nil {
			nc.parent = copies[old.parent]
		}
		nc.children = make([]*Clique, len(old.children))
		for i, ch := range old.children {
			nc.children[i] = copies[ch]
		}
		out.Insert(nc)
	}
	for _, r := range t.roots {
		out.roots = append(out.roots, copies[r])
	}
	return out
}
