package bayestree_test

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/quadrature/isam2/bayestree"
	"github.com/quadrature/isam2/graph"
	"github.com/quadrature/isam2/nonlinear"
	"github.com/quadrature/isam2/ordering"
)

// chainClique builds a trivial one-variable-frontal clique with no
// separator, just enough structure for Tree bookkeeping tests.
func chainClique(idx ordering.Index, key nonlinear.Key) *bayestree.Clique {
	rFF := mat.NewDense(1, 1, []float64{1})
	d := mat.NewVecDense(1, []float64{0})
	cond := graph.NewGaussianConditional(
		[]nonlinear.Key{key}, []int{1},
		nil, nil,
		rFF, nil, d, []float64{1},
	)
	return bayestree.NewClique(idx, cond)
}

// buildChain builds a 3-clique chain root -> mid -> leaf over keys a,b,c
// (root is a). The indices 0, 1, 2 given to a, b, c are labels for the
// index-bookkeeping tests and do not follow the elimination order a real
// tree would have.
func buildChain(t *testing.T) (*bayestree.Tree, map[string]nonlinear.Key, map[string]*bayestree.Clique) {
	tree := bayestree.New()
	keys := map[string]nonlinear.Key{
		"a": nonlinear.NewKey('x', 0),
		"b": nonlinear.NewKey('x', 1),
		"c": nonlinear.NewKey('x', 2),
	}
	cliques := map[string]*bayestree.Clique{
		"a": chainClique(0, keys["a"]),
		"b": chainClique(1, keys["b"]),
		"c": chainClique(2, keys["c"]),
	}
	tree.Insert(cliques["a"])
	tree.Insert(cliques["b"])
	tree.Insert(cliques["c"])
	tree.Attach(cliques["a"], nil)
	tree.Attach(cliques["b"], cliques["a"])
	tree.Attach(cliques["c"], cliques["b"])
	return tree, keys, cliques
}

func TestTreeAttachAndLookup(t *testing.T) {
	tree, keys, cliques := buildChain(t)
	test.That(t, tree.Size(), test.ShouldEqual, 3)
	test.That(t, tree.Roots(), test.ShouldResemble, []*bayestree.Clique{cliques["a"]})

	got, ok := tree.CliqueForKey(keys["b"])
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, cliques["b"])

	test.That(t, cliques["c"].Parent(), test.ShouldEqual, cliques["b"])
	test.That(t, cliques["b"].Children(), test.ShouldResemble, []*bayestree.Clique{cliques["c"]})
	test.That(t, cliques["a"].IsRoot(), test.ShouldBeTrue)
}

func TestAffectedCliquesIncludesAncestors(t *testing.T) {
	tree, keys, cliques := buildChain(t)
	affected := tree.AffectedCliques([]nonlinear.Key{keys["c"]})

	_, hasC := affected[cliques["c"]]
	_, hasB := affected[cliques["b"]]
	_, hasA := affected[cliques["a"]]
	test.That(t, hasC, test.ShouldBeTrue)
	test.That(t, hasB, test.ShouldBeTrue)
	test.That(t, hasA, test.ShouldBeTrue)
	test.That(t, len(affected), test.ShouldEqual, 3)
}

func TestAffectedCliquesFromMidSkipsUnrelatedChild(t *testing.T) {
	tree, keys, cliques := buildChain(t)
	// Marking b affects b and its ancestor a, but not b's child c.
	affected := tree.AffectedCliques([]nonlinear.Key{keys["b"]})
	_, hasC := affected[cliques["c"]]
	test.That(t, hasC, test.ShouldBeFalse)
	test.That(t, len(affected), test.ShouldEqual, 2)
}

func TestDetachAffectedProducesOrphanAndShrinksTree(t *testing.T) {
	tree, keys, cliques := buildChain(t)
	affected := tree.AffectedCliques([]nonlinear.Key{keys["b"]})
	orphans := tree.DetachAffected(affected)

	test.That(t, orphans, test.ShouldResemble, []*bayestree.Clique{cliques["c"]})
	test.That(t, cliques["c"].Parent(), test.ShouldBeNil)
	test.That(t, tree.Size(), test.ShouldEqual, 1)

	_, ok := tree.CliqueForKey(keys["a"])
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = tree.CliqueForKey(keys["b"])
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, len(tree.Roots()), test.ShouldEqual, 0)
}

func TestFindAllMatchesFrontalOrSeparator(t *testing.T) {
	tree, keys, cliques := buildChain(t)
	found := tree.FindAll([]nonlinear.Key{keys["b"]})
	test.That(t, found, test.ShouldResemble, []*bayestree.Clique{cliques["b"]})
}

func TestTreeCloneIsIndependent(t *testing.T) {
	tree, keys, cliques := buildChain(t)
	clone := tree.Clone()

	affected := clone.AffectedCliques([]nonlinear.Key{keys["b"]})
	clone.DetachAffected(affected)

	test.That(t, tree.Size(), test.ShouldEqual, 3)
	test.That(t, clone.Size(), test.ShouldEqual, 1)
	_, stillThere := tree.CliqueForKey(keys["a"])
	test.That(t, stillThere, test.ShouldBeTrue)

	clonedC, _ := clone.CliqueForKey(keys["c"])
	test.That(t, clonedC, test.ShouldNotEqual, cliques["c"])
}

func TestPermuteWithInverseRewritesIndices(t *testing.T) {
	tree, _, cliques := buildChain(t)
	// Reverse the ordering: old index 0 -> new 2, 1 -> 1, 2 -> 0.
	inverse := ordering.Permutation{2, 1, 0}
	test.That(t, tree.PermuteWithInverse(inverse), test.ShouldBeNil)

	test.That(t, cliques["a"].Index(), test.ShouldEqual, ordering.Index(2))
	test.That(t, cliques["b"].Index(), test.ShouldEqual, ordering.Index(1))
	test.That(t, cliques["c"].Index(), test.ShouldEqual, ordering.Index(0))

	got, ok := tree.CliqueForIndex(ordering.Index(2))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, cliques["a"])
}
