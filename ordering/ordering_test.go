package ordering_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.viam.com/test"

	"github.com/quadrature/isam2/nonlinear"
	"github.com/quadrature/isam2/ordering"
)

func TestOrderingInsertAndLookup(t *testing.T) {
	o := ordering.New()
	k1 := nonlinear.NewKey('x', 0)
	k2 := nonlinear.NewKey('x', 1)

	i1, err := o.Insert(k1)
	test.That(t, err, test.ShouldBeNil)
	i2, err := o.Insert(k2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, i1, test.ShouldEqual, ordering.Index(0))
	test.That(t, i2, test.ShouldEqual, ordering.Index(1))

	test.That(t, o.KeyOf(i1), test.ShouldEqual, k1)
	test.That(t, o.KeyOf(i2), test.ShouldEqual, k2)

	_, err = o.Insert(k1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOrderingCloneIsIndependent(t *testing.T) {
	o := ordering.New()
	k1 := nonlinear.NewKey('x', 0)
	_, err := o.Insert(k1)
	test.That(t, err, test.ShouldBeNil)

	clone := o.Clone()
	k2 := nonlinear.NewKey('x', 1)
	_, err = clone.Insert(k2)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, o.Len(), test.ShouldEqual, 1)
	test.That(t, clone.Len(), test.ShouldEqual, 2)
	// Beyond the length check, the original's key sequence must be
	// byte-for-byte unaffected by mutating the clone.
	if diff := cmp.Diff([]nonlinear.Key{k1}, o.Keys()); diff != "" {
		t.Fatalf("original ordering diverged after cloning (-want +got):\n%s", diff)
	}
}

func TestPermutationInverseRoundTrip(t *testing.T) {
	p := ordering.Permutation{2, 0, 1}
	inv := p.Inverse()
	for i, v := range p {
		test.That(t, inv[v], test.ShouldEqual, ordering.Index(i))
	}
	// Composing a permutation with its inverse must round-trip to identity.
	identity := ordering.IdentityPermutation(len(p))
	if diff := cmp.Diff(identity, ordering.Compose(inv, p)); diff != "" {
		t.Fatalf("permutation did not round-trip to identity (-want +got):\n%s", diff)
	}
}

func TestPermuteInPlaceReadsFollowRule(t *testing.T) {
	o := ordering.New()
	keys := make([]nonlinear.Key, 3)
	for i := range keys {
		keys[i] = nonlinear.NewKey('x', uint64(i))
		_, err := o.Insert(keys[i])
		test.That(t, err, test.ShouldBeNil)
	}

	before := o.Keys()
	perm := ordering.Permutation{2, 0, 1}
	test.That(t, o.PermuteInPlace(perm), test.ShouldBeNil)

	after := o.Keys()
	for i, p := range perm {
		test.That(t, after[i], test.ShouldEqual, before[p])
	}
}

func TestPermuteInPlaceExtendsShorterPermutation(t *testing.T) {
	o := ordering.New()
	for i := 0; i < 4; i++ {
		_, err := o.Insert(nonlinear.NewKey('x', uint64(i)))
		test.That(t, err, test.ShouldBeNil)
	}
	before := o.Keys()
	// Only permute the first two; the tail should stay put.
	test.That(t, o.PermuteInPlace(ordering.Permutation{1, 0}), test.ShouldBeNil)
	after := o.Keys()
	test.That(t, after[0], test.ShouldEqual, before[1])
	test.That(t, after[1], test.ShouldEqual, before[0])
	test.That(t, after[2], test.ShouldEqual, before[2])
	test.That(t, after[3], test.ShouldEqual, before[3])
}

func TestOrderIndicesConstrainedLastKeysPushesGroupsToTail(t *testing.T) {
	o := ordering.New()
	keys := make([]nonlinear.Key, 4)
	indices := make([]ordering.Index, 4)
	for i := range keys {
		keys[i] = nonlinear.NewKey('x', uint64(i))
		idx, err := o.Insert(keys[i])
		test.That(t, err, test.ShouldBeNil)
		indices[i] = idx
	}

	constrained := ordering.ConstrainedLastKeys{
		keys[0]: 1,
		keys[2]: 0,
	}
	ordered := ordering.OrderIndices(indices, o, constrained)

	// Unconstrained keys (1, 3) come first, in ascending index order.
	test.That(t, ordered[0], test.ShouldEqual, indices[1])
	test.That(t, ordered[1], test.ShouldEqual, indices[3])
	// Then group 0 (key 2), then group 1 (key 0).
	test.That(t, ordered[2], test.ShouldEqual, indices[2])
	test.That(t, ordered[3], test.ShouldEqual, indices[0])
}

func TestVectorValuesExtendAndPermutedVectorIndirection(t *testing.T) {
	container := ordering.NewVectorValues()
	container.Extend(2, 3)
	container.Set(0, []float64{1, 2})
	container.Set(1, []float64{3, 4, 5})

	pv := ordering.NewPermutedVector(container)
	test.That(t, pv.At(0), test.ShouldResemble, []float64{1, 2})

	test.That(t, pv.ExtendIdentity(3), test.ShouldBeNil)
	container.Extend(4)
	test.That(t, pv.At(2), test.ShouldResemble, []float64{0, 0, 0, 0})
}

func TestPermutedVectorFollowsOrderingPermuteInPlace(t *testing.T) {
	o := ordering.New()
	for i := 0; i < 3; i++ {
		_, err := o.Insert(nonlinear.NewKey('x', uint64(i)))
		test.That(t, err, test.ShouldBeNil)
	}

	container := ordering.NewVectorValues()
	container.Extend(1, 1, 1)
	container.Set(0, []float64{10})
	container.Set(1, []float64{20})
	container.Set(2, []float64{30})
	pv := ordering.NewPermutedVector(container)

	structPerm := ordering.Permutation{2, 0, 1}
	test.That(t, o.PermuteInPlace(structPerm, pv), test.ShouldBeNil)

	test.That(t, pv.At(0), test.ShouldResemble, []float64{30})
	test.That(t, pv.At(1), test.ShouldResemble, []float64{10})
	test.That(t, pv.At(2), test.ShouldResemble, []float64{20})
}
