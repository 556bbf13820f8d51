package graph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/quadrature/isam2/nonlinear"
)

type slotEntry struct {
	factor nonlinear.Factor
	alive  bool
}

// Cache holds the engine's active nonlinear factors by slot, plus an
// inverted index from variable key to the slots that touch it. Slots are
// assigned densely and monotonically; removing a factor tombstones its
// slot rather than reusing or compacting it.
type Cache struct {
	slots      []slotEntry
	keyToSlots map[nonlinear.Key]map[int]struct{}
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{keyToSlots: make(map[nonlinear.Key]map[int]struct{})}
}

// Add appends factor, assigning it a fresh slot index.
func (c *Cache) Add(f nonlinear.Factor) int {
	slot := len(c.slots)
	c.slots = append(c.slots, slotEntry{factor: f, alive: true})
	for _, k := range f.Keys() {
		set, ok := c.keyToSlots[k]
		if !ok {
			set = make(map[int]struct{})
			c.keyToSlots[k] = set
		}
		set[slot] = struct{}{}
	}
	return slot
}

// Remove tombstones slot. Returns nonlinear.ErrUnknownSlot if slot is
// out-of-range or already dead.
func (c *Cache) Remove(slot int) error {
	if slot < 0 || slot >= len(c.slots) || !c.slots[slot].alive {
		return errors.Wrapf(nonlinear.ErrUnknownSlot, "slot %d", slot)
	}
	f := c.slots[slot].factor
	c.slots[slot] = slotEntry{alive: false}
	for _, k := range f.Keys() {
		if set, ok := c.keyToSlots[k]; ok {
			delete(set, slot)
			if len(set) == 0 {
				delete(c.keyToSlots, k)
			}
		}
	}
	return nil
}

// Get returns the live factor at slot, if any.
func (c *Cache) Get(slot int) (nonlinear.Factor, bool) {
	if slot < 0 || slot >= len(c.slots) || !c.slots[slot].alive {
		return nil, false
	}
	return c.slots[slot].factor, true
}

// Size returns the total number of slots ever assigned, including dead
// (tombstoned) ones; matches the conventional getFactorsUnsafe().size()
// semantics that removeFactors/swapFactors scenarios rely on (spec.md
// section 8, scenarios 4 and 5).
func (c *Cache) Size() int {
	return len(c.slots)
}

// LiveSlots returns the indices of every live slot, ascending.
func (c *Cache) LiveSlots() []int {
	out := make([]int, 0, len(c.slots))
	for i, e := range c.slots {
		if e.alive {
			out = append(out, i)
		}
	}
	return out
}

// FactorsTouching returns the union of live slots referencing any of keys.
func (c *Cache) FactorsTouching(keys []nonlinear.Key) map[int]struct{} {
	out := make(map[int]struct{})
	for _, k := range keys {
		for slot := range c.keyToSlots[k] {
			out[slot] = struct{}{}
		}
	}
	return out
}

// LinearizeAt relinearizes every slot in slots (which must be live) at est,
// returning one JacobianFactor per slot in ascending slot order. Returns
// nonlinear.ErrInconsistentDims if a factor's linearized block width
// disagrees with one of its variables' declared dimension.
func (c *Cache) LinearizeAt(slots map[int]struct{}, est *nonlinear.Estimate) ([]*JacobianFactor, error) {
	ordered := make([]int, 0, len(slots))
	for s := range slots {
		ordered = append(ordered, s)
	}
	sort.Ints(ordered)

	out := make([]*JacobianFactor, 0, len(ordered))
	for _, slot := range ordered {
		f, ok := c.Get(slot)
		if !ok {
			return nil, errors.Wrapf(nonlinear.ErrUnknownSlot, "slot %d", slot)
		}
		lin, err := f.Linearize(est)
		if err != nil {
			return nil, errors.Wrapf(err, "linearizing slot %d", slot)
		}
		jf, ok := lin.(*JacobianFactor)
		if !ok {
			return nil, errors.Wrapf(nonlinear.ErrInconsistentDims, "slot %d did not linearize to a JacobianFactor", slot)
		}
		for _, k := range jf.Keys() {
			block, _ := jf.Block(k)
			v, ok := est.At(k)
			if _, cols := block.Dims(); !ok || cols != v.Dim() {
				return nil, errors.Wrapf(nonlinear.ErrInconsistentDims, "slot %d: block width for %v", slot, k)
			}
		}
		out = append(out, jf)
	}
	return out, nil
}

// Clone returns a deep copy. Factor values are treated as immutable once
// inserted, so the slots slice is copied but factor pointers are shared.
func (c *Cache) Clone() *Cache {
	out := &Cache{
		slots:      append([]slotEntry(nil), c.slots...),
		keyToSlots: make(map[nonlinear.Key]map[int]struct{}, len(c.keyToSlots)),
	}
	for k, set := range c.keyToSlots {
		newSet := make(map[int]struct{}, len(set))
		for s := range set {
			newSet[s] = struct{}{}
		}
		out.keyToSlots[k] = newSet
	}
	return out
}

// FactorSlotView is a read-only view of live factors by slot
// (isam2.Engine.GetFactorsUnsafe).
type FactorSlotView struct {
	cache *Cache
}

// Unsafe returns a read-only view over c. Named to match spec.md's
// getFactorsUnsafe: callers must not mutate factors reached through it.
func (c *Cache) Unsafe() FactorSlotView {
	return FactorSlotView{cache: c}
}

// Size returns the total slot count, including tombstoned holes.
func (v FactorSlotView) Size() int { return v.cache.Size() }

// At returns the factor at slot, or ok=false if the slot is a tombstoned
// hole or out of range.
func (v FactorSlotView) At(slot int) (nonlinear.Factor, bool) { return v.cache.Get(slot) }

// LiveSlots returns the indices of every live slot, ascending.
func (v FactorSlotView) LiveSlots() []int { return v.cache.LiveSlots() }
