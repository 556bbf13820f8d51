package nonlinear

import "github.com/pkg/errors"

// Estimate maps Keys to Values. Invariant (enforced by callers, not this
// type): every Key appearing in any active factor is present in Estimate.
type Estimate struct {
	values map[Key]Value
	order  []Key
}

// NewEstimate returns an empty Estimate.
func NewEstimate() *Estimate {
	return &Estimate{values: make(map[Key]Value)}
}

// Insert adds a new Key/Value pair. Returns ErrDuplicateKey if k is already
// present.
func (e *Estimate) Insert(k Key, v Value) error {
	if _, ok := e.values[k]; ok {
		return errors.Wrapf(ErrDuplicateKey, "key %v", k)
	}
	e.values[k] = v
	e.order = append(e.order, k)
	return nil
}

// Set overwrites the value for an existing key, or inserts it if absent.
// Used internally when applying a retraction step; Insert is reserved for
// callers that must fail on duplicates.
func (e *Estimate) Set(k Key, v Value) {
	if _, ok := e.values[k]; !ok {
		e.order = append(e.order, k)
	}
	e.values[k] = v
}

// At returns the value for k, if present.
func (e *Estimate) At(k Key) (Value, bool) {
	v, ok := e.values[k]
	return v, ok
}

// Has reports whether k is present.
func (e *Estimate) Has(k Key) bool {
	_, ok := e.values[k]
	return ok
}

// Keys returns all keys in insertion order. The returned slice is a copy.
func (e *Estimate) Keys() []Key {
	out := make([]Key, len(e.order))
	copy(out, e.order)
	return out
}

// Len returns the number of values.
func (e *Estimate) Len() int {
	return len(e.order)
}

// Clone returns a deep copy. Values are treated as immutable points on a
// manifold, so copying the map is sufficient; no Value is ever mutated
// in place by this package.
func (e *Estimate) Clone() *Estimate {
	out := &Estimate{
		values: make(map[Key]Value, len(e.values)),
		order:  make([]Key, len(e.order)),
	}
	copy(out.order, e.order)
	for k, v := range e.values {
		out.values[k] = v
	}
	return out
}

// Retract returns a new Estimate where every key present in delta has been
// moved along its tangent vector via Value.Retract. Keys without an entry
// in delta are copied unchanged.
func (e *Estimate) Retract(delta map[Key][]float64) *Estimate {
	out := e.Clone()
	for k, d := range delta {
		v, ok := out.values[k]
		if !ok {
			continue
		}
		out.values[k] = v.Retract(d)
	}
	return out
}
