package nonlinear

import "fmt"

// Key is an opaque, totally ordered, hashable identifier for a variable.
// The top byte is reserved for a one-character tag (mirroring GTSAM's
// Symbol) so that packages such as planar can mint collision-free keys for
// distinct variable classes (poses, landmarks, ...) without the engine
// itself needing to know what the tag means.
type Key uint64

const keyIndexBits = 56

// NewKey packs a character tag and an integer index into a single Key.
func NewKey(tag byte, index uint64) Key {
	return Key(uint64(tag)<<keyIndexBits | (index & (1<<keyIndexBits - 1)))
}

// Tag returns the character tag packed into the key, or 0 if none was used.
func (k Key) Tag() byte {
	return byte(uint64(k) >> keyIndexBits)
}

// Index returns the integer index packed into the key.
func (k Key) Index() uint64 {
	return uint64(k) & (1<<keyIndexBits - 1)
}

// String renders the key as "<tag><index>", or a bare decimal number when
// no tag was set. KeyFormatter in isam2.Params overrides this for debug
// output elsewhere in the engine.
func (k Key) String() string {
	if tag := k.Tag(); tag != 0 {
		return fmt.Sprintf("%c%d", tag, k.Index())
	}
	return fmt.Sprintf("%d", uint64(k))
}
