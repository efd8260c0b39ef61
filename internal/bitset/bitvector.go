// Package bitset implements the dense, monotonic BitVector of spec.md §3
// (component C5), wrapping github.com/boljen/go-bitmap the way
// other_examples/Charana123-torrent's piece manager tracks a peer's
// have-set with bitmap.Bitmap.
package bitset

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/boljen/go-bitmap"
)

// BitVector is a fixed-length, thread-safe bitset whose bits only ever
// transition 0→1 (spec.md §3 "monotonic" invariant).
type BitVector struct {
	mu   sync.Mutex
	bits bitmap.Bitmap
	n    int
}

// New allocates a BitVector of n bits, all initially unset.
func New(n int) *BitVector {
	return &BitVector{bits: bitmap.New(n), n: n}
}

// FromRawBytes reconstructs a BitVector of n bits from its raw byte
// representation, as received in a WaveStatusUpdate.FileBitVector.
func FromRawBytes(n int, raw []byte) (*BitVector, error) {
	need := (n + 7) / 8
	if len(raw) < need {
		return nil, xerrors.Errorf("bitset: raw bytes too short for %d bits: have %d, need %d", n, len(raw), need)
	}
	bm := bitmap.New(n)
	copy([]byte(bm), raw[:need])
	return &BitVector{bits: bm, n: n}, nil
}

// Len returns the number of bits (= total chunk count for the session).
func (v *BitVector) Len() int { return v.n }

// Set transitions bit i to 1. Setting an already-set bit is a no-op,
// preserving the monotonic invariant by construction.
func (v *BitVector) Set(i int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bits.Set(i, true)
}

// Test reports whether bit i is set.
func (v *BitVector) Test(i int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bits.Get(i)
}

// AnyUnset reports whether at least one bit is still 0.
func (v *BitVector) AnyUnset() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i < v.n; i++ {
		if !v.bits.Get(i) {
			return true
		}
	}
	return false
}

// UnsetIndices returns every index currently 0, in ascending order —
// exactly the plan-building step of spec.md §4.3 ("plan = ordered list of
// segment_ids where aggregate is 0").
func (v *BitVector) UnsetIndices() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []int
	for i := 0; i < v.n; i++ {
		if !v.bits.Get(i) {
			out = append(out, i)
		}
	}
	return out
}

// RawBytes returns a copy of the underlying byte representation, suitable
// for WaveStatusUpdate.FileBitVector.
func (v *BitVector) RawBytes() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]byte, len(v.bits))
	copy(out, v.bits)
	return out
}

// And computes the bitwise AND across vectors: bit i is 1 iff every
// vector has bit i set. This is the server's aggregate bit-vector
// (spec.md §4.3): "a bit is 1 iff every admitted receiver reports it
// received."
func And(n int, vectors []*BitVector) *BitVector {
	out := New(n)
	if len(vectors) == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		allSet := true
		for _, v := range vectors {
			if !v.Test(i) {
				allSet = false
				break
			}
		}
		if allSet {
			out.Set(i)
		}
	}
	return out
}
