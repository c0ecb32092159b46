// Package bitvec provides a growable little-endian bit vector with the
// primitives the distributor needs: bit access, 64-bit window extraction,
// range append, longest-common-prefix and lexicographic comparison.
//
// Bit i of a vector lives at words[i/64] >> (i%64) & 1. Bits at positions
// >= Len() in the last word are always zero, so Words() is a canonical
// representation suitable for hashing.
package bitvec

import "math/bits"

// Vector is a bit vector backed by a []uint64.
// The zero value is an empty vector ready for use.
type Vector struct {
	words []uint64
	nbits int
}

// New returns an empty vector with capacity for at least n bits.
func New(n int) *Vector {
	return &Vector{words: make([]uint64, 0, (n+63)/64)}
}

// NewLen returns a zero-filled vector of exactly n bits.
func NewLen(n int) *Vector {
	return &Vector{words: make([]uint64, (n+63)/64), nbits: n}
}

// FromWords wraps the given words as an n-bit vector. Bits at positions
// >= n in the last word must be zero. The slice is not copied.
func FromWords(words []uint64, n int) *Vector {
	return &Vector{words: words, nbits: n}
}

// Len returns the length in bits.
func (v *Vector) Len() int { return v.nbits }

// Words returns the backing words. The last word has all bits >= Len()
// clear. The slice must not be mutated.
func (v *Vector) Words() []uint64 { return v.words }

// Bit returns bit i.
func (v *Vector) Bit(i int) bool {
	return v.words[i>>6]>>(uint(i)&63)&1 != 0
}

// SetBit sets bit i to 1. i must be < Len().
func (v *Vector) SetBit(i int) {
	v.words[i>>6] |= uint64(1) << (uint(i) & 63)
}

// AppendBit appends a single bit.
func (v *Vector) AppendBit(b bool) {
	if v.nbits&63 == 0 {
		v.words = append(v.words, 0)
	}
	if b {
		v.words[v.nbits>>6] |= uint64(1) << (uint(v.nbits) & 63)
	}
	v.nbits++
}

// AppendBits appends the n low bits of w, least significant first.
// n must be in [0, 64].
func (v *Vector) AppendBits(w uint64, n int) {
	if n == 0 {
		return
	}
	if n < 64 {
		w &= (uint64(1) << uint(n)) - 1
	}
	off := uint(v.nbits) & 63
	if off == 0 {
		v.words = append(v.words, w)
	} else {
		v.words[len(v.words)-1] |= w << off
		if int(off)+n > 64 {
			v.words = append(v.words, w>>(64-off))
		}
	}
	v.nbits += n
}

// AppendRange appends bits [from, to) of src.
func (v *Vector) AppendRange(src *Vector, from, to int) {
	for from < to {
		n := to - from
		if n > 64 {
			n = 64
		}
		v.AppendBits(src.Bits(from, n), n)
		from += n
	}
}

// Bits returns the n bits starting at position from, least significant
// first. n must be in [0, 64] and from+n must not exceed Len().
func (v *Vector) Bits(from, n int) uint64 {
	if n == 0 {
		return 0
	}
	off := uint(from) & 63
	i := from >> 6
	w := v.words[i] >> off
	if int(off)+n > 64 {
		w |= v.words[i+1] << (64 - off)
	}
	if n < 64 {
		w &= (uint64(1) << uint(n)) - 1
	}
	return w
}

// Truncate shrinks the vector to n bits, clearing any dropped bits so the
// canonical-words invariant holds. n must be <= Len().
func (v *Vector) Truncate(n int) {
	nw := (n + 63) / 64
	v.words = v.words[:nw]
	if rem := uint(n) & 63; rem != 0 {
		v.words[nw-1] &= (uint64(1) << rem) - 1
	}
	v.nbits = n
}

// Reset empties the vector, keeping the backing storage.
func (v *Vector) Reset() {
	v.words = v.words[:0]
	v.nbits = 0
}

// Copy returns an independent copy of v.
func (v *Vector) Copy() *Vector {
	w := make([]uint64, len(v.words))
	copy(w, v.words)
	return &Vector{words: w, nbits: v.nbits}
}

// CopyRange returns an independent copy of bits [from, to) of v.
func (v *Vector) CopyRange(from, to int) *Vector {
	out := New(to - from)
	out.AppendRange(v, from, to)
	return out
}

// Replace makes v an exact copy of src, reusing v's storage.
func (v *Vector) Replace(src *Vector) {
	v.words = append(v.words[:0], src.words...)
	v.nbits = src.nbits
}

// LCP returns the length of the longest common prefix of a and b.
func LCP(a, b *Vector) int {
	return LCPAt(a, 0, b)
}

// LCPAt returns the length of the longest common prefix of a[aoff:] and b.
func LCPAt(a *Vector, aoff int, b *Vector) int {
	m := a.nbits - aoff
	if b.nbits < m {
		m = b.nbits
	}
	for k := 0; k < m; k += 64 {
		n := m - k
		if n > 64 {
			n = 64
		}
		if diff := a.Bits(aoff+k, n) ^ b.Bits(k, n); diff != 0 {
			return k + bits.TrailingZeros64(diff)
		}
	}
	return m
}

// Compare orders a and b lexicographically, a proper prefix sorting before
// its extensions. Returns -1, 0 or +1.
func Compare(a, b *Vector) int {
	lcp := LCP(a, b)
	switch {
	case lcp == a.nbits && lcp == b.nbits:
		return 0
	case lcp == a.nbits:
		return -1
	case lcp == b.nbits:
		return 1
	case a.Bit(lcp):
		return 1
	default:
		return -1
	}
}

// Equal reports whether a and b hold the same bits.
func Equal(a, b *Vector) bool {
	if a.nbits != b.nbits {
		return false
	}
	for i, w := range a.words {
		if w != b.words[i] {
			return false
		}
	}
	return true
}

// EqualRange reports whether a[aoff:aoff+n] equals b[0:n].
func EqualRange(a *Vector, aoff int, b *Vector, n int) bool {
	for k := 0; k < n; k += 64 {
		c := n - k
		if c > 64 {
			c = 64
		}
		if a.Bits(aoff+k, c) != b.Bits(k, c) {
			return false
		}
	}
	return true
}

// String renders the vector as a 0/1 string, first bit leftmost.
func (v *Vector) String() string {
	buf := make([]byte, v.nbits)
	for i := range buf {
		if v.Bit(i) {
			buf[i] = '1'
		} else {
			buf[i] = '0'
		}
	}
	return string(buf)
}
