// Package eliasfano implements a compressed list of non-negative integers
// with O(1) random access.
//
// The list stores the cumulative sequence upper[i] = sum(values[0..i]) + i,
// which is strictly increasing, in Elias-Fano form: the low L bits of each
// upper value in a packed array, the remaining high bits as unary gaps in a
// bit vector indexed by a rank/select dictionary. Get recovers
// values[i] = upper[i] - upper[i-1] - 1 with two selects.
package eliasfano

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/hillbig/rsdic"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
	"github.com/cih-y2k/hollowtrie/internal/bitvec"
)

// List is an immutable Elias-Fano compressed integer list.
type List struct {
	n       int
	lowBits int
	lows    *bitvec.Vector
	high    *rsdic.RSDic
	highRaw *bitvec.Vector // kept for serialization
}

// New builds a List from the given values.
func New(values []uint64) *List {
	n := len(values)
	l := &List{n: n}
	if n == 0 {
		l.lows = bitvec.New(0)
		l.highRaw = bitvec.New(0)
		l.high = rsdic.New()
		return l
	}

	// upper[i] = prefix sum of (value+1), minus one: strictly increasing.
	upper := make([]uint64, n)
	var cum uint64
	for i, v := range values {
		cum += v + 1
		upper[i] = cum - 1
	}
	u := upper[n-1] + 1

	lowBits := 0
	if u/uint64(n) > 1 {
		lowBits = bits.Len64(u/uint64(n)) - 1
	}
	l.lowBits = lowBits

	l.lows = bitvec.New(n * lowBits)
	highLen := n + int(u>>uint(lowBits)) + 1
	l.highRaw = bitvec.NewLen(highLen)
	lowMask := uint64(1)<<uint(lowBits) - 1
	for i, v := range upper {
		l.lows.AppendBits(v&lowMask, lowBits)
		l.highRaw.SetBit(i + int(v>>uint(lowBits)))
	}

	l.high = rsdicFromBits(l.highRaw)
	return l
}

func rsdicFromBits(v *bitvec.Vector) *rsdic.RSDic {
	rs := rsdic.New()
	for i := 0; i < v.Len(); i++ {
		rs.PushBack(v.Bit(i))
	}
	return rs
}

// Len returns the number of values in the list.
func (l *List) Len() int { return l.n }

// Get returns the i-th value in O(1).
func (l *List) Get(i int) uint64 {
	cur := l.upper(i)
	if i == 0 {
		return cur
	}
	return cur - l.upper(i-1) - 1
}

func (l *List) upper(i int) uint64 {
	hi := l.high.Select(uint64(i), true) - uint64(i)
	return hi<<uint(l.lowBits) | l.lows.Bits(i*l.lowBits, l.lowBits)
}

// NumBits returns the space used by the list, in bits.
func (l *List) NumBits() uint64 {
	return uint64(l.high.AllocSize())*8 + uint64(l.lows.Len())
}

// AppendBinary serializes the list to buf.
// Layout: n, lowBits, highLen, lowWordCount (uint64 each), low words, high words.
func (l *List) AppendBinary(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(l.n))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(l.lowBits))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(l.highRaw.Len()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(l.lows.Words())))
	for _, w := range l.lows.Words() {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	for _, w := range l.highRaw.Words() {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return buf
}

// Decode reconstructs a List from data produced by AppendBinary.
// Returns the list and the number of bytes consumed.
func Decode(data []byte) (*List, int, error) {
	if len(data) < 32 {
		return nil, 0, hterrors.ErrTruncatedFile
	}
	n := binary.LittleEndian.Uint64(data[0:8])
	lowBits := binary.LittleEndian.Uint64(data[8:16])
	highLen := binary.LittleEndian.Uint64(data[16:24])
	lowWords := binary.LittleEndian.Uint64(data[24:32])
	// Bound the lengths before the word-count arithmetic: oversized values
	// would overflow it and could make a crafted section pass the
	// consistency check with too few words.
	if lowBits > 64 || n > math.MaxInt64/64 || highLen > math.MaxInt64-63 ||
		lowWords != (n*lowBits+63)/64 {
		return nil, 0, hterrors.ErrCorruptedFile
	}
	highWords := (highLen + 63) / 64
	need := 32 + int(lowWords+highWords)*8
	if len(data) < need {
		return nil, 0, hterrors.ErrTruncatedFile
	}

	l := &List{n: int(n), lowBits: int(lowBits)}
	lw := make([]uint64, lowWords)
	off := 32
	for i := range lw {
		lw[i] = binary.LittleEndian.Uint64(data[off:])
		off += 8
	}
	l.lows = bitvec.FromWords(lw, int(n*lowBits))
	hw := make([]uint64, highWords)
	for i := range hw {
		hw[i] = binary.LittleEndian.Uint64(data[off:])
		off += 8
	}
	l.highRaw = bitvec.FromWords(hw, int(highLen))
	l.high = rsdicFromBits(l.highRaw)
	return l, need, nil
}
