// Package mwhc implements a static function from keys to small fixed-width
// values: built once from a finite set of (key, value) pairs, it returns the
// exact value for every trained key and an arbitrary but deterministic value
// for any other key, in ~1.23 bits per key per value bit.
//
// The construction is the classic MWHC 3-hypergraph scheme. Every key is
// reduced to a 128-bit xxh3 signature; each build attempt remixes the
// signatures with murmur3 under a fresh seed and maps them to one vertex in
// each of three equal segments, which keeps the three vertices of an edge
// distinct. If the resulting hypergraph peels completely, the value cells
// are assigned in reverse peel order so that the XOR of an edge's three
// cells equals the trained value.
package mwhc

import (
	"encoding/binary"
	"math"
	mathbits "math/bits"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/xxh3"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
	"github.com/cih-y2k/hollowtrie/internal/bits"
)

// gamma is the vertex expansion factor. 3-hypergraphs peel with high
// probability above the ~1.22 threshold; 1.23 matches the classic
// construction.
const gamma = 1.23

// maxAttempts bounds the seed search before Build gives up.
const maxAttempts = 64

// minSegLen floors the per-segment vertex count so small training sets
// still form peelable hypergraphs.
const minSegLen = 4

// Signature is the 128-bit canonical signature of a key.
type Signature struct {
	Hi, Lo uint64
}

// KeySignature computes the signature of an oracle key: a node index
// followed by a path fragment of nbits bits held in words (little-endian,
// bits past nbits zero). scratch avoids per-call allocation; the possibly
// grown slice is returned for reuse.
func KeySignature(scratch []byte, node uint64, words []uint64, nbits int) (Signature, []byte) {
	scratch = scratch[:0]
	scratch = binary.LittleEndian.AppendUint64(scratch, node)
	scratch = binary.LittleEndian.AppendUint64(scratch, uint64(nbits))
	for _, w := range words[:(nbits+63)/64] {
		scratch = binary.LittleEndian.AppendUint64(scratch, w)
	}
	h := xxh3.Hash128(scratch)
	return Signature{Hi: h.Hi, Lo: h.Lo}, scratch
}

// edge maps a signature to its three vertices under the given attempt seed.
func edge(sig Signature, seed uint32, segLen uint64) (uint64, uint64, uint64) {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], sig.Lo)
	binary.LittleEndian.PutUint64(buf[8:16], sig.Hi)
	h1, h2 := murmur3.Sum128WithSeed(buf[:], seed)
	h3 := (h1 ^ mathbits.RotateLeft64(h2, 31)) * 0x9e3779b97f4a7c15
	v0 := bits.FastRange64(h1, segLen)
	v1 := segLen + bits.FastRange64(h2, segLen)
	v2 := 2*segLen + bits.FastRange64(h3, segLen)
	return v0, v1, v2
}

// Builder accumulates (signature, value) pairs.
type Builder struct {
	width uint8
	mask  uint8
	sigs  []Signature
	vals  []uint8
}

// NewBuilder returns a builder for width-bit values with capacity for n
// pairs. width must be 1, 2, 4 or 8 so cells never straddle a word;
// other widths panic.
func NewBuilder(n, width int) *Builder {
	switch width {
	case 1, 2, 4, 8:
	default:
		panic("mwhc: unsupported value width")
	}
	return &Builder{
		width: uint8(width),
		mask:  uint8(1)<<width - 1,
		sigs:  make([]Signature, 0, n),
		vals:  make([]uint8, 0, n),
	}
}

// Add records a pair. Duplicate signatures make every build attempt fail.
func (b *Builder) Add(sig Signature, value uint8) {
	b.sigs = append(b.sigs, sig)
	b.vals = append(b.vals, value&b.mask)
}

// Len returns the number of pairs added.
func (b *Builder) Len() int { return len(b.sigs) }

// Build runs the seed search and returns the solved function.
func (b *Builder) Build(seed uint64) (*Function, error) {
	n := uint64(len(b.sigs))
	if n == 0 {
		return &Function{width: b.width, mask: b.mask, segLen: 1, cells: make([]uint64, 1)}, nil
	}

	segLen := uint64(gamma*float64(n)/3) + 1
	// Tiny inputs need more vertices than the expansion factor provides:
	// with segLen 1 every edge maps to the same three vertices and the
	// graph can never peel.
	if segLen < minSegLen {
		segLen = minSegLen
	}
	numVertices := 3 * segLen

	edges := make([][3]uint64, n)
	deg := make([]int32, numVertices)
	xorSum := make([]uint64, numVertices)
	stackE := make([]uint64, n)
	stackV := make([]uint64, n)
	queue := make([]uint64, 0, numVertices)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		attemptSeed := uint32(seed>>32) ^ uint32(seed) ^ uint32(attempt)*0x9e3779b9
		clear(deg)
		clear(xorSum)
		queue = queue[:0]

		for i, sig := range b.sigs {
			v0, v1, v2 := edge(sig, attemptSeed, segLen)
			edges[i] = [3]uint64{v0, v1, v2}
			deg[v0]++
			deg[v1]++
			deg[v2]++
			xorSum[v0] ^= uint64(i)
			xorSum[v1] ^= uint64(i)
			xorSum[v2] ^= uint64(i)
		}

		for v := uint64(0); v < numVertices; v++ {
			if deg[v] == 1 {
				queue = append(queue, v)
			}
		}

		top := 0
		for len(queue) > 0 {
			v := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			if deg[v] != 1 {
				continue
			}
			e := xorSum[v]
			stackE[top] = e
			stackV[top] = v
			top++
			for _, u := range edges[e] {
				deg[u]--
				xorSum[u] ^= e
				if deg[u] == 1 {
					queue = append(queue, u)
				}
			}
		}

		if uint64(top) < n {
			continue // 2-core is non-empty; remix and retry
		}

		f := &Function{
			width:  b.width,
			mask:   b.mask,
			seed:   attemptSeed,
			segLen: segLen,
			n:      n,
			cells:  make([]uint64, (numVertices*uint64(b.width)+63)/64),
		}
		for i := top - 1; i >= 0; i-- {
			e, v := stackE[i], stackV[i]
			val := b.vals[e]
			for _, u := range edges[e] {
				if u != v {
					val ^= f.cell(u)
				}
			}
			f.setCell(v, val)
		}
		return f, nil
	}
	return nil, hterrors.ErrOracleSeedExhausted
}

// Function is an immutable solved static function.
type Function struct {
	width  uint8
	mask   uint8
	seed   uint32
	segLen uint64
	n      uint64
	cells  []uint64 // bit-packed width-bit cells
}

func (f *Function) cell(v uint64) uint8 {
	pos := v * uint64(f.width)
	return uint8(f.cells[pos>>6]>>(pos&63)) & f.mask
}

func (f *Function) setCell(v uint64, val uint8) {
	pos := v * uint64(f.width)
	f.cells[pos>>6] |= uint64(val&f.mask) << (pos & 63)
}

// Get returns the value trained for the key with the given signature.
// For untrained keys the result is arbitrary but deterministic.
func (f *Function) Get(sig Signature) uint8 {
	if f.n == 0 {
		return 0
	}
	v0, v1, v2 := edge(sig, f.seed, f.segLen)
	return f.cell(v0) ^ f.cell(v1) ^ f.cell(v2)
}

// Size returns the number of trained keys.
func (f *Function) Size() uint64 { return f.n }

// NumBits returns the space used by the value cells, in bits.
func (f *Function) NumBits() uint64 { return uint64(len(f.cells)) * 64 }

// AppendBinary serializes the function to buf.
// Layout: width, seed, segLen, n, cellWordCount (uint64 each), cell words.
func (f *Function) AppendBinary(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.width))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f.seed))
	buf = binary.LittleEndian.AppendUint64(buf, f.segLen)
	buf = binary.LittleEndian.AppendUint64(buf, f.n)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(f.cells)))
	for _, w := range f.cells {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return buf
}

// Decode reconstructs a Function from data produced by AppendBinary.
// Returns the function and the number of bytes consumed.
func Decode(data []byte) (*Function, int, error) {
	const headerLen = 40
	if len(data) < headerLen {
		return nil, 0, hterrors.ErrTruncatedFile
	}
	width := binary.LittleEndian.Uint64(data[0:8])
	switch width {
	case 1, 2, 4, 8:
	default:
		return nil, 0, hterrors.ErrCorruptedFile
	}
	f := &Function{
		width:  uint8(width),
		mask:   uint8(1)<<width - 1,
		seed:   uint32(binary.LittleEndian.Uint64(data[8:16])),
		segLen: binary.LittleEndian.Uint64(data[16:24]),
		n:      binary.LittleEndian.Uint64(data[24:32]),
	}
	nwords := binary.LittleEndian.Uint64(data[32:headerLen])
	// Bound segLen before the cell-count arithmetic: an oversized value
	// would overflow 3*segLen*width and could make a crafted section pass
	// the consistency check with too few cells.
	if f.segLen == 0 || f.segLen > math.MaxInt64/(3*width) ||
		nwords != (3*f.segLen*width+63)/64 {
		return nil, 0, hterrors.ErrCorruptedFile
	}
	need := headerLen + int(nwords)*8
	if len(data) < need {
		return nil, 0, hterrors.ErrTruncatedFile
	}
	f.cells = make([]uint64, nwords)
	off := headerLen
	for i := range f.cells {
		f.cells[i] = binary.LittleEndian.Uint64(data[off:])
		off += 8
	}
	return f, need, nil
}
