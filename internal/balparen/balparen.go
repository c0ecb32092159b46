// Package balparen indexes a balanced-parentheses bit string (1 = open,
// 0 = close) for forward matching: IsOpen and FindClose.
//
// The index keeps two levels of excess summaries over the raw bits: per
// 64-bit word (total excess and minimum prefix excess) and per superblock
// of 64 words. FindClose skips whole superblocks and words whose summaries
// prove the matching close cannot lie inside, then scans bits only in the
// one word that contains it.
package balparen

import (
	"encoding/binary"
	"math"
	mathbits "math/bits"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
	"github.com/cih-y2k/hollowtrie/internal/bitvec"
)

const wordsPerBlock = 64 // 4096-bit superblocks

// Index is an immutable balanced-parentheses index.
type Index struct {
	bits *bitvec.Vector

	wordExcess  []int32
	wordMin     []int32
	blockExcess []int64
	blockMin    []int64
}

// New builds an index over the given bit string. The bit string is not
// copied; it must not be mutated afterwards.
func New(bits *bitvec.Vector) *Index {
	ix := &Index{bits: bits}
	words := bits.Words()
	n := bits.Len()

	ix.wordExcess = make([]int32, len(words))
	ix.wordMin = make([]int32, len(words))
	for w, word := range words {
		hi := n - w*64
		if hi > 64 {
			hi = 64
		}
		var e, min int32
		for i := 0; i < hi; i++ {
			if word>>uint(i)&1 != 0 {
				e++
			} else {
				e--
			}
			if e < min {
				min = e
			}
		}
		ix.wordExcess[w] = e
		ix.wordMin[w] = min
	}

	nblocks := (len(words) + wordsPerBlock - 1) / wordsPerBlock
	ix.blockExcess = make([]int64, nblocks)
	ix.blockMin = make([]int64, nblocks)
	for b := 0; b < nblocks; b++ {
		var e, min int64
		min = 1 << 62
		for w := b * wordsPerBlock; w < (b+1)*wordsPerBlock && w < len(words); w++ {
			if m := e + int64(ix.wordMin[w]); m < min {
				min = m
			}
			e += int64(ix.wordExcess[w])
		}
		ix.blockExcess[b] = e
		ix.blockMin[b] = min
	}
	return ix
}

// Bits returns the underlying bit string.
func (ix *Index) Bits() *bitvec.Vector { return ix.bits }

// IsOpen reports whether position p holds an open parenthesis.
func (ix *Index) IsOpen(p int) bool { return ix.bits.Bit(p) }

// FindClose returns the position of the close parenthesis matching the
// open parenthesis at p. The bit string must be balanced at p.
func (ix *Index) FindClose(p int) int {
	n := ix.bits.Len()
	words := ix.bits.Words()
	e := 0

	// Scan the remainder of p's word bit by bit.
	end := (p/64 + 1) * 64
	if end > n {
		end = n
	}
	for i := p; i < end; i++ {
		if ix.bits.Bit(i) {
			e++
		} else if e--; e == 0 {
			return i
		}
	}

	for w := p/64 + 1; w < len(words); {
		if w%wordsPerBlock == 0 {
			b := w / wordsPerBlock
			if e+int(ix.blockMin[b]) > 0 {
				e += int(ix.blockExcess[b])
				w += wordsPerBlock
				continue
			}
		}
		if e+int(ix.wordMin[w]) <= 0 {
			// The match is inside this word.
			hi := n - w*64
			if hi > 64 {
				hi = 64
			}
			word := words[w]
			for i := 0; i < hi; i++ {
				if word>>uint(i)&1 != 0 {
					e++
				} else if e--; e == 0 {
					return w*64 + i
				}
			}
		}
		e += int(ix.wordExcess[w])
		w++
	}
	panic("balparen: no matching close parenthesis")
}

// NumBits returns the space used by the index, in bits.
func (ix *Index) NumBits() uint64 {
	return uint64(ix.bits.Len()) +
		uint64(len(ix.wordExcess)+len(ix.wordMin))*32 +
		uint64(len(ix.blockExcess)+len(ix.blockMin))*64
}

// Ones returns the number of open parentheses.
func (ix *Index) Ones() int {
	total := 0
	for _, w := range ix.bits.Words() {
		total += mathbits.OnesCount64(w)
	}
	return total
}

// AppendBinary serializes the raw bit string to buf; the summaries are
// rebuilt on Decode. Layout: bit length (uint64), words.
func (ix *Index) AppendBinary(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ix.bits.Len()))
	for _, w := range ix.bits.Words() {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return buf
}

// Decode reconstructs an Index from data produced by AppendBinary.
// Returns the index and the number of bytes consumed.
func Decode(data []byte) (*Index, int, error) {
	if len(data) < 8 {
		return nil, 0, hterrors.ErrTruncatedFile
	}
	nbits := binary.LittleEndian.Uint64(data[0:8])
	if nbits > math.MaxInt64-63 {
		return nil, 0, hterrors.ErrCorruptedFile
	}
	nwords := (nbits + 63) / 64
	need := 8 + int(nwords)*8
	if len(data) < need {
		return nil, 0, hterrors.ErrTruncatedFile
	}
	words := make([]uint64, nwords)
	off := 8
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[off:])
		off += 8
	}
	return New(bitvec.FromWords(words, int(nbits))), need, nil
}
