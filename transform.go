package hollowtrie

import (
	"encoding/binary"
	"math/bits"
)

// TransformID identifies a built-in transform in serialized distributor
// files. Custom transforms use TransformCustom and must be supplied again
// via OpenWithTransform.
type TransformID uint16

const (
	// TransformPrefixFree maps a key's bytes to bits most-significant
	// first and appends a zero byte as terminator. Order-preserving and
	// prefix-free for keys that contain no 0x00 byte.
	TransformPrefixFree TransformID = 0

	// TransformRawBits maps a key's bytes to bits most-significant first
	// with no terminator. Prefix-free only when all keys have the same
	// length (fixed-width binary keys); violations surface as
	// construction errors.
	TransformRawBits TransformID = 1

	// TransformCustom marks a user-supplied transform.
	TransformCustom TransformID = 0xFFFF
)

// Transform turns a key into a bit vector. Over the input sequence's sort
// order the produced vectors must be distinct, prefix-free and
// lexicographically non-decreasing; Build reports violations as
// construction errors.
//
// The bit vector convention is little-endian words: bit i of the vector is
// words[i/64] >> (i%64) & 1, and bits at positions >= nbits in the last
// word are zero.
type Transform interface {
	// Bits appends the key's bit representation to buf (which may be nil)
	// and returns the backing words and the length in bits.
	Bits(key []byte, buf []uint64) (words []uint64, nbits int)

	// ID identifies the transform in serialized files.
	ID() TransformID

	// NumBits returns the space the transform itself occupies, for size
	// accounting. Stateless transforms return 0.
	NumBits() uint64
}

// transformFor resolves a built-in transform by ID when reopening a file.
func transformFor(id TransformID) Transform {
	switch id {
	case TransformPrefixFree:
		return PrefixFree{}
	case TransformRawBits:
		return RawBits{}
	default:
		return nil
	}
}

// appendKeyBits appends the bytes of key to buf as bits, most significant
// bit of each byte first, so that bit-vector order matches byte order.
func appendKeyBits(key []byte, buf []uint64, tail int) ([]uint64, int) {
	nbits := len(buf)*64 - tail
	for len(key) >= 8 {
		w := bits.Reverse64(binary.BigEndian.Uint64(key))
		buf, tail = appendWordBits(buf, tail, w, 64)
		key = key[8:]
		nbits += 64
	}
	for _, b := range key {
		buf, tail = appendWordBits(buf, tail, uint64(bits.Reverse8(b)), 8)
		nbits += 8
	}
	return buf, nbits
}

// appendWordBits appends the n low bits of w to buf, tracking how many
// unused high bits remain in the last word.
func appendWordBits(buf []uint64, tail int, w uint64, n int) ([]uint64, int) {
	if n < 64 {
		w &= uint64(1)<<uint(n) - 1
	}
	if tail == 0 {
		return append(buf, w), 64 - n
	}
	off := uint(64 - tail)
	buf[len(buf)-1] |= w << off
	if n <= tail {
		return buf, tail - n
	}
	return append(buf, w>>uint(tail)), 64 - (n - tail)
}

// PrefixFree is the default transform: bytes to bits plus a zero-byte
// terminator. See TransformPrefixFree for the key contract.
type PrefixFree struct{}

func (PrefixFree) Bits(key []byte, buf []uint64) ([]uint64, int) {
	buf = buf[:0]
	tail := 0
	var nbits int
	buf, nbits = appendKeyBits(key, buf, tail)
	tail = len(buf)*64 - nbits
	buf, _ = appendWordBits(buf, tail, 0, 8)
	return buf, nbits + 8
}

func (PrefixFree) ID() TransformID { return TransformPrefixFree }

func (PrefixFree) NumBits() uint64 { return 0 }

// RawBits maps bytes to bits with no terminator, for fixed-width keys.
type RawBits struct{}

func (RawBits) Bits(key []byte, buf []uint64) ([]uint64, int) {
	return appendKeyBits(key, buf[:0], 0)
}

func (RawBits) ID() TransformID { return TransformRawBits }

func (RawBits) NumBits() uint64 { return 0 }
