package hollowtrie

import (
	"encoding/binary"
	"math"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
)

const (
	// magic number for distributor files, "HTRD" in little-endian
	magic = uint32(0x48545244)

	// version is the current format version
	version = uint16(0x0001)

	// headerSize is the exact size of the serialized header (64 bytes)
	headerSize = 64

	// footerSize is the exact size of the serialized footer (16 bytes)
	footerSize = 16
)

// header is the 64-byte file header.
//
// Layout:
//
//	Offset  Size  Field           Type
//	0       4     Magic           0x48545244 ("HTRD")
//	4       2     Version         0x0001
//	6       8     NumElements     uint64_le
//	14      8     NodeCount       uint64_le
//	22      1     Log2BucketSize  uint8
//	23      2     TransformID     uint16_le
//	25      8     MeanSkip        float64 bits, uint64_le
//	33      31    Reserved        [31]byte (zero)
//
// The trie, skip list and the two behaviour oracles follow the header as
// self-describing sections, then the 16-byte footer closes the file.
type header struct {
	Magic          uint32
	Version        uint16
	NumElements    uint64
	NodeCount      uint64
	Log2BucketSize uint8
	TransformID    TransformID
	MeanSkip       float64
	Reserved       [31]byte
}

// encodeTo serializes the header to an existing buffer.
func (h *header) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint64(buf[6:14], h.NumElements)
	binary.LittleEndian.PutUint64(buf[14:22], h.NodeCount)
	buf[22] = h.Log2BucketSize
	binary.LittleEndian.PutUint16(buf[23:25], uint16(h.TransformID))
	binary.LittleEndian.PutUint64(buf[25:33], math.Float64bits(h.MeanSkip))
	copy(buf[33:64], h.Reserved[:])
}

// decodeHeader parses a 64-byte header.
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerSize {
		return nil, hterrors.ErrTruncatedFile
	}

	h := &header{
		Magic:          binary.LittleEndian.Uint32(buf[0:4]),
		Version:        binary.LittleEndian.Uint16(buf[4:6]),
		NumElements:    binary.LittleEndian.Uint64(buf[6:14]),
		NodeCount:      binary.LittleEndian.Uint64(buf[14:22]),
		Log2BucketSize: buf[22],
		TransformID:    TransformID(binary.LittleEndian.Uint16(buf[23:25])),
		MeanSkip:       math.Float64frombits(binary.LittleEndian.Uint64(buf[25:33])),
	}
	copy(h.Reserved[:], buf[33:64])

	if h.Magic != magic {
		return nil, hterrors.ErrInvalidMagic
	}
	if h.Version != version {
		return nil, hterrors.ErrInvalidVersion
	}
	if h.Log2BucketSize > maxLog2BucketSize {
		return nil, hterrors.ErrCorruptedFile
	}
	// A non-empty element set over at least one full bucket implies a
	// non-empty trie.
	if h.NodeCount == 0 && h.NumElements>>h.Log2BucketSize > 1 {
		return nil, hterrors.ErrCorruptedFile
	}

	return h, nil
}

// footer is the 16-byte file footer.
//
// Layout:
//
//	Offset  Size  Field     Type
//	0       8     Checksum  uint64_le (xxHash64 of all preceding bytes)
//	8       8     Reserved  [8]byte (zero)
type footer struct {
	Checksum uint64
	Reserved [8]byte
}

// encodeTo serializes the footer into an existing buffer.
func (f *footer) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], f.Checksum)
	copy(buf[8:16], f.Reserved[:])
}

// decodeFooter parses a 16-byte footer.
func decodeFooter(buf []byte) (*footer, error) {
	if len(buf) < footerSize {
		return nil, hterrors.ErrTruncatedFile
	}
	f := &footer{Checksum: binary.LittleEndian.Uint64(buf[0:8])}
	copy(f.Reserved[:], buf[8:16])
	return f, nil
}
