package hollowtrie

import (
	"errors"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
	"github.com/cih-y2k/hollowtrie/internal/balparen"
	"github.com/cih-y2k/hollowtrie/internal/eliasfano"
	"github.com/cih-y2k/hollowtrie/internal/mwhc"
)

// minFileSize is the smallest well-formed distributor file: a header,
// four empty sections and a footer.
const minFileSize = headerSize + footerSize

// Open reads a distributor from path.
//
// The file is memory-mapped while its sections are decoded into RAM and
// unmapped before Open returns; the returned Distributor does not hold
// any file resources.
func Open(path string) (*Distributor, error) {
	return openPath(path, nil)
}

// OpenWithTransform reads a distributor from path using the supplied key
// transform instead of the built-in registry. Files built with a custom
// transform (TransformCustom) can only be reopened this way; the caller
// must supply the same transform the distributor was built with.
func OpenWithTransform(path string, t Transform) (*Distributor, error) {
	if t == nil {
		return nil, hterrors.ErrUnknownTransform
	}
	return openPath(path, t)
}

func openPath(path string, t Transform) (*Distributor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open distributor file: %w", err)
	}
	defer file.Close()
	return openFile(file, t)
}

// OpenFile reads a distributor by memory-mapping the given file. The
// caller is responsible for closing f, which may happen as soon as
// OpenFile returns.
func OpenFile(f *os.File) (*Distributor, error) {
	return openFile(f, nil)
}

func openFile(f *os.File, t Transform) (*Distributor, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat distributor file: %w", err)
	}
	if stat.Size() < int64(minFileSize) {
		return nil, hterrors.ErrTruncatedFile
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap distributor file: %w", err)
	}

	d, err := openBytes([]byte(mm), t)
	return d, errors.Join(err, mm.Unmap())
}

// OpenBytes decodes a distributor from an in-memory byte slice. The
// backing data is fully copied into the decoded structures; data may be
// reused after OpenBytes returns.
func OpenBytes(data []byte) (*Distributor, error) {
	return openBytes(data, nil)
}

func openBytes(data []byte, t Transform) (*Distributor, error) {
	if len(data) < minFileSize {
		return nil, hterrors.ErrTruncatedFile
	}

	h, err := decodeHeader(data[:headerSize])
	if err != nil {
		return nil, err
	}

	body := data[:len(data)-footerSize]
	ftr, err := decodeFooter(data[len(data)-footerSize:])
	if err != nil {
		return nil, err
	}
	if xxhash.Sum64(body) != ftr.Checksum {
		return nil, hterrors.ErrChecksumFailed
	}

	transform := t
	if transform == nil {
		if transform = transformFor(h.TransformID); transform == nil {
			return nil, hterrors.ErrUnknownTransform
		}
	}

	d := &Distributor{
		transform:      transform,
		numElements:    h.NumElements,
		size:           int(h.NodeCount),
		log2BucketSize: h.Log2BucketSize,
		meanSkip:       h.MeanSkip,
	}

	sections := body[headerSize:]
	var n int
	if d.trie, n, err = balparen.Decode(sections); err != nil {
		return nil, fmt.Errorf("decode trie section: %w", err)
	}
	sections = sections[n:]
	if d.skips, n, err = eliasfano.Decode(sections); err != nil {
		return nil, fmt.Errorf("decode skip section: %w", err)
	}
	sections = sections[n:]
	if d.exit, n, err = mwhc.Decode(sections); err != nil {
		return nil, fmt.Errorf("decode exit oracle section: %w", err)
	}
	sections = sections[n:]
	if d.follows, n, err = mwhc.Decode(sections); err != nil {
		return nil, fmt.Errorf("decode follow oracle section: %w", err)
	}
	if len(sections[n:]) != 0 {
		return nil, hterrors.ErrCorruptedFile
	}

	// Cross-checks between header and sections. The bit string carries one
	// sentinel open plus one bit per node; skips pair up with the internal
	// opens.
	if d.trie.Bits().Len() != d.size+1 {
		return nil, hterrors.ErrCorruptedFile
	}
	if d.skips.Len() != d.trie.Ones()-1 {
		return nil, hterrors.ErrCorruptedFile
	}
	return d, nil
}
