package hollowtrie

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// WriteTo serializes the distributor to w and returns the number of
// bytes written. The stream ends with an xxHash64 checksum of everything
// before it, verified again on Open.
func (d *Distributor) WriteTo(w io.Writer) (int64, error) {
	hasher := xxhash.New()
	tee := io.MultiWriter(w, hasher)

	h := header{
		Magic:          magic,
		Version:        version,
		NumElements:    d.numElements,
		NodeCount:      uint64(d.size),
		Log2BucketSize: d.log2BucketSize,
		TransformID:    d.transform.ID(),
		MeanSkip:       d.meanSkip,
	}
	var headerBuf [headerSize]byte
	h.encodeTo(headerBuf[:])

	written := int64(0)
	n, err := tee.Write(headerBuf[:])
	written += int64(n)
	if err != nil {
		return written, err
	}

	// Sections are self-describing; sizes are recovered during decode.
	buf := d.trie.AppendBinary(nil)
	buf = d.skips.AppendBinary(buf)
	buf = d.exit.AppendBinary(buf)
	buf = d.follows.AppendBinary(buf)
	n, err = tee.Write(buf)
	written += int64(n)
	if err != nil {
		return written, err
	}

	f := footer{Checksum: hasher.Sum64()}
	var footerBuf [footerSize]byte
	f.encodeTo(footerBuf[:])
	n, err = w.Write(footerBuf[:])
	written += int64(n)
	return written, err
}

// Save atomically writes the distributor to path: the data is staged to a
// temporary file in the same directory, synced, and renamed into place.
func (d *Distributor) Save(path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hollowtrie-*")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if _, err = d.WriteTo(bw); err != nil {
		return fmt.Errorf("failed to write distributor: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush distributor: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync distributor: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename staging file: %w", err)
	}
	return nil
}
