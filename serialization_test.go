package hollowtrie

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
)

func buildTestDistributor(t *testing.T, n, log2 int) (*Distributor, []string) {
	t.Helper()
	rng := newTestRNG(t)
	keys := sortedRandomStrings(rng, n, 16)
	d, err := Build(context.Background(), stringSeq(keys), log2)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return d, keys
}

func encodeToBytes(t *testing.T, d *Distributor) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := d.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("WriteTo reported %d bytes, wrote %d", n, buf.Len())
	}
	return buf.Bytes()
}

// refreshChecksum recomputes the footer checksum after a deliberate header
// mutation, so the mutation itself is what decoding trips on.
func refreshChecksum(data []byte) {
	sum := xxhash.Sum64(data[:len(data)-footerSize])
	binary.LittleEndian.PutUint64(data[len(data)-footerSize:], sum)
}

func TestSaveOpenRoundTrip(t *testing.T) {
	d, keys := buildTestDistributor(t, 1500, 4)
	path := filepath.Join(t.TempDir(), "dist.htrd")
	if err := d.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got.NumElements() != d.NumElements() || got.NumNodes() != d.NumNodes() {
		t.Fatalf("reopened shape differs: %d/%d vs %d/%d",
			got.NumElements(), got.NumNodes(), d.NumElements(), d.NumNodes())
	}
	if got.Stats().MeanSkip != d.Stats().MeanSkip {
		t.Errorf("MeanSkip not persisted")
	}
	for i, k := range keys {
		if got.Bucket([]byte(k)) != uint64(i>>4) {
			t.Fatalf("reopened Bucket(key %d) diverges", i)
		}
	}
}

func TestOpenBytesRoundTrip(t *testing.T) {
	d, keys := buildTestDistributor(t, 300, 2)
	data := encodeToBytes(t, d)

	got, err := OpenBytes(data)
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	for i, k := range keys {
		if got.Bucket([]byte(k)) != uint64(i>>2) {
			t.Fatalf("decoded Bucket(key %d) diverges", i)
		}
	}
}

func TestOpenFileRoundTrip(t *testing.T) {
	d, keys := buildTestDistributor(t, 300, 3)
	path := filepath.Join(t.TempDir(), "dist.htrd")
	if err := d.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	got, err := OpenFile(f)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if got.Bucket([]byte(keys[len(keys)-1])) != uint64((len(keys)-1)>>3) {
		t.Fatal("decoded Bucket diverges")
	}
}

func TestEmptyDistributorRoundTrip(t *testing.T) {
	d, err := Build(context.Background(), stringSeq(nil), 4)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := OpenBytes(encodeToBytes(t, d))
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	if got.Bucket([]byte("x")) != 0 {
		t.Error("empty distributor routes to a non-zero bucket")
	}
}

func TestOpenCorruptions(t *testing.T) {
	d, _ := buildTestDistributor(t, 500, 3)
	pristine := encodeToBytes(t, d)

	t.Run("bit flip", func(t *testing.T) {
		data := append([]byte(nil), pristine...)
		data[len(data)/2] ^= 0x10
		if _, err := OpenBytes(data); !errors.Is(err, hterrors.ErrChecksumFailed) {
			t.Fatalf("err = %v, want ErrChecksumFailed", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		for _, cut := range []int{0, 1, headerSize - 1, headerSize, len(pristine) - footerSize, len(pristine) - 1} {
			data := append([]byte(nil), pristine[:cut]...)
			_, err := OpenBytes(data)
			// Chopping inside the body leaves a bogus footer in place, so
			// either truncation or the checksum catches it.
			if !errors.Is(err, hterrors.ErrTruncatedFile) && !errors.Is(err, hterrors.ErrChecksumFailed) {
				t.Fatalf("cut=%d: err = %v", cut, err)
			}
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		data := append([]byte(nil), pristine...)
		binary.LittleEndian.PutUint32(data[0:4], 0xDEADBEEF)
		if _, err := OpenBytes(data); !errors.Is(err, hterrors.ErrInvalidMagic) {
			t.Fatalf("err = %v, want ErrInvalidMagic", err)
		}
	})

	t.Run("bad version", func(t *testing.T) {
		data := append([]byte(nil), pristine...)
		binary.LittleEndian.PutUint16(data[4:6], 0x7777)
		if _, err := OpenBytes(data); !errors.Is(err, hterrors.ErrInvalidVersion) {
			t.Fatalf("err = %v, want ErrInvalidVersion", err)
		}
	})

	t.Run("unknown transform", func(t *testing.T) {
		data := append([]byte(nil), pristine...)
		binary.LittleEndian.PutUint16(data[23:25], 0x0777)
		refreshChecksum(data)
		if _, err := OpenBytes(data); !errors.Is(err, hterrors.ErrUnknownTransform) {
			t.Fatalf("err = %v, want ErrUnknownTransform", err)
		}
	})

	t.Run("node count mismatch", func(t *testing.T) {
		data := append([]byte(nil), pristine...)
		binary.LittleEndian.PutUint64(data[14:22], uint64(d.NumNodes()+2))
		refreshChecksum(data)
		if _, err := OpenBytes(data); !errors.Is(err, hterrors.ErrCorruptedFile) {
			t.Fatalf("err = %v, want ErrCorruptedFile", err)
		}
	})

	t.Run("trailing garbage", func(t *testing.T) {
		data := append(append([]byte(nil), pristine...), 0x00, 0x01, 0x02)
		if _, err := OpenBytes(data); err == nil {
			t.Fatal("trailing garbage accepted")
		}
	})
}

func TestSaveIsAtomic(t *testing.T) {
	d, _ := buildTestDistributor(t, 100, 2)
	dir := t.TempDir()
	path := filepath.Join(dir, "dist.htrd")
	if err := d.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// No staging files may survive a successful save.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "dist.htrd" {
		t.Fatalf("unexpected directory contents: %v", entries)
	}
}

type customRawTransform struct{}

func (customRawTransform) Bits(key []byte, buf []uint64) ([]uint64, int) {
	return RawBits{}.Bits(key, buf)
}

func (customRawTransform) ID() TransformID { return TransformCustom }

func (customRawTransform) NumBits() uint64 { return 0 }

func TestCustomTransformReopen(t *testing.T) {
	rng := newTestRNG(t)
	keys := sortedUint32Keys(rng, 400)
	d, err := Build(context.Background(), keySeq(keys), 3, WithTransform(customRawTransform{}))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "dist.htrd")
	if err := d.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The registry cannot resolve a custom transform.
	if _, err := Open(path); !errors.Is(err, hterrors.ErrUnknownTransform) {
		t.Fatalf("Open err = %v, want ErrUnknownTransform", err)
	}

	got, err := OpenWithTransform(path, customRawTransform{})
	if err != nil {
		t.Fatalf("OpenWithTransform failed: %v", err)
	}
	for i, k := range keys {
		if got.Bucket(k) != uint64(i>>3) {
			t.Fatalf("Bucket(key %d) diverges after reopen", i)
		}
	}
}
