package hollowtrie

import (
	"encoding/binary"
	"hash/fnv"
	"iter"
	randv2 "math/rand/v2"
	"slices"
	"strings"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *randv2.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return randv2.New(randv2.NewPCG(testSeed1^s1, testSeed2^s2))
}

// keySeq adapts a key slice to the sequence Build consumes.
func keySeq(keys [][]byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}
}

func stringSeq(keys []string) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, k := range keys {
			if !yield([]byte(k)) {
				return
			}
		}
	}
}

// sortedRandomStrings generates n distinct sorted keys over bytes 1..255,
// compatible with the default prefix-free transform.
func sortedRandomStrings(rng *randv2.Rand, n, maxLen int) []string {
	seen := make(map[string]struct{}, n)
	keys := make([]string, 0, n)
	var sb strings.Builder
	for len(keys) < n {
		sb.Reset()
		l := int(rng.Uint64N(uint64(maxLen))) + 1
		for i := 0; i < l; i++ {
			sb.WriteByte(byte(rng.Uint64N(255)) + 1)
		}
		k := sb.String()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// sortedUint32Keys generates n sorted distinct 4-byte big-endian keys.
func sortedUint32Keys(rng *randv2.Rand, n int) [][]byte {
	seen := make(map[uint32]struct{}, n)
	vals := make([]uint32, 0, n)
	for len(vals) < n {
		v := rng.Uint32()
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		vals = append(vals, v)
	}
	slices.Sort(vals)
	keys := make([][]byte, n)
	for i, v := range vals {
		keys[i] = binary.BigEndian.AppendUint32(nil, v)
	}
	return keys
}
