package bitvec

import (
	"encoding/binary"
	"hash/fnv"
	randv2 "math/rand/v2"
	"testing"
)

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

// fromBools builds a vector from a reference bool slice.
func fromBools(bools []bool) *Vector {
	v := New(len(bools))
	for _, b := range bools {
		v.AppendBit(b)
	}
	return v
}

func randomBools(rng *randv2.Rand, n int) []bool {
	bools := make([]bool, n)
	for i := range bools {
		bools[i] = rng.Uint64()&1 != 0
	}
	return bools
}

func TestAppendBitAndBit(t *testing.T) {
	rng := newTestRNG(t)
	for _, n := range []int{0, 1, 63, 64, 65, 127, 128, 1000} {
		bools := randomBools(rng, n)
		v := fromBools(bools)
		if v.Len() != n {
			t.Fatalf("n=%d: Len() = %d", n, v.Len())
		}
		for i, b := range bools {
			if v.Bit(i) != b {
				t.Fatalf("n=%d: Bit(%d) = %v, want %v", n, i, v.Bit(i), b)
			}
		}
	}
}

func TestCanonicalTrailingZeros(t *testing.T) {
	rng := newTestRNG(t)
	for trial := 0; trial < 100; trial++ {
		n := int(rng.Uint64N(300)) + 1
		v := fromBools(randomBools(rng, n))
		words := v.Words()
		if len(words) != (n+63)/64 {
			t.Fatalf("word count = %d, want %d", len(words), (n+63)/64)
		}
		if rem := uint(n) & 63; rem != 0 {
			if tail := words[len(words)-1] >> rem; tail != 0 {
				t.Fatalf("n=%d: bits beyond Len are not zero: %x", n, tail)
			}
		}
	}
}

func TestAppendBitsMatchesAppendBit(t *testing.T) {
	rng := newTestRNG(t)
	for trial := 0; trial < 200; trial++ {
		var chunks []struct {
			w uint64
			n int
		}
		total := 0
		for total < 200 {
			c := struct {
				w uint64
				n int
			}{rng.Uint64(), int(rng.Uint64N(65))}
			chunks = append(chunks, c)
			total += c.n
		}

		fast := New(total)
		slow := New(total)
		for _, c := range chunks {
			fast.AppendBits(c.w, c.n)
			for i := 0; i < c.n; i++ {
				slow.AppendBit(c.w>>uint(i)&1 != 0)
			}
		}
		if !Equal(fast, slow) {
			t.Fatalf("AppendBits diverges from bitwise append:\n%s\n%s", fast, slow)
		}
	}
}

func TestBitsWindow(t *testing.T) {
	rng := newTestRNG(t)
	bools := randomBools(rng, 500)
	v := fromBools(bools)
	for trial := 0; trial < 500; trial++ {
		from := int(rng.Uint64N(uint64(len(bools))))
		n := int(rng.Uint64N(uint64(min(65, len(bools)-from+1))))
		got := v.Bits(from, n)
		var want uint64
		for i := 0; i < n; i++ {
			if bools[from+i] {
				want |= uint64(1) << uint(i)
			}
		}
		if got != want {
			t.Fatalf("Bits(%d, %d) = %x, want %x", from, n, got, want)
		}
	}
}

func TestAppendRange(t *testing.T) {
	rng := newTestRNG(t)
	bools := randomBools(rng, 300)
	src := fromBools(bools)
	for trial := 0; trial < 100; trial++ {
		from := int(rng.Uint64N(uint64(len(bools) + 1)))
		to := from + int(rng.Uint64N(uint64(len(bools)-from+1)))
		dst := fromBools(randomBools(rng, int(rng.Uint64N(70))))
		want := dst.Copy()
		for i := from; i < to; i++ {
			want.AppendBit(bools[i])
		}
		dst.AppendRange(src, from, to)
		if !Equal(dst, want) {
			t.Fatalf("AppendRange(%d, %d):\ngot  %s\nwant %s", from, to, dst, want)
		}
	}
}

func TestTruncateClearsDroppedBits(t *testing.T) {
	v := NewLen(130)
	for i := 0; i < 130; i++ {
		v.SetBit(i)
	}
	v.Truncate(65)
	if v.Len() != 65 {
		t.Fatalf("Len() = %d, want 65", v.Len())
	}
	for i := 0; i < 65; i++ {
		if !v.Bit(i) {
			t.Fatalf("Bit(%d) cleared by Truncate", i)
		}
	}
	if tail := v.Words()[1] >> 1; tail != 0 {
		t.Fatalf("dropped bits survive in last word: %x", tail)
	}
	// Growing again must not resurrect old bits.
	v.AppendBit(false)
	if v.Bit(65) {
		t.Fatal("truncated bit resurrected by AppendBit")
	}
}

func TestLCP(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"1", "", 0},
		{"1", "1", 1},
		{"10", "11", 1},
		{"1100", "1100", 4},
		{"1100", "110", 3},
		{"0000000000000000000000000000000000000000000000000000000000000000001",
			"0000000000000000000000000000000000000000000000000000000000000000000", 66},
	}
	for _, tc := range cases {
		a, b := fromString(tc.a), fromString(tc.b)
		if got := LCP(a, b); got != tc.want {
			t.Errorf("LCP(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
		if got := LCP(b, a); got != tc.want {
			t.Errorf("LCP(%q, %q) = %d, want %d", tc.b, tc.a, got, tc.want)
		}
	}
}

func TestLCPAt(t *testing.T) {
	rng := newTestRNG(t)
	for trial := 0; trial < 200; trial++ {
		abits := randomBools(rng, int(rng.Uint64N(200))+1)
		a := fromBools(abits)
		aoff := int(rng.Uint64N(uint64(len(abits))))
		b := fromBools(randomBools(rng, int(rng.Uint64N(200))))

		want := 0
		for want < len(abits)-aoff && want < b.Len() && abits[aoff+want] == b.Bit(want) {
			want++
		}
		if got := LCPAt(a, aoff, b); got != want {
			t.Fatalf("LCPAt(a, %d, b) = %d, want %d", aoff, got, want)
		}
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "0", -1},
		{"0", "", 1},
		{"0", "1", -1},
		{"01", "1", -1},
		{"11", "110", -1}, // proper prefix sorts first
		{"110", "11", 1},
		{"1010", "1010", 0},
	}
	for _, tc := range cases {
		if got := Compare(fromString(tc.a), fromString(tc.b)); got != tc.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestEqualRange(t *testing.T) {
	rng := newTestRNG(t)
	bools := randomBools(rng, 300)
	a := fromBools(bools)
	for trial := 0; trial < 200; trial++ {
		aoff := int(rng.Uint64N(uint64(len(bools))))
		n := int(rng.Uint64N(uint64(len(bools) - aoff)))
		b := a.CopyRange(aoff, aoff+n)
		if !EqualRange(a, aoff, b, n) {
			t.Fatalf("EqualRange false for an exact copy (aoff=%d, n=%d)", aoff, n)
		}
		if n > 0 {
			// Flip one bit and expect inequality.
			i := int(rng.Uint64N(uint64(n)))
			flipped := b.Copy()
			if flipped.Bit(i) {
				// SetBit only sets; rebuild with the bit cleared.
				flipped = NewLen(n)
				for j := 0; j < n; j++ {
					if b.Bit(j) && j != i {
						flipped.SetBit(j)
					}
				}
			} else {
				flipped.SetBit(i)
			}
			if EqualRange(a, aoff, flipped, n) {
				t.Fatalf("EqualRange true after flipping bit %d (aoff=%d, n=%d)", i, aoff, n)
			}
		}
	}
}

func TestReplaceReusesStorage(t *testing.T) {
	src := fromString("110100101")
	dst := fromString("1")
	dst.Replace(src)
	if !Equal(dst, src) {
		t.Fatalf("Replace: got %s, want %s", dst, src)
	}
	// Mutating dst must not touch src.
	dst.AppendBit(true)
	if src.Len() != 9 {
		t.Fatal("Replace aliased the source storage")
	}
}

func TestString(t *testing.T) {
	const s = "10100000000000000000000000000000000000000000000000000000000000001101"
	if got := fromString(s).String(); got != s {
		t.Fatalf("String() = %q, want %q", got, s)
	}
}

func fromString(s string) *Vector {
	v := New(len(s))
	for _, c := range s {
		v.AppendBit(c == '1')
	}
	return v
}
