package hollowtrie

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
	"github.com/cih-y2k/hollowtrie/internal/balparen"
	"github.com/cih-y2k/hollowtrie/internal/bitvec"
	"github.com/cih-y2k/hollowtrie/internal/eliasfano"
	"github.com/cih-y2k/hollowtrie/internal/mwhc"
)

// maxLog2BucketSize bounds the bucket-size exponent; beyond this the
// delimiter counter arithmetic would overflow.
const maxLog2BucketSize = 62

// Distributor routes keys to order-preserving bucket ordinals using a
// hollow trie: the topology of a compacted trie over a delimiter
// subsample, a compressed list of skip lengths, and two perfect-hash
// oracles that recover the exit/follow behaviour the topology alone
// cannot.
//
// A Distributor is immutable after construction; Bucket may be called
// concurrently from any number of goroutines.
//
// The distributor is not a membership test: a key outside the original
// element set is routed to some syntactically valid ordinal with no
// further guarantee.
type Distributor struct {
	transform Transform
	trie      *balparen.Index
	skips     *eliasfano.List
	exit      *mwhc.Function // (nodeIndex, fragment) -> LEFT/RIGHT
	follows   *mwhc.Function // (nodeIndex, fragment) -> 0 iff true follow

	numElements    uint64
	size           int // node count, internal and leaves
	log2BucketSize uint8
	meanSkip       float64
}

// Stats holds distributor statistics.
type Stats struct {
	NumElements    uint64
	NumNodes       int
	Log2BucketSize int
	SizeInBits     uint64
	BitsPerSkip    float64
	MeanSkip       float64
}

// Build constructs a Distributor over the given elements with buckets of
// 2^log2BucketSize elements.
//
// The sequence must be re-iterable and yield the same elements twice:
// construction makes two sequential passes (one to shape the compacted
// trie from the delimiter subsample, one to train the behaviour oracles
// over every element). Under the configured transform the elements must
// be distinct, prefix-free and sorted; violations abort the build with
// ErrUnsortedInput, ErrDuplicateKey or ErrNotPrefixFree.
func Build(ctx context.Context, elements iter.Seq[[]byte], log2BucketSize int, opts ...BuildOption) (_ *Distributor, err error) {
	if log2BucketSize < 0 || log2BucketSize > maxLog2BucketSize {
		return nil, fmt.Errorf("hollowtrie: log2BucketSize %d out of range [0, %d]", log2BucketSize, maxLog2BucketSize)
	}
	cfg := defaultBuildConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	t, err := buildIntermediate(ctx, elements, log2BucketSize, cfg)
	if err != nil {
		return nil, err
	}
	cfg.logf("compacted trie built", "nodes", t.size, "elements", t.numElements)

	d := &Distributor{
		transform:      cfg.transform,
		numElements:    t.numElements,
		size:           t.size,
		log2BucketSize: uint8(log2BucketSize),
	}

	trieBits, skips := t.encode()
	d.trie = balparen.New(trieBits)
	d.skips = eliasfano.New(skips)
	if len(skips) > 0 {
		var sum uint64
		for _, s := range skips {
			sum += s
		}
		d.meanSkip = float64(sum) / float64(len(skips))
	}

	if t.size == 0 {
		// Fewer elements than one bucket: no trie, one implicit bucket.
		d.exit, _ = mwhc.NewBuilder(0, 1).Build(cfg.seed)
		d.follows, _ = mwhc.NewBuilder(0, 1).Build(cfg.seed)
		return d, nil
	}

	cfg.logf("computing function keys")
	ext, follow, err := emitTrainingPairs(ctx, elements, t, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, ext.cleanup(), follow.cleanup())
	}()
	cfg.logf("training streams written", "exitPairs", ext.n, "followPairs", follow.n)

	// The two oracles train from independent streams.
	var g errgroup.Group
	g.Go(func() error {
		f, err := trainOracle(ext, 1, cfg.seed)
		if err == nil {
			d.exit = f
		}
		return err
	})
	g.Go(func() error {
		f, err := trainOracle(follow, 1, cfg.seed)
		if err == nil {
			d.follows = f
		}
		return err
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}

	if cfg.verify {
		if err = d.verifyElements(elements); err != nil {
			return nil, err
		}
	}
	cfg.logf("distributor built", "sizeInBits", d.SizeInBits(), "bitsPerSkip", d.bitsPerSkip())
	return d, err
}

// verifyElements replays every element and checks it lands in the bucket
// its rank dictates.
func (d *Distributor) verifyElements(elements iter.Seq[[]byte]) error {
	var rank uint64
	for key := range elements {
		want := rank >> d.log2BucketSize
		if got := d.Bucket(key); got != want {
			return fmt.Errorf("%w: element %d routed to bucket %d, want %d",
				hterrors.ErrBucketVerification, rank, got, want)
		}
		rank++
	}
	return nil
}

// Bucket returns the ordinal of the bucket the key belongs to. Ordinals
// are non-decreasing over the original sorted element sequence. For a key
// shorter than every trained fragment on its path the walk exits over the
// truncated fragment, exactly as the construction trained it.
func (d *Distributor) Bucket(key []byte) uint64 {
	if d.size == 0 {
		return 0
	}
	words, nbits := d.transform.Bits(key, nil)
	return d.bucketOf(bitvec.FromWords(words, nbits))
}

func (d *Distributor) bucketOf(bv *bitvec.Vector) uint64 {
	length := bv.Len()
	frag := bitvec.New(64)
	var scratch []byte
	var sig mwhc.Signature

	p, r, s := 1, 0, 0
	var index uint64
	lastLeftTurn := 0
	var lastLeftTurnIndex uint64
	var behaviour uint8
	var isInternal bool
	skip := 0

	for {
		isInternal = d.trie.IsOpen(p)
		if isInternal {
			skip = int(d.skips.Get(r))
		}

		// The fragment is bounded by the skip at internal nodes and runs
		// to the end of the key at leaves.
		end := length
		if isInternal && s+skip < end {
			end = s + skip
		}
		frag.Reset()
		frag.AppendRange(bv, s, end)
		sig, scratch = mwhc.KeySignature(scratch, uint64(p-1), frag.Words(), frag.Len())

		if isInternal && d.follows.Get(sig) == 0 {
			// True follow: descend.
			if s += skip; s >= length {
				behaviour = behaviourRight // key exhausted mid-walk; resolve like a right exit
				break
			}
			if bv.Bit(s) {
				q := d.trie.FindClose(p) + 1
				index += uint64(q-p) / 2
				r += (q - p) / 2
				p = q
			} else {
				lastLeftTurn = p
				lastLeftTurnIndex = index
				p++
				r++
			}
			s++
			continue
		}

		behaviour = d.exit.Get(sig)
		break
	}

	if behaviour == behaviourLeft {
		return index
	}
	if isInternal {
		q := d.trie.FindClose(lastLeftTurn)
		return uint64(q-lastLeftTurn+1)/2 + lastLeftTurnIndex
	}
	return index + 1
}

// NumElements returns the number of elements the distributor was built
// over.
func (d *Distributor) NumElements() uint64 { return d.numElements }

// NumNodes returns the number of nodes (internal and leaves) of the
// erased compacted trie.
func (d *Distributor) NumNodes() int { return d.size }

// SizeInBits returns the space occupied by all owned structures, in bits.
func (d *Distributor) SizeInBits() uint64 {
	return d.trie.NumBits() + d.skips.NumBits() +
		d.exit.NumBits() + d.follows.NumBits() + d.transform.NumBits()
}

func (d *Distributor) bitsPerSkip() float64 {
	if d.skips.Len() == 0 {
		return 0
	}
	return float64(d.skips.NumBits()) / float64(d.skips.Len())
}

// Stats returns construction statistics.
func (d *Distributor) Stats() Stats {
	return Stats{
		NumElements:    d.numElements,
		NumNodes:       d.size,
		Log2BucketSize: int(d.log2BucketSize),
		SizeInBits:     d.SizeInBits(),
		BitsPerSkip:    d.bitsPerSkip(),
		MeanSkip:       d.meanSkip,
	}
}
