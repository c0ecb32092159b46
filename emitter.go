package hollowtrie

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
	"github.com/cih-y2k/hollowtrie/internal/bitvec"
	"github.com/cih-y2k/hollowtrie/internal/mwhc"
)

// Behaviour values recorded in the exit stream. FOLLOW is never stored:
// it is represented by a 0 in the false-follow stream.
const (
	behaviourLeft  = uint8(0)
	behaviourRight = uint8(1)
)

// pairFile is one out-of-core training stream: a temp file of
// (nodeIndex, pathLength, value, pathBits) records, written once during
// the training pass and read once while training an oracle.
type pairFile struct {
	file *os.File
	w    *bufio.Writer
	n    int // records written
	buf  []byte
}

func newPairFile(dir, kind string) (*pairFile, error) {
	f, err := os.CreateTemp(dir, "hollowtrie-"+kind+"-*")
	if err != nil {
		return nil, fmt.Errorf("create %s stream: %w", kind, err)
	}
	return &pairFile{file: f, w: bufio.NewWriterSize(f, 1<<16)}, nil
}

// write appends one record. Path bits are written as little-endian bytes
// of the canonical words, zero-padded to a whole byte.
func (p *pairFile) write(node int32, path *bitvec.Vector, value uint8) error {
	p.buf = p.buf[:0]
	p.buf = binary.AppendUvarint(p.buf, uint64(node))
	p.buf = binary.AppendUvarint(p.buf, uint64(path.Len()))
	p.buf = append(p.buf, value)
	for k := 0; k < path.Len(); k += 64 {
		n := path.Len() - k
		if n > 64 {
			n = 64
		}
		var wb [8]byte
		binary.LittleEndian.PutUint64(wb[:], path.Bits(k, n))
		p.buf = append(p.buf, wb[:(n+7)/8]...)
	}
	p.n++
	_, err := p.w.Write(p.buf)
	return err
}

func (p *pairFile) finish() error {
	return p.w.Flush()
}

// cleanup closes and removes the temp file. Safe to call more than once.
func (p *pairFile) cleanup() error {
	if p == nil || p.file == nil {
		return nil
	}
	err := errors.Join(p.file.Close(), os.Remove(p.file.Name()))
	p.file = nil
	return err
}

// pairReader streams records back from a finished pairFile.
type pairReader struct {
	f       *os.File
	r       *bufio.Reader
	words   []uint64
	byteBuf []byte
}

func (p *pairFile) openReader() (*pairReader, error) {
	f, err := os.Open(p.file.Name())
	if err != nil {
		return nil, fmt.Errorf("reopen training stream: %w", err)
	}
	fadviseSequential(int(f.Fd()), 0, 0)
	return &pairReader{f: f, r: bufio.NewReaderSize(f, 1<<16)}, nil
}

func (r *pairReader) close() error {
	return r.f.Close()
}

// next reads one record. The returned words slice is valid until the next
// call.
func (r *pairReader) next() (node uint64, words []uint64, nbits int, value uint8, err error) {
	node, err = binary.ReadUvarint(r.r)
	if err != nil {
		return 0, nil, 0, 0, err
	}
	plen, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, nil, 0, 0, err
	}
	value, err = r.r.ReadByte()
	if err != nil {
		return 0, nil, 0, 0, err
	}

	nbytes := int(plen+7) / 8
	if cap(r.byteBuf) < nbytes {
		r.byteBuf = make([]byte, nbytes)
	}
	r.byteBuf = r.byteBuf[:nbytes]
	if _, err = io.ReadFull(r.r, r.byteBuf); err != nil {
		return 0, nil, 0, 0, err
	}

	nwords := int(plen+63) / 64
	if cap(r.words) < nwords {
		r.words = make([]uint64, nwords)
	}
	r.words = r.words[:nwords]
	clear(r.words)
	for i, b := range r.byteBuf {
		r.words[i/8] |= uint64(b) << (8 * (i % 8))
	}
	return node, r.words, int(plen), value, nil
}

// verifier is the WithVerify debug check: it replays every computed
// training pair, including the ones the consecutive-duplicate suppression
// drops, and reports pairs that were ever assigned two different values.
type verifier struct {
	ext     map[mwhc.Signature]uint8
	follow  map[mwhc.Signature]uint8
	scratch []byte
}

func newVerifier() *verifier {
	return &verifier{
		ext:    make(map[mwhc.Signature]uint8),
		follow: make(map[mwhc.Signature]uint8),
	}
}

func (v *verifier) check(m map[mwhc.Signature]uint8, node int32, path *bitvec.Vector, value uint8) error {
	var sig mwhc.Signature
	sig, v.scratch = mwhc.KeySignature(v.scratch, uint64(node), path.Words(), path.Len())
	if old, ok := m[sig]; ok {
		if old != value {
			return fmt.Errorf("%w: node %d path length %d: %d then %d",
				hterrors.ErrInconsistentTraining, node, path.Len(), old, value)
		}
		return nil
	}
	m[sig] = value
	return nil
}

// emitTrainingPairs runs the second full pass: every element is walked
// against the compacted trie and the observed (node, fragment) behaviours
// are appended to the two training streams. Consecutive keys reuse the
// longest common prefix with the previous key, so the traversal stack is
// only popped back to the deepest node still on the shared path.
//
// On error the returned files are already cleaned up.
func emitTrainingPairs(ctx context.Context, elements iter.Seq[[]byte], t *intermediate, cfg *buildConfig) (ext, follow *pairFile, err error) {
	ext, err = newPairFile(cfg.tempDir, "behaviour")
	if err != nil {
		return nil, nil, err
	}
	follow, err = newPairFile(cfg.tempDir, "follow")
	if err != nil {
		return nil, nil, errors.Join(err, ext.cleanup())
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, ext.cleanup(), follow.cleanup())
			ext, follow = nil, nil
		}
	}()

	// The stack of nodes visited for the previous key, and the length of
	// the trie path consumed up to each of them (excluded).
	stackNode := make([]int32, t.maxLenBits+1)
	stackLen := make([]int, t.maxLenBits+1)
	stackNode[0] = t.root
	depth := 0

	prev := bitvec.New(0)
	curr := bitvec.New(0)
	frag := bitvec.New(64)
	lastPath := bitvec.New(0)
	lastNode := noNode
	var keyBuf []uint64
	var vf *verifier
	if cfg.verify {
		vf = newVerifier()
	}

	first := true
	var count uint64
	for key := range elements {
		words, nbits := cfg.transform.Bits(key, keyBuf)
		keyBuf = words
		curr.Replace(bitvec.FromWords(words, nbits))

		if !first {
			lcp := bitvec.LCP(prev, curr)
			for depth > 0 && stackLen[depth] > lcp {
				depth--
			}
		} else {
			first = false
		}
		node := stackNode[depth]
		pos := stackLen[depth]

		for {
			nd := &t.nodes[node]
			nodePath := nd.path
			prefix := bitvec.LCPAt(curr, pos, nodePath)
			falseFollow := -1
			isFollow := false

			if prefix < nodePath.Len() || !nd.emitted {
				// Either an exit behaviour must be recorded, or this
				// node's follow behaviour has not been recorded yet.
				var path *bitvec.Vector
				var behaviour uint8
				if prefix == nodePath.Len() {
					behaviour = behaviourLeft
					path = nodePath
					nd.emitted = true
					if !nd.isLeaf() {
						falseFollow = 0
						isFollow = true
					}
				} else {
					// Exit: LEFT or RIGHT depending on the trie bit at
					// the mismatch. The fragment is the whole remaining
					// suffix for leaves, or at most the skip length for
					// internal nodes.
					if nodePath.Bit(prefix) {
						behaviour = behaviourLeft
					} else {
						behaviour = behaviourRight
					}
					end := curr.Len()
					if !nd.isLeaf() && pos+nodePath.Len() < end {
						end = pos + nodePath.Len()
					}
					frag.Reset()
					frag.AppendRange(curr, pos, end)
					path = frag
				}

				if !isFollow {
					if vf != nil {
						if err = vf.check(vf.ext, nd.index, path, behaviour); err != nil {
							return
						}
					}
					if lastNode != node || !bitvec.Equal(path, lastPath) {
						if err = ext.write(nd.index, path, behaviour); err != nil {
							return
						}
						lastNode = node
						lastPath.Replace(path)
						if !nd.isLeaf() {
							falseFollow = 1
						}
					}
				}

				if falseFollow >= 0 {
					if vf != nil {
						if err = vf.check(vf.follow, nd.index, path, uint8(falseFollow)); err != nil {
							return
						}
					}
					if err = follow.write(nd.index, path, uint8(falseFollow)); err != nil {
						return
					}
				}

				if !isFollow {
					break
				}
			}

			pos += nodePath.Len() + 1
			if pos > curr.Len() {
				break
			}
			if curr.Bit(pos - 1) {
				node = nd.right
			} else {
				node = nd.left
			}
			depth++
			stackNode[depth] = node
			stackLen[depth] = pos
		}

		prev.Replace(curr)
		count++
		if count%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return
			default:
			}
		}
	}

	if err = errors.Join(ext.finish(), follow.finish()); err != nil {
		return
	}
	return ext, follow, nil
}

// trainOracle builds one perfect-hash oracle from a finished training
// stream.
func trainOracle(p *pairFile, width int, seed uint64) (*mwhc.Function, error) {
	r, err := p.openReader()
	if err != nil {
		return nil, err
	}
	defer r.close()

	b := mwhc.NewBuilder(p.n, width)
	var scratch []byte
	for i := 0; i < p.n; i++ {
		node, words, nbits, value, err := r.next()
		if err != nil {
			return nil, fmt.Errorf("read training stream: %w", err)
		}
		var sig mwhc.Signature
		sig, scratch = mwhc.KeySignature(scratch, node, words, nbits)
		b.Add(sig, value)
	}
	return b.Build(seed)
}
