package hollowtrie

import (
	"context"
	"iter"

	hterrors "github.com/cih-y2k/hollowtrie/errors"
	"github.com/cih-y2k/hollowtrie/internal/bitvec"
)

// contextCheckInterval is how often to check for context cancellation
// during the construction passes.
const contextCheckInterval = 10000

const noNode = int32(-1)

// trieNode is one node of the intermediate compacted trie. Children are
// arena indices, so splitting a node during insertion is an arena append
// plus an index rewrite with no aliased pointers.
type trieNode struct {
	left, right int32
	path        *bitvec.Vector // path compacted in this node
	index       int32          // pre-order number, assigned after the first pass
	emitted     bool           // follow behaviour already recorded for this node
}

func (n *trieNode) isLeaf() bool { return n.left == noNode && n.right == noNode }

// intermediate is the construction-time compacted trie built over the
// delimiter subsample of the sorted input. It is consumed into the hollow
// encoding and discarded.
type intermediate struct {
	nodes       []trieNode
	root        int32
	size        int // node count after numbering
	numElements uint64
	maxLenBits  int // longest key seen, in bits
}

func (t *intermediate) alloc(left, right int32, path *bitvec.Vector) int32 {
	t.nodes = append(t.nodes, trieNode{left: left, right: right, path: path})
	return int32(len(t.nodes) - 1)
}

// buildIntermediate runs the first pass: it validates the input contract
// (sorted, distinct, prefix-free) and inserts every B-th element as a
// delimiter into the compacted trie.
//
// Each insertion walks the rightmost chain only as far as the longest
// common prefix with the previous delimiter, so the whole pass is linear
// in the input for sorted data.
func buildIntermediate(ctx context.Context, elements iter.Seq[[]byte], log2BucketSize int, cfg *buildConfig) (*intermediate, error) {
	bucketSizeMask := uint64(1)<<uint(log2BucketSize) - 1

	t := &intermediate{root: noNode}
	prev := bitvec.New(0)
	prevDelimiter := bitvec.New(0)
	curr := bitvec.New(0)
	var keyBuf []uint64

	first := true
	var count uint64
	var iterErr error

	for key := range elements {
		words, nbits := cfg.transform.Bits(key, keyBuf)
		keyBuf = words
		if first {
			prev.Replace(bitvec.FromWords(words, nbits))
			t.maxLenBits = nbits
			count = 1
			first = false
			continue
		}
		curr.Replace(bitvec.FromWords(words, nbits))

		lcp := bitvec.LCP(prev, curr)
		switch {
		case lcp == prev.Len() && lcp == curr.Len():
			iterErr = hterrors.ErrDuplicateKey
		case lcp == prev.Len():
			iterErr = hterrors.ErrNotPrefixFree
		case lcp == curr.Len():
			// curr is a proper prefix of prev, so it sorts before it.
			iterErr = hterrors.ErrUnsortedInput
		case prev.Bit(lcp):
			iterErr = hterrors.ErrUnsortedInput
		}
		if iterErr != nil {
			break
		}

		if count&bucketSizeMask == 0 {
			// Found delimiter. Insert into trie.
			t.insertDelimiter(prev, prevDelimiter)
			prevDelimiter.Replace(prev)
		}
		prev.Replace(curr)
		if nbits > t.maxLenBits {
			t.maxLenBits = nbits
		}
		count++

		if count%contextCheckInterval == 0 {
			select {
			case <-ctx.Done():
				iterErr = ctx.Err()
			default:
			}
			if iterErr != nil {
				break
			}
		}
	}
	if iterErr != nil {
		return nil, iterErr
	}
	if !first {
		t.numElements = count
	}

	t.size = t.number()
	return t, nil
}

// insertDelimiter inserts a new delimiter. The split point is found by
// walking the rightmost chain and subtracting consumed path lengths from
// the longest common prefix with the previous delimiter.
func (t *intermediate) insertDelimiter(delim, prevDelimiter *bitvec.Vector) {
	if t.root == noNode {
		t.root = t.alloc(noNode, noNode, delim.Copy())
		return
	}

	prefix := bitvec.LCP(delim, prevDelimiter)
	pos := 0
	n := t.root
	for n != noNode {
		pathLen := t.nodes[n].path.Len()
		if prefix < pathLen {
			// Split inside this node's path: the old content moves to a
			// new left child, the delimiter's suffix becomes the right
			// leaf, and the branch bit at the split point is implicit.
			suffix := t.nodes[n].path.CopyRange(prefix+1, pathLen)
			left := t.alloc(t.nodes[n].left, t.nodes[n].right, suffix)
			right := t.alloc(noNode, noNode, delim.CopyRange(pos+prefix+1, delim.Len()))
			nd := &t.nodes[n]
			nd.path.Truncate(prefix)
			nd.left = left
			nd.right = right
			return
		}
		prefix -= pathLen + 1
		pos += pathLen + 1
		n = t.nodes[n].right
	}
	panic("hollowtrie: delimiter insertion fell off the rightmost chain")
}

// number assigns pre-order indices (left before right) to all nodes and
// returns the node count. The index of a node is its oracle key prefix
// and, shifted by the sentinel, its position in the hollow bit string.
func (t *intermediate) number() int {
	if t.root == noNode {
		return 0
	}
	idx := int32(0)
	stack := []int32{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t.nodes[n].index = idx
		idx++
		if r := t.nodes[n].right; r != noNode {
			stack = append(stack, r)
		}
		if l := t.nodes[n].left; l != noNode {
			stack = append(stack, l)
		}
	}
	return int(idx)
}

// encode erases the trie into its hollow form: a parenthesis bit string of
// size+1 bits (position 0 is the sentinel open for the virtual root; every
// internal node contributes an open at index+1, leaves contribute nothing)
// and the skip lengths of internal nodes in pre-order.
func (t *intermediate) encode() (*bitvec.Vector, []uint64) {
	bv := bitvec.NewLen(t.size + 1)
	bv.SetBit(0)
	var skips []uint64
	if t.root == noNode {
		return bv, skips
	}

	stack := []int32{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := &t.nodes[n]
		if nd.isLeaf() {
			continue
		}
		bv.SetBit(int(nd.index) + 1)
		skips = append(skips, uint64(nd.path.Len()))
		stack = append(stack, nd.right, nd.left)
	}
	return bv, skips
}
