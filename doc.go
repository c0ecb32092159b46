// Package hollowtrie implements an order-preserving key distributor backed
// by a hollow trie: a compacted binary trie over a sorted key set, erased
// down to its topology plus two tiny perfect-hash behaviour oracles.
//
// A distributor built over n sorted keys with buckets of 2^b keys routes
// any of the original keys to the ordinal of its bucket, using space per
// key that grows with the logarithm of the average key length rather than
// with the key length itself. It is the routing layer of a monotone
// minimal perfect hash function: an outer structure resolves the rank
// inside the bucket, the distributor resolves which bucket.
//
// Keys outside the original set are routed to some valid ordinal with no
// further guarantee; the distributor is not a membership test.
//
// # Basic Usage
//
// Building a distributor over a sorted, re-iterable key sequence:
//
//	d, err := hollowtrie.Build(ctx, keys, 10)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	bucket := d.Bucket([]byte("mykey"))
//
// Persisting and reopening:
//
//	if err := d.Save("keys.htrd"); err != nil {
//	    log.Fatal(err)
//	}
//	d, err = hollowtrie.Open("keys.htrd")
//
// # Package Structure
//
// The implementation is organized as follows:
//
//   - Public API: distributor.go (Build, Bucket, Stats), open.go (Open), writer.go (Save)
//   - Configuration: options.go (BuildOption, With* functions), transform.go (key-to-bit-vector transforms)
//   - Construction: trie.go (delimiter trie), emitter.go (oracle training streams)
//   - Serialization: header.go (header, footer)
//   - Succinct structures: internal/balparen/ (parenthesis matching), internal/eliasfano/ (skip list), internal/mwhc/ (behaviour oracles)
//   - Platform: fadvise_*.go (OS-specific read-ahead hints)
package hollowtrie
