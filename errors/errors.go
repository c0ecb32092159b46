// Package errors defines all exported error sentinels for the hollowtrie library.
//
// This is the single source of truth for error values. Both the top-level
// hollowtrie package and internal packages import from here, ensuring
// errors.Is checks work across package boundaries.
package errors

import "errors"

// Construction input-contract errors. These are fatal: Build returns no
// partial structure when one of them is reported.
var (
	ErrUnsortedInput = errors.New("hollowtrie: input bit vectors are not lexicographically sorted")
	ErrDuplicateKey  = errors.New("hollowtrie: input bit vectors are not distinct")
	ErrNotPrefixFree = errors.New("hollowtrie: input bit vectors are not prefix-free")
)

// Build errors
var (
	ErrInconsistentTraining = errors.New("hollowtrie: training pair mapped to two different values")
	ErrOracleSeedExhausted  = errors.New("hollowtrie: oracle seed search exhausted - retry with a different seed")
	ErrBucketVerification   = errors.New("hollowtrie: post-build verification found a misrouted element")
)

// File errors
var (
	ErrInvalidMagic     = errors.New("hollowtrie: invalid magic number")
	ErrInvalidVersion   = errors.New("hollowtrie: unsupported version")
	ErrChecksumFailed   = errors.New("hollowtrie: file checksum verification failed")
	ErrTruncatedFile    = errors.New("hollowtrie: distributor file is truncated")
	ErrCorruptedFile    = errors.New("hollowtrie: distributor file is corrupted")
	ErrUnknownTransform = errors.New("hollowtrie: file was built with an unregistered transform")
)
