// Package hash provides the engine's domain-separated content hashing.
//
// Every digest produced by a Hasher is tagged with a one-byte domain
// separator before hashing so that a leaf digest can never collide with a
// node digest for the same underlying bytes (see pkg/merkle).
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Algorithm identifies the underlying digest function.
type Algorithm string

const (
	SHA256   Algorithm = "sha256"
	SHA3_256 Algorithm = "sha3_256"
)

// Domain separation tags, prepended before hashing.
const (
	tagLeaf byte = 0x00
	tagNode byte = 0x01
)

// Hasher computes domain-separated digests for Merkle leaves and nodes.
type Hasher struct {
	algo Algorithm
	new  func() hash.Hash
}

// New constructs a Hasher for the given algorithm. Unknown algorithms
// default to SHA-256, matching the engine's configuration default.
func New(algo Algorithm) *Hasher {
	switch algo {
	case SHA3_256:
		return &Hasher{algo: SHA3_256, new: sha3.New256}
	default:
		return &Hasher{algo: SHA256, new: sha256.New}
	}
}

// Algorithm reports which digest function this Hasher uses.
func (h *Hasher) Algorithm() Algorithm {
	return h.algo
}

// LeafHash computes the domain-separated digest of a leaf's canonical bytes.
func (h *Hasher) LeafHash(data []byte) []byte {
	d := h.new()
	d.Write([]byte{tagLeaf})
	d.Write(data)
	return d.Sum(nil)
}

// NodeHash computes the domain-separated digest of an internal node from
// its left and right child digests.
func (h *Hasher) NodeHash(left, right []byte) []byte {
	d := h.new()
	d.Write([]byte{tagNode})
	d.Write(left)
	d.Write(right)
	return d.Sum(nil)
}

// Sum computes a plain (non domain-separated) digest of data. Used for
// content-addressing artifacts and audit payloads where leaf/node
// ambiguity does not apply.
func (h *Hasher) Sum(data []byte) []byte {
	d := h.new()
	d.Write(data)
	return d.Sum(nil)
}

// Hex encodes a digest as a lowercase hex string.
func Hex(digest []byte) string {
	return hex.EncodeToString(digest)
}

// DecodeHex decodes a lowercase hex digest string.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hash: invalid hex digest: %w", err)
	}
	return b, nil
}

// ParseAlgorithm validates a configuration string against the supported set.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case SHA256, "":
		return SHA256, nil
	case SHA3_256:
		return SHA3_256, nil
	default:
		return "", fmt.Errorf("hash: unsupported algorithm %q", s)
	}
}
