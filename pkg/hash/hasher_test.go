package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafNodeDomainSeparation(t *testing.T) {
	h := New(SHA256)
	data := []byte("same-bytes")

	leaf := h.LeafHash(data)
	node := h.NodeHash(data, data)

	assert.NotEqual(t, leaf, node, "leaf and node digests must never collide for identical input bytes")
}

func TestHasherDeterministic(t *testing.T) {
	h := New(SHA256)
	a := h.LeafHash([]byte("entry"))
	b := h.LeafHash([]byte("entry"))
	assert.Equal(t, a, b)
}

func TestSHA3Variant(t *testing.T) {
	h := New(SHA3_256)
	assert.Equal(t, SHA3_256, h.Algorithm())
	digest := h.LeafHash([]byte("x"))
	assert.Len(t, digest, 32)
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("sha256")
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)

	a, err = ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)

	_, err = ParseAlgorithm("md5")
	assert.Error(t, err)
}

func TestHexRoundTrip(t *testing.T) {
	h := New(SHA256)
	d := h.LeafHash([]byte("round-trip"))
	encoded := Hex(d)
	decoded, err := DecodeHex(encoded)
	require.NoError(t, err)
	assert.Equal(t, d, decoded)
}
