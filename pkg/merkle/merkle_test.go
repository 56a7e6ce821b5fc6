package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultguard/sentinel/pkg/hash"
)

func leafBytes(values ...string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out
}

func TestBuildTreeOddLeafDuplication(t *testing.T) {
	h := hash.New(hash.SHA256)
	data := leafBytes("valueA", "valueB", "valueC")

	tree, err := Build(h, data)
	require.NoError(t, err)
	require.Equal(t, 3, tree.Len())

	h1 := h.LeafHash(data[0])
	h2 := h.LeafHash(data[1])
	h3 := h.LeafHash(data[2])

	n1 := h.NodeHash(h1, h2)
	n2 := h.NodeHash(h3, h3) // odd level: duplicate last

	root := h.NodeHash(n1, n2)

	assert.Equal(t, root, tree.Root())
}

func TestGenerateAndVerifyProof(t *testing.T) {
	h := hash.New(hash.SHA256)
	data := leafBytes("valueA", "valueB", "valueC")

	tree, err := Build(h, data)
	require.NoError(t, err)

	for i := range data {
		proof, err := GenerateProof(h, data, i)
		require.NoError(t, err)
		assert.True(t, VerifyInclusionProof(h, proof, tree.Root()), "leaf %d should verify", i)
	}
}

func TestVerifyInclusionProofRejectsTamperedLeaf(t *testing.T) {
	h := hash.New(hash.SHA256)
	data := leafBytes("valueA", "valueB", "valueC")

	tree, err := Build(h, data)
	require.NoError(t, err)

	proof, err := GenerateProof(h, data, 2)
	require.NoError(t, err)

	tampered := *proof
	tampered.LeafData = []byte("not the real value")

	assert.False(t, VerifyInclusionProof(h, &tampered, tree.Root()))
}

func TestVerifyInclusionProofRejectsWrongRoot(t *testing.T) {
	h := hash.New(hash.SHA256)
	data := leafBytes("valueA", "valueB")

	proof, err := GenerateProof(h, data, 0)
	require.NoError(t, err)

	assert.False(t, VerifyInclusionProof(h, proof, []byte("not-a-root")))
}

func TestGenerateProofOutOfRange(t *testing.T) {
	h := hash.New(hash.SHA256)
	data := leafBytes("a", "b")

	_, err := GenerateProof(h, data, 5)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestBuildEmptyTree(t *testing.T) {
	h := hash.New(hash.SHA256)
	_, err := Build(h, nil)
	assert.ErrorIs(t, err, ErrEmptyTree)
}

func TestSingleLeafTree(t *testing.T) {
	h := hash.New(hash.SHA256)
	data := leafBytes("only")

	tree, err := Build(h, data)
	require.NoError(t, err)
	assert.Equal(t, h.LeafHash(data[0]), tree.Root())

	proof, err := GenerateProof(h, data, 0)
	require.NoError(t, err)
	assert.Empty(t, proof.Path)
	assert.True(t, VerifyInclusionProof(h, proof, tree.Root()))
}
