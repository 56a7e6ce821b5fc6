package merkle

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/vaultguard/sentinel/pkg/hash"
)

// TestMerkleTreeDeterminism checks invariant 1: building a tree twice from
// the same ordered leaf data always yields the same root.
func TestMerkleTreeDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	h := hash.New(hash.SHA256)

	properties.Property("same leaves produce the same root", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			data := leafBytes(values...)

			t1, err := Build(h, data)
			if err != nil {
				return false
			}
			t2, err := Build(h, data)
			if err != nil {
				return false
			}
			return string(t1.Root()) == string(t2.Root())
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestMerkleProofVerification checks invariant 2: every leaf's proof
// produced by GenerateProof verifies against the tree's root.
func TestMerkleProofVerification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	h := hash.New(hash.SHA256)

	properties.Property("every generated proof verifies against its own root", prop.ForAll(
		func(values []string) bool {
			if len(values) == 0 {
				return true
			}
			data := leafBytes(values...)

			tree, err := Build(h, data)
			if err != nil {
				return false
			}

			for i := range data {
				proof, err := GenerateProof(h, data, i)
				if err != nil {
					return false
				}
				if !VerifyInclusionProof(h, proof, tree.Root()) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.AlphaString()).SuchThat(func(v []string) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}
