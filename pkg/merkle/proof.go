package merkle

import (
	"crypto/subtle"

	"github.com/vaultguard/sentinel/pkg/hash"
)

// VerifyInclusionProof recomputes the root from proof.LeafData and
// proof.Path and reports whether it matches expectedRoot.
//
// expectedRoot is supplied by the caller (e.g. the audit log's trusted
// current root) rather than taken from the proof itself, so a forged
// proof cannot simply embed the root it wants to prove.
func VerifyInclusionProof(h *hash.Hasher, proof *InclusionProof, expectedRoot []byte) bool {
	current := h.LeafHash(proof.LeafData)

	for _, step := range proof.Path {
		if step.Side == SideRight {
			current = h.NodeHash(current, step.Sibling)
		} else {
			current = h.NodeHash(step.Sibling, current)
		}
	}

	return subtle.ConstantTimeCompare(current, expectedRoot) == 1
}
