package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vaultguard/sentinel/pkg/canonicalize"
)

// MockBackend is a deterministic Backend for tests and local
// development: the "proof" is a canonical hash of the private and
// public inputs together; verification recomputes the SHA-256 of the
// public inputs, compares it with PublicInputsDigest, and does not
// inspect the proof bytes. It
// carries none of a real system's zero-knowledge property and must
// never be selected outside test/dev configuration.
type MockBackend struct {
	circuitID string
	version   string
	fail      bool // when true, every Generate/Verify call fails, for testing backend-error paths
}

// NewMockBackend constructs a MockBackend serving circuitID.
func NewMockBackend(circuitID, version string) *MockBackend {
	return &MockBackend{circuitID: circuitID, version: version}
}

// NewFailingMockBackend constructs a MockBackend whose every call
// errors, for exercising the orchestrator's backend-error and
// circuit-breaker paths.
func NewFailingMockBackend(circuitID, version string) *MockBackend {
	return &MockBackend{circuitID: circuitID, version: version, fail: true}
}

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) DeclaredCircuits() []CircuitDeclaration {
	return []CircuitDeclaration{{CircuitID: b.circuitID, VersionConstraint: ">= " + b.version}}
}

func (b *MockBackend) Generate(ctx context.Context, circuitID string, privateInputs, publicInputs map[string]any) (*Artifact, error) {
	if b.fail {
		return nil, fmt.Errorf("mock backend: simulated failure")
	}
	if circuitID != b.circuitID {
		return nil, fmt.Errorf("%w: mock backend only serves %s", ErrUnknownCircuit, b.circuitID)
	}

	combined, err := canonicalize.JCS(map[string]any{"private": privateInputs, "public": publicInputs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadInputs, err)
	}
	sum := sha256.Sum256(combined)

	publicBytes, err := canonicalize.JCS(publicInputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadInputs, err)
	}
	publicSum := sha256.Sum256(publicBytes)

	return &Artifact{
		CircuitID:          circuitID,
		ProofBytes:         sum[:],
		PublicInputsDigest: hex.EncodeToString(publicSum[:]),
	}, nil
}

func (b *MockBackend) Verify(ctx context.Context, circuitID string, artifact *Artifact, publicInputs map[string]any) (bool, error) {
	if b.fail {
		return false, fmt.Errorf("mock backend: simulated failure")
	}
	publicBytes, err := canonicalize.JCS(publicInputs)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadInputs, err)
	}
	publicSum := sha256.Sum256(publicBytes)
	return hex.EncodeToString(publicSum[:]) == artifact.PublicInputsDigest, nil
}

// BatchVerify verifies each item sequentially; MockBackend has no
// native batch optimization.
func (b *MockBackend) BatchVerify(ctx context.Context, circuitID string, items []VerifyItem) ([]bool, error) {
	results := make([]bool, len(items))
	for i, item := range items {
		ok, err := b.Verify(ctx, circuitID, item.Artifact, item.PublicInputs)
		if err != nil {
			return nil, err
		}
		results[i] = ok
	}
	return results, nil
}
