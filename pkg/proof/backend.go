// Package proof orchestrates zero-knowledge proof generation and
// verification across one or more pluggable backends, bounding each
// backend behind a leased, circuit-breaker-protected session pool so a
// slow or failing backend degrades gracefully instead of stalling the
// Decision Pipeline.
package proof

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBackendBusy is returned when a backend's session pool could not
	// grant a lease before the caller's deadline.
	ErrBackendBusy = errors.New("proof: backend busy, pool exhausted")
	// ErrTimeout is returned when a backend call exceeded its deadline.
	ErrTimeout = errors.New("proof: backend call timed out")
	// ErrBackendError wraps an underlying backend failure.
	ErrBackendError = errors.New("proof: backend error")
	// ErrBadInputs is returned when private or public inputs fail a
	// backend's own validation before proving or verifying begins.
	ErrBadInputs = errors.New("proof: malformed inputs")
	// ErrUnknownCircuit is returned when no backend is registered for a
	// requested circuit ID.
	ErrUnknownCircuit = errors.New("proof: no backend registered for circuit")
	// ErrIncompatibleCircuitVersion is returned when a backend is asked
	// to serve a circuit version outside its declared semver range.
	ErrIncompatibleCircuitVersion = errors.New("proof: backend does not support the requested circuit version")
)

// CircuitDeclaration is one circuit a Backend is able to serve.
type CircuitDeclaration struct {
	CircuitID         string
	VersionConstraint string // e.g. ">= 1.0.0, < 2.0.0"
}

// Artifact is the durable result of a successful Generate call: the
// proof bytes plus enough metadata to verify and persist it. Private
// inputs never appear here — only the artifact and a digest of the
// public inputs cross into the audit log.
type Artifact struct {
	ID                 string
	CircuitID          string
	ProofBytes         []byte
	PublicInputsDigest string
	CreatedAt          time.Time
	StorageRef         string // content-addressed key once persisted
}

// Backend is the capability a concrete proof system (a real prover, or a
// deterministic mock for tests) must implement.
type Backend interface {
	Name() string
	DeclaredCircuits() []CircuitDeclaration
	Generate(ctx context.Context, circuitID string, privateInputs, publicInputs map[string]any) (*Artifact, error)
	Verify(ctx context.Context, circuitID string, artifact *Artifact, publicInputs map[string]any) (bool, error)
}

// BatchVerifier is optionally implemented by a Backend that can verify
// many artifacts against the same circuit more efficiently than one at
// a time.
type BatchVerifier interface {
	BatchVerify(ctx context.Context, circuitID string, items []VerifyItem) ([]bool, error)
}

// VerifyItem is one artifact/public-input pair submitted to BatchVerify.
type VerifyItem struct {
	Artifact      *Artifact
	PublicInputs  map[string]any
}
