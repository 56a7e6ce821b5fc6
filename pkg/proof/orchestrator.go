package proof

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/vaultguard/sentinel/pkg/artifacts"
)

// Binding registers one Backend to serve a circuit, with its own bounded
// session pool.
type Binding struct {
	CircuitID        string
	CircuitVersion   string // the version this deployment actually requests
	Backend          Backend
	PoolSize         int
	RatePerSecond    float64
	FailureThreshold int
	ResetTimeout     time.Duration
	AcquireTimeout   time.Duration
}

type registeredBackend struct {
	backend        Backend
	pool           *pool
	acquireTimeout time.Duration
}

// Orchestrator dispatches proof generation/verification to the backend
// bound to each circuit ID, persisting successful artifacts in a
// content-addressed Store.
type Orchestrator struct {
	byCircuit map[string]*registeredBackend
	store     artifacts.Store
	logger    *slog.Logger
}

// NewOrchestrator validates each binding's declared circuit version
// range against the version the deployment configured, then builds an
// Orchestrator ready to dispatch.
func NewOrchestrator(bindings []Binding, store artifacts.Store, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		byCircuit: make(map[string]*registeredBackend, len(bindings)),
		store:     store,
		logger:    logger,
	}

	for _, b := range bindings {
		if err := validateCircuitVersion(b); err != nil {
			return nil, err
		}

		acquireTimeout := b.AcquireTimeout
		if acquireTimeout <= 0 {
			acquireTimeout = 2 * time.Second
		}

		o.byCircuit[b.CircuitID] = &registeredBackend{
			backend:        b.Backend,
			pool:           newPool(b.Backend.Name(), b.PoolSize, b.RatePerSecond, b.FailureThreshold, b.ResetTimeout),
			acquireTimeout: acquireTimeout,
		}
	}

	return o, nil
}

func validateCircuitVersion(b Binding) error {
	for _, decl := range b.Backend.DeclaredCircuits() {
		if decl.CircuitID != b.CircuitID {
			continue
		}
		if decl.VersionConstraint == "" || b.CircuitVersion == "" {
			return nil
		}
		constraint, err := semver.NewConstraint(decl.VersionConstraint)
		if err != nil {
			return fmt.Errorf("proof: invalid version constraint for circuit %s: %w", b.CircuitID, err)
		}
		version, err := semver.NewVersion(b.CircuitVersion)
		if err != nil {
			return fmt.Errorf("proof: invalid circuit version %q: %w", b.CircuitVersion, err)
		}
		if !constraint.Check(version) {
			return fmt.Errorf("%w: circuit %s version %s outside backend range %s",
				ErrIncompatibleCircuitVersion, b.CircuitID, b.CircuitVersion, decl.VersionConstraint)
		}
		return nil
	}
	return fmt.Errorf("%w: backend %s never declares circuit %s", ErrUnknownCircuit, b.Backend.Name(), b.CircuitID)
}

// Generate leases a pool slot for circuitID's backend, generates a
// proof, persists it to the artifact store, and returns the artifact
// with StorageRef populated.
func (o *Orchestrator) Generate(ctx context.Context, circuitID string, privateInputs, publicInputs map[string]any) (*Artifact, error) {
	rb, ok := o.byCircuit[circuitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, rb.acquireTimeout)
	defer cancel()

	release, err := rb.pool.acquire(acquireCtx)
	if err != nil {
		return nil, err
	}

	artifact, err := rb.backend.Generate(ctx, circuitID, privateInputs, publicInputs)
	release(err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendError, err)
	}

	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	ref, err := o.store.Store(ctx, artifact.ProofBytes)
	if err != nil {
		return nil, fmt.Errorf("proof: persist artifact: %w", err)
	}
	artifact.StorageRef = ref

	o.logger.Info("proof artifact generated", "circuit_id", circuitID, "artifact_id", artifact.ID, "storage_ref", ref)

	return artifact, nil
}

// Verify leases a pool slot for circuitID's backend and verifies artifact.
func (o *Orchestrator) Verify(ctx context.Context, circuitID string, artifact *Artifact, publicInputs map[string]any) (bool, error) {
	rb, ok := o.byCircuit[circuitID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, rb.acquireTimeout)
	defer cancel()

	release, err := rb.pool.acquire(acquireCtx)
	if err != nil {
		return false, err
	}

	ok2, err := rb.backend.Verify(ctx, circuitID, artifact, publicInputs)
	release(err == nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendError, err)
	}
	return ok2, nil
}

// BatchVerify verifies many artifacts against the same circuit, using
// the backend's native batch path when available and falling back to
// sequential Verify calls otherwise.
func (o *Orchestrator) BatchVerify(ctx context.Context, circuitID string, items []VerifyItem) ([]bool, error) {
	rb, ok := o.byCircuit[circuitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
	}

	if bv, ok := rb.backend.(BatchVerifier); ok {
		acquireCtx, cancel := context.WithTimeout(ctx, rb.acquireTimeout)
		defer cancel()

		release, err := rb.pool.acquire(acquireCtx)
		if err != nil {
			return nil, err
		}
		results, err := bv.BatchVerify(ctx, circuitID, items)
		release(err == nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendError, err)
		}
		return results, nil
	}

	results := make([]bool, len(items))
	for i, item := range items {
		ok, err := o.Verify(ctx, circuitID, item.Artifact, item.PublicInputs)
		if err != nil {
			return nil, err
		}
		results[i] = ok
	}
	return results, nil
}
