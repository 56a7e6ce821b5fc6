// Package context implements the engine's Context Verifier: it turns a
// principal's raw claims into a per-component verified confidence report
// by driving the Proof Orchestrator, one component at a time, in parallel.
package context

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaultguard/sentinel/pkg/proof"
)

// Request is the input to a verification run.
type Request struct {
	RequestID          string
	RequiredComponents []string
	Claims             map[string]map[string]any // component -> raw claim fields
}

// ComponentResult is what verifying one component produced.
type ComponentResult struct {
	Component  string
	Verified   bool
	ProofRef   string
	Confidence float64
	Err        error
}

// Report is the aggregate result of a Verify call.
type Report struct {
	RequestID           string
	Components          map[string]ComponentResult
	AggregateConfidence float64
	Verified            bool // true only when every required component verified
}

// unverifiedBaselineConfidence is returned when no components were required
// at all — a floor representing the unverified baseline.
const unverifiedBaselineConfidence = 0.2

// ComponentBuilder constructs circuit inputs for one named component from
// its raw claim fields, returning the circuit ID to invoke plus the
// private/public input maps the orchestrator expects.
type ComponentBuilder func(claim map[string]any) (circuitID string, private, public map[string]any, err error)

// Verifier drives the Proof Orchestrator per component.
type Verifier struct {
	orchestrator        *proof.Orchestrator
	builders            map[string]ComponentBuilder
	componentConfidence map[string]float64
	perComponentTimeout time.Duration
}

// Config configures a Verifier.
type Config struct {
	Orchestrator        *proof.Orchestrator
	Builders            map[string]ComponentBuilder
	ComponentConfidence map[string]float64
	PerComponentTimeout time.Duration
}

// New constructs a Verifier. A zero PerComponentTimeout defaults to 2s.
func New(cfg Config) *Verifier {
	timeout := cfg.PerComponentTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Verifier{
		orchestrator:        cfg.Orchestrator,
		builders:            cfg.Builders,
		componentConfidence: cfg.ComponentConfidence,
		perComponentTimeout: timeout,
	}
}

// Verify constructs and checks a zero-knowledge proof for each required
// component independently; one component's failure never aborts the
// others. aggregate_confidence is the summed confidence weight of the
// verified components divided by the summed weight of all required
// components, or the unverified baseline when no components were required
// at all.
func (v *Verifier) Verify(ctx context.Context, req Request) Report {
	report := Report{
		RequestID:  req.RequestID,
		Components: make(map[string]ComponentResult, len(req.RequiredComponents)),
	}

	if len(req.RequiredComponents) == 0 {
		report.AggregateConfidence = unverifiedBaselineConfidence
		report.Verified = false
		return report
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, component := range req.RequiredComponents {
		wg.Add(1)
		go func(component string) {
			defer wg.Done()
			result := v.verifyComponent(ctx, component, req.Claims[component])
			mu.Lock()
			report.Components[component] = result
			mu.Unlock()
		}(component)
	}
	wg.Wait()

	var weightedSum, weightTotal float64
	allVerified := true
	for _, component := range req.RequiredComponents {
		result := report.Components[component]
		weight := v.componentConfidence[component]
		weightTotal += weight
		if result.Verified {
			weightedSum += weight
		} else {
			allVerified = false
		}
	}

	if weightTotal > 0 {
		report.AggregateConfidence = clamp01(weightedSum / weightTotal)
	} else {
		report.AggregateConfidence = unverifiedBaselineConfidence
	}
	report.Verified = allVerified

	return report
}

func (v *Verifier) verifyComponent(ctx context.Context, component string, claim map[string]any) ComponentResult {
	result := ComponentResult{Component: component}

	builder, ok := v.builders[component]
	if !ok {
		result.Err = fmt.Errorf("context: no builder registered for component %q", component)
		return result
	}

	circuitID, private, public, err := builder(claim)
	if err != nil {
		result.Err = fmt.Errorf("context: build circuit inputs for %q: %w", component, err)
		return result
	}

	compCtx, cancel := context.WithTimeout(ctx, v.perComponentTimeout)
	defer cancel()

	artifact, err := v.orchestrator.Generate(compCtx, circuitID, private, public)
	if err != nil {
		result.Err = fmt.Errorf("context: generate proof for %q: %w", component, err)
		return result
	}

	ok2, err := v.orchestrator.Verify(compCtx, circuitID, artifact, public)
	if err != nil {
		result.Err = fmt.Errorf("context: verify proof for %q: %w", component, err)
		return result
	}

	result.Verified = ok2
	result.ProofRef = artifact.StorageRef
	if ok2 {
		result.Confidence = v.componentConfidence[component]
	}
	return result
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
