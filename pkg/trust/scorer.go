// Package trust computes a weighted, explainable trust score for a
// principal from five factors, and classifies it into a named trust
// level against a configurable threshold vector.
package trust

import (
	"fmt"
)

// Level names a classified trust band.
type Level string

const (
	VeryHigh Level = "very_high"
	High     Level = "high"
	Medium   Level = "medium"
	Low      Level = "low"
	VeryLow  Level = "very_low"
)

// Factors holds the five 0.0-1.0 inputs to the weighted score.
type Factors struct {
	Context     float64
	Behavioral  float64
	Risk        float64
	Consistency float64
	Recency     float64
}

// Weights assigns relative importance to each factor. The defaults
// match the factor weighting this engine was derived from.
type Weights struct {
	Context     float64
	Behavioral  float64
	Risk        float64
	Consistency float64
	Recency     float64
}

// DefaultWeights returns the engine's default weight vector.
func DefaultWeights() Weights {
	return Weights{Context: 0.30, Behavioral: 0.25, Risk: 0.20, Consistency: 0.15, Recency: 0.10}
}

// Thresholds is the lower bound of each trust level, in descending order.
type Thresholds struct {
	VeryHigh float64
	High     float64
	Medium   float64
	Low      float64
}

// DefaultThresholds returns the engine's default threshold vector.
func DefaultThresholds() Thresholds {
	return Thresholds{VeryHigh: 0.9, High: 0.7, Medium: 0.5, Low: 0.3}
}

// Score is the computed result of scoring a principal.
type Score struct {
	Value       float64
	Level       Level
	Factors     Factors
	Explanation string
}

// failSafeScore is returned whenever scoring cannot complete normally —
// an internal error must never escalate a principal's trust.
var failSafeScore = Score{
	Value:       0.1,
	Level:       VeryLow,
	Explanation: "trust scoring failed internally; treated as very_low by fail-safe default",
}

// Scorer computes weighted trust scores using a fixed weight and
// threshold configuration.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
}

// NewScorer constructs a Scorer. Zero-value Weights/Thresholds are
// replaced with the engine defaults.
func NewScorer(weights Weights, thresholds Thresholds) *Scorer {
	if (weights == Weights{}) {
		weights = DefaultWeights()
	}
	if (thresholds == Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Scorer{weights: weights, thresholds: thresholds}
}

// Compute produces a weighted Score from the given factors, clamped to
// [0, 1]. It never returns an error: invalid factor inputs are clamped,
// not rejected, so that a partial or malformed caller-supplied factor
// set still yields a conservative score instead of aborting the
// decision pipeline.
func (s *Scorer) Compute(f Factors) Score {
	f = clampFactors(f)

	raw := f.Context*s.weights.Context +
		f.Behavioral*s.weights.Behavioral +
		f.Risk*s.weights.Risk +
		f.Consistency*s.weights.Consistency +
		f.Recency*s.weights.Recency

	value := clamp(raw)
	level := s.classify(value)

	return Score{
		Value:       value,
		Level:       level,
		Factors:     f,
		Explanation: s.explain(f, value, level),
	}
}

// FailSafe returns the score used whenever an upstream dependency
// (history lookup, context data) fails and a conservative score must be
// substituted rather than propagating the error to a decision grant.
func FailSafe() Score {
	return failSafeScore
}

func (s *Scorer) classify(value float64) Level {
	switch {
	case value >= s.thresholds.VeryHigh:
		return VeryHigh
	case value >= s.thresholds.High:
		return High
	case value >= s.thresholds.Medium:
		return Medium
	case value >= s.thresholds.Low:
		return Low
	default:
		return VeryLow
	}
}

func (s *Scorer) explain(f Factors, value float64, level Level) string {
	return fmt.Sprintf(
		"score=%.3f level=%s (context=%.2f*%.2f behavioral=%.2f*%.2f risk=%.2f*%.2f consistency=%.2f*%.2f recency=%.2f*%.2f)",
		value, level,
		f.Context, s.weights.Context,
		f.Behavioral, s.weights.Behavioral,
		f.Risk, s.weights.Risk,
		f.Consistency, s.weights.Consistency,
		f.Recency, s.weights.Recency,
	)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampFactors(f Factors) Factors {
	return Factors{
		Context:     clamp(f.Context),
		Behavioral:  clamp(f.Behavioral),
		Risk:        clamp(f.Risk),
		Consistency: clamp(f.Consistency),
		Recency:     clamp(f.Recency),
	}
}
