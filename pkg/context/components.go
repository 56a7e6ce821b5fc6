package context

import (
	"fmt"
	"math/big"

	"github.com/vaultguard/sentinel/pkg/canonicalize"
	"github.com/vaultguard/sentinel/pkg/hash"
)

// DefaultComponentConfidence is the configured constant confidence per
// component, matching the reference weights used across the pack this
// engine was modeled on: device fingerprint is the strongest signal,
// pattern history the weakest.
func DefaultComponentConfidence() map[string]float64 {
	return map[string]float64{
		"device":    0.9,
		"timestamp": 0.7,
		"location":  0.8,
		"pattern":   0.6,
	}
}

// buildGenericPreimageComponent builds circuit inputs for any component
// whose claim reduces to "prove you hold the value committed to by
// digest_field", which covers timestamp, location, and pattern claims: the
// raw claim is canonicalized and hashed with SHA-256, and that digest is
// used as both the private secret and the public digest input.
func buildGenericPreimageComponent(circuitID string) ComponentBuilder {
	return func(claim map[string]any) (string, map[string]any, map[string]any, error) {
		canonical, err := canonicalize.JCS(claim)
		if err != nil {
			return "", nil, nil, fmt.Errorf("context: canonicalize claim: %w", err)
		}
		digest := hash.New(hash.SHA256).Sum(canonical)

		private := map[string]any{"secret": new(big.Int).SetBytes(digest)}
		public := map[string]any{"digest": new(big.Int).SetBytes(digest)}
		return circuitID, private, public, nil
	}
}

// BuildTimestampComponent builds the timestamp component: it proves
// knowledge of the claim backing a declared request time without
// revealing clock details beyond what the commitment already fixes.
func BuildTimestampComponent(circuitID string) ComponentBuilder {
	return buildGenericPreimageComponent(circuitID)
}

// BuildLocationComponent builds the location component, analogous to
// BuildTimestampComponent but over geolocation claim fields.
func BuildLocationComponent(circuitID string) ComponentBuilder {
	return buildGenericPreimageComponent(circuitID)
}

// BuildPatternComponent builds the behavioral-pattern component, analogous
// to BuildTimestampComponent but over interaction-pattern claim fields.
func BuildPatternComponent(circuitID string) ComponentBuilder {
	return buildGenericPreimageComponent(circuitID)
}
