package context

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultguard/sentinel/pkg/canonicalize"
	"github.com/vaultguard/sentinel/pkg/hash"
)

// NormalizeDeviceClaim reduces a raw device claim (platform, architecture,
// screen metrics, installed-font hash, and whatever else a client attaches)
// into a stable fingerprint digest, the same way a device's hardware and
// software characteristics collapse into one fingerprint before it is
// trusted or compared across sessions. Keys are sorted so the same device
// always normalizes to the same digest regardless of claim field order.
func NormalizeDeviceClaim(claim map[string]any) (string, error) {
	normalized := make(map[string]any, len(claim))
	for k, v := range claim {
		if k == "device_jwt" {
			continue // the signature, not a fingerprint component
		}
		normalized[k] = v
	}

	canonical, err := canonicalize.JCS(normalized)
	if err != nil {
		return "", fmt.Errorf("context: canonicalize device claim: %w", err)
	}
	return hash.Hex(hash.New(hash.SHA256).Sum(canonical)), nil
}

// DeviceJWTClaims is the signed device-attestation payload a client
// presents alongside its raw device claim fields.
type DeviceJWTClaims struct {
	jwt.RegisteredClaims
	DeviceFingerprint string `json:"device_fingerprint"`
}

// VerifyDeviceJWT validates a signed device-attestation token against key
// and returns its claims. A malformed or expired token is reported as an
// error without panicking; the caller records the device component as
// unverified rather than aborting other components.
func VerifyDeviceJWT(tokenString string, key []byte) (*DeviceJWTClaims, error) {
	claims := &DeviceJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("context: unexpected device JWT signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("context: parse device JWT: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("context: device JWT failed validation")
	}
	return claims, nil
}

// BuildDeviceComponent constructs a ComponentBuilder for the device
// context component: it validates the claim's device-attestation JWT (if
// a key is configured) and derives circuit inputs from the claim's
// normalized fingerprint digest, used as both the private secret and the
// public digest input.
func BuildDeviceComponent(jwtKey []byte, circuitID string) ComponentBuilder {
	return func(claim map[string]any) (string, map[string]any, map[string]any, error) {
		if jwtKey != nil {
			token, _ := claim["device_jwt"].(string)
			if token == "" {
				return "", nil, nil, fmt.Errorf("context: device claim missing device_jwt")
			}
			if _, err := VerifyDeviceJWT(token, jwtKey); err != nil {
				return "", nil, nil, err
			}
		}

		fingerprint, err := NormalizeDeviceClaim(claim)
		if err != nil {
			return "", nil, nil, err
		}

		digestBytes, err := hash.DecodeHex(fingerprint)
		if err != nil {
			return "", nil, nil, fmt.Errorf("context: decode fingerprint digest: %w", err)
		}

		private := map[string]any{"secret": new(big.Int).SetBytes(digestBytes)}
		public := map[string]any{"digest": new(big.Int).SetBytes(digestBytes)}
		return circuitID, private, public, nil
	}
}

// sortedKeys is a small helper kept for components that need deterministic
// iteration order over a claim map beyond what canonicalize.JCS provides
// (e.g. building a human-readable audit note).
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
