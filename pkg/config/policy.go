package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/vaultguard/sentinel/pkg/rules"
)

// ProofBackendConfig registers one proof backend against a circuit ID.
type ProofBackendConfig struct {
	CircuitID        string  `yaml:"circuit_id" json:"circuit_id"`
	Backend          string  `yaml:"backend" json:"backend"` // "mock" | "gnark"
	CircuitVersion   string  `yaml:"circuit_version" json:"circuit_version"`
	PoolSize         int     `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	RatePerSecond    float64 `yaml:"rate_per_second,omitempty" json:"rate_per_second,omitempty"`
	FailureThreshold int     `yaml:"failure_threshold,omitempty" json:"failure_threshold,omitempty"`
	ResetTimeoutMS   int     `yaml:"reset_timeout_ms,omitempty" json:"reset_timeout_ms,omitempty"`
}

// AgentConfig configures one consensus agent.
type AgentConfig struct {
	ID           string `yaml:"id" json:"id"`
	Role         string `yaml:"role" json:"role"` // "strict" | "neutral" | "permissive" | "watchdog"
	WindowSize   int    `yaml:"window_size,omitempty" json:"window_size,omitempty"`
	OverrideExpr string `yaml:"override_expr,omitempty" json:"override_expr,omitempty"`
}

// TrustWeightsConfig mirrors pkg/trust.Weights for YAML loading.
type TrustWeightsConfig struct {
	Context     float64 `yaml:"context" json:"context"`
	Behavioral  float64 `yaml:"behavioral" json:"behavioral"`
	Risk        float64 `yaml:"risk" json:"risk"`
	Consistency float64 `yaml:"consistency" json:"consistency"`
	Recency     float64 `yaml:"recency" json:"recency"`
}

// TrustThresholdsConfig mirrors pkg/trust.Thresholds for YAML loading.
type TrustThresholdsConfig struct {
	VeryHigh float64 `yaml:"very_high" json:"very_high"`
	High     float64 `yaml:"high" json:"high"`
	Medium   float64 `yaml:"medium" json:"medium"`
	Low      float64 `yaml:"low" json:"low"`
}

// HistoryStoreConfig selects and configures the principal decision
// history backend.
type HistoryStoreConfig struct {
	Backend string `yaml:"backend" json:"backend"` // "memory" | "redis" | "sqlite" | "postgres"
	Addr    string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Window  int    `yaml:"window,omitempty" json:"window,omitempty"` // max retained decisions per principal
}

// Policy is the engine's full decision-time configuration: everything
// that must be parsed once at load and never changes without a restart.
type Policy struct {
	HashAlgorithm         string                 `yaml:"hash_algorithm" json:"hash_algorithm"`
	AuditLogPath          string                 `yaml:"audit_log_path" json:"audit_log_path"`
	ComponentConfidence   map[string]float64     `yaml:"component_confidence" json:"component_confidence"`
	PerComponentTimeoutMS int                    `yaml:"per_component_timeout_ms" json:"per_component_timeout_ms"`
	TrustWeights          TrustWeightsConfig     `yaml:"trust_weights" json:"trust_weights"`
	TrustThresholds       TrustThresholdsConfig  `yaml:"trust_thresholds" json:"trust_thresholds"`
	Rules                 []rules.Rule           `yaml:"rules" json:"rules"`
	Agents                []AgentConfig          `yaml:"agents" json:"agents"`
	QuorumPolicy          string                 `yaml:"quorum_policy" json:"quorum_policy"`
	QuorumK               int                    `yaml:"quorum_k,omitempty" json:"quorum_k,omitempty"`
	PerAgentTimeoutMS     int                    `yaml:"per_agent_timeout_ms,omitempty" json:"per_agent_timeout_ms,omitempty"`
	ProofBackends         []ProofBackendConfig   `yaml:"proof_backends" json:"proof_backends"`
	HistoryStore          HistoryStoreConfig     `yaml:"history_store" json:"history_store"`
}

// policySchema is the JSON Schema a parsed Policy document must satisfy
// before the engine accepts traffic. It intentionally validates shape and
// required fields only — semantic checks (e.g. "do trust weights sum to
// 1") are the caller's responsibility at startup.
const policySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["hash_algorithm", "audit_log_path", "rules", "agents", "quorum_policy"],
  "properties": {
    "hash_algorithm": {"type": "string", "enum": ["sha256", "sha3_256"]},
    "audit_log_path": {"type": "string", "minLength": 1},
    "component_confidence": {
      "type": "object",
      "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
    },
    "per_component_timeout_ms": {"type": "integer", "minimum": 1},
    "trust_weights": {"type": "object"},
    "trust_thresholds": {"type": "object"},
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "priority", "verdict"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "priority": {"type": "integer"},
          "verdict": {"type": "string", "enum": ["allow", "monitor", "challenge", "escalate", "deny"]}
        }
      }
    },
    "agents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "role"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "role": {"type": "string", "enum": ["strict", "neutral", "permissive", "watchdog"]}
        }
      }
    },
    "quorum_policy": {"type": "string", "enum": ["simple_majority", "supermajority_k", "strict_unanimous"]},
    "proof_backends": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["circuit_id", "backend"],
        "properties": {
          "circuit_id": {"type": "string", "minLength": 1},
          "backend": {"type": "string", "enum": ["mock", "gnark"]}
        }
      }
    }
  }
}`

// ErrConfig wraps any failure loading or validating a Policy document.
type ErrConfig struct {
	msg string
	err error
}

func (e *ErrConfig) Error() string { return fmt.Sprintf("config: %s: %v", e.msg, e.err) }
func (e *ErrConfig) Unwrap() error { return e.err }

// LoadPolicy reads a Policy document from path, validates it against the
// schema, and returns the parsed result. Malformed YAML or a document
// that fails schema validation is reported as an *ErrConfig before the
// engine ever sees it, matching the "reject malformed configuration
// before the engine accepts traffic" requirement.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrConfig{msg: "read policy file", err: err}
	}
	return ParsePolicy(data)
}

// ParsePolicy parses and validates a Policy document from raw YAML bytes.
func ParsePolicy(data []byte) (*Policy, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, &ErrConfig{msg: "parse policy YAML", err: err}
	}

	if err := validateAgainstSchema(generic); err != nil {
		return nil, &ErrConfig{msg: "validate policy schema", err: err}
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, &ErrConfig{msg: "decode policy into struct", err: err}
	}

	return &policy, nil
}

// validateAgainstSchema round-trips the YAML-decoded document through
// JSON so the schema validator sees JSON-native types (float64 numbers,
// string-keyed maps) rather than YAML's richer type set.
func validateAgainstSchema(doc any) error {
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encode document as JSON: %w", err)
	}

	var jsonDoc any
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.UseNumber()
	if err := dec.Decode(&jsonDoc); err != nil {
		return fmt.Errorf("decode JSON document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("policy.schema.json", strings.NewReader(policySchema)); err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	schema, err := compiler.Compile("policy.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	if err := schema.Validate(jsonDoc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
