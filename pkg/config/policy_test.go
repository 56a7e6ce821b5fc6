package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultguard/sentinel/pkg/config"
)

const validPolicyYAML = `
hash_algorithm: sha256
audit_log_path: /var/lib/sentinel/audit.log
component_confidence:
  device: 0.9
  timestamp: 0.7
per_component_timeout_ms: 2000
trust_weights:
  context: 0.30
  behavioral: 0.25
  risk: 0.20
  consistency: 0.15
  recency: 0.10
trust_thresholds:
  very_high: 0.9
  high: 0.7
  medium: 0.5
  low: 0.3
rules:
  - id: deny-low-trust
    priority: 100
    conditions:
      - field_path: trust_score
        operator: lt
        literal: {number: 0.3}
    verdict: deny
agents:
  - id: a-strict
    role: strict
  - id: a-watchdog
    role: watchdog
    override_expr: "risk_level == 'high'"
quorum_policy: simple_majority
proof_backends:
  - circuit_id: device
    backend: mock
    circuit_version: "1.0.0"
history_store:
  backend: memory
`

func TestParsePolicyValid(t *testing.T) {
	policy, err := config.ParsePolicy([]byte(validPolicyYAML))
	require.NoError(t, err)
	assert.Equal(t, "sha256", policy.HashAlgorithm)
	assert.Len(t, policy.Rules, 1)
	assert.Equal(t, "deny-low-trust", policy.Rules[0].ID)
	assert.Len(t, policy.Agents, 2)
	assert.Equal(t, "simple_majority", policy.QuorumPolicy)
}

func TestParsePolicyRejectsMissingRequiredField(t *testing.T) {
	_, err := config.ParsePolicy([]byte(`
audit_log_path: /var/lib/sentinel/audit.log
rules: []
agents: []
quorum_policy: simple_majority
`))
	assert.Error(t, err)
}

func TestParsePolicyRejectsInvalidHashAlgorithm(t *testing.T) {
	_, err := config.ParsePolicy([]byte(`
hash_algorithm: md5
audit_log_path: /tmp/audit.log
rules: []
agents: []
quorum_policy: simple_majority
`))
	assert.Error(t, err)
}

func TestParsePolicyRejectsInvalidYAML(t *testing.T) {
	_, err := config.ParsePolicy([]byte("not: valid: yaml: at: all:"))
	assert.Error(t, err)
}

func TestParsePolicyRejectsUnknownQuorumPolicy(t *testing.T) {
	_, err := config.ParsePolicy([]byte(`
hash_algorithm: sha256
audit_log_path: /tmp/audit.log
rules: []
agents: []
quorum_policy: rock_paper_scissors
`))
	assert.Error(t, err)
}
