package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultguard/sentinel/pkg/agent"
)

func mustAgent(t *testing.T, id string, role agent.Role) *agent.Agent {
	t.Helper()
	a, err := agent.New(id, role, 10, "")
	require.NoError(t, err)
	return a
}

func TestSimpleMajorityApproves(t *testing.T) {
	agents := []*agent.Agent{
		mustAgent(t, "a1", agent.RolePermissive),
		mustAgent(t, "a2", agent.RolePermissive),
		mustAgent(t, "a3", agent.RoleStrict),
	}
	orch := New(agents, Config{Policy: SimpleMajority, PerAgentTimeout: 50 * time.Millisecond})

	record, err := orch.Evaluate(context.Background(), agent.VoteInput{TrustScore: 0.6})
	require.NoError(t, err)
	assert.True(t, record.Approved)
}

func TestStrictUnanimousDeniesOnAnyDissent(t *testing.T) {
	agents := []*agent.Agent{
		mustAgent(t, "a1", agent.RolePermissive),
		mustAgent(t, "a2", agent.RoleStrict),
	}
	orch := New(agents, Config{Policy: StrictUnanimous, PerAgentTimeout: 50 * time.Millisecond})

	record, err := orch.Evaluate(context.Background(), agent.VoteInput{TrustScore: 0.5})
	require.NoError(t, err)
	assert.False(t, record.Approved)
}

func TestSupermajorityKRequiresThreshold(t *testing.T) {
	agents := []*agent.Agent{
		mustAgent(t, "a1", agent.RolePermissive),
		mustAgent(t, "a2", agent.RolePermissive),
		mustAgent(t, "a3", agent.RolePermissive),
	}
	orch := New(agents, Config{Policy: SupermajorityK, K: 3, PerAgentTimeout: 50 * time.Millisecond})

	record, err := orch.Evaluate(context.Background(), agent.VoteInput{TrustScore: 0.5})
	require.NoError(t, err)
	assert.True(t, record.Approved)

	orch2 := New(agents, Config{Policy: SupermajorityK, K: 4, PerAgentTimeout: 50 * time.Millisecond})
	record2, err := orch2.Evaluate(context.Background(), agent.VoteInput{TrustScore: 0.5})
	require.NoError(t, err)
	assert.False(t, record2.Approved)
}

func TestDegradedConsensusWithFewerThanTwoAgents(t *testing.T) {
	agents := []*agent.Agent{mustAgent(t, "a1", agent.RolePermissive)}
	orch := New(agents, Config{Policy: SimpleMajority, PerAgentTimeout: 50 * time.Millisecond})

	record, err := orch.Evaluate(context.Background(), agent.VoteInput{TrustScore: 0.9})
	assert.ErrorIs(t, err, ErrDegradedConsensus)
	assert.True(t, record.Degraded)
}

func TestObserveFansOutToAllAgents(t *testing.T) {
	agents := []*agent.Agent{
		mustAgent(t, "a1", agent.RolePermissive),
		mustAgent(t, "a2", agent.RoleStrict),
	}
	orch := New(agents, Config{Policy: SimpleMajority})
	orch.Observe(agent.Observation{Anomalous: true})

	for _, a := range agents {
		assert.Equal(t, 1.0, a.AnomalyRate())
	}
}
