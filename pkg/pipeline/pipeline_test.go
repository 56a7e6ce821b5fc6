package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultguard/sentinel/pkg/agent"
	"github.com/vaultguard/sentinel/pkg/artifacts"
	"github.com/vaultguard/sentinel/pkg/audit"
	ctxverify "github.com/vaultguard/sentinel/pkg/context"
	"github.com/vaultguard/sentinel/pkg/consensus"
	"github.com/vaultguard/sentinel/pkg/hash"
	"github.com/vaultguard/sentinel/pkg/proof"
	"github.com/vaultguard/sentinel/pkg/rules"
	"github.com/vaultguard/sentinel/pkg/trust"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()

	store, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	backend := proof.NewMockBackend("timestamp", "1.0.0")
	orchestrator, err := proof.NewOrchestrator([]proof.Binding{
		{CircuitID: "timestamp", CircuitVersion: "1.0.0", Backend: backend, PoolSize: 4},
	}, store, slog.Default())
	require.NoError(t, err)

	verifier := ctxverify.New(ctxverify.Config{
		Orchestrator:        orchestrator,
		Builders:            map[string]ctxverify.ComponentBuilder{"timestamp": ctxverify.BuildTimestampComponent("timestamp")},
		ComponentConfidence: ctxverify.DefaultComponentConfidence(),
		PerComponentTimeout: time.Second,
	})

	scorer := trust.NewScorer(trust.DefaultWeights(), trust.DefaultThresholds())
	history := trust.NewMemoryHistoryStore(100)

	ruleEngine := rules.NewEngine([]rules.Rule{
		{
			ID:       "deny-low-trust",
			Priority: 100,
			Conditions: []rules.Condition{
				{FieldPath: "trust_score", Operator: rules.OpLt, Literal: rules.NumberValue(0.3)},
			},
			Verdict: rules.VerdictDeny,
		},
		{
			ID:       "allow-default",
			Priority: 1,
			Conditions: []rules.Condition{
				{FieldPath: "trust_score", Operator: rules.OpGe, Literal: rules.NumberValue(0.0)},
			},
			Verdict: rules.VerdictAllow,
		},
	})

	strict, err := agent.New("a-strict", agent.RoleStrict, 10, "")
	require.NoError(t, err)
	neutral, err := agent.New("a-neutral", agent.RoleNeutral, 10, "")
	require.NoError(t, err)
	permissive, err := agent.New("a-permissive", agent.RolePermissive, 10, "")
	require.NoError(t, err)

	consensusOrc := consensus.New([]*agent.Agent{strict, neutral, permissive}, consensus.Config{
		Policy: consensus.SimpleMajority,
	})

	auditLog, err := audit.Open(filepath.Join(t.TempDir(), "audit.log"), hash.New(hash.SHA256), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	return New(Config{
		Verifier:      verifier,
		Scorer:        scorer,
		History:       history,
		RuleEngine:    ruleEngine,
		Consensus:     consensusOrc,
		AuditLog:      auditLog,
		RecencyWindow: time.Hour,
	})
}

func TestEvaluateHighTrustRequestIsAppendedAndAllowed(t *testing.T) {
	p := newTestPipeline(t)

	decision, err := p.Evaluate(context.Background(), Request{
		RequestID:          "req-1",
		PrincipalID:        "user-1",
		Action:             "read",
		Resource:           "/documents/42",
		RequiredComponents: []string{"timestamp"},
		Claims:             map[string]map[string]any{"timestamp": {"t": "2026-07-30T00:00:00Z"}},
		RiskLevel:          "low",
	})
	require.NoError(t, err)

	assert.NotNil(t, decision.AuditEntry)
	assert.Equal(t, uint64(0), decision.AuditEntry.SequenceNo)
	assert.Contains(t, []rules.Verdict{rules.VerdictAllow, rules.VerdictMonitor, rules.VerdictChallenge}, decision.Verdict)
}

func TestReconcileRuleDenyAlwaysWins(t *testing.T) {
	result := reconcile(
		rules.Result{RuleID: "r1", Matched: true, Verdict: rules.VerdictDeny},
		nil,
		consensus.Record{Approved: true, Confidence: 1.0},
	)
	assert.Equal(t, rules.VerdictDeny, result)
}

func TestReconcileDegradedConsensusDenies(t *testing.T) {
	result := reconcile(
		rules.Result{RuleID: "r1", Matched: true, Verdict: rules.VerdictAllow},
		consensus.ErrDegradedConsensus,
		consensus.Record{Degraded: true},
	)
	assert.Equal(t, rules.VerdictDeny, result)
}

func TestReconcileStricterOfRuleAndConsensusWins(t *testing.T) {
	result := reconcile(
		rules.Result{RuleID: "r1", Matched: true, Verdict: rules.VerdictAllow},
		nil,
		consensus.Record{Approved: false},
	)
	assert.Equal(t, rules.VerdictDeny, result)
}

func TestMultipleRequestsAccumulateAuditSequence(t *testing.T) {
	p := newTestPipeline(t)

	for i := 0; i < 3; i++ {
		_, err := p.Evaluate(context.Background(), Request{
			RequestID:   "req",
			PrincipalID: "user-2",
			Action:      "read",
			Resource:    "/documents/7",
			RiskLevel:   "medium",
		})
		require.NoError(t, err)
	}

	ok, err := p.auditLog.VerifyFullLog()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, p.auditLog.EntryCount())
}
