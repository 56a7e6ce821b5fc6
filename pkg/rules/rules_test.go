package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluatePriorityOrder(t *testing.T) {
	engine := NewEngine([]Rule{
		{ID: "low-priority-allow", Priority: 1, Verdict: VerdictAllow},
		{
			ID:       "high-priority-deny",
			Priority: 10,
			Verdict:  VerdictDeny,
			Conditions: []Condition{
				{FieldPath: "trust_score", Operator: OpLt, Literal: NumberValue(0.5)},
			},
		},
	})

	result := engine.Evaluate(Fields{TrustScore: 0.2})
	assert.Equal(t, VerdictDeny, result.Verdict)
	assert.Equal(t, "high-priority-deny", result.RuleID)
}

func TestEvaluateDenyByDefault(t *testing.T) {
	engine := NewEngine([]Rule{
		{
			ID:       "only-matches-admin",
			Priority: 1,
			Verdict:  VerdictAllow,
			Conditions: []Condition{
				{FieldPath: "user_id", Operator: OpEq, Literal: StringValue("admin")},
			},
		},
	})

	result := engine.Evaluate(Fields{UserID: "someone-else"})
	assert.False(t, result.Matched)
	assert.Equal(t, VerdictDeny, result.Verdict)
}

func TestEvaluateTiebreakByLexicographicID(t *testing.T) {
	engine := NewEngine([]Rule{
		{ID: "zzz", Priority: 5, Verdict: VerdictMonitor},
		{ID: "aaa", Priority: 5, Verdict: VerdictChallenge},
	})

	result := engine.Evaluate(Fields{})
	assert.Equal(t, "aaa", result.RuleID)
}

func TestMissingFieldNeverMatches(t *testing.T) {
	engine := NewEngine([]Rule{
		{
			ID:       "r1",
			Priority: 1,
			Verdict:  VerdictDeny,
			Conditions: []Condition{
				{FieldPath: "context.nonexistent", Operator: OpEq, Literal: StringValue("x")},
			},
		},
	})

	result := engine.Evaluate(Fields{Context: map[string]any{}})
	assert.False(t, result.Matched)
}

func TestContextAndMetadataResolution(t *testing.T) {
	engine := NewEngine([]Rule{
		{
			ID:       "r1",
			Priority: 1,
			Verdict:  VerdictEscalate,
			Conditions: []Condition{
				{FieldPath: "context.risk_level", Operator: OpEq, Literal: StringValue("high")},
				{FieldPath: "metadata.region", Operator: OpEq, Literal: StringValue("eu")},
			},
		},
	})

	result := engine.Evaluate(Fields{
		Context:  map[string]any{"risk_level": "high"},
		Metadata: map[string]string{"region": "eu"},
	})
	assert.Equal(t, VerdictEscalate, result.Verdict)
}

func TestUnicodeNormalizedStringComparison(t *testing.T) {
	// "é" as a single code point vs "e" + combining acute accent
	precomposed := "café"
	decomposed := "café"

	engine := NewEngine([]Rule{
		{
			ID:       "r1",
			Priority: 1,
			Verdict:  VerdictAllow,
			Conditions: []Condition{
				{FieldPath: "resource_path", Operator: OpEq, Literal: StringValue(decomposed)},
			},
		},
	})

	result := engine.Evaluate(Fields{ResourcePath: precomposed})
	assert.Equal(t, VerdictAllow, result.Verdict)
}

func TestContainsOperator(t *testing.T) {
	engine := NewEngine([]Rule{
		{
			ID:       "r1",
			Priority: 1,
			Verdict:  VerdictDeny,
			Conditions: []Condition{
				{FieldPath: "resource_path", Operator: OpContains, Literal: StringValue("secrets")},
			},
		},
	})

	assert.Equal(t, VerdictDeny, engine.Evaluate(Fields{ResourcePath: "/vault/secrets/db"}).Verdict)
	assert.False(t, engine.Evaluate(Fields{ResourcePath: "/vault/public"}).Matched)
}

func TestConditionWithoutNumberLiteralFailsClosed(t *testing.T) {
	engine := NewEngine([]Rule{
		{
			ID:       "r1",
			Priority: 1,
			Verdict:  VerdictAllow,
			Conditions: []Condition{
				{FieldPath: "trust_score", Operator: OpGt, Literal: Value{}}, // no number set; should not panic
			},
		},
	})

	result := engine.Evaluate(Fields{TrustScore: 0.9})
	assert.False(t, result.Matched)
}

func TestLintDetectsDuplicateAndShadowedAndUnknownField(t *testing.T) {
	diags := Lint([]Rule{
		{ID: "catch-all", Priority: 10, Verdict: VerdictAllow},
		{ID: "catch-all", Priority: 5, Verdict: VerdictDeny},
		{
			ID:       "shadowed",
			Priority: 1,
			Verdict:  VerdictDeny,
			Conditions: []Condition{
				{FieldPath: "bogus_field", Operator: OpEq, Literal: StringValue("x")},
			},
		},
	})

	var hasDuplicate, hasShadowed, hasUnknownField bool
	for _, d := range diags {
		switch {
		case d.Message == "duplicate rule ID":
			hasDuplicate = true
		case d.RuleID == "shadowed" && d.Severity == "warning" && d.Message == "unreachable: shadowed by an earlier catch-all rule":
			hasShadowed = true
		case d.RuleID == "shadowed" && d.Message != "unreachable: shadowed by an earlier catch-all rule":
			hasUnknownField = true
		}
	}
	assert.True(t, hasDuplicate)
	assert.True(t, hasShadowed)
	assert.True(t, hasUnknownField)
}

func TestStricter(t *testing.T) {
	assert.True(t, Stricter(VerdictDeny, VerdictAllow))
	assert.False(t, Stricter(VerdictAllow, VerdictDeny))
	assert.True(t, Stricter(VerdictEscalate, VerdictMonitor))
}
