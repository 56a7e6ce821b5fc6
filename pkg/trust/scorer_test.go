package trust

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeWeightedScore(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), DefaultThresholds())

	score := scorer.Compute(Factors{
		Context:     1.0,
		Behavioral:  1.0,
		Risk:        1.0,
		Consistency: 1.0,
		Recency:     1.0,
	})

	assert.InDelta(t, 1.0, score.Value, 0.0001)
	assert.Equal(t, VeryHigh, score.Level)
}

func TestComputeClampsOutOfRangeFactors(t *testing.T) {
	scorer := NewScorer(DefaultWeights(), DefaultThresholds())

	score := scorer.Compute(Factors{Context: 5.0, Behavioral: -3.0})
	assert.GreaterOrEqual(t, score.Value, 0.0)
	assert.LessOrEqual(t, score.Value, 1.0)
}

func TestClassifyThresholds(t *testing.T) {
	scorer := NewScorer(Weights{Context: 1}, DefaultThresholds())

	cases := []struct {
		context float64
		level   Level
	}{
		{0.95, VeryHigh},
		{0.75, High},
		{0.55, Medium},
		{0.35, Low},
		{0.1, VeryLow},
	}

	for _, c := range cases {
		score := scorer.Compute(Factors{Context: c.context})
		assert.Equal(t, c.level, score.Level, "context=%v", c.context)
	}
}

func TestFailSafeScore(t *testing.T) {
	fs := FailSafe()
	assert.Equal(t, VeryLow, fs.Level)
	assert.Equal(t, 0.1, fs.Value)
}

func TestMemoryHistoryStoreWindowing(t *testing.T) {
	store := NewMemoryHistoryStore(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, "p1", Decision{Timestamp: time.Now(), Verdict: "allow"}))
	}

	recent, err := store.Recent(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestBehavioralFactorNoHistoryIsNeutral(t *testing.T) {
	assert.Equal(t, 0.5, BehavioralFactor(nil))
}

func TestBehavioralFactorAllAllowed(t *testing.T) {
	history := []Decision{{Verdict: "allow"}, {Verdict: "allow"}}
	assert.Equal(t, 1.0, BehavioralFactor(history))
}

func TestRecencyFactorDecaysWithAge(t *testing.T) {
	now := time.Now()
	window := time.Hour

	recent := []Decision{{Timestamp: now.Add(-time.Minute)}}
	assert.InDelta(t, 1.0, RecencyFactor(recent, now, window), 0.05)

	stale := []Decision{{Timestamp: now.Add(-3 * window)}}
	assert.Equal(t, 0.0, RecencyFactor(stale, now, window))
}
