package trust

import (
	"context"
	"time"
)

// Decision is one past access decision recorded against a principal,
// used to derive the Behavioral, Risk, Consistency, and Recency factors.
type Decision struct {
	Timestamp  time.Time
	Verdict    string
	TrustScore float64
	Anomalous  bool
}

// HistoryStore is the capability the Trust Scorer uses to look up and
// record a principal's recent decision history. Implementations back it
// with an in-memory ring buffer, Redis, or a SQL database.
type HistoryStore interface {
	Record(ctx context.Context, principalID string, d Decision) error
	Recent(ctx context.Context, principalID string, limit int) ([]Decision, error)
}

// BehavioralFactor derives a 0.0-1.0 behavioral factor from history: the
// fraction of the last N decisions that were "allow", with no history at
// all treated neutrally (0.5) rather than penalized.
func BehavioralFactor(history []Decision) float64 {
	if len(history) == 0 {
		return 0.5
	}
	allowed := 0
	for _, d := range history {
		if d.Verdict == "allow" {
			allowed++
		}
	}
	return float64(allowed) / float64(len(history))
}

// RecencyFactor derives a 0.0-1.0 recency factor from the age of the most
// recent activity: 1.0 at age zero, decaying linearly to 0.5 at one window
// and 0.0 at twice the window, and 0.5 (neutral) when there is no history
// to judge.
func RecencyFactor(history []Decision, now time.Time, window time.Duration) float64 {
	if len(history) == 0 {
		return 0.5
	}

	var latest time.Time
	for _, d := range history {
		if d.Timestamp.After(latest) {
			latest = d.Timestamp
		}
	}

	age := now.Sub(latest)
	if age <= 0 {
		return 1.0
	}
	decay := 1.0 - float64(age)/float64(2*window)
	return clamp(decay)
}

// riskLevelBase maps a reported risk level into its base risk factor,
// before the anomaly-rate discount is applied.
var riskLevelBase = map[string]float64{
	"low":    0.9,
	"medium": 0.7,
	"high":   0.3,
}

// RiskFactor derives the 0.0-1.0 risk factor: a base value from the
// reported risk level (0.5 if absent or unrecognized), discounted by the
// anomaly rate observed over the last 10 history entries.
func RiskFactor(riskLevel string, history []Decision) float64 {
	base, ok := riskLevelBase[riskLevel]
	if !ok {
		base = 0.5
	}
	return clamp(base * (1 - anomalyRate(recentWindow(history, 10))))
}

// ConsistencyFactor derives a 0.0-1.0 consistency factor: one minus the
// fraction of anomalous decisions in history, neutral (0.5) when history
// is too sparse to judge.
func ConsistencyFactor(history []Decision) float64 {
	if len(history) < 3 {
		return 0.5
	}
	return clamp(1 - anomalyRate(history))
}

func anomalyRate(history []Decision) float64 {
	if len(history) == 0 {
		return 0
	}
	anomalous := 0
	for _, d := range history {
		if d.Anomalous {
			anomalous++
		}
	}
	return float64(anomalous) / float64(len(history))
}

func recentWindow(history []Decision, n int) []Decision {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
