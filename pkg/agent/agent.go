// Package agent implements the consensus-voting Agent: a role-biased
// evaluator that casts an approve/deny vote with a confidence, updated
// after each decision by a bounded sliding window of what it has
// observed.
package agent

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// Role names one of the four built-in voting postures. Each has a
// default approval threshold against the principal's trust score;
// Watchdog additionally defaults to carrying a CEL override expression
// that can flip its vote to deny regardless of trust score.
type Role string

const (
	RoleStrict     Role = "strict"
	RoleNeutral    Role = "neutral"
	RolePermissive Role = "permissive"
	RoleWatchdog   Role = "watchdog"
)

// defaultThreshold returns the built-in trust-score threshold for a role.
func defaultThreshold(r Role) float64 {
	switch r {
	case RoleStrict:
		return 0.8
	case RolePermissive:
		return 0.45
	case RoleWatchdog:
		return 0.6
	default:
		return 0.6
	}
}

// Observation is one past decision an Agent has seen, used to compute
// its rolling anomaly rate.
type Observation struct {
	Timestamp time.Time
	Verdict   string
	Anomalous bool
}

// VoteInput is the context an Agent evaluates to cast a vote.
type VoteInput struct {
	TrustScore        float64
	RiskLevel         string // "low" | "medium" | "high"
	ContextConfidence float64
}

// Vote is one Agent's cast ballot.
type Vote struct {
	AgentID    string
	Approve    bool
	Confidence float64
	Reason     string
	Abstained  bool
}

// Agent is one named, role-biased consensus participant.
type Agent struct {
	id         string
	role       Role
	threshold  float64
	windowSize int

	mu     sync.Mutex
	window []Observation

	overrideExpr string
	overrideProg cel.Program
}

// defaultWatchdogOverride is the override a watchdog agent carries when
// none is configured: deny on high risk or a recent anomaly rate above 0.3.
const defaultWatchdogOverride = `risk_level == "high" || anomaly_rate > 0.3`

// New constructs an Agent. overrideExpr, if non-empty, is a CEL boolean
// expression evaluated over trust_score (double), risk_level (string),
// anomaly_rate (double), and context_confidence (double); when it
// evaluates true the agent's vote is forced to deny regardless of the
// role's threshold comparison. An empty overrideExpr on a watchdog agent
// uses defaultWatchdogOverride. windowSize <= 0 defaults to 100.
func New(id string, role Role, windowSize int, overrideExpr string) (*Agent, error) {
	if windowSize <= 0 {
		windowSize = 100
	}
	if overrideExpr == "" && role == RoleWatchdog {
		overrideExpr = defaultWatchdogOverride
	}

	a := &Agent{
		id:           id,
		role:         role,
		threshold:    defaultThreshold(role),
		windowSize:   windowSize,
		overrideExpr: overrideExpr,
	}

	if overrideExpr != "" {
		prog, err := compileOverride(overrideExpr)
		if err != nil {
			return nil, fmt.Errorf("agent %s: compile override expression: %w", id, err)
		}
		a.overrideProg = prog
	}

	return a, nil
}

func compileOverride(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("trust_score", cel.DoubleType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("anomaly_rate", cel.DoubleType),
		cel.Variable("context_confidence", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("build cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}

	prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}
	return prg, nil
}

// AnomalyRate returns the fraction of the agent's current window marked
// anomalous, 0 when the window is empty.
func (a *Agent) AnomalyRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anomalyRateLocked()
}

func (a *Agent) anomalyRateLocked() float64 {
	if len(a.window) == 0 {
		return 0
	}
	count := 0
	for _, o := range a.window {
		if o.Anomalous {
			count++
		}
	}
	return float64(count) / float64(len(a.window))
}

// Cast evaluates VoteInput against the agent's role threshold and,
// if configured, its CEL override expression.
func (a *Agent) Cast(in VoteInput) Vote {
	a.mu.Lock()
	anomalyRate := a.anomalyRateLocked()
	a.mu.Unlock()

	approve := in.TrustScore >= a.threshold
	reason := fmt.Sprintf("trust_score=%.3f vs threshold=%.3f (role=%s)", in.TrustScore, a.threshold, a.role)

	if a.overrideProg != nil {
		out, _, err := a.overrideProg.Eval(map[string]any{
			"trust_score":        in.TrustScore,
			"risk_level":         in.RiskLevel,
			"anomaly_rate":       anomalyRate,
			"context_confidence": in.ContextConfidence,
		})
		if err == nil {
			if flip, ok := out.Value().(bool); ok && flip {
				approve = false
				reason = fmt.Sprintf("override expression triggered deny (anomaly_rate=%.3f)", anomalyRate)
			}
		}
	}

	confidence := confidenceFromDistance(in.TrustScore, a.threshold)

	return Vote{AgentID: a.id, Approve: approve, Confidence: confidence, Reason: reason}
}

func confidenceFromDistance(score, threshold float64) float64 {
	distance := math.Abs(score - threshold)
	confidence := 0.5 + distance*0.5
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// Observe appends an Observation to the agent's bounded sliding window.
// The Consensus Orchestrator calls this serially, one agent at a time,
// after a decision has been finalized.
func (a *Agent) Observe(o Observation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window = append(a.window, o)
	if len(a.window) > a.windowSize {
		a.window = a.window[len(a.window)-a.windowSize:]
	}
}

// ID returns the agent's identifier.
func (a *Agent) ID() string { return a.id }

// Role returns the agent's configured role.
func (a *Agent) Role() Role { return a.role }
