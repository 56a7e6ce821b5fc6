// Package consensus fans a vote request out to a set of agents under a
// configurable quorum policy, tolerating per-agent timeouts by treating
// a slow agent as an abstention rather than blocking or failing the
// whole decision.
package consensus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vaultguard/sentinel/pkg/agent"
)

// QuorumPolicy selects how votes are combined into an approve/deny outcome.
type QuorumPolicy string

const (
	// SimpleMajority approves when more than half of the non-abstaining
	// votes approve.
	SimpleMajority QuorumPolicy = "simple_majority"
	// SupermajorityK approves only when at least K agents approve,
	// counting abstentions as non-approvals.
	SupermajorityK QuorumPolicy = "supermajority_k"
	// StrictUnanimous approves only when every agent votes and every
	// vote approves; any abstention or dissent denies.
	StrictUnanimous QuorumPolicy = "strict_unanimous"
)

// ErrDegradedConsensus is returned when fewer than two agents managed to
// cast a live vote — not enough participation to trust any quorum
// computation, so the Decision Pipeline must fail closed.
var ErrDegradedConsensus = errors.New("consensus: fewer than two live agent votes, degraded consensus")

// Config configures one ConsensusOrchestrator.
type Config struct {
	Policy          QuorumPolicy
	K               int // required approvals for SupermajorityK
	PerAgentTimeout time.Duration
}

// Record is the outcome of evaluating one vote request.
type Record struct {
	Votes      []agent.Vote
	Approved   bool
	Confidence float64
	Degraded   bool
}

// Orchestrator coordinates concurrent voting across a fixed agent set.
type Orchestrator struct {
	agents []*agent.Agent
	cfg    Config
}

// New constructs an Orchestrator over the given agents.
func New(agents []*agent.Agent, cfg Config) *Orchestrator {
	if cfg.PerAgentTimeout <= 0 {
		cfg.PerAgentTimeout = 200 * time.Millisecond
	}
	return &Orchestrator{agents: agents, cfg: cfg}
}

// Evaluate casts in to every agent concurrently, each bounded by
// PerAgentTimeout, aggregates the result under the configured quorum
// policy, and reports ErrDegradedConsensus when too few agents
// responded to trust the outcome.
func (o *Orchestrator) Evaluate(ctx context.Context, in agent.VoteInput) (Record, error) {
	votes := make([]agent.Vote, len(o.agents))
	total := len(o.agents)

	fanOutCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	completed := 0
	approvals := 0
	denials := 0

	var wg sync.WaitGroup
	for i, a := range o.agents {
		wg.Add(1)
		go func(i int, a *agent.Agent) {
			defer wg.Done()
			v := castWithTimeout(fanOutCtx, a, in, o.cfg.PerAgentTimeout)
			votes[i] = v

			mu.Lock()
			completed++
			if !v.Abstained {
				if v.Approve {
					approvals++
				} else {
					denials++
				}
			}
			if o.decisionAlreadyDetermined(approvals, denials, completed, total) {
				cancel() // early-abort: outcome cannot change, let remaining agents stop waiting
			}
			mu.Unlock()
		}(i, a)
	}
	wg.Wait()

	live := 0
	for _, v := range votes {
		if !v.Abstained {
			live++
		}
	}
	if live < 2 {
		return Record{Votes: votes, Degraded: true}, ErrDegradedConsensus
	}

	approved, confidence := o.tally(votes)
	return Record{Votes: votes, Approved: approved, Confidence: confidence}, nil
}

// castWithTimeout runs a.Cast on its own goroutine-local call (Cast
// itself is synchronous and cheap) but bounds how long the fan-out
// waits for it, so a pathological agent implementation cannot stall the
// whole consensus round.
func castWithTimeout(ctx context.Context, a *agent.Agent, in agent.VoteInput, timeout time.Duration) agent.Vote {
	resultCh := make(chan agent.Vote, 1)
	go func() {
		resultCh <- a.Cast(in)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-resultCh:
		return v
	case <-timer.C:
		return agent.Vote{AgentID: a.ID(), Abstained: true, Reason: "timed out"}
	case <-ctx.Done():
		return agent.Vote{AgentID: a.ID(), Abstained: true, Reason: "cancelled"}
	}
}

// decisionAlreadyDetermined reports whether enough agents have voted
// that no outcome of the remaining, still-pending agents could change
// the quorum result — e.g. under strict_unanimous, one denial already
// dooms unanimity; under simple_majority, once one side holds more than
// half the total votes, the other side cannot catch up.
func (o *Orchestrator) decisionAlreadyDetermined(approvals, denials, completed, total int) bool {
	remaining := total - completed
	switch o.cfg.Policy {
	case StrictUnanimous:
		return denials > 0
	case SupermajorityK:
		return approvals >= o.cfg.K || approvals+remaining < o.cfg.K
	default: // SimpleMajority
		return approvals*2 > total || denials*2 > total
	}
}

func (o *Orchestrator) tally(votes []agent.Vote) (approved bool, confidence float64) {
	approvals := 0
	live := 0
	var confidenceSum float64

	for _, v := range votes {
		if v.Abstained {
			continue
		}
		live++
		confidenceSum += v.Confidence
		if v.Approve {
			approvals++
		}
	}

	if live > 0 {
		confidence = confidenceSum / float64(live)
	}

	switch o.cfg.Policy {
	case StrictUnanimous:
		approved = live == len(votes) && approvals == live
	case SupermajorityK:
		approved = approvals >= o.cfg.K
	default: // SimpleMajority
		approved = live > 0 && approvals*2 > live
	}

	return approved, confidence
}

// Observe serially records o into every agent's sliding window, after a
// decision has been finalized and audited.
func (o *Orchestrator) Observe(obs agent.Observation) {
	for _, a := range o.agents {
		a.Observe(obs)
	}
}
