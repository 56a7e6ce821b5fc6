// Package pipeline wires the Context Verifier, Trust Scorer, Rule Engine,
// and Consensus Orchestrator into the engine's synchronous decision flow,
// reconciles their outcomes, and appends the result to the audit log.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vaultguard/sentinel/pkg/agent"
	"github.com/vaultguard/sentinel/pkg/audit"
	ctxverify "github.com/vaultguard/sentinel/pkg/context"
	"github.com/vaultguard/sentinel/pkg/consensus"
	"github.com/vaultguard/sentinel/pkg/rules"
	"github.com/vaultguard/sentinel/pkg/trust"
)

var tracer = otel.Tracer("github.com/vaultguard/sentinel/pkg/pipeline")

// Request is one access-decision request submitted to the pipeline.
type Request struct {
	RequestID          string
	PrincipalID        string
	Action             string
	Resource           string
	RequiredComponents []string
	Claims             map[string]map[string]any
	RiskLevel          string // "low" | "medium" | "high", from the caller's own risk classification
	Context            map[string]any
	Metadata           map[string]string
}

// Decision is the pipeline's final, reconciled outcome for one request.
type Decision struct {
	RequestID       string
	Verdict         rules.Verdict
	RuleID          string
	TrustScore      trust.Score
	ContextReport   ctxverify.Report
	ConsensusRecord consensus.Record
	AuditEntry      *audit.AuditEntry
}

// Pipeline composes the stages into spec's synchronous decision flow:
// verify context, score trust, evaluate rules, reach consensus, reconcile,
// then append an audit entry. HistoryStore.Record and the consensus
// agents' Observe only run after a successful audit append, so a decision
// that never lands in the audit log never influences a future trust score
// or agent anomaly rate.
type Pipeline struct {
	verifier      *ctxverify.Verifier
	scorer        *trust.Scorer
	history       trust.HistoryStore
	ruleEngine    *rules.Engine
	consensusOrc  *consensus.Orchestrator
	auditLog      *audit.Log
	recencyWindow time.Duration
}

// Config configures a Pipeline.
type Config struct {
	Verifier      *ctxverify.Verifier
	Scorer        *trust.Scorer
	History       trust.HistoryStore
	RuleEngine    *rules.Engine
	Consensus     *consensus.Orchestrator
	AuditLog      *audit.Log
	RecencyWindow time.Duration
}

// New constructs a Pipeline. A zero RecencyWindow defaults to 1 hour.
func New(cfg Config) *Pipeline {
	window := cfg.RecencyWindow
	if window <= 0 {
		window = time.Hour
	}
	return &Pipeline{
		verifier:      cfg.Verifier,
		scorer:        cfg.Scorer,
		history:       cfg.History,
		ruleEngine:    cfg.RuleEngine,
		consensusOrc:  cfg.Consensus,
		auditLog:      cfg.AuditLog,
		recencyWindow: window,
	}
}

// Evaluate runs one request through the full decision flow.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (Decision, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Evaluate", trace.WithAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("principal_id", req.PrincipalID),
	))
	defer span.End()

	decision := Decision{RequestID: req.RequestID}

	contextReport := p.verifyContext(ctx, req)
	decision.ContextReport = contextReport

	history := p.recentHistory(ctx, req.PrincipalID)

	score := p.scoreTrust(req, contextReport, history)
	decision.TrustScore = score

	ruleResult := p.evaluateRules(req, score)
	decision.RuleID = ruleResult.RuleID

	consensusRecord, consensusErr := p.evaluateConsensus(ctx, req, score, contextReport)
	decision.ConsensusRecord = consensusRecord

	decision.Verdict = reconcile(ruleResult, consensusErr, consensusRecord)

	entry, err := p.appendAudit(req, decision)
	if err != nil {
		span.RecordError(err)
		return decision, fmt.Errorf("pipeline: append audit entry: %w", err)
	}
	decision.AuditEntry = entry

	if p.history != nil {
		_ = p.history.Record(ctx, req.PrincipalID, trust.Decision{
			Timestamp:  time.Now().UTC(),
			Verdict:    string(decision.Verdict),
			TrustScore: score.Value,
			Anomalous:  decision.Verdict == rules.VerdictDeny || decision.Verdict == rules.VerdictEscalate,
		})
	}

	if p.consensusOrc != nil {
		p.consensusOrc.Observe(agent.Observation{
			Timestamp: time.Now().UTC(),
			Verdict:   string(decision.Verdict),
			Anomalous: decision.Verdict == rules.VerdictDeny || decision.Verdict == rules.VerdictEscalate,
		})
	}

	return decision, nil
}

func (p *Pipeline) verifyContext(ctx context.Context, req Request) ctxverify.Report {
	_, span := tracer.Start(ctx, "pipeline.verifyContext")
	defer span.End()

	if p.verifier == nil {
		return ctxverify.Report{RequestID: req.RequestID, AggregateConfidence: 0.2}
	}
	return p.verifier.Verify(ctx, ctxverify.Request{
		RequestID:          req.RequestID,
		RequiredComponents: req.RequiredComponents,
		Claims:             req.Claims,
	})
}

func (p *Pipeline) recentHistory(ctx context.Context, principalID string) []trust.Decision {
	if p.history == nil {
		return nil
	}
	history, err := p.history.Recent(ctx, principalID, 10)
	if err != nil {
		return nil
	}
	return history
}

func (p *Pipeline) scoreTrust(req Request, report ctxverify.Report, history []trust.Decision) trust.Score {
	if p.scorer == nil {
		return trust.FailSafe()
	}

	contextFactor := 0.0
	if report.Verified {
		contextFactor = report.AggregateConfidence
	}

	factors := trust.Factors{
		Context:     contextFactor,
		Behavioral:  trust.BehavioralFactor(history),
		Risk:        trust.RiskFactor(req.RiskLevel, history),
		Consistency: trust.ConsistencyFactor(history),
		Recency:     trust.RecencyFactor(history, time.Now().UTC(), p.recencyWindow),
	}
	return p.scorer.Compute(factors)
}

func (p *Pipeline) evaluateRules(req Request, score trust.Score) rules.Result {
	if p.ruleEngine == nil {
		return rules.Result{Matched: false, Verdict: rules.VerdictDeny}
	}
	return p.ruleEngine.Evaluate(rules.Fields{
		TrustScore:   score.Value,
		UserID:       req.PrincipalID,
		ResourcePath: req.Resource,
		Action:       req.Action,
		Context:      req.Context,
		Metadata:     req.Metadata,
	})
}

func (p *Pipeline) evaluateConsensus(ctx context.Context, req Request, score trust.Score, report ctxverify.Report) (consensus.Record, error) {
	if p.consensusOrc == nil {
		return consensus.Record{}, consensus.ErrDegradedConsensus
	}
	return p.consensusOrc.Evaluate(ctx, agent.VoteInput{
		TrustScore:        score.Value,
		RiskLevel:         req.RiskLevel,
		ContextConfidence: report.AggregateConfidence,
	})
}

// reconcile implements the pipeline's reconciliation policy: a rule
// verdict of deny always wins outright; otherwise the stricter of the
// rule's verdict and the consensus outcome applies. A degraded consensus
// (fewer than two live votes) denies outright, the same as any other
// consensus error, since the pipeline cannot trust an under-quorum
// outcome enough to allow, monitor, challenge, or merely escalate it.
func reconcile(ruleResult rules.Result, consensusErr error, record consensus.Record) rules.Verdict {
	if ruleResult.Verdict == rules.VerdictDeny {
		return rules.VerdictDeny
	}

	if consensusErr != nil {
		return rules.VerdictDeny
	}

	consensusVerdict := rules.VerdictAllow
	if !record.Approved {
		consensusVerdict = rules.VerdictDeny
	}

	if rules.Stricter(consensusVerdict, ruleResult.Verdict) {
		return consensusVerdict
	}
	return ruleResult.Verdict
}

func (p *Pipeline) appendAudit(req Request, decision Decision) (*audit.AuditEntry, error) {
	if p.auditLog == nil {
		return nil, fmt.Errorf("pipeline: no audit log configured")
	}
	return p.auditLog.Append("decision", req.PrincipalID, req.Action, audit.DecisionReceipt{
		DecisionID:          decision.RequestID,
		PrincipalID:         req.PrincipalID,
		Action:              req.Action,
		Resource:            req.Resource,
		Verdict:             string(decision.Verdict),
		RuleID:              decision.RuleID,
		TrustScore:          decision.TrustScore.Value,
		TrustLevel:          string(decision.TrustScore.Level),
		ContextConfidence:   decision.ContextReport.AggregateConfidence,
		ConsensusConfidence: decision.ConsensusRecord.Confidence,
		Timestamp:           time.Now().UTC(),
	})
}
