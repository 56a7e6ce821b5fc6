// Command sentinel boots the context-aware access-control engine: it
// loads configuration, wires the ten core components into one Decision
// Pipeline, and serves a minimal health endpoint until it receives a
// shutdown signal. It does not expose a request API — that façade sits
// outside this module's scope.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/vaultguard/sentinel/pkg/agent"
	"github.com/vaultguard/sentinel/pkg/artifacts"
	"github.com/vaultguard/sentinel/pkg/audit"
	"github.com/vaultguard/sentinel/pkg/config"
	sentinelcontext "github.com/vaultguard/sentinel/pkg/context"
	"github.com/vaultguard/sentinel/pkg/consensus"
	"github.com/vaultguard/sentinel/pkg/hash"
	"github.com/vaultguard/sentinel/pkg/observability"
	"github.com/vaultguard/sentinel/pkg/pipeline"
	"github.com/vaultguard/sentinel/pkg/proof"
	"github.com/vaultguard/sentinel/pkg/rules"
	"github.com/vaultguard/sentinel/pkg/trust"
)

func main() {
	os.Exit(Run())
}

// Run boots the engine and blocks until a shutdown signal arrives.
func Run() int {
	ctx := context.Background()
	env := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(env.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("sentinel engine starting", "policy_path", env.PolicyPath)

	policy, err := config.LoadPolicy(env.PolicyPath)
	if err != nil {
		logger.Error("failed to load policy", "error", err)
		return 1
	}

	obsProvider, err := observability.New(ctx, &observability.Config{
		ServiceName:  "sentinel-engine",
		OTLPEndpoint: env.OTELEndpoint,
		Enabled:      true,
		Insecure:     true,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
	})
	if err != nil {
		logger.Error("failed to init observability", "error", err)
		return 1
	}
	defer obsProvider.Shutdown(ctx)

	p, err := buildPipeline(policy, logger)
	if err != nil {
		logger.Error("failed to build decision pipeline", "error", err)
		return 1
	}
	_ = p // wired and ready to be driven by an external request source

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	healthServer := &http.Server{Addr: env.ListenHealthz, Handler: healthMux}
	go func() {
		logger.Info("health server listening", "addr", env.ListenHealthz)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", "error", err)
		}
	}()

	logger.Info("sentinel engine ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("sentinel engine shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthServer.Shutdown(shutdownCtx)

	return 0
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildPipeline wires a Policy document into a ready-to-drive Pipeline:
// proof backends, the context verifier, trust scorer, rule engine, and
// consensus orchestrator, backed by the audit log at the configured path
// (replayed if it exists, created otherwise).
func buildPipeline(policy *config.Policy, logger *slog.Logger) (*pipeline.Pipeline, error) {
	algo, err := hash.ParseAlgorithm(policy.HashAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("sentinel: %w", err)
	}

	auditLog, err := audit.Open(policy.AuditLogPath, hash.New(algo), logger)
	if err != nil {
		return nil, fmt.Errorf("sentinel: open audit log: %w", err)
	}

	store, err := artifacts.NewFileStore("data/proof-artifacts")
	if err != nil {
		return nil, fmt.Errorf("sentinel: init artifact store: %w", err)
	}

	bindings := make([]proof.Binding, 0, len(policy.ProofBackends))
	builders := make(map[string]sentinelcontext.ComponentBuilder, len(policy.ProofBackends))
	for _, pb := range policy.ProofBackends {
		var backend proof.Backend
		switch pb.Backend {
		case "gnark":
			backend, err = proof.NewGnarkBackend(pb.CircuitID, pb.CircuitVersion)
			if err != nil {
				return nil, fmt.Errorf("sentinel: init gnark backend for %s: %w", pb.CircuitID, err)
			}
		default:
			backend = proof.NewMockBackend(pb.CircuitID, pb.CircuitVersion)
		}

		bindings = append(bindings, proof.Binding{
			CircuitID:        pb.CircuitID,
			CircuitVersion:   pb.CircuitVersion,
			Backend:          backend,
			PoolSize:         pb.PoolSize,
			RatePerSecond:    pb.RatePerSecond,
			FailureThreshold: pb.FailureThreshold,
			ResetTimeout:     time.Duration(pb.ResetTimeoutMS) * time.Millisecond,
		})
		builders[pb.CircuitID] = componentBuilderFor(pb.CircuitID)
	}

	orchestrator, err := proof.NewOrchestrator(bindings, store, logger)
	if err != nil {
		return nil, fmt.Errorf("sentinel: build proof orchestrator: %w", err)
	}

	verifier := sentinelcontext.New(sentinelcontext.Config{
		Orchestrator:        orchestrator,
		Builders:            builders,
		ComponentConfidence: policy.ComponentConfidence,
		PerComponentTimeout: time.Duration(policy.PerComponentTimeoutMS) * time.Millisecond,
	})

	scorer := trust.NewScorer(
		trust.Weights{
			Context:     policy.TrustWeights.Context,
			Behavioral:  policy.TrustWeights.Behavioral,
			Risk:        policy.TrustWeights.Risk,
			Consistency: policy.TrustWeights.Consistency,
			Recency:     policy.TrustWeights.Recency,
		},
		trust.Thresholds{
			VeryHigh: policy.TrustThresholds.VeryHigh,
			High:     policy.TrustThresholds.High,
			Medium:   policy.TrustThresholds.Medium,
			Low:      policy.TrustThresholds.Low,
		},
	)

	history, err := buildHistoryStore(policy.HistoryStore)
	if err != nil {
		return nil, fmt.Errorf("sentinel: build history store: %w", err)
	}

	ruleEngine := rules.NewEngine(policy.Rules)

	agents := make([]*agent.Agent, 0, len(policy.Agents))
	for _, ac := range policy.Agents {
		a, err := agent.New(ac.ID, agent.Role(ac.Role), ac.WindowSize, ac.OverrideExpr)
		if err != nil {
			return nil, fmt.Errorf("sentinel: build agent %s: %w", ac.ID, err)
		}
		agents = append(agents, a)
	}

	consensusOrc := consensus.New(agents, consensus.Config{
		Policy:          consensus.QuorumPolicy(policy.QuorumPolicy),
		K:               policy.QuorumK,
		PerAgentTimeout: time.Duration(policy.PerAgentTimeoutMS) * time.Millisecond,
	})

	return pipeline.New(pipeline.Config{
		Verifier:   verifier,
		Scorer:     scorer,
		History:    history,
		RuleEngine: ruleEngine,
		Consensus:  consensusOrc,
		AuditLog:   auditLog,
	}), nil
}

func buildHistoryStore(cfg config.HistoryStoreConfig) (trust.HistoryStore, error) {
	window := cfg.Window

	switch cfg.Backend {
	case "redis":
		return trust.NewRedisHistoryStore(cfg.Addr, "", 0, window), nil
	case "sqlite":
		return trust.OpenSQLiteHistoryStore(cfg.Path, window)
	case "postgres":
		db, err := sql.Open("postgres", cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("open postgres history store: %w", err)
		}
		return trust.NewSQLHistoryStore(db, window), nil
	default:
		return trust.NewMemoryHistoryStore(window), nil
	}
}

func componentBuilderFor(circuitID string) sentinelcontext.ComponentBuilder {
	if circuitID == "device" {
		return sentinelcontext.BuildDeviceComponent(nil, circuitID)
	}
	return sentinelcontext.BuildTimestampComponent(circuitID)
}
