package session

import (
	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepsearch/provider"
	"go.uber.org/zap"
)

// NewFactory builds orchestrators from the research and llm config. guard may
// be nil; when set each session locks under its own id.
func NewFactory(cfg *config.Config, gw provider.Gateway, tele *telemetry.Telemetry, guard core.RunGuard, logger *zap.Logger) Factory {
	research := cfg.Research.Normalize()
	llm := cfg.LLM.Normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	if tele != nil {
		gw = telemetry.Instrument(gw, tele)
	}
	policy := core.QueryPolicy{
		MinQueries: research.MinQueries,
		MaxQueries: research.MaxQueries,
		MaxLength:  research.MaxQueryLength,
	}
	return func(id string) *core.Orchestrator {
		opts := []core.Option{
			core.WithLogger(logger.With(zap.String("session_id", id))),
			core.WithTelemetry(tele),
			core.WithQueryPolicy(policy),
			core.WithHistoryTurns(research.HistoryTurns),
			core.WithMaxParallel(research.MaxParallel),
			core.WithDefaultModel(llm.DefaultModel),
		}
		if guard != nil {
			opts = append(opts, core.WithRunGuard(guard, id))
		}
		return core.NewOrchestrator(gw, nil, nil, opts...)
	}
}
