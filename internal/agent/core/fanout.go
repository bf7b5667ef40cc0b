package core

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepsearch/internal/agent/status"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepsearch/provider"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FanOut issues one grounded call per query and joins the results in input order.
type FanOut struct {
	Gateway   provider.Gateway
	Progress  Progress
	Telemetry *telemetry.Telemetry
	Logger    *zap.Logger
	// Limit caps concurrent branches; 0 runs every branch at once.
	Limit int
	RunID string
}

// Run never fails: each branch failure becomes a placeholder outcome.
func (f *FanOut) Run(ctx context.Context, credential, modelID string, queries []string, originalQuery, historyContext string) []SearchOutcome {
	progress := f.Progress
	if progress == nil {
		progress = noopProgress{}
	}
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	outcomes := make([]SearchOutcome, len(queries))
	total := len(queries)

	var g errgroup.Group
	if f.Limit > 0 {
		g.SetLimit(f.Limit)
	}
	for i, q := range queries {
		i, q := i, q
		id := branchID(i)
		label := fmt.Sprintf("Searching (%d/%d): %s...", i+1, total, truncateRunes(q, 60))
		progress.Add(id, label, status.Working)

		g.Go(func() error {
			start := time.Now()
			text, err := f.branch(ctx, credential, modelID, i, q, originalQuery, historyContext)
			f.Telemetry.RecordBranchEvent(ctx, telemetry.BranchEvent{
				RunID:    f.RunID,
				Index:    i,
				Query:    q,
				Duration: time.Since(start),
				Error:    err,
			})
			if err != nil {
				logger.Warn("search branch failed", zap.Int("index", i), zap.String("query", q), zap.Error(err))
				outcomes[i] = SearchOutcome{Query: q, Result: PlaceholderResult, Err: err}
				progress.Update(id, fmt.Sprintf("Error Searching Query %d", i+1), status.Error)
				return nil
			}
			outcomes[i] = SearchOutcome{Query: q, Result: text}
			progress.Update(id, label, status.Done)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (f *FanOut) branch(ctx context.Context, credential, modelID string, index int, query, originalQuery, historyContext string) (text string, err error) {
	ctx, span := orchestratorTracer.Start(ctx, "research.branch",
		trace.WithAttributes(
			attribute.Int("branch.index", index),
			attribute.String("branch.query", query),
		))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("search branch panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, provider.Classify(err))
		}
	}()
	return f.Gateway.Generate(ctx, credential, modelID, branchPrompt(query, originalQuery, historyContext))
}

func branchID(i int) string {
	return fmt.Sprintf("search-area-%d", i)
}
