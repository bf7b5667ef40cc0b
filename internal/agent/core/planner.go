package core

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/deepsearch/provider"
)

// Planner asks the model for a numbered research plan
type Planner struct {
	gateway provider.Gateway
}

// NewPlanner creates a planner backed by the given gateway
func NewPlanner(gw provider.Gateway) *Planner {
	return &Planner{gateway: gw}
}

// Plan returns the model's plan text unparsed.
func (p *Planner) Plan(ctx context.Context, credential, modelID, query, historyContext string) (string, error) {
	plan, err := p.gateway.Generate(ctx, credential, modelID, planPrompt(query, historyContext))
	if err != nil {
		return "", fmt.Errorf("failed to generate plan: %w", err)
	}
	return plan, nil
}

// Synthesizer merges fan-out findings into the final answer
type Synthesizer struct {
	gateway provider.Gateway
}

// NewSynthesizer creates a synthesizer backed by the given gateway
func NewSynthesizer(gw provider.Gateway) *Synthesizer {
	return &Synthesizer{gateway: gw}
}

// Synthesize builds one prompt from history, the query and every outcome in order.
func (s *Synthesizer) Synthesize(ctx context.Context, credential, modelID, originalQuery, historyContext string, outcomes []SearchOutcome) (string, error) {
	answer, err := s.gateway.Generate(ctx, credential, modelID, synthesisPrompt(originalQuery, historyContext, outcomes))
	if err != nil {
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}
	return answer, nil
}
