package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/provider/gemini"
)

// Client represents different grounded-generation backends
type Client string

const (
	Gemini Client = "gemini"
)

// Gateway is the single point of contact with the generation backend. It is
// the only component that performs network I/O.
type Gateway interface {
	Generate(ctx context.Context, credential, modelID, prompt string) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, credential, modelID, prompt string) (string, error)

func (f GatewayFunc) Generate(ctx context.Context, credential, modelID, prompt string) (string, error) {
	return f(ctx, credential, modelID, prompt)
}

// NewGateway creates a gateway based on the provided configuration
func NewGateway(cfg config.LLMConfig) (Gateway, error) {
	switch Client(cfg.Provider) {
	case Gemini, "":
		return gemini.NewClient(cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// Error kinds used for metrics labels and API responses.
const (
	KindTransport          = "transport"
	KindUpstreamIncomplete = "upstream_incomplete"
	KindContentBlocked     = "content_blocked"
	KindExtractionFailed   = "extraction_failed"
	KindUnknown            = "unknown"
)

// Classify maps a gateway error onto the error taxonomy. nil maps to "".
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var (
		transport  *gemini.TransportError
		incomplete *gemini.UpstreamIncompleteError
		blocked    *gemini.ContentBlockedError
	)
	switch {
	case errors.As(err, &transport):
		return KindTransport
	case errors.As(err, &incomplete):
		return KindUpstreamIncomplete
	case errors.As(err, &blocked):
		return KindContentBlocked
	case errors.Is(err, gemini.ErrExtractionFailed):
		return KindExtractionFailed
	default:
		return KindUnknown
	}
}
