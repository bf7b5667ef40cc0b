package telemetry

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/deepsearch/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var gatewayTracer trace.Tracer = otel.Tracer("deepsearch/provider/gateway")

type instrumented struct {
	next provider.Gateway
	t    *Telemetry
}

// Instrument wraps a gateway so every call is timed, classified and traced.
func Instrument(gw provider.Gateway, t *Telemetry) provider.Gateway {
	if t == nil {
		return gw
	}
	return &instrumented{next: gw, t: t}
}

func (g *instrumented) Generate(ctx context.Context, credential, modelID, prompt string) (string, error) {
	ctx, span := gatewayTracer.Start(ctx, "gateway.generate",
		trace.WithAttributes(
			attribute.String("model", modelID),
			attribute.Int("prompt.length", len(prompt)),
		))
	defer span.End()

	start := time.Now()
	text, err := g.next.Generate(ctx, credential, modelID, prompt)
	g.t.RecordGatewayEvent(ctx, GatewayEvent{Model: modelID, Duration: time.Since(start), Error: err})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, provider.Classify(err))
		return "", err
	}
	span.SetAttributes(attribute.Int("response.length", len(text)))
	return text, nil
}
