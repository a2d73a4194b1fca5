package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const runtimeTracerName = "openwork-runtime"

func runtimeTracer() trace.Tracer {
	return Tracer(runtimeTracerName)
}

// TraceWebhookRequest starts a span for a webhook stream call to a runtime
// instance. Caller must call span.End() when the stream settles.
func TraceWebhookRequest(ctx context.Context, deploymentID, baseURL string) (context.Context, trace.Span) {
	ctx, span := runtimeTracer().Start(ctx, "runtime.webhook",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("deployment_id", deploymentID),
		attribute.String("runtime.base_url", baseURL),
	)
	return ctx, span
}

// TraceWebhookResult records the stream outcome on the span.
func TraceWebhookResult(span trace.Span, transport string, tokenChunks int, ok bool, errText string) {
	span.SetAttributes(
		attribute.String("runtime.transport", transport),
		attribute.Int("runtime.token_chunks", tokenChunks),
		attribute.Bool("runtime.ok", ok),
	)
	if errText != "" {
		span.SetStatus(codes.Error, errText)
	}
}

// TraceInstallPhase creates a span covering one install phase.
// Caller must call span.End() when the phase completes.
func TraceInstallPhase(ctx context.Context, phase, version string) (context.Context, trace.Span) {
	ctx, span := runtimeTracer().Start(ctx, "runtime.install."+phase,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("install.phase", phase),
		attribute.String("install.version", version),
	)
	return ctx, span
}

// TraceInstallResult records an install phase failure on the span.
func TraceInstallResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
