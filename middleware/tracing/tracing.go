package tracing

import (
	"github.com/sweetpotato0/regulatory-rag/middleware"
	"github.com/sweetpotato0/regulatory-rag/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// StageTracer opens one span per stage invocation.
type StageTracer struct {
	tracer trace.Tracer
}

// New creates a tracing middleware. A nil tracer uses the module tracer.
func New(tracer trace.Tracer) *StageTracer {
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	return &StageTracer{tracer: tracer}
}

// Name returns the middleware name
func (m *StageTracer) Name() string {
	return "StageTracer"
}

// Execute wraps next in a span named "stage.<name>".
func (m *StageTracer) Execute(ctx *middleware.Context, next middleware.Handler) error {
	spanCtx, span := m.tracer.Start(ctx.Context(), "stage."+ctx.Stage,
		trace.WithAttributes(
			telemetry.KeyStage.String(ctx.Stage),
			telemetry.KeyRunID.String(ctx.RunID),
		),
	)
	parent := ctx.Context()
	ctx.WithContext(spanCtx)
	defer ctx.WithContext(parent)

	err := next(ctx)
	if res := ctx.Result; err == nil && res != nil {
		span.SetAttributes(
			telemetry.KeyConfidence.Float64(res.Confidence),
			telemetry.KeyCitations.Int(len(res.Citations)),
			telemetry.KeyWarnings.StringSlice(res.Warnings),
		)
	}
	telemetry.End(span, err)
	return err
}
