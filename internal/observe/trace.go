package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/lexi"

type assessmentKey struct{}

// WithAssessment tags ctx with an assessment id. Spans started and loggers
// derived from the returned context carry it.
func WithAssessment(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, assessmentKey{}, id)
}

// AssessmentID returns the id set by [WithAssessment], or "".
func AssessmentID(ctx context.Context) string {
	id, _ := ctx.Value(assessmentKey{}).(string)
	return id
}

// StartSpan starts a span named name using the global tracer provider. The
// assessment id of ctx, if any, is added as the "assessment.id" attribute.
// The caller must end the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := AssessmentID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("assessment.id", id)))
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// Logger returns the default logger enriched with the assessment id and
// the trace and span ids found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := AssessmentID(ctx); id != "" {
		l = l.With(slog.String("assessment_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
