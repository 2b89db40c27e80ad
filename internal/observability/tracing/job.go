package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "allocsync/scheduler"

// StartJob opens a span for one scheduler job run.
func StartJob(ctx context.Context, job, runID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "job "+job,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.name", job),
			attribute.String("job.run_id", runID),
		),
	)
}

// EndJob records the job outcome on span and ends it.
func EndJob(span trace.Span, processed, skipped, failed int, err error) {
	span.SetAttributes(
		attribute.Int("job.processed", processed),
		attribute.Int("job.skipped", skipped),
		attribute.Int("job.failed", failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
	}
	span.End()
}
