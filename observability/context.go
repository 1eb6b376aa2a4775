package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RunContext holds observability context for one scheduler run.
type RunContext struct {
	Pipeline  string
	Scheduler string
	RunID     string
	StartTime time.Time
	Metrics   *Metrics
}

// NewRunContext creates a run context. If metrics is nil, metric recording
// is skipped.
func NewRunContext(pipeline, scheduler, runID string, metrics *Metrics) *RunContext {
	return &RunContext{
		Pipeline:  pipeline,
		Scheduler: scheduler,
		RunID:     runID,
		StartTime: time.Now(),
		Metrics:   metrics,
	}
}

type runContextKey struct{}

// WithRunContext stores a RunContext in the context.
func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunContextFromContext retrieves the RunContext from context, or nil.
func RunContextFromContext(ctx context.Context) *RunContext {
	if rc, ok := ctx.Value(runContextKey{}).(*RunContext); ok {
		return rc
	}
	return nil
}

// StartRun starts the run span and records the run start metric.
func (rc *RunContext) StartRun(ctx context.Context) (context.Context, trace.Span) {
	ctx, span := StartSpan(ctx, SpanRun)
	span.SetAttributes(
		attribute.String(AttrPipeline, rc.Pipeline),
		attribute.String(AttrScheduler, rc.Scheduler),
		attribute.String(AttrRunID, rc.RunID),
	)
	if rc.Metrics != nil {
		rc.Metrics.RecordRunStart(ctx, rc.Pipeline)
	}
	return WithRunContext(ctx, rc), span
}

// EndRun ends the span and records run-end metrics.
func (rc *RunContext) EndRun(ctx context.Context, span trace.Span, status string, err error) {
	duration := time.Since(rc.StartTime)

	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(
		attribute.String(AttrStatus, status),
		attribute.Int64(AttrDurationMs, duration.Milliseconds()),
	)
	span.End()

	if rc.Metrics != nil {
		rc.Metrics.RecordRunEnd(ctx, rc.Pipeline, rc.Scheduler, status, duration)
	}
}

// Duration returns the elapsed time since the run started.
func (rc *RunContext) Duration() time.Duration {
	return time.Since(rc.StartTime)
}
