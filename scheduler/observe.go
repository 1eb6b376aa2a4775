package scheduler

import (
	"context"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// stepper is one process as the scheduling loops see it.
type stepper interface {
	Name() string
	Step(ctx, wait context.Context) (bool, error)
}

// wrap applies the configured decorators to a task.
func wrap(t *task, o *options, pipelineName string) stepper {
	var s stepper = t
	if o.tracing {
		s = withTracing(s, o.spanPrefix)
	}
	if o.metrics != nil {
		s = withMetrics(s, o.metrics, pipelineName)
	}
	return withLogging(s, o.log)
}

// withTracing creates a span named "{prefix}.{process}" around each step.
func withTracing(s stepper, prefix string) stepper {
	return &tracingStepper{inner: s, prefix: prefix}
}

type tracingStepper struct {
	inner  stepper
	prefix string
}

func (s *tracingStepper) Name() string { return s.inner.Name() }

func (s *tracingStepper) Step(ctx, wait context.Context) (bool, error) {
	ctx, span := observability.StartSpan(ctx, s.prefix+"."+s.inner.Name())
	defer span.End()

	observability.SetSpanAttribute(ctx, observability.AttrProcess, s.inner.Name())
	if rc := observability.RunContextFromContext(ctx); rc != nil {
		observability.SetSpanAttribute(ctx, observability.AttrRunID, rc.RunID)
	}

	done, err := s.inner.Step(ctx, wait)
	if err != nil {
		observability.SetSpanError(ctx, err)
	}
	observability.SetSpanAttribute(ctx, observability.AttrStatus, status(done, err))
	return done, err
}

// withMetrics records step count, duration and errors.
func withMetrics(s stepper, m *observability.Metrics, pipelineName string) stepper {
	return &metricsStepper{inner: s, metrics: m, pipeline: pipelineName}
}

type metricsStepper struct {
	inner    stepper
	metrics  *observability.Metrics
	pipeline string
}

func (s *metricsStepper) Name() string { return s.inner.Name() }

func (s *metricsStepper) Step(ctx, wait context.Context) (bool, error) {
	start := time.Now()
	done, err := s.inner.Step(ctx, wait)
	if err != nil && ctx.Err() == nil {
		s.metrics.RecordError(ctx, string(errors.KindOf(err)), s.inner.Name())
	}
	s.metrics.RecordStep(ctx, s.pipeline, s.inner.Name(), status(done, err), time.Since(start))
	return done, err
}

// withLogging logs step failures.
func withLogging(s stepper, log *logger.Logger) stepper {
	return &loggingStepper{inner: s, log: log}
}

type loggingStepper struct {
	inner stepper
	log   *logger.Logger
}

func (s *loggingStepper) Name() string { return s.inner.Name() }

func (s *loggingStepper) Step(ctx, wait context.Context) (bool, error) {
	start := time.Now()
	done, err := s.inner.Step(ctx, wait)
	if err != nil && errors.IsKind(err, errors.KindStepFailed) {
		fields := logger.ErrorFields(s.inner.Name(), err)
		fields[logger.FieldDuration] = time.Since(start).Milliseconds()
		s.log.Error("process step failed", fields)
	}
	return done, err
}

func status(done bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case done:
		return "complete"
	default:
		return "ok"
	}
}
