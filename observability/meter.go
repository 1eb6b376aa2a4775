package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/flowkit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name reported for the runner.
	ServiceName string
	// ServiceVersion is the version of the runner.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns defaults for a local collector.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(newResource(config.ServiceName, config.ServiceVersion, config.Environment)),
	)

	otel.SetMeterProvider(mp)

	logger.GetGlobalLogger().Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the instruments recorded while pipelines run.
type Metrics struct {
	runTotal     metric.Int64Counter
	runDuration  metric.Float64Histogram
	runActive    metric.Int64UpDownCounter
	stepTotal    metric.Int64Counter
	stepDuration metric.Float64Histogram
	datumTotal   metric.Int64Counter
	errorTotal   metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	runTotal, err := meter.Int64Counter("pipeline.run.total",
		metric.WithDescription("Total number of scheduler runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline.run.total counter: %w", err)
	}

	runDuration, err := meter.Float64Histogram("pipeline.run.duration",
		metric.WithDescription("Duration of scheduler runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline.run.duration histogram: %w", err)
	}

	runActive, err := meter.Int64UpDownCounter("pipeline.run.active",
		metric.WithDescription("Number of scheduler runs in progress"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline.run.active gauge: %w", err)
	}

	stepTotal, err := meter.Int64Counter("process.step.total",
		metric.WithDescription("Total number of process steps"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating process.step.total counter: %w", err)
	}

	stepDuration, err := meter.Float64Histogram("process.step.duration",
		metric.WithDescription("Duration of process steps in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating process.step.duration histogram: %w", err)
	}

	datumTotal, err := meter.Int64Counter("edge.datum.total",
		metric.WithDescription("Datums pushed onto edges, by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating edge.datum.total counter: %w", err)
	}

	errorTotal, err := meter.Int64Counter("error.total",
		metric.WithDescription("Total errors by kind and process"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating error.total counter: %w", err)
	}

	return &Metrics{
		runTotal:     runTotal,
		runDuration:  runDuration,
		runActive:    runActive,
		stepTotal:    stepTotal,
		stepDuration: stepDuration,
		datumTotal:   datumTotal,
		errorTotal:   errorTotal,
	}, nil
}

// RecordRunStart increments the active run count.
func (m *Metrics) RecordRunStart(ctx context.Context, pipeline string) {
	m.runActive.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrPipeline, pipeline)))
}

// RecordRunEnd decrements active runs and records the finished run.
func (m *Metrics) RecordRunEnd(ctx context.Context, pipeline, scheduler, status string, duration time.Duration) {
	m.runActive.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrPipeline, pipeline)))
	m.runTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipeline, pipeline),
		attribute.String(AttrScheduler, scheduler),
		attribute.String(AttrStatus, status),
	))
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrPipeline, pipeline),
		attribute.String(AttrScheduler, scheduler),
	))
}

// RecordStep records one process step.
func (m *Metrics) RecordStep(ctx context.Context, pipeline, process, status string, duration time.Duration) {
	m.stepTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPipeline, pipeline),
		attribute.String(AttrProcess, process),
		attribute.String(AttrStatus, status),
	))
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(AttrPipeline, pipeline),
		attribute.String(AttrProcess, process),
	))
}

// RecordDatum records a datum pushed on an output port.
func (m *Metrics) RecordDatum(ctx context.Context, process, port, kind string) {
	m.datumTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProcess, process),
		attribute.String(AttrPort, port),
		attribute.String(AttrDatumKind, kind),
	))
}

// RecordError records an error by kind and process.
func (m *Metrics) RecordError(ctx context.Context, kind, process string) {
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorKind, kind),
		attribute.String(AttrProcess, process),
	))
}
