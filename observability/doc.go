// Package observability provides OpenTelemetry tracing and metrics for
// pipeline runs.
//
// Tracing:
//
//	cfg := observability.DefaultTracerConfig("flowrun")
//	tp, err := observability.InitTracer(ctx, &cfg)
//	defer tp.Shutdown(ctx)
//
// Metrics:
//
//	mcfg := observability.DefaultMeterConfig("flowrun")
//	mp, err := observability.InitMeter(ctx, &mcfg)
//	defer mp.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter("flowrun"))
//	metrics.RecordStep(ctx, "detect", "tracker", "ok", duration)
//
// Schedulers take the metrics through scheduler.WithMetrics and emit one
// span per run and, with scheduler.WithTracing, one span per step.
//
// Health:
//
//	h := observability.NewRunHealth("detect", runID, version.Get().Version)
//	h.AddProcess(observability.ProcessHealth("tracker", "running", false, nil))
package observability
