package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/introspect"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/pipeline"
	"github.com/kbukum/flowkit/scheduler"
	"github.com/kbukum/flowkit/version"
)

// Hook runs before a pipeline is set up or after its run ends.
type Hook func(ctx context.Context) error

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Without one, a logger is built from the
// settings.
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithSchedulers sets the scheduler registry. The built-in one is used
// otherwise.
func WithSchedulers(s *scheduler.Registry) Option {
	return func(r *Runner) { r.schedulers = s }
}

// WithGracefulTimeout bounds stop hooks and telemetry shutdown.
func WithGracefulTimeout(d time.Duration) Option {
	return func(r *Runner) { r.gracefulTimeout = d }
}

// WithIntrospectOptions adds options to the introspection handler.
func WithIntrospectOptions(opts ...introspect.Option) Option {
	return func(r *Runner) { r.introspectOpts = append(r.introspectOpts, opts...) }
}

// WithSignals makes Run stop the scheduler on SIGINT or SIGTERM. A second
// signal cancels the run context.
func WithSignals() Option {
	return func(r *Runner) { r.signals = true }
}

// Runner drives one pipeline run with the settings' scheduler, telemetry and
// introspection endpoint.
type Runner struct {
	settings        *config.Settings
	log             *logger.Logger
	schedulers      *scheduler.Registry
	gracefulTimeout time.Duration
	introspectOpts  []introspect.Option
	signals         bool

	onStart []Hook
	onStop  []Hook

	mu    sync.Mutex
	sched scheduler.Scheduler
}

// New creates a runner. Settings are defaulted and validated.
func New(settings *config.Settings, opts ...Option) (*Runner, error) {
	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		settings:        settings,
		schedulers:      scheduler.NewRegistry(),
		gracefulTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.New(&settings.Logging, settings.Name)
	}
	return r, nil
}

// Logger returns the runner's logger.
func (r *Runner) Logger() *logger.Logger { return r.log }

// OnStart registers hooks run before the pipeline is set up.
func (r *Runner) OnStart(hooks ...Hook) {
	r.onStart = append(r.onStart, hooks...)
}

// OnStop registers hooks run after the run ends, whatever its outcome.
func (r *Runner) OnStop(hooks ...Hook) {
	r.onStop = append(r.onStop, hooks...)
}

// Stop asks the running scheduler, if any, to stop.
func (r *Runner) Stop() {
	r.mu.Lock()
	s := r.sched
	r.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// Run sets p up, runs it to completion and shuts everything down. The
// returned stats describe the run even when it fails.
func (r *Runner) Run(ctx context.Context, p *pipeline.Pipeline) (scheduler.Stats, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := r.log.WithFields(logger.Fields(logger.FieldPipeline, p.Name(), logger.FieldRunID, runID))
	log.Info("starting run", logger.Fields(
		"engine", version.Get().String(),
		logger.FieldScheduler, r.settings.Scheduler.Type,
	))

	shutdownTelemetry, metrics, err := r.startTelemetry(ctx)
	if err != nil {
		return scheduler.Stats{}, err
	}
	runErr := r.run(ctx, p, runID, metrics, log)

	stopCtx, cancel := context.WithTimeout(context.Background(), r.gracefulTimeout)
	defer cancel()
	stopErr := runHooks(stopCtx, r.onStop)
	if err := shutdownTelemetry(stopCtx); err != nil {
		log.Warn("telemetry shutdown failed", logger.Fields(logger.FieldError, err.Error()))
	}

	var stats scheduler.Stats
	r.mu.Lock()
	if r.sched != nil {
		stats = r.sched.Stats()
	}
	r.sched = nil
	r.mu.Unlock()

	fields := logger.Fields(logger.FieldDuration, time.Since(start).Milliseconds(), logger.FieldState, stats.State)
	switch {
	case runErr == nil:
		log.Info("run finished", fields)
	case errors.IsKind(runErr, errors.KindStopped):
		log.Warn("run stopped", fields)
	default:
		log.Error("run failed", logger.Fields(logger.FieldError, runErr.Error(), logger.FieldState, stats.State))
	}

	if runErr != nil {
		return stats, runErr
	}
	return stats, stopErr
}

func (r *Runner) run(ctx context.Context, p *pipeline.Pipeline, runID string, metrics *observability.Metrics, log *logger.Logger) error {
	if err := runHooks(ctx, r.onStart); err != nil {
		return err
	}
	if err := p.Setup(ctx); err != nil {
		return err
	}

	opts := []scheduler.Option{scheduler.WithLogger(r.log), scheduler.WithRunID(runID)}
	if metrics != nil {
		opts = append(opts, scheduler.WithMetrics(metrics))
	}
	if r.settings.Observability.Tracing {
		opts = append(opts, scheduler.WithTracing(r.settings.Name))
	}
	s, err := r.schedulers.Create(r.settings.Scheduler.Type, p, opts...)
	if err != nil {
		_ = p.Shutdown(ctx)
		return err
	}
	r.mu.Lock()
	r.sched = s
	r.mu.Unlock()

	if addr := r.settings.Introspect.Addr; addr != "" {
		hopts := append([]introspect.Option{introspect.WithLogger(r.log), introspect.WithScheduler(s)}, r.introspectOpts...)
		srv := introspect.NewServer(addr, introspect.Handler(p, hopts...), r.log)
		if err := srv.Start(ctx); err != nil {
			_ = p.Shutdown(ctx)
			return err
		}
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				log.Warn("introspection shutdown failed", logger.Fields(logger.FieldError, err.Error()))
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.signals {
		stopSignals := r.watchSignals(runCtx, cancel, log)
		defer stopSignals()
	}
	return s.Run(runCtx)
}

// watchSignals stops the run on the first signal and cancels it on the
// second.
func (r *Runner) watchSignals(ctx context.Context, cancel context.CancelFunc, log *logger.Logger) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		stopped := false
		for {
			select {
			case sig := <-sigCh:
				if !stopped {
					log.Info("signal received, stopping", logger.Fields("signal", sig.String()))
					r.Stop()
					stopped = true
					continue
				}
				log.Warn("second signal received, canceling", logger.Fields("signal", sig.String()))
				cancel()
				return
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// startTelemetry installs the OTLP providers the settings ask for and
// returns a function shutting them down.
func (r *Runner) startTelemetry(ctx context.Context) (func(context.Context) error, *observability.Metrics, error) {
	obs := r.settings.Observability
	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		return stderrors.Join(errs...)
	}

	v := version.Get().Version
	if obs.Tracing {
		cfg := observability.DefaultTracerConfig(r.settings.Name)
		cfg.ServiceVersion, cfg.Endpoint, cfg.Insecure, cfg.SampleRate = v, obs.Endpoint, obs.Insecure, obs.SampleRate
		tp, err := observability.InitTracer(ctx, &cfg)
		if err != nil {
			return nil, nil, errors.New(errors.KindInvalidConfiguration, "tracing: "+err.Error()).WithCause(err)
		}
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	var metrics *observability.Metrics
	if obs.Metrics {
		cfg := observability.DefaultMeterConfig(r.settings.Name)
		cfg.ServiceVersion, cfg.Insecure = v, obs.Insecure
		if obs.Endpoint != "" {
			cfg.Endpoint = obs.Endpoint
		}
		mp, err := observability.InitMeter(ctx, &cfg)
		if err != nil {
			_ = shutdown(ctx)
			return nil, nil, errors.New(errors.KindInvalidConfiguration, "metrics: "+err.Error()).WithCause(err)
		}
		shutdowns = append(shutdowns, mp.Shutdown)
		if metrics, err = observability.NewMetrics(observability.Meter(r.settings.Name)); err != nil {
			_ = shutdown(ctx)
			return nil, nil, err
		}
	}
	return shutdown, metrics, nil
}

func runHooks(ctx context.Context, hooks []Hook) error {
	for i, h := range hooks {
		if err := h(ctx); err != nil {
			return fmt.Errorf("hook %d: %w", i, err)
		}
	}
	return nil
}
