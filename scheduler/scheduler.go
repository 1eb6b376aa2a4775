package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/flowkit/edge"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/pipeline"
)

// Scheduler drives a set-up pipeline until every terminal process completes,
// then finalizes it.
type Scheduler interface {
	// Start begins the run in the background.
	Start(ctx context.Context) error
	// Wait blocks until the run ends and returns its error.
	Wait() error
	// Stop asks every process to treat its next step as if all its inputs
	// were complete. Steps waiting on edges unwind; a running process step
	// is not interrupted.
	Stop()
	// Run is Start followed by Wait.
	Run(ctx context.Context) error
	// Stats returns a snapshot of the run.
	Stats() Stats
}

// Run states reported in Stats.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
	StateStopped = "stopped"
)

// Stats is a snapshot of a scheduler run.
type Stats struct {
	RunID      string         `json:"run_id"`
	Pipeline   string         `json:"pipeline"`
	Scheduler  string         `json:"scheduler"`
	State      string         `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Error      string         `json:"error,omitempty"`
	Processes  []ProcessStats `json:"processes"`
	Edges      []edge.Stats   `json:"edges"`
}

// ProcessStats describes one process in a run.
type ProcessStats struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	State     string `json:"state"`
	Steps     int64  `json:"steps"`
	Quiescent bool   `json:"quiescent"`
}

// Option configures a scheduler.
type Option func(*options)

type options struct {
	log        *logger.Logger
	metrics    *observability.Metrics
	tracing    bool
	spanPrefix string
	runID      string
	idleWait   time.Duration
}

func newOptions(opts []Option) *options {
	o := &options{idleWait: time.Millisecond}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logger.OrNop(o.log)
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records run, step and datum metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracing creates a span per step named "{prefix}.{process}".
func WithTracing(prefix string) Option {
	return func(o *options) {
		o.tracing = true
		o.spanPrefix = prefix
		if o.spanPrefix == "" {
			o.spanPrefix = observability.SpanStep
		}
	}
}

// WithRunID sets the run identifier. A random one is used otherwise.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithIdleWait sets how long the cooperative scheduler waits before sweeping
// again when every unfinished process is waiting on something outside the
// pipeline.
func WithIdleWait(d time.Duration) Option {
	return func(o *options) { o.idleWait = d }
}

// base holds the run bookkeeping shared by the policies.
type base struct {
	kind string
	p    *pipeline.Pipeline
	opts *options
	log  *logger.Logger

	mu       sync.Mutex
	state    string
	err      error
	started  time.Time
	finished time.Time
	done     chan struct{}

	stopping atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newBase(kind string, p *pipeline.Pipeline, opts []Option) (*base, error) {
	if !p.SetupSuccessful() {
		return nil, errors.PipelineNotSetup("create " + kind + " scheduler")
	}
	o := newOptions(opts)
	return &base{
		kind:   kind,
		p:      p,
		opts:   o,
		log:    o.log.WithComponent("scheduler").WithFields(logger.Fields(logger.FieldScheduler, kind, logger.FieldPipeline, p.Name(), logger.FieldRunID, o.runID)),
		state:  StateIdle,
		stopCh: make(chan struct{}),
	}, nil
}

// start launches run in the background. The pipeline is finalized when run
// returns, whatever its outcome.
func (b *base) start(ctx context.Context, run func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		return errors.Newf(errors.KindInvalidState, "scheduler run %s already started", b.opts.runID)
	}
	b.state = StateRunning
	b.started = time.Now()
	b.done = make(chan struct{})
	b.mu.Unlock()

	rc := observability.NewRunContext(b.p.Name(), b.kind, b.opts.runID, b.opts.metrics)
	b.log.Info("scheduler started")

	go func() {
		runCtx, span := rc.StartRun(ctx)
		err := run(runCtx)
		if ferr := b.p.Shutdown(context.WithoutCancel(ctx)); ferr != nil && err == nil {
			err = ferr
		}

		state := StateDone
		switch {
		case errors.IsKind(err, errors.KindStopped):
			state = StateStopped
		case err != nil:
			state = StateFailed
		}
		rc.EndRun(runCtx, span, state, err)

		if err != nil && state == StateFailed {
			b.log.Error("scheduler failed", logger.Fields(logger.FieldError, err.Error()))
		} else {
			b.log.Info("scheduler finished", logger.Fields(logger.FieldState, state, logger.FieldDuration, rc.Duration().Milliseconds()))
		}

		b.mu.Lock()
		b.state = state
		b.err = err
		b.finished = time.Now()
		b.mu.Unlock()
		close(b.done)
	}()
	return nil
}

func (b *base) Wait() error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return errors.Newf(errors.KindInvalidState, "scheduler run %s was never started", b.opts.runID)
	}
	<-done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// stopContext derives the context bounding edge operations. It is
// cancelled by Stop as well as by ctx.
func (b *base) stopContext(ctx context.Context) (context.Context, context.CancelFunc) {
	wait, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-wait.Done():
		}
	}()
	return wait, cancel
}

func (b *base) Stop() {
	b.stopOnce.Do(func() {
		b.stopping.Store(true)
		close(b.stopCh)
		b.log.Info("stop requested")
	})
}

func (b *base) Stats() Stats {
	b.mu.Lock()
	st := Stats{
		RunID:      b.opts.runID,
		Pipeline:   b.p.Name(),
		Scheduler:  b.kind,
		State:      b.state,
		StartedAt:  b.started,
		FinishedAt: b.finished,
	}
	if b.err != nil {
		st.Error = b.err.Error()
	}
	b.mu.Unlock()

	for _, name := range b.p.ProcessNames() {
		proc, err := b.p.ProcessByName(name)
		if err != nil {
			continue
		}
		st.Processes = append(st.Processes, ProcessStats{
			Name:      name,
			Type:      proc.Type(),
			State:     proc.State().String(),
			Steps:     proc.Steps(),
			Quiescent: proc.Quiescent(),
		})
	}
	for _, e := range b.p.Edges() {
		st.Edges = append(st.Edges, e.Stats())
	}
	return st
}

// buildTasks builds the steppers in topological order.
func buildTasks(p *pipeline.Pipeline, o *options) ([]*task, []stepper) {
	terminals := make(map[string]bool)
	for _, name := range p.Terminals() {
		terminals[name] = true
	}
	var tasks []*task
	var steps []stepper
	for _, name := range p.TopoOrder() {
		proc, err := p.ProcessByName(name)
		if err != nil {
			continue
		}
		t := newTask(p, proc, o)
		t.terminal = terminals[name]
		tasks = append(tasks, t)
		steps = append(steps, wrap(t, o, p.Name()))
	}
	return tasks, steps
}
