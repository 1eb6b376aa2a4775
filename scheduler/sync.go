package scheduler

import (
	"context"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/pipeline"
)

// Sweeper steps the processes of a pipeline cooperatively, one sweep at a
// time in topological order. Sync uses it for whole runs; clusters use it to
// advance an inner pipeline on demand.
type Sweeper struct {
	tasks []*task
	steps []stepper
}

// NewSweeper binds a set-up pipeline's processes to their edges.
func NewSweeper(p *pipeline.Pipeline, opts ...Option) (*Sweeper, error) {
	if !p.SetupSuccessful() {
		return nil, errors.PipelineNotSetup("create sweeper")
	}
	return newSweeper(p, newOptions(opts)), nil
}

func newSweeper(p *pipeline.Pipeline, o *options) *Sweeper {
	tasks, steps := buildTasks(p, o)
	return &Sweeper{tasks: tasks, steps: steps}
}

// Sweep steps every process that can step without blocking, once, in
// topological order. It reports whether any process stepped.
func (s *Sweeper) Sweep(ctx context.Context) (bool, error) {
	return s.sweep(ctx, ctx)
}

func (s *Sweeper) sweep(ctx, wait context.Context) (bool, error) {
	progressed := false
	for i, t := range s.tasks {
		if t.completed() || !t.eligible() {
			continue
		}
		if _, err := s.steps[i].Step(ctx, wait); err != nil {
			return progressed, err
		}
		progressed = true
	}
	return progressed, nil
}

// Done reports whether every terminal process has completed.
func (s *Sweeper) Done() bool {
	for _, t := range s.tasks {
		if t.terminal && !t.completed() {
			return false
		}
	}
	return true
}

// Waiting reports whether an unfinished process is held back only by its
// own readiness check, meaning progress depends on something outside the
// pipeline.
func (s *Sweeper) Waiting() bool {
	for _, t := range s.tasks {
		if !t.completed() && !t.proc.Ready() {
			return true
		}
	}
	return false
}

// CompleteAll completes every process that has not completed yet, without
// stepping it.
func (s *Sweeper) CompleteAll() {
	for _, t := range s.tasks {
		t.complete()
	}
}

// Sync is the single-threaded cooperative policy: it sweeps the pipeline in
// topological order until every terminal process completes.
type Sync struct {
	*base
	sweeper *Sweeper
}

// NewSync creates a cooperative scheduler for a set-up pipeline.
func NewSync(p *pipeline.Pipeline, opts ...Option) (*Sync, error) {
	b, err := newBase(TypeSync, p, opts)
	if err != nil {
		return nil, err
	}
	return &Sync{base: b, sweeper: newSweeper(p, b.opts)}, nil
}

// Start begins the run in the background.
func (s *Sync) Start(ctx context.Context) error {
	return s.start(ctx, s.run)
}

// Run steps the pipeline to completion and finalizes it.
func (s *Sync) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Wait()
}

// run sweeps until the terminals complete. Edge operations are bounded by
// a context that Stop cancels, so a step blocked on an edge unwinds.
func (s *Sync) run(ctx context.Context) error {
	wait, cancel := s.stopContext(ctx)
	defer cancel()
	for {
		if s.stopping.Load() {
			s.sweeper.CompleteAll()
			return errors.Stopped()
		}
		if s.sweeper.Done() {
			s.sweeper.CompleteAll()
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		progressed, err := s.sweeper.sweep(ctx, wait)
		if err != nil {
			if s.stopping.Load() && ctx.Err() == nil {
				s.sweeper.CompleteAll()
				return errors.Stopped()
			}
			return err
		}
		if progressed {
			continue
		}
		if !s.sweeper.Waiting() {
			return errors.New(errors.KindInvalidState, "pipeline stalled: no process can step")
		}
		select {
		case <-time.After(s.opts.idleWait):
		case <-s.stopCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
