package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/pipeline"
)

// Threaded runs every process in its own goroutine. Each one blocks on its
// own edges, so stages overlap and bounded edges apply backpressure.
type Threaded struct {
	*base
	tasks []*task
	steps []stepper
}

// NewThreaded creates a thread-per-process scheduler for a set-up pipeline.
func NewThreaded(p *pipeline.Pipeline, opts ...Option) (*Threaded, error) {
	b, err := newBase(TypeThreadPerProcess, p, opts)
	if err != nil {
		return nil, err
	}
	tasks, steps := buildTasks(p, b.opts)
	return &Threaded{base: b, tasks: tasks, steps: steps}, nil
}

// Start begins the run in the background.
func (t *Threaded) Start(ctx context.Context) error {
	return t.start(ctx, t.run)
}

// Run steps the pipeline to completion and finalizes it.
func (t *Threaded) Run(ctx context.Context) error {
	if err := t.Start(ctx); err != nil {
		return err
	}
	return t.Wait()
}

// run starts one worker per process. wait, the context bounding edge
// operations, is cancelled on Stop and once every terminal has completed so
// that workers blocked on edges wake and complete their process. The first
// worker error cancels the group and is returned.
func (t *Threaded) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	wait, release := t.stopContext(gctx)
	defer release()

	var finished atomic.Bool
	var remaining atomic.Int32
	for _, tk := range t.tasks {
		if tk.terminal {
			remaining.Add(1)
		}
	}
	if remaining.Load() == 0 {
		finished.Store(true)
		release()
	}

	for i, tk := range t.tasks {
		st := t.steps[i]
		g.Go(func() error {
			for {
				if t.stopping.Load() || finished.Load() {
					tk.complete()
					return nil
				}
				done, err := st.Step(gctx, wait)
				if err != nil {
					if wait.Err() != nil && gctx.Err() == nil {
						tk.complete()
						return nil
					}
					return err
				}
				if done {
					if tk.terminal && remaining.Add(-1) == 0 {
						finished.Store(true)
						release()
					}
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if t.stopping.Load() {
		return errors.Stopped()
	}
	return nil
}
