package processes

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
	"github.com/kbukum/flowkit/resilience"
)

// Passthrough forwards "pass" unchanged. Both ends share one flow-dependent
// type, so it takes on whatever type it is connected to.
type Passthrough struct{}

// Configure implements process.Impl.
func (Passthrough) Configure(c *process.Configuration) error {
	t := process.FlowDependent("pass")
	if err := c.AddInput(process.PortSpec{Name: "pass", Type: t, Flags: process.FlagRequired}); err != nil {
		return err
	}
	return c.AddOutput(process.PortSpec{Name: "pass", Type: t, Flags: process.FlagRequired | process.FlagShared})
}

// Step implements process.Impl. Markers are left to the scheduler, which
// fills unpushed outputs with empty or flush.
func (Passthrough) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	if d := in.Datum("pass"); d.IsData() {
		return out.PushDatum("pass", d)
	}
	return nil
}

// Take forwards the first "count" data on "datum" and then completes.
type Take struct {
	count int
	seen  int
}

// Configure implements process.Impl.
func (t *Take) Configure(c *process.Configuration) error {
	c.DeclareConfig(process.ConfigKey{Key: "count", Default: "1", Description: "number of data to forward"})
	typ := process.FlowDependent("datum")
	if err := c.AddInput(process.PortSpec{Name: "datum", Type: typ, Flags: process.FlagRequired}); err != nil {
		return err
	}
	if err := c.AddOutput(process.PortSpec{Name: "datum", Type: typ, Flags: process.FlagRequired | process.FlagShared}); err != nil {
		return err
	}
	var err error
	t.count, err = c.Int("count")
	return err
}

// Init restarts the count.
func (t *Take) Init(context.Context) error {
	t.seen = 0
	return nil
}

// Step implements process.Impl.
func (t *Take) Step(_ context.Context, in *process.Inputs, out *process.Outputs) error {
	if t.seen >= t.count {
		out.Complete()
		return nil
	}
	d := in.Datum("datum")
	if !d.IsData() {
		return nil
	}
	t.seen++
	return out.PushDatum("datum", d)
}

// Throttle forwards "datum" at no more than "rate" data per second, letting
// up to "burst" through back to back.
type Throttle struct {
	limiter atomic.Pointer[resilience.Limiter]
}

// Configure implements process.Impl.
func (t *Throttle) Configure(c *process.Configuration) error {
	c.DeclareConfig(process.ConfigKey{Key: "rate", Default: "10", Description: "data per second, 0 for no limit", Tunable: true})
	c.DeclareConfig(process.ConfigKey{Key: "burst", Default: "1", Description: "data forwarded without waiting", Tunable: true})
	typ := process.FlowDependent("datum")
	if err := c.AddInput(process.PortSpec{Name: "datum", Type: typ, Flags: process.FlagRequired}); err != nil {
		return err
	}
	if err := c.AddOutput(process.PortSpec{Name: "datum", Type: typ, Flags: process.FlagRequired | process.FlagShared}); err != nil {
		return err
	}
	return t.Reconfigure(c)
}

// Reconfigure replaces the limiter with one at the configured rate.
func (t *Throttle) Reconfigure(c *process.Configuration) error {
	rate, err := c.Float("rate")
	if err != nil {
		return err
	}
	if rate < 0 {
		return errors.InvalidConfigurationValue(c.Name(), "rate", fmt.Sprint(rate), "must not be negative")
	}
	burst, err := c.Int("burst")
	if err != nil {
		return err
	}
	t.limiter.Store(resilience.NewLimiter(rate, burst))
	return nil
}

// Init refills the bucket.
func (t *Throttle) Init(context.Context) error {
	t.limiter.Load().Reset()
	return nil
}

// Step implements process.Impl.
func (t *Throttle) Step(ctx context.Context, in *process.Inputs, out *process.Outputs) error {
	d := in.Datum("datum")
	if !d.IsData() {
		return nil
	}
	if err := t.limiter.Load().Wait(ctx); err != nil {
		return err
	}
	return out.PushDatum("datum", d)
}
