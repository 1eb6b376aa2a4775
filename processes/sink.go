package processes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/process"
)

// Print writes every datum received on "datum" as one line to the file
// named by "output", or to standard output for "-".
type Print struct {
	path   string
	stdout io.Writer
	file   *os.File
	w      *bufio.Writer
}

// Configure implements process.Impl.
func (p *Print) Configure(c *process.Configuration) error {
	c.DeclareConfig(process.ConfigKey{Key: "output", Default: "-", Description: "file to write to, '-' for standard output"})
	if err := c.AddInput(process.PortSpec{Name: "datum", Type: process.TypeAny, Flags: process.FlagRequired}); err != nil {
		return err
	}
	var err error
	p.path, err = c.String("output")
	return err
}

// Init opens the output.
func (p *Print) Init(context.Context) error {
	var w io.Writer = os.Stdout
	if p.stdout != nil {
		w = p.stdout
	}
	if p.path != "-" && p.path != "" {
		f, err := os.Create(p.path)
		if err != nil {
			return errors.Newf(errors.KindInvalidConfigurationValue, "cannot open %q", p.path).WithCause(err)
		}
		p.file = f
		w = f
	}
	p.w = bufio.NewWriter(w)
	return nil
}

// Step implements process.Impl.
func (p *Print) Step(_ context.Context, in *process.Inputs, _ *process.Outputs) error {
	v, ok := in.Value("datum")
	if !ok {
		return nil
	}
	_, err := fmt.Fprintln(p.w, v)
	return err
}

// Flush pushes buffered lines out at segment boundaries.
func (p *Print) Flush(context.Context) error {
	return p.w.Flush()
}

// Finalize flushes and closes the output.
func (p *Print) Finalize(context.Context) error {
	if p.w == nil {
		return nil
	}
	err := p.w.Flush()
	if p.file != nil {
		if cerr := p.file.Close(); err == nil {
			err = cerr
		}
		p.file = nil
	}
	p.w = nil
	return err
}

// Collector keeps every datum received on "datum". Markers are counted but
// not stored.
type Collector struct {
	mu      sync.Mutex
	values  []any
	flushes int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Configure implements process.Impl.
func (c *Collector) Configure(cfg *process.Configuration) error {
	return cfg.AddInput(process.PortSpec{Name: "datum", Type: process.TypeAny, Flags: process.FlagRequired})
}

// Init clears anything kept from an earlier run.
func (c *Collector) Init(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = nil
	c.flushes = 0
	return nil
}

// Step implements process.Impl.
func (c *Collector) Step(_ context.Context, in *process.Inputs, _ *process.Outputs) error {
	v, ok := in.Value("datum")
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.values = append(c.values, v)
	c.mu.Unlock()
	return nil
}

// Flush implements process.Flusher.
func (c *Collector) Flush(context.Context) error {
	c.mu.Lock()
	c.flushes++
	c.mu.Unlock()
	return nil
}

// Values returns a copy of the collected values.
func (c *Collector) Values() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.values...)
}

// Flushes returns how many flush markers arrived.
func (c *Collector) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

// Ints returns the collected values that are ints.
func (c *Collector) Ints() []int {
	var out []int
	for _, v := range c.Values() {
		if n, ok := v.(int); ok {
			out = append(out, n)
		}
	}
	return out
}
