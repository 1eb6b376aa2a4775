// Command flowrun builds a pipeline from a YAML blueprint and runs it to
// completion with the scheduler named in the engine settings.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kbukum/flowkit/algo"
	"github.com/kbukum/flowkit/blueprint"
	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/introspect"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/processes"
	"github.com/kbukum/flowkit/registry"
	"github.com/kbukum/flowkit/runner"
	"github.com/kbukum/flowkit/version"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitStopped = 130
)

type options struct {
	settings   string
	env        string
	pipeline   string
	scheduler  string
	introspect string
	validate   bool
	quiet      bool
	version    bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("flowrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.settings, "settings", "", "engine settings file (default: flowkit.yml in the usual places)")
	fs.StringVar(&o.env, "env", "", "env file loaded before the settings")
	fs.StringVar(&o.pipeline, "pipeline", "", "pipeline blueprint to run (required)")
	fs.StringVar(&o.scheduler, "scheduler", "", "scheduler type, overrides the settings")
	fs.StringVar(&o.introspect, "introspect", "", "introspection listen address, overrides the settings")
	fs.BoolVar(&o.validate, "validate", false, "build and set up the pipeline, then exit without running it")
	fs.BoolVar(&o.quiet, "quiet", false, "do not print the run summary")
	fs.BoolVar(&o.version, "version", false, "print the engine version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: flowrun -pipeline <file.yaml> [flags]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if !o.version && o.pipeline == "" {
		fs.Usage()
		return nil, fmt.Errorf("-pipeline is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return exitUsage
	}
	if o.version {
		fmt.Fprintln(stdout, version.Get().String())
		return exitOK
	}

	settings, err := loadSettings(o)
	if err != nil {
		fmt.Fprintf(stderr, "flowrun: %v\n", err)
		return exitFailed
	}
	log := logger.New(&settings.Logging, settings.Name)
	logger.SetGlobalLogger(log)

	algos := algo.NewRegistry()
	algo.RegisterArith(algos)
	reg := registry.New(registry.WithLogger(log))
	if err := reg.LoadModule(processes.ModuleName, processes.Module(algos)); err != nil {
		log.Error("loading process types failed", logger.Fields(logger.FieldError, err.Error()))
		return exitFailed
	}

	bp, err := blueprint.LoadFile(o.pipeline)
	if err != nil {
		log.Error("loading blueprint failed", logger.Fields(logger.FieldError, err.Error()))
		return exitFailed
	}
	p, err := bp.Build(reg,
		blueprint.WithLogger(log),
		blueprint.WithLoader(blueprint.NewFileLoader(filepath.Dir(o.pipeline))),
		blueprint.WithDefaultCapacity(settings.Scheduler.DefaultCapacity),
	)
	if err != nil {
		log.Error("building pipeline failed", logger.Fields(logger.FieldError, err.Error()))
		return exitFailed
	}

	if o.validate {
		if err := p.Setup(ctx); err != nil {
			log.Error("pipeline is invalid", logger.Fields(logger.FieldError, err.Error()))
			return exitFailed
		}
		_ = p.Shutdown(ctx)
		fmt.Fprintf(stdout, "pipeline %s is valid\n", p.Name())
		return exitOK
	}

	r, err := runner.New(settings,
		runner.WithLogger(log),
		runner.WithSignals(),
		runner.WithIntrospectOptions(introspect.WithRegistry(reg), introspect.WithAlgorithms(algos)),
	)
	if err != nil {
		log.Error("invalid settings", logger.Fields(logger.FieldError, err.Error()))
		return exitFailed
	}

	stats, err := r.Run(ctx, p)
	if !o.quiet {
		fmt.Fprint(stderr, runner.Summary(stats))
	}
	switch {
	case err == nil:
		return exitOK
	case errors.IsKind(err, errors.KindStopped):
		return exitStopped
	default:
		return exitFailed
	}
}

func loadSettings(o *options) (*config.Settings, error) {
	var opts []config.LoaderOption
	if o.settings != "" {
		opts = append(opts, config.WithConfigFile(o.settings))
	}
	if o.env != "" {
		opts = append(opts, config.WithEnvFile(o.env))
	}
	settings, err := config.LoadSettings(opts...)
	if err != nil {
		return nil, err
	}
	if o.scheduler != "" {
		settings.Scheduler.Type = o.scheduler
	}
	if o.introspect != "" {
		settings.Introspect.Addr = o.introspect
	}
	return settings, nil
}
