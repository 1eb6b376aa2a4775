package config

import (
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/validation"
)

// Default scheduler settings.
const (
	DefaultSchedulerType = "thread_per_process"
	DefaultEdgeCapacity  = 0
)

// Settings holds engine runtime settings: which scheduler runs pipelines,
// edge defaults, logging, telemetry and the introspection endpoint.
//
//	name: ingest
//	scheduler:
//	  type: sync
//	  default_capacity: 16
//	logger:
//	  level: debug
type Settings struct {
	Name          string                `yaml:"name" mapstructure:"name" validate:"required"`
	Scheduler     SchedulerSettings     `yaml:"scheduler" mapstructure:"scheduler"`
	Logging       logger.Config         `yaml:"logger" mapstructure:"logger"`
	Observability ObservabilitySettings `yaml:"observability" mapstructure:"observability"`
	Introspect    IntrospectSettings    `yaml:"introspect" mapstructure:"introspect"`
}

// SchedulerSettings selects the scheduler and edge capacity.
type SchedulerSettings struct {
	Type string `yaml:"type" mapstructure:"type" validate:"required"`
	// DefaultCapacity is the capacity of edges whose downstream process does
	// not set _edge.capacity. Zero means unbounded.
	DefaultCapacity int `yaml:"default_capacity" mapstructure:"default_capacity" validate:"gte=0"`
}

// ObservabilitySettings configures the OpenTelemetry exporters.
type ObservabilitySettings struct {
	Tracing    bool    `yaml:"tracing" mapstructure:"tracing"`
	Metrics    bool    `yaml:"metrics" mapstructure:"metrics"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint" validate:"required_if=Tracing true,omitempty,hostname_port"`
	Insecure   bool    `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}

// IntrospectSettings configures the introspection HTTP endpoint. Empty Addr disables it.
type IntrospectSettings struct {
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// ApplyDefaults fills unset fields.
func (s *Settings) ApplyDefaults() {
	if s.Name == "" {
		s.Name = "flowkit"
	}
	if s.Scheduler.Type == "" {
		s.Scheduler.Type = DefaultSchedulerType
	}
	if s.Observability.SampleRate == 0 {
		s.Observability.SampleRate = 1
	}
	s.Logging.ApplyDefaults()
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validation.Validate(s); err != nil {
		return err
	}
	if err := s.Logging.Validate(); err != nil {
		return errors.New(errors.KindInvalidConfiguration, "logger: "+err.Error()).WithCause(err)
	}
	return nil
}

// LoadSettings resolves, loads, defaults and validates engine settings.
func LoadSettings(opts ...LoaderOption) (*Settings, error) {
	var s Settings
	if err := LoadConfig("flowkit", &s, opts...); err != nil {
		return nil, err
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
