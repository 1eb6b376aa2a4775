package process

import (
	"time"

	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
)

// Configuration is handed to an impl while it is configured or reconfigured.
// It declares ports and configuration keys and reads typed values, falling
// back to declared defaults.
type Configuration struct {
	p      *Process
	frozen bool
}

// Name returns the process name.
func (c *Configuration) Name() string { return c.p.name }

// Type returns the process type.
func (c *Configuration) Type() string { return c.p.typ }

// Block returns the process configuration block.
func (c *Configuration) Block() *config.Block { return c.p.block }

// AddInput declares an input port.
func (c *Configuration) AddInput(spec PortSpec) error {
	return c.addPort(Input, spec)
}

// AddOutput declares an output port.
func (c *Configuration) AddOutput(spec PortSpec) error {
	return c.addPort(Output, spec)
}

func (c *Configuration) addPort(dir Direction, spec PortSpec) error {
	if c.frozen {
		return errors.InvalidState(c.p.name, "declare "+dir.String()+" port", c.p.State().String())
	}
	if spec.Name == "" {
		return errors.InvalidConfiguration(c.p.name, "port name is required")
	}
	if spec.Type == "" {
		spec.Type = TypeAny
	}

	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if _, dup := findPort(c.p.inputs, spec.Name); dup && dir == Input {
		return errors.DuplicatePort(c.p.name, spec.Name)
	}
	if _, dup := findPort(c.p.outputs, spec.Name); dup && dir == Output {
		return errors.DuplicatePort(c.p.name, spec.Name)
	}
	if dir == Input {
		c.p.inputs = append(c.p.inputs, spec)
	} else {
		c.p.outputs = append(c.p.outputs, spec)
	}
	return nil
}

// DeclareConfig declares a configuration key. Declaring a key again
// replaces the earlier declaration.
func (c *Configuration) DeclareConfig(key ConfigKey) {
	if key.Description != "" {
		c.p.block.SetDescription(key.Key, key.Description)
	}
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for i, k := range c.p.keys {
		if k.Key == key.Key {
			c.p.keys[i] = key
			return
		}
	}
	c.p.keys = append(c.p.keys, key)
}

func (c *Configuration) declared(key string) (ConfigKey, bool) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for _, k := range c.p.keys {
		if k.Key == key {
			return k, true
		}
	}
	return ConfigKey{}, false
}

// Has reports whether key has a value or a declared default.
func (c *Configuration) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

func (c *Configuration) lookup(key string) (string, bool) {
	if v, ok := c.p.block.Get(key); ok {
		return v, true
	}
	if k, ok := c.declared(key); ok && !k.Required && k.Default != "" {
		return k.Default, true
	}
	return "", false
}

// String returns the value of key.
func (c *Configuration) String(key string) (string, error) {
	v, ok := c.lookup(key)
	if !ok {
		return "", errors.UnknownConfigurationValue(c.p.name, key)
	}
	return v, nil
}

// Int returns the value of key as an integer.
func (c *Configuration) Int(key string) (int, error) {
	return typed(c, key, "an integer", (*config.Block).GetInt)
}

// Float returns the value of key as a float64.
func (c *Configuration) Float(key string) (float64, error) {
	return typed(c, key, "a number", (*config.Block).GetFloat)
}

// Bool returns the value of key as a boolean.
func (c *Configuration) Bool(key string) (bool, error) {
	return typed(c, key, "a boolean", (*config.Block).GetBool)
}

// Duration returns the value of key as a duration.
func (c *Configuration) Duration(key string) (time.Duration, error) {
	return typed(c, key, "a duration", (*config.Block).GetDuration)
}

// typed parses a looked-up value through the matching Block accessor, so the
// declared default follows the same parsing rules as a configured value.
func typed[T any](c *Configuration, key, what string, get func(*config.Block, string) (T, error)) (T, error) {
	var zero T
	v, ok := c.lookup(key)
	if !ok {
		return zero, errors.UnknownConfigurationValue(c.p.name, key)
	}
	out, err := get(config.FromMap(map[string]string{key: v}), key)
	if err != nil {
		return zero, errors.InvalidConfigurationValue(c.p.name, key, v, "must be "+what).WithCause(err)
	}
	return out, nil
}
