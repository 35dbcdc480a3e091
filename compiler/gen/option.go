package gen

import (
	"errors"
	"log/slog"
	"maps"
	"strings"
	"time"
)

// Option configures code generation.
type Option func(*Config) error

// WithBaseURL sets the base namespace used to derive type identifiers.
// For example: "http://hl7.org/fhir".
func WithBaseURL(u string) Option {
	return func(c *Config) error {
		if u == "" {
			return NewConfigError("BaseURL", nil, "base url cannot be empty")
		}
		if strings.HasSuffix(u, "/") {
			return NewConfigError("BaseURL", u, "base url must not end with a slash")
		}
		c.BaseURL = u
		return nil
	}
}

// WithMappings adds explicit URL resolution overrides.
func WithMappings(m map[string]string) Option {
	return func(c *Config) error {
		if c.Mappings == nil {
			c.Mappings = make(map[string]string, len(m))
		}
		for k, v := range m {
			if k == "" || v == "" {
				return NewConfigError("Mappings", k, "mapping keys and values cannot be empty")
			}
			c.Mappings[k] = v
		}
		return nil
	}
}

// WithPermissive turns unresolvable property references into placeholders.
func WithPermissive(permissive bool) Option {
	return func(c *Config) error {
		c.Permissive = permissive
		return nil
	}
}

// WithVersion tags the specification release, e.g. "4.0.1" or "R4".
// The tag is opaque unless a preset constrains the versions it supports.
func WithVersion(v string) Option {
	return func(c *Config) error {
		if strings.TrimSpace(v) == "" {
			return NewConfigError("Version", nil, "version cannot be empty")
		}
		c.Version = v
		return nil
	}
}

// WithTarget sets the output directory.
func WithTarget(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return NewConfigError("Target", nil, "target directory cannot be empty")
		}
		c.Target = dir
		return nil
	}
}

// WithVariables sets global template variables.
// Variables override the preset defaults of the same name.
func WithVariables(vars map[string]any) Option {
	return func(c *Config) error {
		if c.Variables == nil {
			c.Variables = make(map[string]any, len(vars))
		}
		maps.Copy(c.Variables, vars)
		return nil
	}
}

// WithWorkers sets the number of modules rendered concurrently.
func WithWorkers(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return NewConfigError("Workers", n, "workers cannot be negative")
		}
		c.Workers = n
		return nil
	}
}

// WithWriteTimeout bounds the time spent writing one output file.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return NewConfigError("WriteTimeout", d, "timeout cannot be negative")
		}
		c.WriteTimeout = d
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return NewConfigError("Logger", nil, "logger cannot be nil")
		}
		c.Logger = l
		return nil
	}
}

// Apply applies options to the config.
// It returns the first error encountered.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAll applies options and collects all errors.
// Returns a joined error if any options failed.
func (c *Config) ApplyAll(opts ...Option) error {
	var errs []error
	for _, opt := range opts {
		if err := opt(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewConfig creates a new Config with the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNewConfig creates a new Config with the given options.
// It panics if any option fails.
func MustNewConfig(opts ...Option) *Config {
	c, err := NewConfig(opts...)
	if err != nil {
		panic(err)
	}
	return c
}
