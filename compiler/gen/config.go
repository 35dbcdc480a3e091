package gen

import (
	"log/slog"
	"maps"
	"runtime"
	"strings"
	"time"
)

// Config holds the global configuration of a generation run. It is shared
// read-only by the graph and the renderer once built.
type Config struct {
	// BaseURL is the base namespace of the specification,
	// e.g. "http://hl7.org/fhir". It never ends with a slash.
	BaseURL string
	// Mappings overrides the default URL resolution. Keys are canonical
	// URLs, values are identifiers or URLs inside the base namespace.
	Mappings map[string]string
	// Permissive degrades unresolvable property references to placeholders
	// instead of failing the build. Base references are always strict.
	Permissive bool
	// Version is the specification release the definitions belong to.
	Version string
	// Target is the output directory of the renderer.
	Target string
	// Variables are global template variables. They take precedence over
	// the preset defaults.
	Variables map[string]any
	// Workers bounds concurrent module rendering.
	Workers int
	// WriteTimeout bounds writing a single output file.
	WriteTimeout time.Duration
	// Logger receives warnings and progress. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) logger() *slog.Logger {
	if c == nil || c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Config) workers() int {
	if c == nil || c.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}

// validate checks the settings every phase depends on.
func (c *Config) validate() error {
	if c.BaseURL == "" {
		return NewConfigError("BaseURL", nil, "base url cannot be empty")
	}
	if strings.HasSuffix(c.BaseURL, "/") {
		return NewConfigError("BaseURL", c.BaseURL, "base url must not end with a slash")
	}
	return nil
}

// variables merges preset defaults with the configured variables.
func (c *Config) variables(defaults map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(c.Variables))
	maps.Copy(out, defaults)
	maps.Copy(out, c.Variables)
	return out
}
