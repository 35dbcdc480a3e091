// Package compiler runs the generation pipeline: it loads a definitions
// bundle, builds the type graph and renders it with a preset.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/fhirgen/compiler/gen"
	"github.com/syssam/fhirgen/compiler/gen/golang"
	"github.com/syssam/fhirgen/compiler/gen/pydantic"
	"github.com/syssam/fhirgen/compiler/load"
)

var builtin = map[string]func() *gen.Preset{
	pydantic.Name: pydantic.New,
	golang.Name:   golang.New,
}

// Presets returns the names of the built-in presets, sorted.
func Presets() []string {
	return slices.Sorted(maps.Keys(builtin))
}

// Preset returns a new instance of the named built-in preset.
func Preset(name string) (*gen.Preset, bool) {
	fn, ok := builtin[name]
	if !ok {
		return nil, false
	}
	return fn(), true
}

// Option configures a run.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	presets map[string]*gen.Preset
	load    []load.Option
	gen     []gen.Option
}

// WithLogger sets the logger of the run.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPreset makes a custom preset available under its name. It takes
// precedence over a built-in preset of the same name.
func WithPreset(p *gen.Preset) Option {
	return func(o *options) {
		if o.presets == nil {
			o.presets = make(map[string]*gen.Preset)
		}
		o.presets[p.Name] = p
	}
}

// WithLoadOptions passes options to the definitions loader.
func WithLoadOptions(opts ...load.Option) Option {
	return func(o *options) {
		o.load = append(o.load, opts...)
	}
}

// WithGenOptions passes options to the graph and renderer configuration.
// They are applied after the settings of the run configuration.
func WithGenOptions(opts ...gen.Option) Option {
	return func(o *options) {
		o.gen = append(o.gen, opts...)
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result summarizes a successful run.
type Result struct {
	RunID    string
	Records  int
	Graph    *gen.Graph
	Modules  []*gen.Module
	Warnings []load.DuplicateDefinition
	Duration time.Duration
}

// Generate runs the whole pipeline. On failure nothing is written to the
// output directory.
func Generate(ctx context.Context, rc *RunConfig, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	p, err := o.preset(rc.Renderer.Preset)
	if err != nil {
		return nil, err
	}
	if err := p.CheckVersion(rc.Definitions.Version); err != nil {
		return nil, err
	}
	res, err := build(ctx, rc, o)
	if err != nil {
		return nil, err
	}
	log := o.logger.With("run", res.RunID)
	mods, err := gen.Render(ctx, res.Graph, p)
	if err != nil {
		return nil, err
	}
	res.Modules = mods
	res.Duration = time.Since(res.start)
	log.Info("generation finished",
		"preset", p.Name,
		"types", len(res.Graph.Nodes),
		"modules", len(mods),
		"warnings", len(res.Warnings),
		"duration", res.Duration,
	)
	return &res.Result, nil
}

// BuildGraph loads the definitions and builds the type graph without
// rendering anything.
func BuildGraph(ctx context.Context, rc *RunConfig, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	res, err := build(ctx, rc, o)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(res.start)
	return &res.Result, nil
}

type run struct {
	Result
	start time.Time
}

func build(ctx context.Context, rc *RunConfig, o *options) (*run, error) {
	r := &run{start: time.Now()}
	r.RunID = uuid.NewString()
	log := o.logger.With("run", r.RunID)

	bundle := load.Bundle{
		Location: rc.Definitions.URL,
		Version:  rc.Definitions.Version,
		Sources:  rc.Definitions.Sources,
	}
	lopts := []load.Option{load.WithLogger(log)}
	if rc.CacheDir != "" {
		lopts = append(lopts, load.WithCacheDir(rc.CacheDir), load.WithRecordCache(true))
	}
	loaded, err := load.Load(ctx, bundle, append(lopts, o.load...)...)
	if err != nil {
		return nil, err
	}
	r.Records = len(loaded.Records)
	r.Warnings = loaded.Warnings
	log.Info("definitions loaded", "location", bundle.Location, "records", r.Records, "duplicates", len(r.Warnings))

	gopts := []gen.Option{
		gen.WithBaseURL(rc.Parser.BaseURL),
		gen.WithMappings(rc.Parser.Mappings),
		gen.WithPermissive(rc.Parser.Permissive),
		gen.WithTarget(rc.Renderer.OutputDir),
		gen.WithVariables(rc.Renderer.Variables),
		gen.WithLogger(log),
	}
	if rc.Definitions.Version != "" {
		gopts = append(gopts, gen.WithVersion(rc.Definitions.Version))
	}
	cfg, err := gen.NewConfig(append(gopts, o.gen...)...)
	if err != nil {
		return nil, err
	}
	if r.Graph, err = gen.NewGraphContext(ctx, cfg, loaded.Records...); err != nil {
		return nil, err
	}
	log.Info("type graph built", "types", len(r.Graph.Nodes))
	return r, nil
}

func (o *options) preset(name string) (*gen.Preset, error) {
	if p, ok := o.presets[name]; ok {
		return p, nil
	}
	if p, ok := Preset(name); ok {
		return p, nil
	}
	return nil, gen.NewConfigError("renderer.preset", name, fmt.Sprintf("unknown preset, available: %v", Presets()))
}
