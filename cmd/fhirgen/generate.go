package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/syssam/fhirgen/compiler"
	"github.com/syssam/fhirgen/compiler/gen"
	"github.com/syssam/fhirgen/compiler/load"
)

var cmdGenerate = &cli.Command{
	Name:    "generate",
	Aliases: []string{"gen"},
	Usage:   "render the models described by a run configuration",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "override renderer.output_dir",
		},
		&cli.StringFlag{
			Name:  "preset",
			Usage: "override renderer.preset",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "modules rendered concurrently (0 for one per CPU)",
		},
		&cli.BoolFlag{
			Name:  "watch",
			Usage: "regenerate when the configuration or a local bundle changes",
		},
	}, configFlags...),
	Action: runGenerate,
}

// loadRunConfig reads the configuration named by the flags and applies the
// command-line overrides.
func loadRunConfig(cctx *cli.Context) (*compiler.RunConfig, error) {
	rc, err := compiler.LoadConfig(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	if cctx.IsSet("cache-dir") {
		rc.CacheDir = cctx.String("cache-dir")
	}
	if cctx.IsSet("permissive") {
		rc.Parser.Permissive = cctx.Bool("permissive")
	}
	if cctx.IsSet("output") {
		rc.Renderer.OutputDir = cctx.String("output")
	}
	if cctx.IsSet("preset") {
		rc.Renderer.Preset = cctx.String("preset")
	}
	return rc, nil
}

func compilerOptions(cctx *cli.Context, logger *slog.Logger) []compiler.Option {
	lopts := []load.Option{load.WithRetries(cctx.Int("retries"))}
	if d := cctx.Duration("timeout"); d > 0 {
		lopts = append(lopts, load.WithTimeout(d))
	}
	opts := []compiler.Option{
		compiler.WithLogger(logger),
		compiler.WithLoadOptions(lopts...),
	}
	if cctx.IsSet("workers") {
		opts = append(opts, compiler.WithGenOptions(gen.WithWorkers(cctx.Int("workers"))))
	}
	return opts
}

func runGenerate(cctx *cli.Context) error {
	logger := configLogger(cctx, cctx.App.ErrWriter)
	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// generate returns the local files of the configuration it ran with,
	// nil when the configuration could not be read.
	generate := func(ctx context.Context) ([]string, error) {
		rc, err := loadRunConfig(cctx)
		if err != nil {
			return nil, err
		}
		paths := rc.LocalFiles()
		res, err := compiler.Generate(ctx, rc, compilerOptions(cctx, logger)...)
		if err != nil {
			return paths, err
		}
		fmt.Fprintf(cctx.App.Writer, "generated %d types in %d modules into %s (%s)\n",
			len(res.Graph.Nodes), len(res.Modules), rc.Renderer.OutputDir, res.Duration.Round(time.Millisecond))
		return paths, nil
	}

	paths, err := generate(ctx)
	if err != nil {
		if !cctx.Bool("watch") || paths == nil {
			return err
		}
		logger.Error("generation failed", "error", err)
	}
	if !cctx.Bool("watch") {
		return nil
	}
	return watch(ctx, logger, paths, func() []string {
		paths, err := generate(ctx)
		if err != nil {
			logger.Error("generation failed", "error", err)
		}
		return paths
	})
}
