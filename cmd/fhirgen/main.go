package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}

func run(args []string) error {
	return newApp().Run(args)
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "fhirgen",
		Usage:   "generate data models from FHIR definitions",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log verbosity level (eg: warn, info, debug)",
				Value:   "warn",
				EnvVars: []string{"FHIRGEN_LOG_LEVEL", "LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log output format: text or json",
				Value:   "text",
				EnvVars: []string{"FHIRGEN_LOG_FORMAT"},
			},
		},
	}
	app.Commands = []*cli.Command{
		cmdGenerate,
		cmdTree,
		cmdPresets,
	}
	return app
}

var configFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the run configuration",
		Value:   "fhirgen.yaml",
		EnvVars: []string{"FHIRGEN_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "cache-dir",
		Usage:   "directory for downloaded bundles and decoded records",
		EnvVars: []string{"FHIRGEN_CACHE_DIR"},
	},
	&cli.DurationFlag{
		Name:    "timeout",
		Usage:   "timeout for downloading the definitions bundle",
		EnvVars: []string{"FHIRGEN_TIMEOUT"},
	},
	&cli.IntFlag{
		Name:    "retries",
		Usage:   "download retries on transient failures",
		Value:   3,
		EnvVars: []string{"FHIRGEN_RETRIES"},
	},
	&cli.BoolFlag{
		Name:  "permissive",
		Usage: "render unresolvable references as placeholders",
	},
}

// configLogger builds the process logger from the global flags. Logs go to
// the writer, the app's error writer, so generated output on stdout stays
// clean.
func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cctx.String("log-format")) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
