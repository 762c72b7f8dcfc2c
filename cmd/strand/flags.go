package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/strand-ml/strand/internal/logger"
)

var (
	modelDir  string
	modelsDir string
	onnxLib   string
	threads   int64
	logLevel  string
	logFormat string
	debug     bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a model directory (tokenizer.json, config.json, ONNX graphs)",
			Destination: &modelDir,
		},
		&cli.StringFlag{
			Name:        "models-dir",
			Usage:       "directory containing model directories",
			Destination: &modelsDir,
		},
		&cli.StringFlag{
			Name:        "onnx-lib",
			Usage:       "path to the onnxruntime shared library",
			Destination: &onnxLib,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "intra-op thread count (0 = runtime default)",
			Destination: &threads,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
