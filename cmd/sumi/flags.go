package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sumi/internal/logger"
	"github.com/samcharles93/sumi/internal/onnxrt"
)

var (
	vocabPath  string
	maxSteps   int64
	provider   string
	deviceID   int64
	ortThreads int64
	ortLibrary string
	logLevel   string
	logFormat  string
	debug      bool
)

func decodeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vocab",
			Aliases:     []string{"v"},
			Usage:       "path to vocabulary file (overrides the container vocabulary)",
			Destination: &vocabPath,
		},
		&cli.Int64Flag{
			Name:        "max-steps",
			Aliases:     []string{"n", "steps"},
			Usage:       "decode step cap (0 = model default)",
			Destination: &maxSteps,
		},
	}
}

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "execution provider (cpu, cuda, coreml, directml, tensorrt)",
			Destination: &provider,
		},
		&cli.Int64Flag{
			Name:        "device",
			Usage:       "device id for GPU providers",
			Destination: &deviceID,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "intra-op thread cap (0 = runtime default)",
			Destination: &ortThreads,
		},
		&cli.StringFlag{
			Name:        "ort-library",
			Usage:       "override path to the onnxruntime shared library",
			Destination: &ortLibrary,
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

func backendConfig() onnxrt.Config {
	return onnxrt.Config{
		LibraryPath:    ortLibrary,
		Provider:       provider,
		DeviceID:       int(deviceID),
		IntraOpThreads: int(ortThreads),
	}
}

func newLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
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
