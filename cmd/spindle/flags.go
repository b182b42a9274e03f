package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/loader"
)

var (
	configFile    string
	modelPath     string
	modelsPath    string
	maxContext    int64
	batchSize     int64
	backend       string
	tokenizerKind string
	tokenizerDir  string
	ortLibrary    string
	threads       int64
	promptCacheMB int64
	logLevel      string
	logFormat     string
	debug         bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "path to a .onnx file or a model directory (empty runs the toy model)",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory containing models",
			Destination: &modelsPath,
		},
		&cli.Int64Flag{
			Name:        "max-context",
			Aliases:     []string{"max-ctx", "ctx", "c"},
			Usage:       "context window (0 = model default)",
			Destination: &maxContext,
		},
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"b"},
			Usage:       "tokens per backend decode call",
			Value:       512,
			Destination: &batchSize,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, toy, onnx)",
			Value:       "auto",
			Destination: &backend,
		},
		&cli.StringFlag{
			Name:        "tokenizer",
			Usage:       "tokenizer (auto, bytes, bpe, hf)",
			Value:       loader.TokenizerAuto,
			Destination: &tokenizerKind,
		},
		&cli.StringFlag{
			Name:        "tokenizer-dir",
			Usage:       "override the directory tokenizer files are read from",
			Destination: &tokenizerDir,
		},
		&cli.StringFlag{
			Name:        "ort-lib",
			Usage:       "path to the onnxruntime shared library",
			Sources:     cli.EnvVars("ONNXRUNTIME_LIB"),
			Destination: &ortLibrary,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "intra-op threads for the onnx backend (0 = runtime default)",
			Destination: &threads,
		},
		&cli.Int64Flag{
			Name:        "prompt-cache-mb",
			Usage:       "prompt state cache size in MiB (0 = disabled)",
			Destination: &promptCacheMB,
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
			Usage:       "log format (auto, pretty, json, text)",
			Value:       "auto",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLoader() loader.Loader {
	return loader.Loader{
		Backend:      backend,
		Tokenizer:    tokenizerKind,
		LibraryPath:  ortLibrary,
		Threads:      int(threads),
		TokenizerDir: tokenizerDir,
	}
}

func engineOptions(logitsAll bool) inference.Options {
	opts := inference.Options{
		NCtx:      int(maxContext),
		NBatch:    int(batchSize),
		LogitsAll: logitsAll,
	}
	if promptCacheMB > 0 {
		opts.PromptCache = inference.NewPromptCache(int(promptCacheMB) << 20)
	}
	return opts
}
