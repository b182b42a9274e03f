package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/logger"
)

// setup loads the config file, applies it to the shared flags and installs
// the logger. Every command that touches a model runs it as its Before hook.
func setup(ctx context.Context, c *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configPath())
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	applyModelConfig(c, cfg)
	loaded = cfg

	log, err := newLogger(os.Stderr, logLevel, logFormat, debug)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	return logger.WithContext(ctx, log), nil
}

// loaded is the config file read by setup.
var loaded Config

func newLogger(w *os.File, level, format string, debug bool) (logger.Logger, error) {
	lvl, err := logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if debug {
		lvl = slog.LevelDebug
	}
	return loggerFor(w, isTerminal(w), lvl, format)
}

func loggerFor(w io.Writer, tty bool, lvl slog.Level, format string) (logger.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto":
		if tty {
			return logger.Pretty(w, lvl), nil
		}
		return logger.JSON(w, lvl), nil
	case "pretty":
		return logger.Pretty(w, lvl), nil
	case "json":
		return logger.JSON(w, lvl), nil
	case "text":
		return logger.Text(w, lvl), nil
	}
	return nil, fmt.Errorf("unknown log format %q (expected auto, pretty, json, or text)", format)
}
