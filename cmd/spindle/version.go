package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/backend"
	"github.com/samcharles93/spindle/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version and backend information",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "ort-lib",
				Usage:       "path to the onnxruntime shared library",
				Sources:     cli.EnvVars("ONNXRUNTIME_LIB"),
				Destination: &ortLibrary,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("spindle %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:  %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("built:   %s\n", info.BuildTime)
			}
			fmt.Printf("go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Printf("backend: %s\n", backend.Available(ortLibrary))
			return nil
		},
	}
}
