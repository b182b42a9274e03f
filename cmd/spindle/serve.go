package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/api"
	"github.com/samcharles93/spindle/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		logitsAll   bool
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.BoolFlag{
			Name:        "logits-all",
			Usage:       "keep logits for every position so requests may ask for logprobs",
			Value:       true,
			Destination: &logitsAll,
		},
	)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the OpenAI-compatible completions API",
		Flags:  flags,
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if loaded.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = loaded.ServerAddress
			}

			opts := engineOptions(logitsAll)
			opts.PromptCache = nil
			opts.Logger = log
			provider := api.NewCachedEngineProvider(api.EngineProviderConfig{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Options:          opts,
				Loader:           newLoader(),
				PromptCacheBytes: int(promptCacheMB) << 20,
			})
			defer func() { _ = provider.Close() }()

			server := api.NewServer(provider)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "model", modelPath, "models_path", modelsPath)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
