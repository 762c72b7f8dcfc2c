package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/strand-ml/strand/internal/api"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		maxConcurrent int64
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
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Int64Flag{
			Name:        "max-concurrent",
			Usage:       "maximum generations in flight",
			Value:       1,
			Destination: &maxConcurrent,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the completions API over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(c, cfg)
			applyServeConfig(c, cfg, &addr, &maxConcurrent)
			log := newLogger()

			provider := api.NewCachedProvider(api.ProviderConfig{
				DefaultModelDir: modelDir,
				ModelsDir:       modelsDir,
				Loader: func(dir string) (api.Engine, error) {
					log.Info("loading model", "dir", dir)
					return loadEngine(dir, log)
				},
			})
			defer func() { _ = provider.Close() }()

			server := api.NewServer(provider, maxConcurrent, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "max_concurrent", maxConcurrent)
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
