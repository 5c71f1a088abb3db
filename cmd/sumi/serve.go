package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sumi/internal/api"
	"github.com/samcharles93/sumi/internal/logger"
	"github.com/samcharles93/sumi/internal/ocr"
	"github.com/samcharles93/sumi/internal/webui"
)

func serveCmd() *cli.Command {
	var (
		model       string
		modelsDir   string
		addr        string
		readTimeout time.Duration
		rps         float64
		burst       int64
		preload     bool
		ui          bool
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve text recognition over HTTP",
		Flags: append(append(decodeFlags(), backendFlags()...), append(loggingFlags(),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to the default .scf or .onnx model",
				Destination: &model,
			},
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "path to a directory of models, exposed by id",
				Destination: &modelsDir,
			},
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
			&cli.Float64Flag{
				Name:        "rps",
				Usage:       "request rate limit per second (0 = unlimited)",
				Destination: &rps,
			},
			&cli.Int64Flag{
				Name:        "burst",
				Usage:       "rate limit burst size",
				Value:       10,
				Destination: &burst,
			},
			&cli.BoolFlag{
				Name:        "preload",
				Usage:       "load the default model at startup",
				Value:       true,
				Destination: &preload,
			},
			&cli.BoolFlag{
				Name:        "ui",
				Usage:       "serve the demo page at /",
				Value:       true,
				Destination: &ui,
			},
		)...),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(c, cfg)
			applyServeConfig(c, cfg, &model, &modelsDir, &addr, &rps)
			log := newLogger()
			ctx = logger.WithContext(ctx, log)

			loader := ocr.Loader{
				VocabPath: vocabPath,
				MaxSteps:  int(maxSteps),
				Backend:   backendConfig(),
			}
			provider := api.NewCachedEngineProvider(api.EngineProviderConfig{
				DefaultModelPath: model,
				ModelsPath:       modelsDir,
				Loader:           loader,
			})
			defer func() { _ = provider.Close() }()

			if preload && model != "" {
				if err := provider.Preload(""); err != nil {
					return cli.Exit(fmt.Sprintf("error: preload model: %v", err), 1)
				}
				log.Info("model preloaded", "path", model)
			}

			server := api.NewServer(provider)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			if rps > 0 {
				e.Use(api.RateLimit(rps, int(burst)))
			}
			server.Register(e)
			if ui {
				files := http.FileServer(webui.StaticFS())
				e.GET("/", func(c *echo.Context) error {
					files.ServeHTTP(c.Response(), c.Request())
					return nil
				})
			}

			log.Info("starting server", "address", addr)
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
