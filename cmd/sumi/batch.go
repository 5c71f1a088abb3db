package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sumi/internal/ocr"
)

func batchCmd() *cli.Command {
	var (
		model string
		jobs  int64
	)

	return &cli.Command{
		Name:      "batch",
		Usage:     "Recognize the text in many images",
		ArgsUsage: "<image>...",
		Flags: append(append(decodeFlags(), backendFlags()...), append(loggingFlags(),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .scf or .onnx model",
				Destination: &model,
			},
			&cli.Int64Flag{
				Name:        "jobs",
				Aliases:     []string{"j"},
				Usage:       "images decoded in parallel",
				Value:       1,
				Destination: &jobs,
			},
		)...),
		Action: func(ctx context.Context, c *cli.Command) error {
			images := c.Args().Slice()
			if len(images) == 0 {
				return cli.Exit("usage: sumi batch --model <model> <image>...", 2)
			}
			cfg := LoadConfig()
			applyCommonConfig(c, cfg)
			applyModelConfig(c, cfg, &model)
			log := newLogger()

			if model == "" {
				return cli.Exit("error: --model is required", 1)
			}
			for _, p := range append([]string{model}, images...) {
				if _, err := os.Stat(p); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			loader := ocr.Loader{
				VocabPath: vocabPath,
				MaxSteps:  int(maxSteps),
				Backend:   backendConfig(),
			}
			eng, err := loader.Load(model)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = eng.Close() }()

			start := time.Now()
			results, err := eng.RecognizeAll(ctx, images, ocr.Request{}, int(jobs))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			truncated := 0
			for i, res := range results {
				if res.Truncated {
					truncated++
				}
				fmt.Printf("%s\t%s\n", images[i], res.Text)
			}
			if truncated > 0 {
				log.Warn("some decodes stopped at the step cap", "images", truncated)
			}
			log.Info("batch finished",
				"images", len(results),
				"jobs", jobs,
				"elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
