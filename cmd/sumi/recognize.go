package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sumi/internal/decode"
	"github.com/samcharles93/sumi/internal/logitdump"
	"github.com/samcharles93/sumi/internal/ocr"
)

func recognizeCmd() *cli.Command {
	var (
		dumpLogits   string
		topK         int64
		showTokens   bool
		showStats    bool
		checkDigests bool
	)

	return &cli.Command{
		Name:      "recognize",
		Aliases:   []string{"rec"},
		Usage:     "Recognize the text in an image",
		ArgsUsage: "<image> <model> [vocab]",
		Flags: append(append(decodeFlags(), backendFlags()...), append(loggingFlags(),
			&cli.StringFlag{
				Name:        "dump-logits",
				Usage:       "write per-step logits to a JSONL file",
				Destination: &dumpLogits,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Aliases:     []string{"topk"},
				Usage:       "print the k best candidates of each step to stderr",
				Destination: &topK,
			},
			&cli.BoolFlag{
				Name:        "tokens",
				Usage:       "print the decoded token ids to stderr",
				Destination: &showTokens,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "print decode timing to stderr",
				Destination: &showStats,
			},
			&cli.BoolFlag{
				Name:        "verify-digests",
				Usage:       "recompute container section digests before loading",
				Destination: &checkDigests,
			},
		)...),
		Action: func(ctx context.Context, c *cli.Command) error {
			args := c.Args()
			if args.Len() < 2 || args.Len() > 3 {
				return cli.Exit("usage: sumi recognize <image> <model> [vocab]", 2)
			}
			applyCommonConfig(c, LoadConfig())
			log := newLogger()

			imagePath, modelPath := args.Get(0), args.Get(1)
			if args.Len() == 3 {
				vocabPath = args.Get(2)
			}
			for _, p := range []string{imagePath, modelPath, vocabPath} {
				if p == "" {
					continue
				}
				if _, err := os.Stat(p); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			loader := ocr.Loader{
				VocabPath:     vocabPath,
				MaxSteps:      int(maxSteps),
				VerifyDigests: checkDigests,
				Backend:       backendConfig(),
			}
			eng, err := loader.Load(modelPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = eng.Close() }()
			log.Debug("model loaded", "path", modelPath, "container", eng.Info().Container, "vocab", eng.Info().VocabLen)

			var observe ocr.ObserveFunc
			var dump *logitdump.Writer
			if dumpLogits != "" {
				f, err := os.Create(dumpLogits)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: create logit dump: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				dump = logitdump.NewWriter(f)
				observe = dump.Hook()
			}
			if topK > 0 {
				prev := observe
				observe = func(si decode.StepInfo) {
					if prev != nil {
						prev(si)
					}
					for _, cand := range si.TopK {
						fmt.Fprintf(os.Stderr, "step %3d: tok=%-6d p=%.4f\n", si.Step, cand.Token, cand.Prob)
					}
				}
			}

			req := &ocr.Request{ImagePath: imagePath, TopK: int(topK)}
			res, err := eng.Recognize(ctx, req, observe)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: recognize: %v", err), 1)
			}
			if dump != nil {
				if err := dump.Err(); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}

			if res.Truncated {
				log.Warn("decode stopped at the step cap", "steps", res.Steps)
			}
			fmt.Println(res.Text)

			if showTokens {
				fmt.Fprintf(os.Stderr, "tokens: %v\n", res.TokenIDs)
			}
			if showStats {
				fmt.Fprintf(os.Stderr, "steps=%d duration=%s tok/s=%.1f\n",
					res.Stats.TokensGenerated, res.Stats.Duration.Round(time.Millisecond), res.Stats.TPS)
			}
			return nil
		},
	}
}
