package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sumi/internal/onnxrt"
	"github.com/samcharles93/sumi/pkg/scf"
)

func packCmd() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "Pack an ONNX export and its vocabulary into a single .scf file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "model",
				Aliases:  []string{"in"},
				Usage:    "Exported .onnx model path",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "vocab",
				Usage:    "Vocabulary file, UTF-8, one token per line",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"out", "o"},
				Usage:    "Output .scf path",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "tokenizer-config",
				Usage: "Optional tokenizer_config.json to embed",
			},

			&cli.StringFlag{Name: "name", Usage: "Model name (default: model filename)"},
			&cli.StringFlag{Name: "source-model", Usage: "Upstream model id, e.g. a hub repo"},

			// Image contract. Unset dimensions are probed from the
			// model when a runtime is linked in.
			&cli.IntFlag{Name: "width", Usage: "Input image width"},
			&cli.IntFlag{Name: "height", Usage: "Input image height"},
			&cli.IntFlag{Name: "channels", Usage: "Input image channels (1 or 3)"},
			&cli.BoolFlag{Name: "autocrop", Usage: "Crop to the text foreground before resizing", Value: true},
			&cli.IntFlag{Name: "margin", Usage: "Pixels kept around the autocrop box"},
			&cli.BoolFlag{Name: "invert", Usage: "Invert pixel polarity (dark-on-light models)"},
			&cli.StringFlag{Name: "filter", Usage: "Resize kernel (bilinear, catmullrom, nearest)"},

			// Decode contract.
			&cli.Int64Flag{Name: "pad-token", Usage: "Padding token id", Value: 0},
			&cli.Int64Flag{Name: "unknown-token", Usage: "Unknown token id", Value: 1},
			&cli.Int64Flag{Name: "begin-token", Usage: "Sequence start token id", Value: 2},
			&cli.Int64Flag{Name: "end-token", Usage: "Sequence end token id", Value: 3},
			&cli.IntFlag{Name: "reserved", Usage: "Special ids preceding the first vocabulary line"},
			&cli.IntFlag{Name: "max-steps", Usage: "Default decode step cap"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mi := scf.ModelInfo{
				Name:        cmd.String("name"),
				SourceModel: cmd.String("source-model"),
				Image: scf.ImageInfo{
					Width:    cmd.Int("width"),
					Height:   cmd.Int("height"),
					Channels: cmd.Int("channels"),
					Autocrop: cmd.Bool("autocrop"),
					Margin:   cmd.Int("margin"),
					Invert:   cmd.Bool("invert"),
					Filter:   cmd.String("filter"),
				},
				Decode: scf.DecodeInfo{
					PadToken:       cmd.Int64("pad-token"),
					UnknownToken:   cmd.Int64("unknown-token"),
					BeginToken:     cmd.Int64("begin-token"),
					EndToken:       cmd.Int64("end-token"),
					ReservedTokens: cmd.Int("reserved"),
					MaxSteps:       cmd.Int("max-steps"),
				},
			}

			modelPath := cmd.String("model")
			if err := fillFromProbe(&mi, modelPath); err != nil {
				return fmt.Errorf("pack: %w", err)
			}
			if mi.Image.Width <= 0 || mi.Image.Height <= 0 || mi.Image.Channels <= 0 {
				return fmt.Errorf("pack: image dimensions are required (pass --width/--height/--channels, or build with -tags onnx to probe them)")
			}

			opts := scf.PackOptions{
				ModelPath:           modelPath,
				VocabPath:           cmd.String("vocab"),
				TokenizerConfigPath: cmd.String("tokenizer-config"),
				OutputPath:          cmd.String("output"),
				Info:                mi,
			}
			if err := scf.Pack(opts); err != nil {
				return fmt.Errorf("pack: %w", err)
			}
			fmt.Printf("wrote %s\n", opts.OutputPath)
			return nil
		},
	}
}

// fillFromProbe records the model's tensor signature and, when flags
// left them unset, the image dimensions. Without a linked runtime the
// container is still valid, it just carries no signature record.
func fillFromProbe(mi *scf.ModelInfo, modelPath string) error {
	if !onnxrt.Available() {
		return nil
	}
	inputs, outputs, err := onnxrt.Probe(onnxrt.Config{ModelPath: modelPath})
	if err != nil {
		return fmt.Errorf("probe model: %w", err)
	}
	mi.Inputs = toTensorInfos(inputs)
	mi.Outputs = toTensorInfos(outputs)

	if mi.Image.Width > 0 && mi.Image.Height > 0 && mi.Image.Channels > 0 {
		return nil
	}
	sig, err := onnxrt.DetectSignature(inputs, outputs)
	if err != nil {
		return fmt.Errorf("detect signature: %w", err)
	}
	c, h, w, ok := sig.ImageDims()
	if !ok {
		return fmt.Errorf("model %s declares dynamic image dimensions; pass --width/--height/--channels", modelPath)
	}
	if mi.Image.Width <= 0 {
		mi.Image.Width = w
	}
	if mi.Image.Height <= 0 {
		mi.Image.Height = h
	}
	if mi.Image.Channels <= 0 {
		mi.Image.Channels = c
	}
	return nil
}

func toTensorInfos(metas []onnxrt.TensorMeta) []scf.TensorInfo {
	infos := make([]scf.TensorInfo, len(metas))
	for i, m := range metas {
		infos[i] = scf.TensorInfo{Name: m.Name, DType: m.DType, Shape: m.Shape}
	}
	return infos
}
