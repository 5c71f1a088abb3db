package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/sumi/internal/ocr"
	"github.com/samcharles93/sumi/internal/onnxrt"
	"github.com/samcharles93/sumi/pkg/scf"
)

func inspectCmd() *cli.Command {
	var (
		checkDigests bool
		showVocab    bool
		vocabLimit   int64
		asJSON       bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect an .scf container or a bare .onnx export",
		ArgsUsage: "<model>",
		Flags: append(backendFlags(), append(loggingFlags(),
			&cli.BoolFlag{
				Name:        "digests",
				Usage:       "recompute and verify section digests",
				Destination: &checkDigests,
			},
			&cli.BoolFlag{
				Name:        "vocab",
				Usage:       "preview the vocabulary",
				Destination: &showVocab,
			},
			&cli.Int64Flag{
				Name:        "vocab-limit",
				Usage:       "vocabulary preview rows (0 = all)",
				Value:       20,
				Destination: &vocabLimit,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the model-info record as JSON",
				Destination: &asJSON,
			},
		)...),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return cli.Exit("usage: sumi inspect <model>", 2)
			}
			path := c.Args().First()

			stat, err := os.Stat(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat model path %q: %v", path, err), 1)
			}
			if stat.IsDir() {
				return cli.Exit("error: sumi inspect expects a model file", 1)
			}

			container, err := ocr.IsContainer(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if container {
				return inspectContainer(path, stat.Size(), checkDigests, showVocab, int(vocabLimit), asJSON)
			}
			return inspectBareModel(path, stat.Size(), asJSON)
		},
	}
}

func inspectContainer(path string, size int64, checkDigests, showVocab bool, vocabLimit int, asJSON bool) error {
	f, err := scf.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: open container: %v", err), 1)
	}
	defer func() { _ = f.Close() }()

	mi, err := f.ModelInfo()
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: read model info: %v", err), 1)
	}

	if asJSON {
		out, err := json.MarshalIndent(mi, "", "  ")
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("SCF Inspect: %s (%s)\n", path, formatBytes(uint64(size)))
	printHeader(f.Header)
	printSectionDirectory(f)

	section("Model")
	row("name", mi.Name)
	row("architecture", mi.Architecture)
	row("source_model", mi.SourceModel)

	section("Image")
	row("size", fmt.Sprintf("%dx%d", mi.Image.Width, mi.Image.Height))
	rowInt("channels", mi.Image.Channels)
	row("autocrop", fmt.Sprintf("%v", mi.Image.Autocrop))
	rowInt("margin", mi.Image.Margin)
	if mi.Image.Invert {
		row("invert", "true")
	}
	row("filter", mi.Image.Filter)

	section("Decode")
	row("pad_token", fmt.Sprintf("%d", mi.Decode.PadToken))
	row("unknown_token", fmt.Sprintf("%d", mi.Decode.UnknownToken))
	row("begin_token", fmt.Sprintf("%d", mi.Decode.BeginToken))
	row("end_token", fmt.Sprintf("%d", mi.Decode.EndToken))
	rowInt("reserved_tokens", mi.Decode.ReservedTokens)
	rowInt("max_steps", mi.Decode.MaxSteps)
	rowInt("vocab_size", mi.Decode.VocabSize)

	printSignature(mi)

	if checkDigests {
		section("Digests")
		if len(mi.Digests) == 0 {
			fmt.Println("(no digests recorded)")
		} else if err := scf.VerifyDigests(f); err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		} else {
			for name, digest := range mi.Digests {
				fmt.Printf("%-18s %s  OK\n", name, digest)
			}
		}
	}

	if showVocab {
		if err := printVocabPreview(f, mi.Decode.ReservedTokens, vocabLimit); err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
	}
	return nil
}

// inspectBareModel probes a raw .onnx export. This needs a linked
// runtime: without one there is no way to read the graph's signature.
func inspectBareModel(path string, size int64, asJSON bool) error {
	if !onnxrt.Available() {
		return cli.Exit("error: inspecting a bare .onnx model needs the onnx runtime; rebuild with -tags onnx or pack the model into a container first", 1)
	}

	inputs, outputs, err := onnxrt.Probe(onnxrt.Config{ModelPath: path, LibraryPath: ortLibrary})
	if err != nil {
		return cli.Exit(fmt.Sprintf("error: probe model: %v", err), 1)
	}

	if asJSON {
		out, err := json.MarshalIndent(map[string]any{
			"path":    path,
			"inputs":  inputs,
			"outputs": outputs,
		}, "", "  ")
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("ONNX Inspect: %s (%s)\n", path, formatBytes(uint64(size)))

	section("Inputs")
	for _, m := range inputs {
		fmt.Printf("  %s\n", m)
	}
	section("Outputs")
	for _, m := range outputs {
		fmt.Printf("  %s\n", m)
	}

	sig, err := onnxrt.DetectSignature(inputs, outputs)
	if err != nil {
		fmt.Printf("\nsignature: %v\n", err)
		return nil
	}
	printDetectedSignature(sig)
	return nil
}

func printHeader(h *scf.Header) {
	if h == nil {
		return
	}
	fmt.Printf("SCF Header: v%d.%d sections=%d header=%dB\n",
		h.Major, h.Minor, h.SectionCount, h.HeaderSize)
}

func printSectionDirectory(f *scf.File) {
	section("Sections")
	for _, s := range f.Sections {
		name := scf.SectionTypeName(scf.SectionType(s.Type))
		fmt.Printf("%-20s v%-2d off=%-10d size=%s\n", name, s.Version, s.Offset, formatBytes(s.Size))
	}
}

// printSignature reports the decode-step tensor roles recorded at pack
// time, when the container carries them.
func printSignature(mi *scf.ModelInfo) {
	if len(mi.Inputs) == 0 && len(mi.Outputs) == 0 {
		return
	}

	section("Signature")
	for _, t := range mi.Inputs {
		fmt.Printf("in:  %s\n", tensorMeta(t))
	}
	for _, t := range mi.Outputs {
		fmt.Printf("out: %s\n", tensorMeta(t))
	}

	sig, err := onnxrt.DetectSignature(toMetas(mi.Inputs), toMetas(mi.Outputs))
	if err != nil {
		fmt.Printf("\n(signature detection: %v)\n", err)
		return
	}
	printDetectedSignature(sig)
}

func printDetectedSignature(sig onnxrt.Signature) {
	fmt.Println()
	row("image_input", sig.ImageInput)
	row("ids_input", fmt.Sprintf("%s (%s)", sig.IDsInput, sig.IDsDType))
	row("logits_output", sig.LogitsOutput)
	if sig.HasState() {
		row("state_input", sig.StateInput)
		row("state_output", sig.StateOutput)
	}
}

func printVocabPreview(f *scf.File, reserved, limit int) error {
	data, err := f.SectionBytes(scf.SectionVocab)
	if err != nil {
		return fmt.Errorf("container has no vocabulary section: %w", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")

	section("Vocabulary")
	shown := len(lines)
	if limit > 0 && shown > limit {
		shown = limit
	}
	for i := 0; i < shown; i++ {
		fmt.Printf("%6d  %s\n", i+reserved, lines[i])
	}
	if shown < len(lines) {
		fmt.Printf("... (%d more)\n", len(lines)-shown)
	}
	return nil
}

func tensorMeta(t scf.TensorInfo) onnxrt.TensorMeta {
	return onnxrt.TensorMeta{Name: t.Name, DType: t.DType, Shape: t.Shape}
}

func toMetas(infos []scf.TensorInfo) []onnxrt.TensorMeta {
	metas := make([]onnxrt.TensorMeta, len(infos))
	for i, t := range infos {
		metas[i] = tensorMeta(t)
	}
	return metas
}

func section(title string) {
	line := strings.Repeat("-", len(title)+8)
	fmt.Printf("\n%s\n--- %s ---\n%s\n", line, title, line)
}

func row(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("%-18s %s\n", label+":", value)
}

func rowInt(label string, v int) {
	if v == 0 {
		return
	}
	row(label, fmt.Sprintf("%d", v))
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
