package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/samcharles93/sumi/internal/decode"
	"github.com/samcharles93/sumi/internal/imageprep"
	"github.com/samcharles93/sumi/internal/onnxrt"
	"github.com/samcharles93/sumi/internal/vocab"
	"github.com/samcharles93/sumi/pkg/scf"
)

// session abstracts the inference backend so engine behaviour can be
// exercised without a linked runtime.
type session interface {
	NewStepper(image []float32) (decode.Stepper, error)
	Close() error
}

// ortSession adapts an ONNX Runtime session, shielding the decode
// loop from panics escaping the native boundary.
type ortSession struct {
	s *onnxrt.Session
}

func (o ortSession) NewStepper(image []float32) (decode.Stepper, error) {
	run, err := o.s.NewRun(image)
	if err != nil {
		return nil, err
	}
	return decode.StepperFunc(func(ctx context.Context, seq []int64) (lg decode.Logits, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic in model step: %v", rec)
			}
		}()
		return run.Step(ctx, seq)
	}), nil
}

func (o ortSession) Close() error { return o.s.Close() }

type EngineImpl struct {
	path      string
	container bool
	file      *scf.File
	sess      session
	vocab     *vocab.Table
	info      scf.ModelInfo
	prep      imageprep.Config
}

func (e *EngineImpl) Info() Info {
	return Info{
		Path:      e.path,
		Container: e.container,
		Model:     e.info,
		VocabLen:  e.vocab.Len(),
	}
}

func (e *EngineImpl) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	if e.sess != nil {
		if err := e.sess.Close(); err != nil {
			errs = append(errs, err)
		}
		e.sess = nil
	}
	if e.file != nil {
		if err := e.file.Close(); err != nil {
			errs = append(errs, err)
		}
		e.file = nil
	}
	return errors.Join(errs...)
}

func (e *EngineImpl) Recognize(ctx context.Context, req *Request, observe ObserveFunc) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	img := req.Image
	if img == nil {
		if req.ImagePath == "" {
			return nil, fmt.Errorf("an image path or a decoded image is required")
		}
		var err error
		img, err = imageprep.Load(req.ImagePath)
		if err != nil {
			return nil, err
		}
	}
	tensor, err := imageprep.PrepareImage(img, e.prep)
	if err != nil {
		return nil, err
	}

	stepper, err := e.sess.NewStepper(tensor)
	if err != nil {
		return nil, err
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = e.info.Decode.MaxSteps
	}

	cfg := decode.Config{
		BeginToken: e.info.Decode.BeginToken,
		EndToken:   e.info.Decode.EndToken,
		MaxSteps:   maxSteps,
		TopK:       req.TopK,
	}
	if observe != nil {
		cfg.OnStep = func(si decode.StepInfo) { observe(si) }
	}

	res, err := decode.Greedy(ctx, stepper, cfg)
	if err != nil {
		return nil, err
	}

	return &Result{
		Text:      e.vocab.Decode(res.IDs),
		TokenIDs:  res.IDs,
		Steps:     res.Steps,
		Truncated: res.Truncated,
		Stats:     res.Stats,
	}, nil
}

// RecognizeAll decodes several images with at most parallel jobs in
// flight. Results keep input order.
func (e *EngineImpl) RecognizeAll(ctx context.Context, paths []string, base Request, parallel int) ([]*Result, error) {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]*Result, len(paths))
	p := pool.New().WithMaxGoroutines(parallel).WithContext(ctx)
	for i, path := range paths {
		p.Go(func(ctx context.Context) error {
			req := base
			req.ImagePath = path
			req.Image = nil
			res, err := e.Recognize(ctx, &req, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
