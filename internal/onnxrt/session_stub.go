//go:build !onnx

package onnxrt

import (
	"context"

	"github.com/samcharles93/sumi/internal/decode"
)

const runtimeEnabled = false

// Session is a stub used when built without the onnx tag.
type Session struct{}

func Open(cfg Config) (*Session, error) { return nil, ErrUnavailable }

func (s *Session) Signature() Signature  { return Signature{} }
func (s *Session) Inputs() []TensorMeta  { return nil }
func (s *Session) Outputs() []TensorMeta { return nil }
func (s *Session) ImageShape() []int64   { return nil }
func (s *Session) Close() error          { return nil }

func (s *Session) NewRun(image []float32) (*Run, error) { return nil, ErrUnavailable }

type Run struct{}

func (r *Run) Step(ctx context.Context, seq []int64) (decode.Logits, error) {
	return decode.Logits{}, ErrUnavailable
}

func Probe(cfg Config) (inputs, outputs []TensorMeta, err error) {
	return nil, nil, ErrUnavailable
}
