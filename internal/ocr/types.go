package ocr

import (
	"context"
	"image"

	"github.com/samcharles93/sumi/internal/decode"
	"github.com/samcharles93/sumi/pkg/scf"
)

// ObserveFunc receives each decode step as it happens.
type ObserveFunc func(decode.StepInfo)

type Engine interface {
	Recognize(ctx context.Context, req *Request, observe ObserveFunc) (*Result, error)
	Info() Info
	Close() error
}

// Request is one recognition job. ImagePath is read from disk unless
// Image is already decoded.
type Request struct {
	ImagePath string
	Image     image.Image

	// MaxSteps caps the decode loop; 0 uses the model's limit.
	MaxSteps int

	// TopK attaches that many candidate probabilities to each
	// observed step.
	TopK int
}

type Result struct {
	Text      string
	TokenIDs  []int64
	Steps     int
	Truncated bool
	Stats     decode.Stats
}

// Info describes a loaded model.
type Info struct {
	Path      string
	Container bool
	Model     scf.ModelInfo
	VocabLen  int
}
