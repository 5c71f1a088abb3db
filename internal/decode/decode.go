// Package decode implements greedy autoregressive decoding against an
// opaque per-step inference call.
//
// There is exactly one loop. Model variants differ only in how their
// Stepper is built (image tensor captured in the closure, recurrent
// state threaded between calls), never in the loop itself.
package decode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Logits is one inference step's output matrix: Rows sequence
// positions by Cols vocabulary entries, row-major.
type Logits struct {
	Data []float32
	Rows int
	Cols int
}

// LastRow returns the distribution for the most recently generated
// position, or nil when the matrix is malformed.
func (l Logits) LastRow() []float32 {
	if l.Cols <= 0 || len(l.Data) < l.Cols {
		return nil
	}
	if l.Rows > 0 && l.Rows*l.Cols != len(l.Data) {
		return nil
	}
	return l.Data[len(l.Data)-l.Cols:]
}

// Stepper produces the logits for the token sequence built so far.
// Implementations close over the preprocessed image and, for stateful
// model variants, thread the recurrent state between calls.
type Stepper interface {
	Step(ctx context.Context, seq []int64) (Logits, error)
}

// StepperFunc adapts a plain function to the Stepper interface.
type StepperFunc func(ctx context.Context, seq []int64) (Logits, error)

func (f StepperFunc) Step(ctx context.Context, seq []int64) (Logits, error) {
	return f(ctx, seq)
}

// Candidate is one top-k entry with its softmax probability over the
// full logits row.
type Candidate struct {
	Token int64
	Prob  float64
}

// StepInfo reports one completed decode step to the OnStep hook.
// Row aliases internal memory and is only valid during the callback.
type StepInfo struct {
	Step  int // 1-based
	Token int64
	Row   []float32
	TopK  []Candidate
}

type Config struct {
	BeginToken int64
	EndToken   int64

	// MaxSteps bounds the number of inference calls. Reaching it
	// without the end token truncates the result, it is not an error.
	MaxSteps int

	// TopK > 0 attaches the k best candidates to each StepInfo.
	TopK int

	// OnStep observes each completed step (logit dumps, verbose
	// candidate listings).
	OnStep func(StepInfo)
}

type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

type Result struct {
	// IDs is the full sequence including the begin marker and, on
	// normal termination, the end marker.
	IDs       []int64
	Steps     int
	Truncated bool
	Stats     Stats
}

// Greedy runs the decode loop: start from the begin marker, call the
// stepper, take the last logits row, append the arg-max token, stop on
// the end token or after MaxSteps. Ties break toward the lowest token
// ID. Stepper failures are fatal and propagate; there are no retries.
func Greedy(ctx context.Context, s Stepper, cfg Config) (Result, error) {
	var res Result
	if s == nil {
		return res, errors.New("decode: nil stepper")
	}
	if cfg.MaxSteps <= 0 {
		return res, fmt.Errorf("decode: invalid max steps %d", cfg.MaxSteps)
	}

	seq := make([]int64, 1, cfg.MaxSteps+1)
	seq[0] = cfg.BeginToken

	start := time.Now()
	truncated := true
	for step := 0; step < cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			res.IDs = seq
			return res, err
		}

		lg, err := s.Step(ctx, seq)
		if err != nil {
			res.IDs = seq
			return res, fmt.Errorf("decode: step %d: %w", step+1, err)
		}
		row := lg.LastRow()
		if len(row) == 0 {
			res.IDs = seq
			return res, fmt.Errorf("decode: step %d: malformed logits (%d rows x %d cols, %d values)", step+1, lg.Rows, lg.Cols, len(lg.Data))
		}

		next := int64(argmax(row))
		seq = append(seq, next)
		res.Steps++

		if cfg.OnStep != nil {
			info := StepInfo{Step: res.Steps, Token: next, Row: row}
			if cfg.TopK > 0 {
				info.TopK = TopKProbs(row, cfg.TopK)
			}
			cfg.OnStep(info)
		}

		if next == cfg.EndToken {
			truncated = false
			break
		}
	}

	res.IDs = seq
	res.Truncated = truncated
	res.Stats.TokensGenerated = res.Steps
	res.Stats.Duration = time.Since(start)
	if res.Stats.Duration.Seconds() > 0 {
		res.Stats.TPS = float64(res.Stats.TokensGenerated) / res.Stats.Duration.Seconds()
	}
	return res, nil
}

// argmax returns the index of the maximum value in the slice. The
// strict comparison keeps the first-encountered maximum, so ties
// resolve to the lowest index. If the slice is empty it panics.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// TopKProbs returns the k highest-scoring tokens with softmax
// probabilities computed over the whole row. Ordering is by
// descending probability, ties toward the lower token ID.
func TopKProbs(row []float32, k int) []Candidate {
	if k <= 0 || len(row) == 0 {
		return nil
	}
	if k > len(row) {
		k = len(row)
	}

	x := make([]float64, len(row))
	for i, v := range row {
		x[i] = float64(v)
	}
	maxV := floats.Max(x)
	for i := range x {
		x[i] = math.Exp(x[i] - maxV)
	}
	if sum := floats.Sum(x); sum > 0 {
		floats.Scale(1/sum, x)
	}

	// O(V*K) insertion shortlist, fine for small k.
	idx := make([]int, 0, k)
	for i := range x {
		pos := len(idx)
		for pos > 0 && x[idx[pos-1]] < x[i] {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = append(idx, 0)
		copy(idx[pos+1:], idx[pos:])
		idx[pos] = i
		if len(idx) > k {
			idx = idx[:k]
		}
	}

	out := make([]Candidate, len(idx))
	for i, id := range idx {
		out[i] = Candidate{Token: int64(id), Prob: x[id]}
	}
	return out
}
