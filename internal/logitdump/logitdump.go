// Package logitdump writes and reads the raw logits a decode run
// produces, one JSON record per step. Two dumps of the same image,
// taken from an original and a converted model, are the inputs to
// numeric verification.
package logitdump

import (
	"errors"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/sumi/internal/decode"
)

// Record is the final logits row of one decode step, together with
// the token the step selected.
type Record struct {
	Step   int       `json:"step"`
	Token  int64     `json:"token"`
	Logits []float32 `json:"logits"`
}

// Writer streams records as newline-delimited JSON. The first write
// error sticks; callers check Err once the run finishes.
type Writer struct {
	enc *json.Encoder
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Write(rec Record) error {
	if w.err != nil {
		return w.err
	}
	if err := w.enc.Encode(rec); err != nil {
		w.err = fmt.Errorf("logitdump: encode step %d: %w", rec.Step, err)
	}
	return w.err
}

func (w *Writer) Err() error { return w.err }

// Hook adapts the writer to a decode step callback.
func (w *Writer) Hook() func(decode.StepInfo) {
	return func(si decode.StepInfo) {
		_ = w.Write(Record{Step: si.Step, Token: si.Token, Logits: si.Row})
	}
}

// ReadAll decodes every record in the stream.
func ReadAll(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var recs []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return recs, nil
			}
			return nil, fmt.Errorf("logitdump: record %d: %w", len(recs), err)
		}
		recs = append(recs, rec)
	}
}

// Load reads a dump file.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	recs, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}
