package logitdump

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/sumi/internal/decode"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	recs := []Record{
		{Step: 0, Token: 4, Logits: []float32{0.1, -2.5e-8, 3}},
		{Step: 1, Token: 7, Logits: []float32{-1, 0, 1}},
		{Step: 2, Token: 3, Logits: []float32{0.25, 0.5, -0.125}},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	got, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("read %d records, want %d", len(got), len(recs))
	}
	for i, rec := range recs {
		if got[i].Step != rec.Step || got[i].Token != rec.Token {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], rec)
		}
		for j := range rec.Logits {
			if got[i].Logits[j] != rec.Logits[j] {
				t.Fatalf("record %d logits[%d] = %v, want %v", i, j, got[i].Logits[j], rec.Logits[j])
			}
		}
	}
}

func TestWriterErrorSticks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)

	bad := Record{Step: 0, Logits: []float32{float32(math.NaN())}}
	if err := w.Write(bad); err == nil {
		t.Fatal("NaN logits encoded")
	}
	first := w.Err()
	if first == nil {
		t.Fatal("Err() empty after failed write")
	}
	if err := w.Write(Record{Step: 1, Logits: []float32{1}}); err != first {
		t.Fatalf("subsequent write returned %v, want sticky %v", err, first)
	}
}

func TestReadAllRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ReadAll(strings.NewReader("{\"step\":0,\"token\":4,\"logits\":[1]}\n{\"step\":"))
	if err == nil {
		t.Fatal("truncated stream accepted")
	}
	if !strings.Contains(err.Error(), "record 1") {
		t.Fatalf("error %q does not name the failing record", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dump.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w := NewWriter(f)
	if err := w.Write(Record{Step: 0, Token: 5, Logits: []float32{1, 2}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	recs, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 1 || recs[0].Token != 5 {
		t.Fatalf("loaded %+v", recs)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestHookCapturesSteps(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	hook := w.Hook()

	hook(decode.StepInfo{Step: 0, Token: 9, Row: []float32{0.5, 1.5}})
	hook(decode.StepInfo{Step: 1, Token: 3, Row: []float32{2, -2}})

	recs, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 || recs[0].Token != 9 || recs[1].Step != 1 {
		t.Fatalf("captured %+v", recs)
	}
}
