// Command logdiff compares two per-step logit dumps produced by
// `sumi recognize --dump-logits` and reports how far apart the decode
// runs drifted. The usual pair is a dump from the source runtime and
// one from the converted model.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/samcharles93/sumi/internal/logitdump"
)

type diffStats struct {
	MaxAbs       float64
	MeanAbs      float64
	RMSE         float64
	Cosine       float64
	Top1A        int
	Top1B        int
	Top1Match    bool
	Top1Delta    float64
	TopKOverlap  int
	VectorLength int
}

func main() {
	var (
		pathA string
		pathB string
		tol   float64
		topK  int
		quiet bool
	)

	flag.StringVar(&pathA, "a", "", "path to the reference logit dump (JSONL)")
	flag.StringVar(&pathB, "b", "", "path to the candidate logit dump (JSONL)")
	flag.Float64Var(&tol, "tol", 0, "fail when any step's max_abs exceeds this (0 disables)")
	flag.IntVar(&topK, "topk", 5, "top-k overlap to report")
	flag.BoolVar(&quiet, "quiet", false, "print the summary only")
	flag.Parse()

	if pathA == "" || pathB == "" {
		fmt.Fprintln(os.Stderr, "-a and -b are required")
		os.Exit(2)
	}
	if tol < 0 {
		fmt.Fprintln(os.Stderr, "-tol must be >= 0")
		os.Exit(2)
	}

	recsA, err := logitdump.Load(pathA)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load a:", err)
		os.Exit(1)
	}
	recsB, err := logitdump.Load(pathB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load b:", err)
		os.Exit(1)
	}

	fmt.Printf("A=%s steps=%d\n", pathA, len(recsA))
	fmt.Printf("B=%s steps=%d\n", pathB, len(recsB))

	n := len(recsA)
	if len(recsB) < n {
		n = len(recsB)
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "no steps to compare")
		os.Exit(1)
	}

	acc := diffAccumulator{}
	tolExceeded := false
	tokenDiverged := -1

	for i := 0; i < n; i++ {
		ra, rb := recsA[i], recsB[i]
		if len(ra.Logits) != len(rb.Logits) {
			fmt.Fprintf(os.Stderr, "step %d: logits width %d vs %d\n", ra.Step, len(ra.Logits), len(rb.Logits))
			os.Exit(1)
		}
		stats := diffLogits(ra.Logits, rb.Logits, topK)
		acc.add(stats)
		if ra.Token != rb.Token && tokenDiverged < 0 {
			tokenDiverged = i
		}
		if tol > 0 && stats.MaxAbs > tol {
			tolExceeded = true
		}
		if !quiet {
			printStep(i, ra.Token, rb.Token, stats)
		}
	}

	fmt.Println()
	fmt.Printf("Summary steps=%d max_abs=%.6g mean_abs=%.6g rmse=%.6g cos=%.6g top1_match=%.2f%% topk_overlap=%.2f\n",
		acc.count,
		acc.maxAbs,
		acc.meanAbs/float64(acc.count),
		acc.rmse/float64(acc.count),
		acc.cos/float64(acc.count),
		100.0*float64(acc.top1Match)/float64(acc.count),
		float64(acc.topKOverlap)/float64(acc.count),
	)

	failed := false
	if tokenDiverged >= 0 {
		fmt.Fprintf(os.Stderr, "token sequences diverge at step %d\n", tokenDiverged)
		failed = true
	}
	if len(recsA) != len(recsB) {
		fmt.Fprintf(os.Stderr, "step counts differ: %d vs %d\n", len(recsA), len(recsB))
		failed = true
	}
	if tolExceeded {
		fmt.Fprintf(os.Stderr, "max_abs exceeded tolerance %g\n", tol)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
}

type diffAccumulator struct {
	count       int
	maxAbs      float64
	meanAbs     float64
	rmse        float64
	cos         float64
	top1Match   int
	topKOverlap int
}

func (a *diffAccumulator) add(s diffStats) {
	a.count++
	if s.MaxAbs > a.maxAbs {
		a.maxAbs = s.MaxAbs
	}
	a.meanAbs += s.MeanAbs
	a.rmse += s.RMSE
	a.cos += s.Cosine
	if s.Top1Match {
		a.top1Match++
	}
	a.topKOverlap += s.TopKOverlap
}

func diffLogits(a32, b32 []float32, topK int) diffStats {
	n := len(a32)
	if len(b32) < n {
		n = len(b32)
	}
	if n == 0 {
		return diffStats{}
	}

	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = float64(a32[i])
		b[i] = float64(b32[i])
	}

	cos := 0.0
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA > 0 && normB > 0 {
		cos = floats.Dot(a, b) / (normA * normB)
	}

	stats := diffStats{
		MaxAbs:       floats.Distance(a, b, math.Inf(1)),
		MeanAbs:      floats.Distance(a, b, 1) / float64(n),
		RMSE:         floats.Distance(a, b, 2) / math.Sqrt(float64(n)),
		Cosine:       cos,
		Top1A:        floats.MaxIdx(a),
		Top1B:        floats.MaxIdx(b),
		VectorLength: n,
	}
	stats.Top1Match = stats.Top1A == stats.Top1B
	stats.Top1Delta = a[stats.Top1A] - b[stats.Top1B]

	if topK > 1 {
		stats.TopKOverlap = overlap(topKIndices(a, topK), topKIndices(b, topK))
	}
	return stats
}

func topKIndices(vals []float64, k int) []int {
	if k <= 0 || len(vals) == 0 {
		return nil
	}
	if k > len(vals) {
		k = len(vals)
	}
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return vals[idx[i]] > vals[idx[j]] })
	return idx[:k]
}

func overlap(a, b []int) int {
	seen := make(map[int]struct{}, len(a))
	for _, idx := range a {
		seen[idx] = struct{}{}
	}
	count := 0
	for _, idx := range b {
		if _, ok := seen[idx]; ok {
			count++
		}
	}
	return count
}

func printStep(step int, tokA, tokB int64, stats diffStats) {
	fmt.Printf(
		"step[%d] tok_a=%d tok_b=%d top1_a=%d top1_b=%d match=%v topk=%d max_abs=%.6g mean_abs=%.6g rmse=%.6g cos=%.6g\n",
		step,
		tokA,
		tokB,
		stats.Top1A,
		stats.Top1B,
		stats.Top1Match,
		stats.TopKOverlap,
		stats.MaxAbs,
		stats.MeanAbs,
		stats.RMSE,
		stats.Cosine,
	)
}
