package logits

import (
	"cmp"
	"math"
	"slices"
)

// LogSoftmax returns log-probabilities for a logits row.
func LogSoftmax(row []float32) []float32 {
	out := make([]float32, len(row))
	if len(row) == 0 {
		return out
	}
	maxLogit := slices.Max(row)
	var sum float64
	for _, l := range row {
		sum += math.Exp(float64(l - maxLogit))
	}
	logSum := float32(math.Log(sum))
	for i, l := range row {
		out[i] = l - maxLogit - logSum
	}
	return out
}

// TokenLogprob pairs a token id with its log-probability.
type TokenLogprob struct {
	ID      int
	Logprob float32
}

// TopLogprobs returns the n most likely tokens of a log-probability row,
// highest first with ties broken by id.
func TopLogprobs(logprobs []float32, n int) []TokenLogprob {
	if n <= 0 {
		return nil
	}
	all := make([]TokenLogprob, len(logprobs))
	for i, lp := range logprobs {
		all[i] = TokenLogprob{ID: i, Logprob: lp}
	}
	slices.SortStableFunc(all, func(x, y TokenLogprob) int {
		return cmp.Compare(y.Logprob, x.Logprob)
	})
	return all[:min(n, len(all))]
}
