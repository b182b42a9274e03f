package inference

import "github.com/samcharles93/spindle/internal/logits"

// Logprobs holds per-token log-probabilities of a completion, one entry per
// token in every slice.
type Logprobs struct {
	Tokens        []string
	TokenLogprobs []float32
	TopLogprobs   []map[string]float32
	TextOffset    []int
}

func (l *Logprobs) Len() int { return len(l.Tokens) }

func (l *Logprobs) add(tok Tokenizer, id int, text string, row []float32, n, offset int) {
	lp := logits.LogSoftmax(row)
	top := make(map[string]float32, n+1)
	for _, t := range logits.TopLogprobs(lp, n) {
		top[string(tok.Piece(t.ID))] = t.Logprob
	}
	l.Tokens = append(l.Tokens, text)
	l.TokenLogprobs = append(l.TokenLogprobs, lp[id])
	l.TopLogprobs = append(l.TopLogprobs, top)
	l.TextOffset = append(l.TextOffset, offset)
}

// slice returns entries [from, to) or nil when the range is empty.
func (l *Logprobs) slice(from, to int) *Logprobs {
	if l == nil || from >= to {
		return nil
	}
	return &Logprobs{
		Tokens:        l.Tokens[from:to],
		TokenLogprobs: l.TokenLogprobs[from:to],
		TopLogprobs:   l.TopLogprobs[from:to],
		TextOffset:    l.TextOffset[from:to],
	}
}

// truncate drops entries that start at or past limit.
func (l *Logprobs) truncate(limit int) {
	n := 0
	for n < len(l.TextOffset) && l.TextOffset[n] < limit {
		n++
	}
	l.Tokens = l.Tokens[:n]
	l.TokenLogprobs = l.TokenLogprobs[:n]
	l.TopLogprobs = l.TopLogprobs[:n]
	l.TextOffset = l.TextOffset[:n]
}
