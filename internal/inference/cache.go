package inference

import (
	"fmt"
	"slices"
)

// LogitsBuffer is a fixed [rows][vocab] score matrix in one allocation.
type LogitsBuffer struct {
	data  []float32
	rows  int
	vocab int
}

func NewLogitsBuffer(rows, vocab int) *LogitsBuffer {
	return &LogitsBuffer{data: make([]float32, rows*vocab), rows: rows, vocab: vocab}
}

func (b *LogitsBuffer) Rows() int  { return b.rows }
func (b *LogitsBuffer) Vocab() int { return b.vocab }

// Row returns a view of row i; it aliases the buffer.
func (b *LogitsBuffer) Row(i int) []float32 {
	return b.data[i*b.vocab : (i+1)*b.vocab]
}

// SetRow copies src into row i.
func (b *LogitsBuffer) SetRow(i int, src []float32) {
	copy(b.Row(i), src[:b.vocab])
}

// ContextCache mirrors what the backend has evaluated: the token at every
// position and, for the positions that have them, the score rows.
type ContextCache struct {
	inputIDs []int
	scores   *LogitsBuffer
	n        int
}

func NewContextCache(nCtx, nVocab int) *ContextCache {
	return &ContextCache{
		inputIDs: make([]int, nCtx),
		scores:   NewLogitsBuffer(nCtx, nVocab),
	}
}

// Len is the number of evaluated positions.
func (c *ContextCache) Len() int { return c.n }

// Cap is the context window.
func (c *ContextCache) Cap() int { return len(c.inputIDs) }

// Tokens returns the evaluated tokens; it aliases the cache.
func (c *ContextCache) Tokens() []int { return c.inputIDs[:c.n] }

// Scores returns the row stored for position i.
func (c *ContextCache) Scores(i int) []float32 { return c.scores.Row(i) }

// ReusePrefix counts the leading tokens shared with the cache. The last
// request token never counts, so at least one token is always evaluated.
func (c *ContextCache) ReusePrefix(tokens []int) int {
	limit := min(c.n, len(tokens)-1)
	i := 0
	for i < limit && c.inputIDs[i] == tokens[i] {
		i++
	}
	return i
}

// Truncate moves the cursor back to n.
func (c *ContextCache) Truncate(n int) {
	if n < 0 || n > c.n {
		panic(fmt.Sprintf("inference: truncate %d outside [0,%d]", n, c.n))
	}
	c.n = n
}

// Reset empties the cache.
func (c *ContextCache) Reset() { c.n = 0 }

// snapshot copies the evaluated prefix for the prompt cache.
func (c *ContextCache) snapshot(logitsAll bool) cacheSnapshot {
	s := cacheSnapshot{tokens: slices.Clone(c.Tokens())}
	if c.n == 0 {
		return s
	}
	first := c.n - 1
	if logitsAll {
		first = 0
	}
	v := c.scores.Vocab()
	s.firstRow = first
	s.scores = slices.Clone(c.scores.data[first*v : c.n*v])
	return s
}

func (c *ContextCache) restore(s cacheSnapshot) {
	copy(c.inputIDs, s.tokens)
	c.n = len(s.tokens)
	if len(s.scores) > 0 {
		v := c.scores.Vocab()
		copy(c.scores.data[s.firstRow*v:], s.scores)
	}
}

type cacheSnapshot struct {
	tokens   []int
	firstRow int
	scores   []float32
}

func (s cacheSnapshot) size() int {
	return len(s.tokens)*8 + len(s.scores)*4
}
