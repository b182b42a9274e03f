package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/metrics"
)

// BatchEvaluator feeds tokens to the backend in chunks of at most nBatch and
// records the results in the cache.
type BatchEvaluator struct {
	backend   Backend
	cache     *ContextCache
	nBatch    int
	logitsAll bool
	log       logger.Logger
	batch     Batch
}

func NewBatchEvaluator(b Backend, c *ContextCache, nBatch int, logitsAll bool, log logger.Logger) *BatchEvaluator {
	if nBatch <= 0 {
		nBatch = 1
	}
	return &BatchEvaluator{backend: b, cache: c, nBatch: nBatch, logitsAll: logitsAll, log: log}
}

// Evaluate appends tokens at the cache cursor. Backend state past the cursor
// is dropped first.
func (e *BatchEvaluator) Evaluate(ctx context.Context, tokens []int) error {
	c := e.cache
	if need := c.n + len(tokens); need > c.Cap() {
		return &ContextOverflowError{Requested: need, Capacity: c.Cap()}
	}
	if err := safeRemoveFrom(e.backend, c.n); err != nil {
		return &EvaluationError{Pos: c.n, Err: err}
	}

	vocab := c.scores.Vocab()
	for k := 0; k < len(tokens); k += e.nBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := tokens[k:min(k+e.nBatch, len(tokens))]
		nPast := c.n
		e.fill(chunk, nPast)

		start := time.Now()
		err := safeDecode(ctx, e.backend, e.batch)
		metrics.EvalDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.Errors.WithLabelValues("evaluation").Inc()
			return &EvaluationError{Pos: nPast, Err: err}
		}
		e.log.Debug("evaluated chunk", "pos", nPast, "tokens", len(chunk), "elapsed", time.Since(start))

		rows := 1
		if e.logitsAll {
			rows = len(chunk)
		}
		out := e.backend.Logits()
		if len(out) < rows*vocab {
			return &EvaluationError{Pos: nPast, Err: fmt.Errorf("backend returned %d logits, want %d", len(out), rows*vocab)}
		}
		if e.logitsAll {
			for i := range rows {
				c.scores.SetRow(nPast+i, out[i*vocab:])
			}
		} else {
			c.scores.SetRow(nPast+len(chunk)-1, out)
		}

		copy(c.inputIDs[nPast:], chunk)
		c.n += len(chunk)
		metrics.TokensEvaluated.Add(float64(len(chunk)))
	}
	return nil
}

func (e *BatchEvaluator) fill(chunk []int, nPast int) {
	b := &e.batch
	b.Tokens = append(b.Tokens[:0], chunk...)
	b.Positions = b.Positions[:0]
	b.SeqIDs = b.SeqIDs[:0]
	b.Logits = b.Logits[:0]
	for i := range chunk {
		b.Positions = append(b.Positions, nPast+i)
		b.SeqIDs = append(b.SeqIDs, 0)
		b.Logits = append(b.Logits, e.logitsAll || i == len(chunk)-1)
	}
}

func safeDecode(ctx context.Context, b Backend, batch Batch) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return b.Decode(ctx, batch)
}

func safeRemoveFrom(b Backend, pos int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in RemoveFrom: %v", rec)
		}
	}()
	b.RemoveFrom(pos)
	return nil
}

func safeEncode(tok Tokenizer, text []byte, addBOS, special bool) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &TokenizationError{Op: "encode", Err: fmt.Errorf("panic in Encode: %v", rec)}
		}
	}()
	ids, err = tok.Encode(text, addBOS, special)
	if err != nil {
		return nil, &TokenizationError{Op: "encode", Err: err}
	}
	return ids, nil
}

func safeDetokenize(tok Tokenizer, ids, prev []int) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &TokenizationError{Op: "decode", Err: fmt.Errorf("panic in Decode: %v", rec)}
		}
	}()
	out, err = tok.Decode(ids, prev)
	if err != nil {
		return nil, &TokenizationError{Op: "decode", Err: err}
	}
	return out, nil
}
