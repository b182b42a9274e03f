package inference

import (
	"context"
	"errors"
	"iter"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/samcharles93/spindle/internal/grammar"
	"github.com/samcharles93/spindle/internal/logits"
	"github.com/samcharles93/spindle/internal/metrics"
)

const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// StreamFunc receives completion text as it becomes safe to show.
type StreamFunc func(text string)

// CompletionRequest is a fully resolved completion; see ResolveCompletion.
type CompletionRequest struct {
	Prompt    string
	Suffix    string
	MaxTokens int
	Stop      []string
	Echo      bool
	// Logprobs is the number of alternatives reported per token; negative
	// disables logprobs.
	Logprobs int
	// Seed reseeds the sampler when non-negative.
	Seed  int64
	Model string

	Sampling    logits.SamplerConfig
	Grammar     *grammar.Rules
	GrammarMode GrammarMode
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Completion struct {
	ID           string
	Created      int64
	Model        string
	Text         string
	FinishReason string
	Usage        Usage
	Logprobs     *Logprobs
}

// Chunk is one piece of a streamed completion. Only the last chunk carries
// a FinishReason.
type Chunk struct {
	ID           string
	Created      int64
	Model        string
	Text         string
	FinishReason string
	Logprobs     *Logprobs
}

var errStreamClosed = errors.New("stream consumer stopped")

// Complete runs a completion to the end. When stream is non-nil it receives
// the same text incrementally; the pieces concatenate to Completion.Text.
func (e *Engine) Complete(ctx context.Context, req CompletionRequest, stream StreamFunc) (*Completion, error) {
	if !e.acquire() {
		return nil, ErrBusy
	}
	defer e.release()

	var emit func(Chunk) bool
	if stream != nil {
		emit = func(c Chunk) bool {
			if c.Text != "" {
				stream(c.Text)
			}
			return true
		}
	}
	return e.complete(ctx, req, emit)
}

// Stream yields completion chunks. Breaking out of the loop stops generation.
func (e *Engine) Stream(ctx context.Context, req CompletionRequest) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		if !e.acquire() {
			yield(Chunk{}, ErrBusy)
			return
		}
		defer e.release()

		stopped := false
		_, err := e.complete(ctx, req, func(c Chunk) bool {
			if !yield(c, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(Chunk{}, err)
		}
	}
}

func (e *Engine) complete(ctx context.Context, req CompletionRequest, emit func(Chunk) bool) (*Completion, error) {
	start := time.Now()
	id := "cmpl-" + uuid.NewString()
	created := start.Unix()
	model := req.Model
	if model == "" {
		model = e.opts.ModelName
	}

	prompt := []int{e.info.BOS}
	if req.Prompt != "" {
		toks, err := safeEncode(e.tok, []byte(req.Prompt), true, true)
		if err != nil {
			return nil, err
		}
		if len(toks) > 0 {
			prompt = toks
		}
	}

	nCtx := e.opts.NCtx
	if len(prompt) >= nCtx {
		return nil, &ContextOverflowError{Requested: len(prompt), Capacity: nCtx}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens+len(prompt) > nCtx {
		maxTokens = nCtx - len(prompt)
	}
	if req.Logprobs >= 0 && !e.opts.LogitsAll {
		return nil, configError("logprobs is not supported for engines created without logits for all positions")
	}
	if req.Seed >= 0 {
		e.sampler.Reseed(req.Seed)
	}

	var gc *grammar.Constraint
	if req.Grammar != nil {
		g, err := grammar.New(req.Grammar)
		if err != nil {
			return nil, configError("grammar: %v", err)
		}
		gc = grammar.NewConstraint(g, e.tok, e.info.EOS)
	}

	stops := make([][]byte, 0, len(req.Stop))
	for _, s := range req.Stop {
		if s != "" {
			stops = append(stops, []byte(s))
		}
	}

	sampling := req.Sampling
	sampling.RepeatLastN = e.opts.LastNTokens
	sampling.NProbs = max(0, req.Logprobs)

	var lp *Logprobs
	if req.Logprobs >= 0 {
		lp = &Logprobs{}
	}
	base := 0
	if req.Echo {
		base = len(req.Prompt)
	}

	chunk := func(text, finish string, lpFrom, lpTo int) Chunk {
		return Chunk{ID: id, Created: created, Model: model, Text: text, FinishReason: finish, Logprobs: lp.slice(lpFrom, lpTo)}
	}
	if req.Echo && emit != nil && req.Prompt != "" {
		if !emit(chunk(req.Prompt, "", 0, 0)) {
			return nil, errStreamClosed
		}
	}

	var (
		completion []int
		allText    []byte
		text       []byte
		emitted    int
		lpEmitted  int
		finish     = FinishLength
		done       bool
	)
	gen := e.generate(ctx, prompt, GenerateOptions{Sampling: sampling, Grammar: gc, GrammarMode: req.GrammarMode})
	for tok, err := range gen {
		if err != nil {
			metrics.Errors.WithLabelValues("completion").Inc()
			return nil, err
		}
		if tok == e.info.EOS {
			text, finish, done = allText, FinishStop, true
			break
		}

		completion = append(completion, tok)
		prevLen := len(allText)
		next, err := safeDetokenize(e.tok, completion, prompt)
		if err != nil {
			return nil, err
		}
		allText = next
		if lp != nil {
			row := e.cache.Scores(len(prompt) + len(completion) - 2)
			lp.add(e.tok, tok, string(allText[min(prevLen, len(allText)):]), row, req.Logprobs, base+prevLen)
		}

		if multibyteFix(allText) > 0 && len(completion) < maxTokens {
			continue
		}
		if i := findStop(allText, stops); i >= 0 {
			text, finish, done = allText[:i], FinishStop, true
			if lp != nil {
				lp.truncate(base + i)
			}
			break
		}
		if len(completion) >= maxTokens {
			text, finish, done = allText, FinishLength, true
			break
		}

		if emit != nil {
			tail := allText[emitted:]
			delta := tail[:len(tail)-stopHoldback(tail, stops)]
			if len(delta) > 0 && utf8.Valid(delta) {
				emitted += len(delta)
				lpTo := lpEmitted
				for lp != nil && lpTo < lp.Len() && lp.TextOffset[lpTo] < base+emitted {
					lpTo++
				}
				if !emit(chunk(string(delta), "", lpEmitted, lpTo)) {
					return nil, errStreamClosed
				}
				lpEmitted = lpTo
			}
		}
	}
	if !done {
		text = allText
	}
	text = trimIncomplete(text)

	if emit != nil {
		var rest []byte
		if emitted < len(text) {
			rest = text[emitted:]
		}
		lpTo := lpEmitted
		if lp != nil {
			lpTo = lp.Len()
		}
		if !emit(chunk(string(rest)+req.Suffix, finish, lpEmitted, lpTo)) {
			return nil, errStreamClosed
		}
	}

	out := string(text)
	if req.Echo {
		out = req.Prompt + out
	}
	out += req.Suffix

	metrics.Completions.WithLabelValues(finish).Inc()
	e.log.Debug("completion finished",
		"id", id,
		"prompt_tokens", len(prompt),
		"completion_tokens", len(completion),
		"finish_reason", finish,
		"elapsed", time.Since(start),
	)

	return &Completion{
		ID:           id,
		Created:      created,
		Model:        model,
		Text:         out,
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     len(prompt),
			CompletionTokens: len(completion),
			TotalTokens:      len(prompt) + len(completion),
		},
		Logprobs: lp,
	}, nil
}
