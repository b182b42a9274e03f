package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"

	"github.com/samcharles93/spindle/internal/grammar"
	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/logits"
	"github.com/samcharles93/spindle/internal/metrics"
)

// Options sizes an Engine.
type Options struct {
	// NCtx is the context window; 0 uses the model's.
	NCtx int
	// NBatch caps the tokens sent to the backend per decode call.
	NBatch int
	// LogitsAll keeps a score row for every position, which logprobs need.
	LogitsAll bool
	// LastNTokens is the repetition-penalty window used by completions.
	LastNTokens int
	// ModelName is reported in completions; defaults to the backend's name.
	ModelName   string
	PromptCache *PromptCache
	Logger      logger.Logger
}

func (o Options) withDefaults(info ModelInfo) Options {
	if o.NCtx <= 0 {
		o.NCtx = info.Ctx
	}
	if o.NBatch <= 0 {
		o.NBatch = 512
	}
	if o.LastNTokens == 0 {
		o.LastNTokens = 64
	}
	if o.ModelName == "" {
		o.ModelName = info.Name
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	return o
}

// GrammarMode selects how a grammar takes part in sampling.
type GrammarMode int

const (
	// GrammarBias masks candidates the grammar rejects before sampling.
	GrammarBias GrammarMode = iota
	// GrammarAccept only checks the sampled token, failing on a violation.
	GrammarAccept
)

func ParseGrammarMode(s string) (GrammarMode, error) {
	switch s {
	case "", "bias":
		return GrammarBias, nil
	case "accept":
		return GrammarAccept, nil
	}
	return 0, configError("unknown grammar mode %q", s)
}

// GenerateOptions configures one Generate call.
type GenerateOptions struct {
	Sampling    logits.SamplerConfig
	Grammar     *grammar.Constraint
	GrammarMode GrammarMode
	// Continue appends tokens to the current context instead of matching
	// them against it.
	Continue bool
}

// Engine drives one generation session at a time over a backend. Concurrent
// calls fail with ErrBusy.
type Engine struct {
	backend Backend
	tok     Tokenizer
	info    ModelInfo
	opts    Options
	log     logger.Logger

	cache   *ContextCache
	eval    *BatchEvaluator
	sampler *logits.Sampler
	saver   StateSaver

	inUse atomic.Bool
}

func New(b Backend, tok Tokenizer, opts Options) (*Engine, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	info := b.Metadata()
	opts = opts.withDefaults(info)
	if info.Vocab <= 0 {
		return nil, configError("model reports vocabulary size %d", info.Vocab)
	}
	if opts.NCtx <= 0 {
		return nil, configError("context size %d must be positive", opts.NCtx)
	}
	if info.Ctx > 0 && opts.NCtx > info.Ctx {
		return nil, configError("context size %d exceeds the model's %d", opts.NCtx, info.Ctx)
	}

	e := &Engine{
		backend: b,
		tok:     tok,
		info:    info,
		opts:    opts,
		log:     opts.Logger.With("component", "engine", "model", opts.ModelName),
		cache:   NewContextCache(opts.NCtx, info.Vocab),
		sampler: logits.NewSampler(logits.DefaultSamplerConfig()),
	}
	e.eval = NewBatchEvaluator(b, e.cache, opts.NBatch, opts.LogitsAll, e.log)
	if s, ok := b.(StateSaver); ok {
		e.saver = s
	} else if opts.PromptCache != nil {
		e.log.Warn("backend cannot save state, prompt cache disabled")
		e.opts.PromptCache = nil
	}
	return e, nil
}

func (e *Engine) Metadata() ModelInfo  { return e.info }
func (e *Engine) ModelName() string    { return e.opts.ModelName }
func (e *Engine) NCtx() int            { return e.opts.NCtx }
func (e *Engine) Tokenizer() Tokenizer { return e.tok }

// Context returns the tokens the backend currently holds.
func (e *Engine) Context() []int { return append([]int(nil), e.cache.Tokens()...) }

// Mu reports the sampler's mirostat state.
func (e *Engine) Mu() float32 { return e.sampler.Mu() }

// Tokenize encodes text with the engine's tokenizer.
func (e *Engine) Tokenize(text []byte, addBOS, special bool) ([]int, error) {
	return safeEncode(e.tok, text, addBOS, special)
}

// Detokenize decodes ids with no preceding context.
func (e *Engine) Detokenize(ids []int) ([]byte, error) {
	return safeDetokenize(e.tok, ids, nil)
}

// Close releases the backend and tokenizer when they hold resources.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	if c, ok := e.backend.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := e.tok.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (e *Engine) acquire() bool { return e.inUse.CompareAndSwap(false, true) }
func (e *Engine) release()      { e.inUse.Store(false) }

// Generate evaluates tokens and yields sampled tokens until the consumer
// stops, ctx is cancelled or an error occurs. Errors are yielded once with
// a token of -1. Every yielded token is fed back before the next sample.
func (e *Engine) Generate(ctx context.Context, tokens []int, opts GenerateOptions) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		if !e.acquire() {
			yield(-1, ErrBusy)
			return
		}
		defer e.release()
		for id, err := range e.generate(ctx, tokens, opts) {
			if !yield(id, err) || err != nil {
				return
			}
		}
	}
}

func (e *Engine) generate(ctx context.Context, tokens []int, opts GenerateOptions) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		if len(tokens) == 0 {
			yield(-1, configError("no tokens to evaluate"))
			return
		}
		cfg := opts.Sampling
		if err := cfg.Validate(); err != nil {
			yield(-1, ConfigurationError{msg: err.Error()})
			return
		}
		if cfg.NewlineToken < 0 {
			cfg.NewlineToken = e.info.NL
		}
		e.sampler.Configure(cfg)
		e.sampler.ResetMirostat()

		toks := append([]int(nil), tokens...)
		if !opts.Continue {
			toks = e.reuse(toks)
		}
		if opts.Grammar != nil {
			opts.Grammar.Reset()
		}

		var c logits.Constraint
		if opts.Grammar != nil && opts.GrammarMode == GrammarBias {
			c = opts.Grammar
		}

		sampleIdx := e.cache.n + len(toks) - 1
		first := true
		for {
			if err := e.eval.Evaluate(ctx, toks); err != nil {
				yield(-1, err)
				return
			}
			if first && !opts.Continue {
				e.remember()
			}
			first = false

			for sampleIdx < e.cache.n {
				if err := ctx.Err(); err != nil {
					yield(-1, err)
					return
				}
				id, err := safeSample(e.sampler, e.cache.Scores(sampleIdx), e.cache.Tokens(), c, sampleIdx)
				if err != nil {
					yield(-1, err)
					return
				}
				if opts.Grammar != nil {
					if err := opts.Grammar.AcceptToken(id); err != nil {
						yield(-1, err)
						return
					}
				}
				sampleIdx++
				metrics.TokensGenerated.Inc()
				if !yield(id, nil) {
					return
				}

				toks = append(toks[:0], id)
				if sampleIdx < e.cache.n && id != e.cache.inputIDs[sampleIdx] {
					e.cache.Truncate(sampleIdx)
					break
				}
			}
		}
	}
}

// reuse positions the cache at the longest prefix it shares with toks,
// restoring a prompt-cache entry when that beats the live context, and
// returns the tokens still to evaluate.
func (e *Engine) reuse(toks []int) []int {
	live := 0
	if e.cache.n > 0 {
		live = e.cache.ReusePrefix(toks)
	}
	if pc := e.opts.PromptCache; pc != nil {
		if ent, n := pc.lookup(toks); ent != nil && n > live {
			if err := e.saver.LoadState(ent.state); err != nil {
				e.log.Warn("restore prompt cache entry", "error", err)
			} else {
				e.cache.restore(ent.snap)
				live = e.cache.ReusePrefix(toks)
				metrics.PromptCacheHits.Inc()
				e.log.Debug("prompt cache hit", "tokens", n)
			}
		}
	}

	if live > 0 {
		e.cache.Truncate(live)
		metrics.PrefixHits.Inc()
		metrics.PrefixReusedTokens.Observe(float64(live))
		e.log.Debug("prefix-match hit", "reused", live, "remaining", len(toks)-live)
		return toks[live:]
	}
	e.cache.Reset()
	metrics.PrefixMisses.Inc()
	return toks
}

func (e *Engine) remember() {
	pc := e.opts.PromptCache
	if pc == nil {
		return
	}
	state, err := e.saver.SaveState()
	if err != nil {
		e.log.Warn("save prompt cache entry", "error", err)
		return
	}
	pc.put(e.cache.snapshot(e.opts.LogitsAll), state)
}

func safeSample(s *logits.Sampler, row []float32, history []int, c logits.Constraint, pos int) (id int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			id, err = -1, &EvaluationError{Pos: pos, Err: fmt.Errorf("panic in Sample: %v", rec)}
		}
	}()
	return s.Sample(row, history, c)
}
