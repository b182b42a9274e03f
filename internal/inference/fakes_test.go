package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/logits"
)

const (
	tokBOS = iota
	tokEOS
	tokNL
	tokParis
	tokFrance
	tokCapital
	tokE2
	tokX82
	tokXAC
	tokX
)

var testWords = []string{
	tokBOS:     "",
	tokEOS:     "",
	tokNL:      "\n",
	tokParis:   "Paris",
	tokFrance:  "France",
	tokCapital: "The capital is ",
	tokE2:      "\xE2",
	tokX82:     "\x82",
	tokXAC:     "\xAC",
	tokX:       "x",
}

// parisScript continues "The capital is " with "Paris\nFrance" and stops.
var parisScript = map[int]int{
	tokCapital: tokParis,
	tokParis:   tokNL,
	tokNL:      tokFrance,
	tokFrance:  tokEOS,
}

// scriptBackend favours script[last token] at every position, falling back
// to EOS. It insists on contiguous positions, like a real KV cache.
type scriptBackend struct {
	script  map[int]int
	vocab   int
	nCtx    int
	tokens  []int
	out     []float32
	batches [][]bool
	decoded int
	loads   int

	failAfter int
	panicMsg  string
}

func newScriptBackend(script map[int]int) *scriptBackend {
	return &scriptBackend{script: script, vocab: len(testWords), nCtx: 64, failAfter: -1}
}

func (b *scriptBackend) Decode(_ context.Context, batch Batch) error {
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	if b.failAfter >= 0 && b.decoded >= b.failAfter {
		return errors.New("device lost")
	}
	b.out = b.out[:0]
	b.batches = append(b.batches, append([]bool(nil), batch.Logits...))
	for i, tok := range batch.Tokens {
		if batch.Positions[i] != len(b.tokens) {
			return fmt.Errorf("position %d, backend holds %d tokens", batch.Positions[i], len(b.tokens))
		}
		b.tokens = append(b.tokens, tok)
		b.decoded++
		if !batch.Logits[i] {
			continue
		}
		next, ok := b.script[tok]
		if !ok {
			next = tokEOS
		}
		row := make([]float32, b.vocab)
		row[next] = 10
		b.out = append(b.out, row...)
	}
	return nil
}

func (b *scriptBackend) Logits() []float32 { return b.out }

func (b *scriptBackend) RemoveFrom(pos int) {
	if pos < len(b.tokens) {
		b.tokens = b.tokens[:pos]
	}
}

func (b *scriptBackend) Metadata() ModelInfo {
	return ModelInfo{Name: "script", Vocab: b.vocab, Ctx: b.nCtx, BOS: tokBOS, EOS: tokEOS, NL: tokNL}
}

func (b *scriptBackend) SaveState() ([]byte, error) {
	state := make([]byte, len(b.tokens))
	for i, t := range b.tokens {
		state[i] = byte(t)
	}
	return state, nil
}

func (b *scriptBackend) LoadState(state []byte) error {
	b.loads++
	b.tokens = b.tokens[:0]
	for _, t := range state {
		b.tokens = append(b.tokens, int(t))
	}
	return nil
}

// statelessBackend hides the StateSaver methods.
type statelessBackend struct{ *scriptBackend }

func (s statelessBackend) Decode(ctx context.Context, b Batch) error { return s.scriptBackend.Decode(ctx, b) }
func (s statelessBackend) Logits() []float32                         { return s.scriptBackend.Logits() }
func (s statelessBackend) RemoveFrom(pos int)                        { s.scriptBackend.RemoveFrom(pos) }
func (s statelessBackend) Metadata() ModelInfo                       { return s.scriptBackend.Metadata() }

// wordTokenizer encodes by longest match over testWords.
type wordTokenizer struct {
	panicOnEncode bool
}

func (w wordTokenizer) Encode(text []byte, addBOS, _ bool) ([]int, error) {
	if w.panicOnEncode {
		panic("encode boom")
	}
	var ids []int
	if addBOS {
		ids = append(ids, tokBOS)
	}
	s := string(text)
	for len(s) > 0 {
		best, bestLen := -1, 0
		for id, word := range testWords {
			if word != "" && len(word) > bestLen && strings.HasPrefix(s, word) {
				best, bestLen = id, len(word)
			}
		}
		if best < 0 {
			return nil, fmt.Errorf("no token for %q", s)
		}
		ids = append(ids, best)
		s = s[bestLen:]
	}
	return ids, nil
}

func (wordTokenizer) Decode(ids, _ []int) ([]byte, error) {
	var out []byte
	for _, id := range ids {
		out = append(out, testWords[id]...)
	}
	return out, nil
}

func (wordTokenizer) Piece(id int) []byte { return []byte(testWords[id]) }

func newTestEngine(t *testing.T, b Backend, opts Options) *Engine {
	t.Helper()
	opts.Logger = logger.Discard()
	e, err := New(b, wordTokenizer{}, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func greedyConfig() logits.SamplerConfig {
	cfg := logits.DefaultSamplerConfig()
	cfg.Temperature = 0
	return cfg
}

func greedyRequest(prompt string) CompletionRequest {
	return CompletionRequest{
		Prompt:    prompt,
		MaxTokens: 16,
		Logprobs:  -1,
		Seed:      -1,
		Sampling:  greedyConfig(),
	}
}
