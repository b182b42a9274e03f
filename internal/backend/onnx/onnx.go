// Package onnx runs causal language models exported to ONNX through ONNX
// Runtime. Models take input_ids (and optionally attention_mask) of shape
// [1, n] and return logits of shape [1, n, vocab]. There is no KV cache:
// every Decode re-runs the whole sequence, so the backend suits small
// models and tests of the engine against real weights.
package onnx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/spindle/internal/inference"
)

// Config describes the model file and its vocabulary.
type Config struct {
	ModelPath string
	// LibraryPath points at libonnxruntime; empty uses the loader default.
	LibraryPath string
	Name        string

	Vocab        int
	Ctx          int
	BOS, EOS, NL int
	Threads      int

	InputName     string
	MaskName      string
	OutputName    string
	AttentionMask bool
}

func (c Config) withDefaults() Config {
	if c.InputName == "" {
		c.InputName = "input_ids"
	}
	if c.MaskName == "" {
		c.MaskName = "attention_mask"
	}
	if c.OutputName == "" {
		c.OutputName = "logits"
	}
	if c.Name == "" {
		c.Name = c.ModelPath
	}
	return c
}

// runFunc evaluates a whole sequence and returns [n x vocab] logits.
type runFunc func(ids []int64) ([]float32, error)

// Backend implements inference.Backend and inference.StateSaver. Saved
// state is just the token sequence.
type Backend struct {
	cfg     Config
	run     runFunc
	session *ort.DynamicAdvancedSession
	tokens  []int64
	out     []float32
}

var (
	_ inference.Backend    = (*Backend)(nil)
	_ inference.StateSaver = (*Backend)(nil)
)

var runtimeEnv struct {
	sync.Mutex
	refs int
}

func acquireEnv(libPath string) error {
	runtimeEnv.Lock()
	defer runtimeEnv.Unlock()
	if runtimeEnv.refs == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	runtimeEnv.refs++
	return nil
}

func releaseEnv() error {
	runtimeEnv.Lock()
	defer runtimeEnv.Unlock()
	runtimeEnv.refs--
	if runtimeEnv.refs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// LibraryAvailable reports whether the ONNX Runtime shared library exists
// at path.
func LibraryAvailable(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Open loads the model into a new session.
func Open(cfg Config) (*Backend, error) {
	cfg = cfg.withDefaults()
	if cfg.Vocab <= 0 {
		return nil, fmt.Errorf("onnx: vocabulary size is required")
	}
	if cfg.Ctx <= 0 {
		return nil, fmt.Errorf("onnx: context size is required")
	}
	if err := acquireEnv(cfg.LibraryPath); err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		_ = releaseEnv()
		return nil, fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
			_ = releaseEnv()
			return nil, fmt.Errorf("onnx: set threads: %w", err)
		}
	}

	inputs := []string{cfg.InputName}
	if cfg.AttentionMask {
		inputs = append(inputs, cfg.MaskName)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputs, []string{cfg.OutputName}, opts)
	if err != nil {
		_ = releaseEnv()
		return nil, fmt.Errorf("onnx: load %s: %w", cfg.ModelPath, err)
	}
	b := &Backend{cfg: cfg, session: session}
	b.run = b.runSession
	return b, nil
}

func newWithRunner(cfg Config, run runFunc) *Backend {
	return &Backend{cfg: cfg.withDefaults(), run: run}
}

func (b *Backend) runSession(ids []int64) ([]float32, error) {
	n := int64(len(ids))
	shape := ort.NewShape(1, n)
	input, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()
	values := []ort.Value{input}

	if b.cfg.AttentionMask {
		ones := make([]int64, n)
		for i := range ones {
			ones[i] = 1
		}
		mask, err := ort.NewTensor(shape, ones)
		if err != nil {
			return nil, fmt.Errorf("mask tensor: %w", err)
		}
		defer mask.Destroy()
		values = append(values, mask)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, int64(b.cfg.Vocab)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer output.Destroy()

	if err := b.session.Run(values, []ort.Value{output}); err != nil {
		return nil, err
	}
	return append([]float32(nil), output.GetData()...), nil
}

func (b *Backend) Metadata() inference.ModelInfo {
	return inference.ModelInfo{
		Name:  b.cfg.Name,
		Vocab: b.cfg.Vocab,
		Ctx:   b.cfg.Ctx,
		BOS:   b.cfg.BOS,
		EOS:   b.cfg.EOS,
		NL:    b.cfg.NL,
	}
}

func (b *Backend) Decode(ctx context.Context, batch inference.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(batch.Tokens) == 0 {
		return nil
	}
	if pos := batch.Positions[0]; pos != len(b.tokens) {
		return fmt.Errorf("onnx: position %d, holding %d tokens", pos, len(b.tokens))
	}
	if len(b.tokens)+len(batch.Tokens) > b.cfg.Ctx {
		return fmt.Errorf("onnx: context of %d tokens is full", b.cfg.Ctx)
	}
	start := len(b.tokens)
	for _, t := range batch.Tokens {
		b.tokens = append(b.tokens, int64(t))
	}

	all, err := b.run(b.tokens)
	if err != nil {
		b.tokens = b.tokens[:start]
		return fmt.Errorf("onnx: run: %w", err)
	}
	vocab := b.cfg.Vocab
	if len(all) != len(b.tokens)*vocab {
		b.tokens = b.tokens[:start]
		return fmt.Errorf("onnx: model returned %d logits for %d tokens of vocab %d", len(all), len(b.tokens), vocab)
	}
	b.out = b.out[:0]
	for i, want := range batch.Logits {
		if want {
			row := (start + i) * vocab
			b.out = append(b.out, all[row:row+vocab]...)
		}
	}
	return nil
}

func (b *Backend) Logits() []float32 { return b.out }

func (b *Backend) RemoveFrom(pos int) {
	if pos >= 0 && pos < len(b.tokens) {
		b.tokens = b.tokens[:pos]
	}
}

func (b *Backend) SaveState() ([]byte, error) {
	var buf []byte
	for _, t := range b.tokens {
		buf = binary.AppendUvarint(buf, uint64(t))
	}
	return buf, nil
}

func (b *Backend) LoadState(state []byte) error {
	var tokens []int64
	for len(state) > 0 {
		v, n := binary.Uvarint(state)
		if n <= 0 {
			return errors.New("onnx: corrupt state")
		}
		tokens = append(tokens, int64(v))
		state = state[n:]
	}
	if len(tokens) > b.cfg.Ctx {
		return fmt.Errorf("onnx: state holds %d tokens, context is %d", len(tokens), b.cfg.Ctx)
	}
	b.tokens = tokens
	return nil
}

func (b *Backend) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return errors.Join(err, releaseEnv())
}
