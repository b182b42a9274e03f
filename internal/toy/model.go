// Package toy is a tiny deterministic language model that implements the
// inference backend interfaces without any weights on disk. It drives the
// CLI demo mode, benchmarks and end-to-end tests.
package toy

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/tokenizer"
)

// Config sizes a ToyLM. Zero fields take defaults that match the byte
// tokenizer.
type Config struct {
	Vocab  int
	Hidden int
	Ctx    int
	Seed   int64
	// Decay is the share of the previous hidden state carried into the
	// next position.
	Decay float64

	BOS, EOS, NL int
}

func (c Config) withDefaults() Config {
	if c.Vocab <= 0 {
		c.Vocab = tokenizer.BytesVocab
		c.BOS = tokenizer.BytesBOS
		c.EOS = tokenizer.BytesEOS
		c.NL = tokenizer.ByteToken('\n')
	}
	if c.Hidden <= 0 {
		c.Hidden = 32
	}
	if c.Ctx <= 0 {
		c.Ctx = 2048
	}
	if c.Decay <= 0 || c.Decay >= 1 {
		c.Decay = 0.5
	}
	return c
}

// ToyLM embeds each token, mixes it into a decaying running state and
// projects that state back onto the vocabulary. The state at every
// position is kept, which plays the role of a KV cache.
type ToyLM struct {
	cfg  Config
	emb  *mat.Dense // [Vocab x Hidden]
	w    *mat.Dense // [Vocab x Hidden], logits = w·h + bias
	bias []float64

	states []*mat.VecDense
	out    []float32
	row    *mat.VecDense
}

var (
	_ inference.Backend    = (*ToyLM)(nil)
	_ inference.StateSaver = (*ToyLM)(nil)
)

// New builds a model whose weights are derived from cfg.Seed.
func New(cfg Config) *ToyLM {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(uint64(cfg.Seed)))
	fill := func(rows, cols int) *mat.Dense {
		data := make([]float64, rows*cols)
		scale := 1 / math.Sqrt(float64(cols))
		for i := range data {
			data[i] = rng.NormFloat64() * scale
		}
		return mat.NewDense(rows, cols, data)
	}
	m := &ToyLM{
		cfg:  cfg,
		emb:  fill(cfg.Vocab, cfg.Hidden),
		w:    fill(cfg.Vocab, cfg.Hidden),
		bias: make([]float64, cfg.Vocab),
		row:  mat.NewVecDense(cfg.Vocab, nil),
	}
	for i := range m.bias {
		m.bias[i] = rng.NormFloat64() * 0.1
	}
	return m
}

func (m *ToyLM) Metadata() inference.ModelInfo {
	return inference.ModelInfo{
		Name:  "toy",
		Vocab: m.cfg.Vocab,
		Ctx:   m.cfg.Ctx,
		BOS:   m.cfg.BOS,
		EOS:   m.cfg.EOS,
		NL:    m.cfg.NL,
	}
}

// Len reports the number of positions held.
func (m *ToyLM) Len() int { return len(m.states) }

func (m *ToyLM) Decode(ctx context.Context, b inference.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.Positions) != len(b.Tokens) || len(b.Logits) != len(b.Tokens) {
		return fmt.Errorf("toy: malformed batch of %d tokens", len(b.Tokens))
	}
	m.out = m.out[:0]
	for i, tok := range b.Tokens {
		if tok < 0 || tok >= m.cfg.Vocab {
			return fmt.Errorf("toy: token %d out of range [0,%d)", tok, m.cfg.Vocab)
		}
		if pos := b.Positions[i]; pos != len(m.states) {
			return fmt.Errorf("toy: position %d, holding %d", pos, len(m.states))
		}
		if len(m.states) >= m.cfg.Ctx {
			return fmt.Errorf("toy: context of %d positions is full", m.cfg.Ctx)
		}

		h := mat.VecDenseCopyOf(m.emb.RowView(tok))
		if n := len(m.states); n > 0 {
			h.AddScaledVec(h, m.cfg.Decay, m.states[n-1])
		}
		m.states = append(m.states, h)

		if b.Logits[i] {
			m.row.MulVec(m.w, h)
			for j := range m.cfg.Vocab {
				m.out = append(m.out, float32(m.row.AtVec(j)+m.bias[j]))
			}
		}
	}
	return nil
}

// Logits returns the rows of the last Decode; it aliases an internal buffer.
func (m *ToyLM) Logits() []float32 { return m.out }

func (m *ToyLM) RemoveFrom(pos int) {
	if pos >= 0 && pos < len(m.states) {
		m.states = m.states[:pos]
	}
}

// SaveState serializes the per-position states.
func (m *ToyLM) SaveState() ([]byte, error) {
	buf := make([]byte, 0, 8+len(m.states)*m.cfg.Hidden*8)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(m.states)))
	for _, h := range m.states {
		for i := range m.cfg.Hidden {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(h.AtVec(i)))
		}
	}
	return buf, nil
}

func (m *ToyLM) LoadState(state []byte) error {
	if len(state) < 8 {
		return fmt.Errorf("toy: state of %d bytes is truncated", len(state))
	}
	n := int(binary.LittleEndian.Uint64(state))
	state = state[8:]
	if n > m.cfg.Ctx || len(state) != n*m.cfg.Hidden*8 {
		return fmt.Errorf("toy: state holds %d bytes, want %d positions of %d", len(state), n, m.cfg.Hidden)
	}
	states := make([]*mat.VecDense, n)
	for p := range states {
		data := make([]float64, m.cfg.Hidden)
		for i := range data {
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(state))
			state = state[8:]
		}
		states[p] = mat.NewVecDense(m.cfg.Hidden, data)
	}
	m.states = states
	return nil
}
