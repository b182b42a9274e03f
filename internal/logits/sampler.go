package logits

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// ErrInvalidConfig is wrapped by every SamplerConfig validation failure.
var ErrInvalidConfig = errors.New("invalid sampler config")

// ErrNoCandidates is returned when every candidate was filtered out.
var ErrNoCandidates = errors.New("no sampling candidates left")

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed int64

	Temperature float32
	TopK        int
	TopP        float32
	MinP        float32
	TailFreeZ   float32
	TypicalP    float32

	RepeatPenalty    float32
	FrequencyPenalty float32
	PresencePenalty  float32
	RepeatLastN      int
	PenalizeNewline  bool
	NewlineToken     int

	Mirostat    int
	MirostatTau float32
	MirostatEta float32

	LogitBias map[int]float32

	// NProbs raises the minimum number of candidates each truncation keeps.
	NProbs int
}

// DefaultSamplerConfig mirrors the completion defaults.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Seed:            -1,
		Temperature:     0.8,
		TopK:            40,
		TopP:            0.95,
		MinP:            0.05,
		TailFreeZ:       1,
		TypicalP:        1,
		RepeatPenalty:   1.1,
		RepeatLastN:     64,
		PenalizeNewline: true,
		NewlineToken:    -1,
		MirostatTau:     5,
		MirostatEta:     0.1,
	}
}

// Validate rejects out-of-range parameters.
func (c SamplerConfig) Validate() error {
	switch {
	case c.TopP < 0 || c.TopP > 1:
		return fmt.Errorf("%w: top_p %v outside [0,1]", ErrInvalidConfig, c.TopP)
	case c.MinP < 0 || c.MinP > 1:
		return fmt.Errorf("%w: min_p %v outside [0,1]", ErrInvalidConfig, c.MinP)
	case c.TypicalP < 0 || c.TypicalP > 1:
		return fmt.Errorf("%w: typical_p %v outside [0,1]", ErrInvalidConfig, c.TypicalP)
	case c.TopK < -1:
		return fmt.Errorf("%w: top_k %d below -1", ErrInvalidConfig, c.TopK)
	case c.TailFreeZ < 0:
		return fmt.Errorf("%w: tfs_z %v is negative", ErrInvalidConfig, c.TailFreeZ)
	case c.RepeatPenalty <= 0:
		return fmt.Errorf("%w: repeat_penalty %v must be positive", ErrInvalidConfig, c.RepeatPenalty)
	case c.Mirostat < 0 || c.Mirostat > 2:
		return fmt.Errorf("%w: mirostat mode %d not in {0,1,2}", ErrInvalidConfig, c.Mirostat)
	case c.NProbs < 0:
		return fmt.Errorf("%w: logprobs %d is negative", ErrInvalidConfig, c.NProbs)
	}
	return nil
}

// Constraint vets candidates before selection, typically a grammar.
// Rejected candidates get a logit of -Inf.
type Constraint interface {
	Apply(a *TokenDataArray) error
}

// Sampler turns a logits row into a token id. It owns the mirostat state and
// its candidate buffer, so one Sampler must not be shared between sessions.
type Sampler struct {
	cfg   SamplerConfig
	src   rand.Source
	cands TokenDataArray
	probs []float64
	mu    float32
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1.0
	}
	s := &Sampler{cfg: cfg}
	s.Reseed(cfg.Seed)
	s.ResetMirostat()
	return s
}

func (s *Sampler) Config() SamplerConfig { return s.cfg }

// Configure swaps the sampling parameters without touching the random
// source or mu.
func (s *Sampler) Configure(cfg SamplerConfig) {
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1.0
	}
	s.cfg = cfg
}

// Reseed restarts the random source. A negative seed picks a time-based one.
func (s *Sampler) Reseed(seed int64) {
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	s.src = rand.NewSource(uint64(seed))
}

// ResetMirostat sets mu back to twice the target surprise.
func (s *Sampler) ResetMirostat() {
	s.mu = 2 * s.cfg.MirostatTau
}

// Mu reports the current mirostat threshold.
func (s *Sampler) Mu() float32 { return s.mu }

// Greedy reports whether Sample always returns the top logit.
func (s *Sampler) Greedy() bool { return s.cfg.Temperature == 0 }

// Sample picks the next token from one logits row. history is the context
// so far and feeds the repetition penalties; c may be nil.
//
// Stage order is fixed: bias, penalties, constraint, then either the greedy
// shortcuts, mirostat, or top-k, tail-free, typical, top-p, min-p,
// temperature and a weighted draw.
func (s *Sampler) Sample(logits []float32, history []int, c Constraint) (int, error) {
	if len(logits) == 0 {
		return -1, ErrNoCandidates
	}
	a := &s.cands
	a.Reset(logits)
	a.ApplyLogitBias(s.cfg.LogitBias)

	if len(history) > 0 && s.cfg.RepeatLastN != 0 {
		nl := s.cfg.NewlineToken
		var nlLogit float32
		nlIdx := -1
		if !s.cfg.PenalizeNewline && nl >= 0 {
			if nlIdx = a.Index(nl); nlIdx >= 0 {
				nlLogit = a.Data[nlIdx].Logit
			}
		}
		window := history
		if s.cfg.RepeatLastN > 0 && len(window) > s.cfg.RepeatLastN {
			window = window[len(window)-s.cfg.RepeatLastN:]
		}
		a.ApplyPenalties(window, s.cfg.RepeatPenalty, s.cfg.FrequencyPenalty, s.cfg.PresencePenalty)
		if nlIdx >= 0 {
			a.Data[nlIdx].Logit = nlLogit
		}
	}

	if c != nil {
		if err := c.Apply(a); err != nil {
			return -1, err
		}
	}

	switch t := s.cfg.Temperature; {
	case t < 0:
		a.Softmax()
		return a.Data[0].ID, nil
	case t == 0:
		return a.Argmax(), nil
	}

	switch s.cfg.Mirostat {
	case 1:
		a.Temperature(s.cfg.Temperature)
		return s.mirostatV1(a, len(logits)), nil
	case 2:
		a.Temperature(s.cfg.Temperature)
		return s.mirostatV2(a), nil
	}

	minKeep := max(1, s.cfg.NProbs)
	a.TopK(s.cfg.TopK, minKeep).
		TailFree(s.cfg.TailFreeZ, minKeep).
		Typical(s.cfg.TypicalP, minKeep).
		TopP(s.cfg.TopP, minKeep).
		MinP(s.cfg.MinP, minKeep).
		Temperature(s.cfg.Temperature)

	id, _ := s.weighted(a)
	if id < 0 {
		return -1, ErrNoCandidates
	}
	return id, nil
}

// weighted renormalizes the survivors and draws one of them. It returns the
// chosen id and its probability.
func (s *Sampler) weighted(a *TokenDataArray) (int, float32) {
	if len(a.Data) == 0 {
		return -1, 0
	}
	a.Softmax()
	if cap(s.probs) < len(a.Data) {
		s.probs = make([]float64, len(a.Data))
	}
	probs := s.probs[:len(a.Data)]
	for i, d := range a.Data {
		probs[i] = float64(d.P)
	}
	w := sampleuv.NewWeighted(probs, s.src)
	idx, ok := w.Take()
	if !ok {
		idx = 0
	}
	return a.Data[idx].ID, a.Data[idx].P
}
