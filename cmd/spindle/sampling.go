package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/grammar"
	"github.com/samcharles93/spindle/internal/inference"
)

type samplingFlags struct {
	maxTokens        int64
	temp             float64
	topK             int64
	topP             float64
	minP             float64
	typicalP         float64
	tfsZ             float64
	repeatPenalty    float64
	frequencyPenalty float64
	presencePenalty  float64
	noPenalizeNL     bool
	mirostat         int64
	mirostatTau      float64
	mirostatEta      float64
	seed             int64
	stop             []string
	grammarFile      string
	grammarMode      string

	set map[string]bool
}

func (s *samplingFlags) mark(name string) {
	if s.set == nil {
		s.set = make(map[string]bool)
	}
	s.set[name] = true
}

func (s *samplingFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "tokens to generate (0 = fill the context)",
			Value:       128,
			Destination: &s.maxTokens,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Value:       0.8,
			Destination: &s.temp,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Usage:       "top-k sampling parameter",
			Value:       40,
			Destination: &s.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "top-p sampling parameter",
			Value:       0.95,
			Destination: &s.topP,
		},
		&cli.Float64Flag{
			Name:        "min-p",
			Usage:       "min-p sampling parameter (0.0 = disabled)",
			Value:       0.05,
			Destination: &s.minP,
		},
		&cli.Float64Flag{
			Name:        "typical-p",
			Usage:       "locally typical sampling (1.0 = disabled)",
			Value:       1.0,
			Destination: &s.typicalP,
		},
		&cli.Float64Flag{
			Name:        "tfs-z",
			Usage:       "tail free sampling (1.0 = disabled)",
			Value:       1.0,
			Destination: &s.tfsZ,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Usage:       "repetition penalty (1.0 = disabled)",
			Value:       1.1,
			Destination: &s.repeatPenalty,
		},
		&cli.Float64Flag{
			Name:        "frequency-penalty",
			Destination: &s.frequencyPenalty,
		},
		&cli.Float64Flag{
			Name:        "presence-penalty",
			Destination: &s.presencePenalty,
		},
		&cli.BoolFlag{
			Name:        "no-penalize-nl",
			Usage:       "exclude the newline token from repetition penalties",
			Destination: &s.noPenalizeNL,
		},
		&cli.Int64Flag{
			Name:        "mirostat",
			Usage:       "mirostat mode (0 = off, 1, 2)",
			Destination: &s.mirostat,
		},
		&cli.Float64Flag{
			Name:        "mirostat-tau",
			Value:       5.0,
			Destination: &s.mirostatTau,
		},
		&cli.Float64Flag{
			Name:        "mirostat-eta",
			Value:       0.1,
			Destination: &s.mirostatEta,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed (-1 = random)",
			Value:       -1,
			Destination: &s.seed,
		},
		&cli.StringSliceFlag{
			Name:        "stop",
			Usage:       "stop sequence (repeatable)",
			Destination: &s.stop,
		},
		&cli.StringFlag{
			Name:        "grammar-file",
			Usage:       "GBNF grammar constraining the output",
			Destination: &s.grammarFile,
		},
		&cli.StringFlag{
			Name:        "grammar-mode",
			Usage:       "how the grammar applies (bias, accept)",
			Value:       "bias",
			Destination: &s.grammarMode,
		},
	}
}

// options builds completion options. Only flags the user chose are passed
// on, so the model's generation defaults fill the rest.
func (s *samplingFlags) options(c *cli.Command, prompt string) (inference.CompletionOptions, error) {
	chosen := func(name string) bool { return c.IsSet(name) || s.set[name] }
	opts := inference.CompletionOptions{Prompt: prompt, Stop: s.stop}

	maxTokens := int(s.maxTokens)
	opts.MaxTokens = &maxTokens
	if s.seed >= 0 {
		opts.Seed = &s.seed
	}
	if chosen("temp") {
		opts.Temperature = &s.temp
	}
	if chosen("top-k") {
		k := int(s.topK)
		opts.TopK = &k
	}
	if chosen("top-p") {
		opts.TopP = &s.topP
	}
	if chosen("repeat-penalty") {
		opts.RepeatPenalty = &s.repeatPenalty
	}
	opts.MinP = &s.minP
	opts.TypicalP = &s.typicalP
	opts.TailFreeZ = &s.tfsZ
	opts.FrequencyPenalty = &s.frequencyPenalty
	opts.PresencePenalty = &s.presencePenalty
	penalizeNL := !s.noPenalizeNL
	opts.PenalizeNewline = &penalizeNL
	mirostat := int(s.mirostat)
	opts.Mirostat = &mirostat
	opts.MirostatTau = &s.mirostatTau
	opts.MirostatEta = &s.mirostatEta
	opts.GrammarMode = &s.grammarMode

	if s.grammarFile != "" {
		src, err := os.ReadFile(s.grammarFile)
		if err != nil {
			return opts, fmt.Errorf("read grammar: %w", err)
		}
		rules, err := grammar.Parse(string(src))
		if err != nil {
			return opts, fmt.Errorf("grammar %s: %w", s.grammarFile, err)
		}
		opts.Grammar = rules
	}
	return opts, nil
}
