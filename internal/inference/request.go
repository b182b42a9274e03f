package inference

import (
	"github.com/samcharles93/spindle/internal/grammar"
	"github.com/samcharles93/spindle/internal/logits"
)

// GenDefaults are model-provided sampling defaults, typically from a
// generation_config.json next to the weights.
type GenDefaults struct {
	Temperature       *float64
	TopK              *int
	TopP              *float64
	RepetitionPenalty *float64
}

// CompletionOptions is a completion request as received: nil fields take
// the model defaults and then the built-in ones.
type CompletionOptions struct {
	Prompt string
	Suffix *string
	Stop   []string
	Model  *string

	MaxTokens *int
	Logprobs  *int
	Echo      *bool
	Seed      *int64

	Temperature      *float64
	TopK             *int
	TopP             *float64
	MinP             *float64
	TypicalP         *float64
	TailFreeZ        *float64
	RepeatPenalty    *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	PenalizeNewline  *bool

	Mirostat    *int
	MirostatTau *float64
	MirostatEta *float64

	LogitBias map[int]float32

	Grammar     *grammar.Rules
	GrammarMode *string
}

// ResolveCompletion fills every unset option.
func ResolveCompletion(opts CompletionOptions, defaults GenDefaults) (CompletionRequest, error) {
	sc := logits.DefaultSamplerConfig()
	req := CompletionRequest{
		Prompt:    opts.Prompt,
		Stop:      nonEmpty(opts.Stop),
		MaxTokens: 16,
		Logprobs:  -1,
		Seed:      -1,
		Grammar:   opts.Grammar,
	}

	if defaults.Temperature != nil && *defaults.Temperature > 0 {
		sc.Temperature = float32(*defaults.Temperature)
	}
	if defaults.TopK != nil && *defaults.TopK > 0 {
		sc.TopK = *defaults.TopK
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		sc.TopP = float32(*defaults.TopP)
	}
	if defaults.RepetitionPenalty != nil && *defaults.RepetitionPenalty > 0 {
		sc.RepeatPenalty = float32(*defaults.RepetitionPenalty)
	}

	if opts.Suffix != nil {
		req.Suffix = *opts.Suffix
	}
	if opts.Model != nil {
		req.Model = *opts.Model
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	if opts.Logprobs != nil {
		if *opts.Logprobs < 0 {
			return req, configError("logprobs must be non-negative, got %d", *opts.Logprobs)
		}
		req.Logprobs = *opts.Logprobs
	}
	if opts.Echo != nil {
		req.Echo = *opts.Echo
	}
	if opts.Seed != nil {
		req.Seed = *opts.Seed
	}

	setF32(&sc.Temperature, opts.Temperature)
	if opts.TopK != nil {
		sc.TopK = *opts.TopK
	}
	setF32(&sc.TopP, opts.TopP)
	setF32(&sc.MinP, opts.MinP)
	setF32(&sc.TypicalP, opts.TypicalP)
	setF32(&sc.TailFreeZ, opts.TailFreeZ)
	setF32(&sc.RepeatPenalty, opts.RepeatPenalty)
	setF32(&sc.FrequencyPenalty, opts.FrequencyPenalty)
	setF32(&sc.PresencePenalty, opts.PresencePenalty)
	if opts.PenalizeNewline != nil {
		sc.PenalizeNewline = *opts.PenalizeNewline
	}
	if opts.Mirostat != nil {
		sc.Mirostat = *opts.Mirostat
	}
	setF32(&sc.MirostatTau, opts.MirostatTau)
	setF32(&sc.MirostatEta, opts.MirostatEta)
	sc.LogitBias = opts.LogitBias

	if opts.GrammarMode != nil {
		mode, err := ParseGrammarMode(*opts.GrammarMode)
		if err != nil {
			return req, err
		}
		req.GrammarMode = mode
	}

	if err := sc.Validate(); err != nil {
		return req, ConfigurationError{msg: err.Error()}
	}
	req.Sampling = sc
	return req, nil
}

func setF32(dst *float32, v *float64) {
	if v != nil {
		*dst = float32(*v)
	}
}

func nonEmpty(stop []string) []string {
	var out []string
	for _, s := range stop {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
