package inference

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/spindle/internal/logits"
)

func ptr[T any](v T) *T { return &v }

func TestResolveCompletionDefaults(t *testing.T) {
	t.Parallel()

	req, err := ResolveCompletion(CompletionOptions{Prompt: "hi", Stop: []string{"", "\n"}}, GenDefaults{})
	require.NoError(t, err)
	require.Equal(t, 16, req.MaxTokens)
	require.Equal(t, -1, req.Logprobs)
	require.Equal(t, int64(-1), req.Seed)
	require.Equal(t, []string{"\n"}, req.Stop)
	require.Equal(t, GrammarBias, req.GrammarMode)

	want := logits.DefaultSamplerConfig()
	require.Equal(t, want.Temperature, req.Sampling.Temperature)
	require.Equal(t, want.TopK, req.Sampling.TopK)
	require.Equal(t, want.RepeatPenalty, req.Sampling.RepeatPenalty)
}

func TestResolveCompletionModelDefaultsThenRequest(t *testing.T) {
	t.Parallel()

	defaults := GenDefaults{
		Temperature:       ptr(0.6),
		TopK:              ptr(20),
		TopP:              ptr(1.5), // out of range, ignored
		RepetitionPenalty: ptr(1.3),
	}
	req, err := ResolveCompletion(CompletionOptions{TopK: ptr(5), Mirostat: ptr(2)}, defaults)
	require.NoError(t, err)
	require.InDelta(t, 0.6, req.Sampling.Temperature, 1e-6)
	require.Equal(t, 5, req.Sampling.TopK)
	require.Equal(t, logits.DefaultSamplerConfig().TopP, req.Sampling.TopP)
	require.InDelta(t, 1.3, req.Sampling.RepeatPenalty, 1e-6)
	require.Equal(t, 2, req.Sampling.Mirostat)
}

func TestResolveCompletionRequestFields(t *testing.T) {
	t.Parallel()

	req, err := ResolveCompletion(CompletionOptions{
		Suffix:      ptr("!"),
		Model:       ptr("m"),
		MaxTokens:   ptr(0),
		Logprobs:    ptr(3),
		Echo:        ptr(true),
		Seed:        ptr(int64(42)),
		Temperature: ptr(0.0),
		LogitBias:   map[int]float32{3: -100},
		GrammarMode: ptr("accept"),
	}, GenDefaults{})
	require.NoError(t, err)
	require.Equal(t, "!", req.Suffix)
	require.Equal(t, "m", req.Model)
	require.Zero(t, req.MaxTokens)
	require.Equal(t, 3, req.Logprobs)
	require.True(t, req.Echo)
	require.Equal(t, int64(42), req.Seed)
	require.Zero(t, req.Sampling.Temperature)
	require.Equal(t, float32(-100), req.Sampling.LogitBias[3])
	require.Equal(t, GrammarAccept, req.GrammarMode)
}

func TestResolveCompletionRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]CompletionOptions{
		"negative-logprobs": {Logprobs: ptr(-2)},
		"top-p":             {TopP: ptr(1.2)},
		"mirostat":          {Mirostat: ptr(3)},
		"grammar-mode":      {GrammarMode: ptr("strict")},
		"repeat-penalty":    {RepeatPenalty: ptr(0.0)},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ResolveCompletion(opts, GenDefaults{})
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}
