package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/spindle/internal/backend"
	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/tokenizer"
)

func TestParseHFGenerationDefaults(t *testing.T) {
	t.Parallel()

	got := parseHFGenerationDefaults([]byte(`{"temperature":0.6,"top_k":20,"top_p":0.9,"do_sample":true}`))
	require.NotNil(t, got.Temperature)
	require.InDelta(t, 0.6, *got.Temperature, 1e-9)
	require.Equal(t, 20, *got.TopK)
	require.InDelta(t, 0.9, *got.TopP, 1e-9)
	require.Nil(t, got.RepetitionPenalty)

	require.Equal(t, inference.GenDefaults{}, parseHFGenerationDefaults([]byte(`not json`)))
	require.Equal(t, inference.GenDefaults{}, parseHFGenerationDefaults(nil))
}

func TestModelConfigAcceptsIDLists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"vocab_size": 300,
		"n_positions": 512,
		"bos_token_id": null,
		"eos_token_id": [7, 8]
	}`), 0o644))

	cfg, err := readModelConfig(path)
	require.NoError(t, err)
	require.Equal(t, 300, cfg.VocabSize)
	require.Equal(t, 512, cfg.contextLength())
	require.Equal(t, -1, specialID(cfg.BOS, -1))
	require.Equal(t, 7, specialID(cfg.EOS, -1))

	missing, err := readModelConfig(filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	require.Zero(t, missing.VocabSize)
}

func TestLoadToyModel(t *testing.T) {
	t.Parallel()

	res, err := Loader{}.Load("", inference.Options{NCtx: 256, Logger: logger.Discard()})
	require.NoError(t, err)
	require.Equal(t, backend.Toy, res.Backend)
	require.Equal(t, TokenizerBytes, res.Tokenizer)

	e := res.Engine
	require.Equal(t, "toy", e.ModelName())
	require.Equal(t, 256, e.NCtx())
	require.Equal(t, tokenizer.ByteToken('\n'), e.Metadata().NL)

	req, err := inference.ResolveCompletion(inference.CompletionOptions{Prompt: "hi"}, res.GenerationDefaults)
	require.NoError(t, err)
	c, err := e.Complete(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, 3, c.Usage.PromptTokens)
	require.NoError(t, e.Close())
}

func TestLoadDirectoryWithBPETokenizer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("tokenizer.json", `{
		"model": {"type": "BPE", "vocab": {"h":0,"i":1,"hi":2,"Ċ":3}, "merges": ["h i"]},
		"added_tokens": [{"id":4,"content":"<|endoftext|>","special":true}]
	}`)
	write("tokenizer_config.json", `{"eos_token": "<|endoftext|>"}`)
	write("config.json", `{"max_position_embeddings": 64}`)
	write("generation_config.json", `{"temperature": 0.3}`)

	res, err := Loader{Backend: backend.Toy}.Load(dir, inference.Options{Logger: logger.Discard()})
	require.NoError(t, err)
	require.Equal(t, TokenizerBPE, res.Tokenizer)
	require.Equal(t, dir, res.Engine.ModelName())

	info := res.Engine.Metadata()
	require.Equal(t, 5, info.Vocab)
	require.Equal(t, 64, info.Ctx)
	require.Equal(t, 4, info.EOS)
	require.Equal(t, 3, info.NL)
	require.InDelta(t, 0.3, *res.GenerationDefaults.Temperature, 1e-9)

	ids, err := res.Engine.Tokenize([]byte("hi"), false, false)
	require.NoError(t, err)
	require.Equal(t, []int{2}, ids)
}

func TestLoadRejectsUnknownTokenizer(t *testing.T) {
	t.Parallel()

	_, err := Loader{Tokenizer: "sentencepiece"}.Load("", inference.Options{Logger: logger.Discard()})
	require.ErrorContains(t, err, "unknown tokenizer")

	_, err = Loader{}.Load(filepath.Join(t.TempDir(), "missing.onnx"), inference.Options{})
	require.Error(t, err)
}
