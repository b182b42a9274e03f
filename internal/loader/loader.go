// Package loader assembles an inference.Engine from a model path: it picks
// the backend and tokenizer, reads the HuggingFace config files found next
// to the weights and applies their sampling defaults.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/spindle/internal/backend"
	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/tokenizer"
)

const defaultCtx = 2048

const (
	TokenizerAuto  = "auto"
	TokenizerBytes = "bytes"
	TokenizerBPE   = "bpe"
	TokenizerHF    = "hf"
)

// Loader holds the choices that are not part of the model itself.
type Loader struct {
	Backend     string
	Tokenizer   string
	LibraryPath string
	Threads     int
	Seed        int64
	// TokenizerDir overrides where tokenizer files are read from.
	TokenizerDir string
}

type LoadResult struct {
	Engine             *inference.Engine
	Backend            string
	Tokenizer          string
	GenerationDefaults inference.GenDefaults
}

// textTokenizer is what every tokenizer in internal/tokenizer provides.
type textTokenizer interface {
	inference.Tokenizer
	BOS() int
	EOS() int
	VocabSize() int
}

// Load opens modelPath, which is empty for the toy model, a .onnx file or
// a directory holding model.onnx. opts sizes the engine; its NCtx falls
// back to the model's context length.
func (l Loader) Load(modelPath string, opts inference.Options) (*LoadResult, error) {
	bopts := backend.Options{
		Name:        l.Backend,
		LibraryPath: l.LibraryPath,
		Ctx:         opts.NCtx,
		Threads:     l.Threads,
		Seed:        l.Seed,
	}
	dir := ""
	if modelPath = strings.TrimSpace(modelPath); modelPath != "" {
		st, err := os.Stat(modelPath)
		if err != nil {
			return nil, fmt.Errorf("open model: %w", err)
		}
		if st.IsDir() {
			dir = modelPath
			bopts.ModelPath = filepath.Join(dir, "model.onnx")
		} else {
			dir = filepath.Dir(modelPath)
			bopts.ModelPath = modelPath
		}
	}
	name, err := backend.Resolve(bopts)
	if err != nil {
		return nil, err
	}
	if name == backend.Toy {
		bopts.ModelPath = ""
	}

	tokDir := dir
	if l.TokenizerDir != "" {
		tokDir = l.TokenizerDir
	}
	var cfg modelConfig
	if dir != "" {
		if cfg, err = readModelConfig(filepath.Join(dir, "config.json")); err != nil {
			return nil, err
		}
	}
	tokKind, tok, err := l.openTokenizer(tokDir, cfg)
	if err != nil {
		return nil, err
	}

	bopts.Vocab = cfg.VocabSize
	if bopts.Vocab <= 0 {
		bopts.Vocab = tok.VocabSize()
	}
	if bopts.Ctx <= 0 {
		bopts.Ctx = cfg.contextLength()
	}
	if bopts.Ctx <= 0 {
		bopts.Ctx = defaultCtx
	}
	bopts.BOS, bopts.EOS = specialID(cfg.BOS, tok.BOS()), specialID(cfg.EOS, tok.EOS())
	bopts.NL = newlineToken(tok)

	b, err := backend.Open(bopts)
	if err != nil {
		return nil, closeTokenizer(tok, err)
	}
	if opts.ModelName == "" {
		opts.ModelName = modelName(modelPath)
	}
	engine, err := inference.New(b, tok, opts)
	if err != nil {
		return nil, closeTokenizer(tok, errors.Join(err, closeBackend(b)))
	}

	var gen inference.GenDefaults
	if dir != "" {
		gen = readGenerationDefaults(filepath.Join(dir, "generation_config.json"))
	}
	return &LoadResult{
		Engine:             engine,
		Backend:            name,
		Tokenizer:          tokKind,
		GenerationDefaults: gen,
	}, nil
}

func (l Loader) openTokenizer(dir string, cfg modelConfig) (string, textTokenizer, error) {
	kind := strings.ToLower(strings.TrimSpace(l.Tokenizer))
	if kind == "" {
		kind = TokenizerAuto
	}
	if kind == TokenizerAuto {
		kind = TokenizerBytes
		if dir != "" {
			if _, err := os.Stat(filepath.Join(dir, "tokenizer.json")); err == nil {
				kind = TokenizerBPE
			}
		}
	}

	switch kind {
	case TokenizerBytes:
		return kind, tokenizer.Bytes{}, nil
	case TokenizerBPE:
		tok, err := tokenizer.LoadBPE(dir)
		if err == nil {
			return kind, tok, nil
		}
		if l.Tokenizer == TokenizerBPE {
			return "", nil, fmt.Errorf("load tokenizer: %w", err)
		}
		// Not a byte-level BPE; the HF library may still read it.
		hf, hfErr := tokenizer.LoadHF(dir, specialID(cfg.BOS, -1), specialID(cfg.EOS, -1))
		if hfErr != nil {
			return "", nil, fmt.Errorf("load tokenizer: %w", errors.Join(err, hfErr))
		}
		return TokenizerHF, hf, nil
	case TokenizerHF:
		hf, err := tokenizer.LoadHF(dir, specialID(cfg.BOS, -1), specialID(cfg.EOS, -1))
		if err != nil {
			return "", nil, fmt.Errorf("load tokenizer: %w", err)
		}
		return kind, hf, nil
	}
	return "", nil, fmt.Errorf("unknown tokenizer %q (expected auto, bytes, bpe, or hf)", l.Tokenizer)
}

func newlineToken(tok inference.Tokenizer) int {
	ids, err := tok.Encode([]byte("\n"), false, false)
	if err != nil || len(ids) != 1 {
		return -1
	}
	return ids[0]
}

func specialID(ids []int, fallback int) int {
	if len(ids) > 0 {
		return ids[0]
	}
	return fallback
}

func modelName(path string) string {
	if path == "" {
		return "toy"
	}
	return path
}

func closeTokenizer(tok inference.Tokenizer, err error) error {
	if c, ok := tok.(interface{ Close() error }); ok {
		return errors.Join(err, c.Close())
	}
	return err
}

func closeBackend(b inference.Backend) error {
	if c, ok := b.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// modelConfig is the part of a HuggingFace config.json the engine needs.
type modelConfig struct {
	VocabSize             int    `json:"vocab_size"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	NPositions            int    `json:"n_positions"`
	BOS                   idList `json:"bos_token_id"`
	EOS                   idList `json:"eos_token_id"`
}

func (c modelConfig) contextLength() int {
	if c.MaxPositionEmbeddings > 0 {
		return c.MaxPositionEmbeddings
	}
	return c.NPositions
}

// idList accepts a single id, a list of ids or null.
type idList []int

func (l *idList) UnmarshalJSON(b []byte) error {
	var one *int
	if err := json.Unmarshal(b, &one); err == nil {
		if one != nil {
			*l = idList{*one}
		}
		return nil
	}
	var many []int
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func readModelConfig(path string) (modelConfig, error) {
	var cfg modelConfig
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func readGenerationDefaults(path string) inference.GenDefaults {
	data, err := os.ReadFile(path)
	if err != nil {
		return inference.GenDefaults{}
	}
	return parseHFGenerationDefaults(data)
}

func parseHFGenerationDefaults(genBytes []byte) inference.GenDefaults {
	type hfGenerationConfig struct {
		Temperature       *float64 `json:"temperature"`
		TopK              *int     `json:"top_k"`
		TopP              *float64 `json:"top_p"`
		RepetitionPenalty *float64 `json:"repetition_penalty"`
	}
	if len(genBytes) == 0 {
		return inference.GenDefaults{}
	}
	var cfg hfGenerationConfig
	if err := json.Unmarshal(genBytes, &cfg); err != nil {
		return inference.GenDefaults{}
	}
	return inference.GenDefaults(cfg)
}
