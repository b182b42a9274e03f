// Package backend picks and opens the compute backend an engine runs on.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/spindle/internal/backend/onnx"
	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/toy"
)

const (
	Toy  = "toy"
	ONNX = "onnx"
	Auto = "auto"
)

// Options selects and sizes a backend. Fields a backend does not use are
// ignored.
type Options struct {
	Name string
	// ModelPath is the .onnx file; empty selects the toy model under Auto.
	ModelPath   string
	LibraryPath string
	Ctx         int
	Threads     int
	Seed        int64

	Vocab        int
	BOS, EOS, NL int
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Toy, ONNX, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, toy, or onnx)", backend)
	}
}

// Resolve turns Auto into a concrete backend name.
func Resolve(opts Options) (string, error) {
	name, err := Normalize(opts.Name)
	if err != nil {
		return "", err
	}
	if name != Auto {
		return name, nil
	}
	if opts.ModelPath != "" {
		return ONNX, nil
	}
	return Toy, nil
}

// Open creates the backend named by opts.
func Open(opts Options) (inference.Backend, error) {
	name, err := Resolve(opts)
	if err != nil {
		return nil, err
	}
	switch name {
	case ONNX:
		if opts.ModelPath == "" {
			return nil, fmt.Errorf("onnx backend needs a model path")
		}
		b, err := onnx.Open(onnx.Config{
			ModelPath:   opts.ModelPath,
			LibraryPath: opts.LibraryPath,
			Vocab:       opts.Vocab,
			Ctx:         opts.Ctx,
			Threads:     opts.Threads,
			BOS:         opts.BOS,
			EOS:         opts.EOS,
			NL:          opts.NL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return toy.New(toy.Config{
			Vocab: opts.Vocab,
			Ctx:   opts.Ctx,
			Seed:  opts.Seed,
			BOS:   opts.BOS,
			EOS:   opts.EOS,
			NL:    opts.NL,
		}), nil
	}
}
