package inference

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/samcharles93/spindle/internal/logger"
	"github.com/samcharles93/spindle/internal/logits"
)

func TestCompleteConvertsDecodePanicToError(t *testing.T) {
	t.Parallel()

	b := newScriptBackend(parisScript)
	b.panicMsg = "boom"
	e := newTestEngine(t, b, Options{})

	_, err := e.Complete(context.Background(), greedyRequest("The capital is "), nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected evaluation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "panic in Decode") {
		t.Fatalf("unexpected error: %v", err)
	}
	// the engine must be usable again
	if !e.acquire() {
		t.Fatalf("engine still busy after panic")
	}
	e.release()
}

func TestCompleteConvertsTokenizerPanicToError(t *testing.T) {
	t.Parallel()

	e, err := New(newScriptBackend(parisScript), wordTokenizer{panicOnEncode: true}, Options{Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = e.Complete(context.Background(), greedyRequest("The capital is "), nil)
	if !errors.Is(err, ErrTokenization) {
		t.Fatalf("expected tokenization error, got %v", err)
	}
	if !strings.Contains(err.Error(), "encode boom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSafeSampleConvertsPanicToError(t *testing.T) {
	t.Parallel()

	_, err := safeSample(nil, []float32{1, 0}, nil, nil, 3)
	if err == nil {
		t.Fatalf("expected sampler error")
	}
	if !strings.Contains(err.Error(), "panic in Sample") {
		t.Fatalf("unexpected error: %v", err)
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) || evalErr.Pos != 3 {
		t.Fatalf("expected evaluation error at position 3, got %v", err)
	}
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected ErrEvaluation, got %v", err)
	}
}

type panicConstraint struct{}

func (panicConstraint) Apply(*logits.TokenDataArray) error { panic("constraint boom") }

func TestSafeSampleConvertsConstraintPanic(t *testing.T) {
	t.Parallel()

	s := logits.NewSampler(logits.DefaultSamplerConfig())
	id, err := safeSample(s, []float32{1, 0}, nil, panicConstraint{}, 0)
	if id != -1 || !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected evaluation error, got id=%d err=%v", id, err)
	}
	if !strings.Contains(err.Error(), "constraint boom") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCompleteRejectsInvalidSampling(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, newScriptBackend(parisScript), Options{})
	req := greedyRequest("The capital is ")
	req.Sampling.TopP = 2
	_, err := e.Complete(context.Background(), req, nil)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
