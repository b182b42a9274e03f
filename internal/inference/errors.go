package inference

import (
	"errors"
	"fmt"

	"github.com/samcharles93/spindle/internal/grammar"
)

var (
	ErrContextOverflow = errors.New("context overflow")
	ErrEvaluation      = errors.New("evaluation failed")
	ErrTokenization    = errors.New("tokenization failed")
	ErrConfiguration   = errors.New("invalid configuration")
	// ErrBusy is returned when an Engine is already serving another session.
	ErrBusy = errors.New("engine busy")
	// ErrGrammar matches every grammar rejection.
	ErrGrammar = grammar.ErrRejected
)

// ContextOverflowError reports a request that does not fit in the context window.
type ContextOverflowError struct {
	Requested int
	Capacity  int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("requested tokens (%d) exceed context window of %d", e.Requested, e.Capacity)
}

func (e *ContextOverflowError) Unwrap() error { return ErrContextOverflow }

// EvaluationError wraps a backend decode failure at a cache position.
type EvaluationError struct {
	Pos int
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate at position %d: %v", e.Pos, e.Err)
}

func (e *EvaluationError) Unwrap() []error { return []error{ErrEvaluation, e.Err} }

type TokenizationError struct {
	Op  string
	Err error
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TokenizationError) Unwrap() []error { return []error{ErrTokenization, e.Err} }

type ConfigurationError struct {
	msg string
}

func (e ConfigurationError) Error() string { return e.msg }

func (e ConfigurationError) Unwrap() error { return ErrConfiguration }

func configError(format string, args ...any) error {
	return ConfigurationError{msg: fmt.Sprintf(format, args...)}
}
