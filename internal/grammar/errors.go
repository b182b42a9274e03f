package grammar

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is wrapped by every *Error.
	ErrRejected = errors.New("grammar rejected input")
	// ErrInvalidRules marks a rule table that cannot drive a grammar.
	ErrInvalidRules = errors.New("invalid grammar rules")
	// ErrSyntax marks GBNF source that failed to parse.
	ErrSyntax = errors.New("grammar syntax error")
)

// Error reports a token the grammar could not accept. Token is -1 when the
// input was raw text rather than a vocabulary entry.
type Error struct {
	Token  int
	Piece  string
	Reason string
}

func (e *Error) Error() string {
	if e.Token < 0 {
		return fmt.Sprintf("grammar: %s", e.Reason)
	}
	return fmt.Sprintf("grammar: token %d (%q): %s", e.Token, e.Piece, e.Reason)
}

func (e *Error) Unwrap() error { return ErrRejected }

func syntaxError(src string, pos int, format string, args ...any) error {
	line, col := 1, 1
	for i := 0; i < pos && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return fmt.Errorf("%w at %d:%d: %s", ErrSyntax, line, col, fmt.Sprintf(format, args...))
}
