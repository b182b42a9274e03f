// Package tokenizer provides the text codecs an inference.Engine can run
// with: a byte-level vocabulary, a pure Go byte-level BPE reading
// HuggingFace tokenizer.json files and, behind the "tokenizers" build tag,
// a binding to the HuggingFace tokenizers library.
package tokenizer

import (
	"errors"
	"fmt"
)

// ErrUnknownToken is returned when text cannot be mapped to the vocabulary.
var ErrUnknownToken = errors.New("unknown token")

// ErrNoHF is returned by LoadHF in builds without the tokenizers tag.
var ErrNoHF = errors.New("built without the tokenizers tag")

func outOfRange(id, n int) error {
	return fmt.Errorf("token id %d out of range [0,%d)", id, n)
}
