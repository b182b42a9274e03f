package inference

import "context"

// Batch is one backend decode call. Positions[i] is the cache position of
// Tokens[i]; Logits[i] asks the backend to produce a row for that token.
type Batch struct {
	Tokens    []int
	Positions []int
	SeqIDs    []int
	Logits    []bool
}

// ModelInfo describes the vocabulary and context of a loaded model.
type ModelInfo struct {
	Name  string
	Vocab int
	Ctx   int
	BOS   int
	EOS   int
	NL    int
}

// Backend is the opaque compute boundary: it evaluates token batches and
// exposes the resulting scores.
type Backend interface {
	Decode(ctx context.Context, b Batch) error
	// Logits returns the rows for the flagged tokens of the last Decode,
	// row-major. The slice is only valid until the next Decode.
	Logits() []float32
	// RemoveFrom discards cached state for positions >= pos.
	RemoveFrom(pos int)
	Metadata() ModelInfo
}

// StateSaver is implemented by backends whose cached state can be copied out
// and restored, which lets the prompt cache skip evaluation entirely.
type StateSaver interface {
	SaveState() ([]byte, error)
	LoadState(state []byte) error
}

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text []byte, addBOS, special bool) ([]int, error)
	// Decode detokenizes ids. prev is the context preceding ids, used by
	// tokenizers whose output depends on the previous token.
	Decode(ids, prev []int) ([]byte, error)
	Piece(id int) []byte
}
