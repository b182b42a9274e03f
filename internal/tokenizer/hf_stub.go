//go:build !tokenizers

package tokenizer

type HF struct{}

func LoadHF(string, int, int) (*HF, error) { return nil, ErrNoHF }

func (*HF) Encode([]byte, bool, bool) ([]int, error) { return nil, ErrNoHF }
func (*HF) Decode(_, _ []int) ([]byte, error)        { return nil, ErrNoHF }
func (*HF) Piece(int) []byte                         { return nil }
func (*HF) BOS() int                                 { return -1 }
func (*HF) EOS() int                                 { return -1 }
func (*HF) VocabSize() int                           { return 0 }
func (*HF) Close() error                             { return nil }
