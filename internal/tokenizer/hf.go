//go:build tokenizers

package tokenizer

import (
	"fmt"
	"path/filepath"

	"github.com/daulet/tokenizers"
)

// HF wraps the HuggingFace tokenizers library. It handles every model type
// the library does, SentencePiece-style ones included, at the cost of cgo.
type HF struct {
	tk    *tokenizers.Tokenizer
	vocab int
	bos   int
	eos   int
}

// LoadHF opens dir/tokenizer.json. bos and eos come from the model
// metadata since tokenizer.json does not name them reliably.
func LoadHF(dir string, bos, eos int) (*HF, error) {
	tk, err := tokenizers.FromFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &HF{tk: tk, vocab: int(tk.VocabSize()), bos: bos, eos: eos}, nil
}

func (h *HF) Encode(text []byte, addBOS, special bool) ([]int, error) {
	raw, _ := h.tk.Encode(string(text), special)
	ids := make([]int, 0, len(raw)+1)
	if addBOS && h.bos >= 0 && (len(raw) == 0 || int(raw[0]) != h.bos) {
		ids = append(ids, h.bos)
	}
	for _, id := range raw {
		ids = append(ids, int(id))
	}
	return ids, nil
}

// Decode renders ids after prev and returns only the new text, which keeps
// SentencePiece leading-space handling right.
func (h *HF) Decode(ids, prev []int) ([]byte, error) {
	all := make([]uint32, 0, len(prev)+len(ids))
	for _, id := range prev {
		all = append(all, uint32(id))
	}
	head := len(h.tk.Decode(all, true))
	for _, id := range ids {
		if id < 0 || id >= h.vocab {
			return nil, outOfRange(id, h.vocab)
		}
		all = append(all, uint32(id))
	}
	text := h.tk.Decode(all, true)
	if head > len(text) {
		head = len(text)
	}
	return []byte(text[head:]), nil
}

func (h *HF) Piece(id int) []byte {
	if id < 0 || id >= h.vocab {
		return nil
	}
	return []byte(h.tk.Decode([]uint32{uint32(id)}, false))
}

func (h *HF) BOS() int       { return h.bos }
func (h *HF) EOS() int       { return h.eos }
func (h *HF) VocabSize() int { return h.vocab }

func (h *HF) Close() error { return h.tk.Close() }
