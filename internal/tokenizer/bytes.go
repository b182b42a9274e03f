package tokenizer

import "bytes"

// Byte vocabulary layout: three specials followed by one token per byte.
const (
	BytesUNK = 0
	BytesBOS = 1
	BytesEOS = 2

	bytesOffset = 3
	// BytesVocab is the size of the byte-level vocabulary.
	BytesVocab = bytesOffset + 256
)

var bytesSpecials = [...]string{BytesUNK: "<unk>", BytesBOS: "<s>", BytesEOS: "</s>"}

// Bytes maps every byte to its own token. It never fails to encode and
// decodes any id sequence losslessly, which makes it the tokenizer of the
// toy backend and of tests.
type Bytes struct{}

func (Bytes) Encode(text []byte, addBOS, special bool) ([]int, error) {
	ids := make([]int, 0, len(text)+1)
	if addBOS {
		ids = append(ids, BytesBOS)
	}
	for len(text) > 0 {
		if special {
			if id, n := matchSpecial(text); n > 0 {
				ids = append(ids, id)
				text = text[n:]
				continue
			}
		}
		ids = append(ids, ByteToken(text[0]))
		text = text[1:]
	}
	return ids, nil
}

func matchSpecial(text []byte) (int, int) {
	if text[0] != '<' {
		return 0, 0
	}
	for id, s := range bytesSpecials {
		if bytes.HasPrefix(text, []byte(s)) {
			return id, len(s)
		}
	}
	return 0, 0
}

// Decode drops special tokens.
func (Bytes) Decode(ids, _ []int) ([]byte, error) {
	out := make([]byte, 0, len(ids))
	for _, id := range ids {
		switch {
		case id < 0 || id >= BytesVocab:
			return nil, outOfRange(id, BytesVocab)
		case id < bytesOffset:
			continue
		}
		out = append(out, byte(id-bytesOffset))
	}
	return out, nil
}

func (Bytes) Piece(id int) []byte {
	if id < bytesOffset || id >= BytesVocab {
		return nil
	}
	return []byte{byte(id - bytesOffset)}
}

// Special returns the text of a special token id.
func (Bytes) Special(id int) (string, bool) {
	if id < 0 || id >= bytesOffset {
		return "", false
	}
	return bytesSpecials[id], true
}

// ByteToken is the id of a single byte.
func ByteToken(b byte) int { return bytesOffset + int(b) }

func (Bytes) BOS() int       { return BytesBOS }
func (Bytes) EOS() int       { return BytesEOS }
func (Bytes) VocabSize() int { return BytesVocab }
