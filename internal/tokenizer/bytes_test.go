package tokenizer

import (
	"bytes"
	"testing"

	"github.com/samcharles93/spindle/internal/inference"
)

var (
	_ inference.Tokenizer = Bytes{}
	_ inference.Tokenizer = (*BPE)(nil)
	_ inference.Tokenizer = (*HF)(nil)
)

func TestBytesRoundTrip(t *testing.T) {
	t.Parallel()

	text := []byte("héllo\x00\xff")
	ids, err := Bytes{}.Encode(text, true, false)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if ids[0] != BytesBOS || len(ids) != len(text)+1 {
		t.Fatalf("unexpected ids: %v", ids)
	}
	got, err := Bytes{}.Decode(ids, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got, text) {
		t.Fatalf("round trip: got %q want %q", got, text)
	}
}

func TestBytesSpecials(t *testing.T) {
	t.Parallel()

	ids, _ := Bytes{}.Encode([]byte("a</s>"), false, true)
	if len(ids) != 2 || ids[1] != BytesEOS {
		t.Fatalf("special not matched: %v", ids)
	}
	ids, _ = Bytes{}.Encode([]byte("a</s>"), false, false)
	if len(ids) != 5 {
		t.Fatalf("special matched without special=true: %v", ids)
	}
	if p := (Bytes{}).Piece(BytesEOS); p != nil {
		t.Fatalf("special piece should be empty, got %q", p)
	}
	if s, ok := (Bytes{}).Special(BytesBOS); !ok || s != "<s>" {
		t.Fatalf("Special(BOS) = %q, %v", s, ok)
	}
	if _, err := (Bytes{}).Decode([]int{BytesVocab}, nil); err == nil {
		t.Fatalf("expected out of range error")
	}
}
