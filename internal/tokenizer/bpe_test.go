package tokenizer

import (
	"errors"
	"reflect"
	"testing"
)

var testTokenizerJSON = []byte(`{
	"model": {
		"type": "BPE",
		"vocab": {"h":0,"e":1,"l":2,"o":3,"he":4,"ll":5,"hell":6,"hello":7,"Ġ":8,"Ã":9},
		"merges": ["h e", ["l", "l"], "he ll", "hell o"]
	},
	"added_tokens": [{"id":10,"content":"<|endoftext|>","special":true}]
}`)

func mustBPE(t *testing.T, cfg []byte) *BPE {
	t.Helper()
	tok, err := ParseBPE(testTokenizerJSON, cfg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tok
}

func TestBPEEncodeMerges(t *testing.T) {
	t.Parallel()

	tok := mustBPE(t, nil)
	cases := []struct {
		text    string
		special bool
		want    []int
	}{
		{text: "hello", want: []int{7}},
		{text: " hello", want: []int{8, 7}},
		{text: "hell", want: []int{6}},
		{text: "hello<|endoftext|>", special: true, want: []int{7, 10}},
	}
	for _, tc := range cases {
		got, err := tok.Encode([]byte(tc.text), false, tc.special)
		if err != nil {
			t.Fatalf("encode %q: %v", tc.text, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("encode %q: got %v want %v", tc.text, got, tc.want)
		}
	}
}

func TestBPERejectsUnknownWithoutUnk(t *testing.T) {
	t.Parallel()

	tok := mustBPE(t, nil)
	_, err := tok.Encode([]byte("<|endoftext|>"), false, false)
	if !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestBPEDecodeAndPieces(t *testing.T) {
	t.Parallel()

	tok := mustBPE(t, nil)
	got, err := tok.Decode([]int{8, 7, 10}, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != " hello<|endoftext|>" {
		t.Fatalf("unexpected decode: %q", got)
	}
	if p := tok.Piece(9); len(p) != 1 || p[0] != 0xC3 {
		t.Fatalf("byte piece: got %x want c3", p)
	}
	if s, ok := tok.Special(10); !ok || s != "<|endoftext|>" {
		t.Fatalf("Special(10) = %q, %v", s, ok)
	}
	if _, err := tok.Decode([]int{11}, nil); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestBPEConfigNamesSpecials(t *testing.T) {
	t.Parallel()

	tok := mustBPE(t, []byte(`{
		"bos_token": {"content": "<|endoftext|>", "lstrip": false},
		"eos_token": "<|endoftext|>"
	}`))
	if tok.BOS() != 10 || tok.EOS() != 10 {
		t.Fatalf("unexpected specials: bos=%d eos=%d", tok.BOS(), tok.EOS())
	}
	ids, _ := tok.Encode([]byte("hello"), true, false)
	if !reflect.DeepEqual(ids, []int{10, 7}) {
		t.Fatalf("BOS not prepended: %v", ids)
	}
}

func TestParseBPERejectsUnsupportedModel(t *testing.T) {
	t.Parallel()

	_, err := ParseBPE([]byte(`{"model":{"type":"WordPiece","vocab":{},"merges":[]}}`), nil)
	if err == nil {
		t.Fatalf("expected unsupported tokenizer model error")
	}
}

func TestBytesToUnicodeIsBijective(t *testing.T) {
	t.Parallel()

	enc, dec := bytesToUnicode()
	if len(dec) != 256 {
		t.Fatalf("decoder has %d entries", len(dec))
	}
	for b := range 256 {
		r := []rune(enc[b])
		if len(r) != 1 || dec[r[0]] != byte(b) {
			t.Fatalf("byte %d does not round trip", b)
		}
	}
	if enc[' '] != "Ġ" {
		t.Fatalf("space maps to %q", enc[' '])
	}
}
