package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// BPE is a byte-level BPE tokenizer (GPT-2, Llama 3, Qwen and friends)
// loaded from a HuggingFace tokenizer.json.
type BPE struct {
	encoder      map[string]int
	decoder      []string
	special      []bool
	specials     []string
	ranks        map[pair]int
	byteEncoder  [256]string
	byteDecoder  map[rune]byte
	pattern      *regexp.Regexp
	ignoreMerges bool
	bosID        int
	eosID        int
	unkID        int

	mu    sync.Mutex
	cache map[string][]string
}

type bpeJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  preTokenizer `json:"pre_tokenizer"`
	PostProcessor struct {
		Processors []struct {
			Type          string `json:"type"`
			SpecialTokens map[string]struct {
				IDs []int `json:"ids"`
			} `json:"special_tokens"`
		} `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type preTokenizer struct {
	Type          string `json:"type"`
	Pretokenizers []struct {
		Type    string `json:"type"`
		Pattern struct {
			Regex string `json:"Regex"`
		} `json:"pattern"`
	} `json:"pretokenizers"`
}

// tokenizer_config.json carries the bos/eos names either as strings or as
// AddedToken objects.
type bpeConfig struct {
	BOS tokenName `json:"bos_token"`
	EOS tokenName `json:"eos_token"`
}

type tokenName string

func (n *tokenName) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = tokenName(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*n = tokenName(obj.Content)
	return nil
}

// LoadBPE reads tokenizer.json and, when present, tokenizer_config.json
// from dir.
func LoadBPE(dir string) (*BPE, error) {
	data, err := os.ReadFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, err
	}
	cfg, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json"))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return ParseBPE(data, cfg)
}

// ParseBPE builds a tokenizer from the contents of tokenizer.json and an
// optional tokenizer_config.json.
func ParseBPE(tokJSON, tokConfig []byte) (*BPE, error) {
	var tj bpeJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}

	maxID := -1
	for _, id := range tj.Model.Vocab {
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		maxID = max(maxID, at.ID)
	}
	t := &BPE{
		encoder:      make(map[string]int, maxID+1),
		decoder:      make([]string, maxID+1),
		special:      make([]bool, maxID+1),
		ranks:        parseMerges(tj.Model.Merges),
		pattern:      buildPattern(tj.PreTokenizer),
		ignoreMerges: tj.Model.IgnoreMerges,
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
		cache:        make(map[string][]string),
	}
	t.byteEncoder, t.byteDecoder = bytesToUnicode()
	for tok, id := range tj.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative id %d for %q", id, tok)
		}
		t.encoder[tok] = id
		t.decoder[id] = tok
	}
	for _, at := range tj.AddedTokens {
		if at.ID < 0 {
			return nil, fmt.Errorf("negative id %d for %q", at.ID, at.Content)
		}
		t.encoder[at.Content] = at.ID
		t.decoder[at.ID] = at.Content
		t.special[at.ID] = at.Special || isSpecialToken(at.Content)
	}
	for id, tok := range t.decoder {
		if isSpecialToken(tok) {
			t.special[id] = true
		}
	}
	t.specials = collectSpecials(t.decoder, t.special)

	var cfg bpeConfig
	if len(tokConfig) > 0 {
		if err := json.Unmarshal(tokConfig, &cfg); err != nil {
			return nil, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
	}
	if id, ok := t.encoder[string(cfg.BOS)]; ok && cfg.BOS != "" {
		t.bosID = id
	}
	if id, ok := t.encoder[string(cfg.EOS)]; ok && cfg.EOS != "" {
		t.eosID = id
	}
	// A TemplateProcessing post-processor names the BOS the model expects.
	for _, proc := range tj.PostProcessor.Processors {
		if proc.Type != "TemplateProcessing" {
			continue
		}
		for _, spec := range proc.SpecialTokens {
			if len(spec.IDs) > 0 {
				t.bosID = spec.IDs[0]
				break
			}
		}
	}
	if id, ok := t.encoder[tj.Model.UnkToken]; ok && tj.Model.UnkToken != "" {
		t.unkID = id
	}
	return t, nil
}

func parseMerges(raw []any) map[pair]int {
	ranks := make(map[pair]int, len(raw))
	for _, m := range raw {
		var line string
		switch v := m.(type) {
		case string:
			line = v
		case []any:
			if len(v) == 2 {
				a, aok := v[0].(string)
				b, bok := v[1].(string)
				if aok && bok {
					line = a + " " + b
				}
			}
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok || strings.Contains(b, " ") {
			continue
		}
		p := pair{a, b}
		if _, seen := ranks[p]; !seen {
			ranks[p] = len(ranks)
		}
	}
	return ranks
}

func buildPattern(pre preTokenizer) *regexp.Regexp {
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if pre.Type == "Sequence" {
		for _, p := range pre.Pretokenizers {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	// Llama 3 style patterns use lookahead and inline flags, which RE2 lacks.
	if strings.Contains(pat, `(?!\S)`) || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	}
	return re
}

// Encode splits out special tokens only when special is set; otherwise
// their text is encoded like any other.
func (t *BPE) Encode(text []byte, addBOS, special bool) ([]int, error) {
	var ids []int
	if addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	parts := []textPart{{text: string(text)}}
	if special {
		parts = splitSpecials(string(text), t.specials)
	}
	for _, part := range parts {
		if part.isSpecial {
			ids = append(ids, t.encoder[part.text])
			continue
		}
		for _, word := range t.pattern.FindAllString(part.text, -1) {
			for _, piece := range t.bpe(t.byteEncode(word)) {
				id, ok := t.encoder[piece]
				if !ok {
					if t.unkID < 0 {
						return nil, fmt.Errorf("%w: %q", ErrUnknownToken, piece)
					}
					id = t.unkID
				}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Decode concatenates the bytes of every token. Byte-level pieces do not
// depend on what precedes them, so prev is unused.
func (t *BPE) Decode(ids, _ []int) ([]byte, error) {
	var out []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return nil, outOfRange(id, len(t.decoder))
		}
		out = t.appendPiece(out, id)
	}
	return out, nil
}

func (t *BPE) Piece(id int) []byte {
	if id < 0 || id >= len(t.decoder) {
		return nil
	}
	return t.appendPiece(nil, id)
}

func (t *BPE) appendPiece(dst []byte, id int) []byte {
	tok := t.decoder[id]
	if t.special[id] {
		return append(dst, tok...)
	}
	for _, r := range tok {
		if b, ok := t.byteDecoder[r]; ok {
			dst = append(dst, b)
		} else {
			dst = append(dst, string(r)...)
		}
	}
	return dst
}

func (t *BPE) BOS() int       { return t.bosID }
func (t *BPE) EOS() int       { return t.eosID }
func (t *BPE) VocabSize() int { return len(t.decoder) }

// Special returns the text of a special token id.
func (t *BPE) Special(id int) (string, bool) {
	if id < 0 || id >= len(t.decoder) || !t.special[id] {
		return "", false
	}
	return t.decoder[id], true
}

func (t *BPE) byteEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		b.WriteString(t.byteEncoder[s[i]])
	}
	return b.String()
}

func (t *BPE) bpe(token string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache[token]; ok {
		return v
	}
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			out := []string{token}
			t.cache[token] = out
			return out
		}
	}
	word := splitRunes(token)
	for len(word) > 1 {
		best, bestRank := pair{}, -1
		for i := 0; i+1 < len(word); i++ {
			p := pair{word[i], word[i+1]}
			if rank, ok := t.ranks[p]; ok && (bestRank < 0 || rank < bestRank) {
				best, bestRank = p, rank
			}
		}
		if bestRank < 0 {
			break
		}
		word = mergePair(word, best)
	}
	t.cache[token] = word
	return word
}
