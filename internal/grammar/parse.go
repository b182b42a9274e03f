package grammar

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Parse compiles GBNF source into a rule table rooted at the rule named "root".
//
//	root  ::= item ("," item)*
//	item  ::= [a-z]+ | "\"" [^"]* "\""
//
// Literals, character classes with ranges and negation, grouping, the
// repetition operators *, + and ?, '.' for any character, and # comments are
// supported.
func Parse(src string) (*Rules, error) {
	p := &parser{src: src, symbols: make(map[string]int)}
	p.space(true)
	for p.pos < len(p.src) {
		if err := p.rule(); err != nil {
			return nil, err
		}
	}

	for id, rule := range p.rules {
		for _, e := range rule {
			if e.Type != RuleRef {
				continue
			}
			if int(e.Value) >= len(p.rules) || len(p.rules[e.Value]) == 0 {
				return nil, fmt.Errorf("%w: undefined rule %q referenced from %q", ErrSyntax, p.nameOf(int(e.Value)), p.nameOf(id))
			}
		}
	}
	for name, id := range p.symbols {
		if id >= len(p.rules) || len(p.rules[id]) == 0 {
			return nil, fmt.Errorf("%w: undefined rule %q", ErrSyntax, name)
		}
	}
	root, ok := p.symbols["root"]
	if !ok {
		return nil, fmt.Errorf("%w: grammar has no root rule", ErrSyntax)
	}

	r := &Rules{Rules: p.rules, Root: root, Symbols: p.symbols}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

type parser struct {
	src     string
	pos     int
	symbols map[string]int
	rules   [][]Element
}

func (p *parser) errorf(format string, args ...any) error {
	return syntaxError(p.src, p.pos, format, args...)
}

func (p *parser) symbol(name string) int {
	if id, ok := p.symbols[name]; ok {
		return id
	}
	id := len(p.symbols)
	p.symbols[name] = id
	return id
}

func (p *parser) generate(base string) int {
	id := len(p.symbols)
	p.symbols[base+"_"+strconv.Itoa(id)] = id
	return id
}

func (p *parser) nameOf(id int) string {
	for name, sym := range p.symbols {
		if sym == id {
			return name
		}
	}
	return "#" + strconv.Itoa(id)
}

func (p *parser) addRule(id int, rule []Element) {
	for len(p.rules) <= id {
		p.rules = append(p.rules, nil)
	}
	p.rules[id] = rule
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

func (p *parser) space(newlineOK bool) {
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; {
		case c == '#':
			for p.pos < len(p.src) && p.src[p.pos] != '\r' && p.src[p.pos] != '\n' {
				p.pos++
			}
		case c == ' ' || c == '\t' || newlineOK && (c == '\r' || c == '\n'):
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) name() string {
	start := p.pos
	for p.pos < len(p.src) && isWordChar(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) rule() error {
	name := p.name()
	if name == "" {
		return p.errorf("expecting rule name")
	}
	p.space(false)
	if len(p.src)-p.pos < 3 || p.src[p.pos:p.pos+3] != "::=" {
		return p.errorf("expecting ::= after %q", name)
	}
	p.pos += 3
	p.space(true)

	if err := p.alternates(name, p.symbol(name), false); err != nil {
		return err
	}

	switch {
	case p.pos >= len(p.src):
	case p.src[p.pos] == '\r':
		p.pos++
		if p.pos < len(p.src) && p.src[p.pos] == '\n' {
			p.pos++
		}
	case p.src[p.pos] == '\n':
		p.pos++
	default:
		return p.errorf("expecting newline or end, found %q", p.src[p.pos])
	}
	p.space(true)
	return nil
}

func (p *parser) alternates(ruleName string, id int, nested bool) error {
	var rule []Element
	if err := p.sequence(ruleName, &rule, nested); err != nil {
		return err
	}
	for p.pos < len(p.src) && p.src[p.pos] == '|' {
		rule = append(rule, Element{Type: Alt})
		p.pos++
		p.space(true)
		if err := p.sequence(ruleName, &rule, nested); err != nil {
			return err
		}
	}
	rule = append(rule, Element{Type: End})
	p.addRule(id, rule)
	return nil
}

func (p *parser) sequence(ruleName string, out *[]Element, nested bool) error {
	lastSymStart := len(*out)
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '"':
			p.pos++
			lastSymStart = len(*out)
			for p.pos < len(p.src) && p.src[p.pos] != '"' {
				r, err := p.char()
				if err != nil {
					return err
				}
				*out = append(*out, Element{Type: Char, Value: r})
			}
			if p.pos >= len(p.src) {
				return p.errorf("unterminated literal")
			}
			p.pos++
			p.space(nested)

		case c == '[':
			p.pos++
			start := Char
			if p.pos < len(p.src) && p.src[p.pos] == '^' {
				p.pos++
				start = CharNot
			}
			lastSymStart = len(*out)
			for p.pos < len(p.src) && p.src[p.pos] != ']' {
				r, err := p.char()
				if err != nil {
					return err
				}
				typ := start
				if len(*out) > lastSymStart {
					typ = CharAlt
				}
				*out = append(*out, Element{Type: typ, Value: r})
				if p.pos+1 < len(p.src) && p.src[p.pos] == '-' && p.src[p.pos+1] != ']' {
					p.pos++
					hi, err := p.char()
					if err != nil {
						return err
					}
					*out = append(*out, Element{Type: CharRngUpper, Value: hi})
				}
			}
			if p.pos >= len(p.src) {
				return p.errorf("unterminated character class")
			}
			if len(*out) == lastSymStart {
				return p.errorf("empty character class")
			}
			p.pos++
			p.space(nested)

		case isWordChar(c):
			id := p.symbol(p.name())
			lastSymStart = len(*out)
			*out = append(*out, Element{Type: RuleRef, Value: uint32(id)})
			p.space(nested)

		case c == '(':
			p.pos++
			p.space(true)
			sub := p.generate(ruleName)
			if err := p.alternates(ruleName, sub, true); err != nil {
				return err
			}
			lastSymStart = len(*out)
			*out = append(*out, Element{Type: RuleRef, Value: uint32(sub)})
			if p.pos >= len(p.src) || p.src[p.pos] != ')' {
				return p.errorf("expecting ')'")
			}
			p.pos++
			p.space(nested)

		case c == '.':
			lastSymStart = len(*out)
			*out = append(*out, Element{Type: CharNot, Value: 0})
			p.pos++
			p.space(nested)

		case c == '*' || c == '+' || c == '?':
			if lastSymStart == len(*out) {
				return p.errorf("expecting an item before %q", c)
			}
			p.repeat(ruleName, out, lastSymStart, c)
			p.pos++
			p.space(nested)

		default:
			return nil
		}
	}
	return nil
}

// repeat rewrites the item starting at start into a generated rule:
//
//	S*  ->  S' ::= S S' |
//	S+  ->  S' ::= S S' | S
//	S?  ->  S' ::= S |
func (p *parser) repeat(ruleName string, out *[]Element, start int, op byte) {
	item := append([]Element(nil), (*out)[start:]...)
	id := p.generate(ruleName)

	sub := append([]Element(nil), item...)
	if op == '*' || op == '+' {
		sub = append(sub, Element{Type: RuleRef, Value: uint32(id)})
	}
	sub = append(sub, Element{Type: Alt})
	if op == '+' {
		sub = append(sub, item...)
	}
	sub = append(sub, Element{Type: End})
	p.addRule(id, sub)

	*out = append((*out)[:start], Element{Type: RuleRef, Value: uint32(id)})
}

func (p *parser) char() (uint32, error) {
	if p.src[p.pos] != '\\' {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if r == utf8.RuneError && size <= 1 {
			return 0, p.errorf("invalid UTF-8")
		}
		p.pos += size
		return uint32(r), nil
	}
	p.pos++
	if p.pos >= len(p.src) {
		return 0, p.errorf("unexpected end after escape")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'x':
		return p.hex(2)
	case 'u':
		return p.hex(4)
	case 'U':
		return p.hex(8)
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case 'n':
		return '\n', nil
	case '\\', '"', '[', ']', '-', '^':
		return uint32(c), nil
	}
	return 0, p.errorf("unknown escape \\%c", c)
}

func (p *parser) hex(n int) (uint32, error) {
	if len(p.src)-p.pos < n {
		return 0, p.errorf("expecting %d hex digits", n)
	}
	v, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
	if err != nil {
		return 0, p.errorf("expecting %d hex digits", n)
	}
	p.pos += n
	return uint32(v), nil
}
