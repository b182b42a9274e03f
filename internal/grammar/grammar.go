// Package grammar constrains generation to the language of a context-free
// grammar. A Grammar tracks every parse position still reachable after the
// text accepted so far, one stack of pending rule positions per path.
package grammar

import "slices"

type pos struct {
	rule, elem int
}

type stack []pos

// Grammar is the mutable parse state over an immutable rule table. It is not
// safe for concurrent use.
type Grammar struct {
	rules   [][]Element
	root    int
	stacks  []stack
	partial partialUTF8
}

// New validates r and returns a grammar positioned at the start of its root rule.
func New(r *Rules) (*Grammar, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	g := &Grammar{rules: r.Rules, root: r.Root}
	g.Reset()
	return g, nil
}

// Reset returns the grammar to its initial state.
func (g *Grammar) Reset() {
	var out []stack
	root := g.rules[g.root]
	for sub := 0; ; {
		var st stack
		if !isEndOfSequence(root[sub]) {
			st = stack{{g.root, sub}}
		}
		g.advance(st, &out)
		for !isEndOfSequence(root[sub]) {
			sub++
		}
		if root[sub].Type != Alt {
			break
		}
		sub++
	}
	g.stacks = out
	g.partial = partialUTF8{}
}

// Clone returns an independent copy of the parse state.
func (g *Grammar) Clone() *Grammar {
	c := &Grammar{rules: g.rules, root: g.root, partial: g.partial}
	c.stacks = make([]stack, len(g.stacks))
	for i, st := range g.stacks {
		c.stacks[i] = slices.Clone(st)
	}
	return c
}

// CanEnd reports whether the text accepted so far is a complete sentence.
func (g *Grammar) CanEnd() bool {
	for _, st := range g.stacks {
		if len(st) == 0 {
			return true
		}
	}
	return false
}

// Accept consumes piece. On rejection the state is left unchanged.
func (g *Grammar) Accept(piece []byte) error {
	cps, partial, ok := decodeUTF8(piece, g.partial)
	if !ok {
		return &Error{Token: -1, Piece: string(piece), Reason: "invalid UTF-8"}
	}
	stacks := g.stacks
	for _, cp := range cps {
		stacks = g.acceptChar(stacks, cp)
		if len(stacks) == 0 {
			return &Error{Token: -1, Piece: string(piece), Reason: "unexpected input"}
		}
	}
	g.stacks = stacks
	g.partial = partial
	return nil
}

// AcceptString consumes s; it is a convenience for raw text.
func (g *Grammar) AcceptString(s string) error {
	return g.Accept([]byte(s))
}

// Allows reports whether piece could be accepted without changing state. A
// piece ending inside a multi-byte character is allowed when the character
// could still match.
func (g *Grammar) Allows(piece []byte) bool {
	if len(piece) == 0 {
		return false
	}
	cps, partial, ok := decodeUTF8(piece, g.partial)
	if !ok {
		return false
	}
	stacks := g.stacks
	for _, cp := range cps {
		stacks = g.acceptChar(stacks, cp)
		if len(stacks) == 0 {
			return false
		}
	}
	if partial.nRemain > 0 {
		for _, st := range stacks {
			if len(st) > 0 && g.matchPartial(st[len(st)-1], partial) {
				return true
			}
		}
		return false
	}
	return len(stacks) > 0
}

// advance expands rule references at the top of st until every resulting
// stack is empty or points at a character element.
func (g *Grammar) advance(st stack, out *[]stack) {
	if len(st) == 0 {
		addStack(out, st)
		return
	}
	top := st[len(st)-1]
	el := g.rules[top.rule][top.elem]
	switch el.Type {
	case RuleRef:
		ref := int(el.Value)
		sub := 0
		for {
			next := make(stack, len(st)-1, len(st)+1)
			copy(next, st)
			if !isEndOfSequence(g.rules[top.rule][top.elem+1]) {
				next = append(next, pos{top.rule, top.elem + 1})
			}
			if !isEndOfSequence(g.rules[ref][sub]) {
				next = append(next, pos{ref, sub})
			}
			g.advance(next, out)
			for !isEndOfSequence(g.rules[ref][sub]) {
				sub++
			}
			if g.rules[ref][sub].Type != Alt {
				break
			}
			sub++
		}
	case Char, CharNot:
		addStack(out, st)
	}
}

func addStack(out *[]stack, st stack) {
	for _, have := range *out {
		if slices.Equal(have, st) {
			return
		}
	}
	*out = append(*out, st)
}

func (g *Grammar) acceptChar(stacks []stack, chr uint32) []stack {
	var out []stack
	for _, st := range stacks {
		if len(st) == 0 {
			continue
		}
		ok, after := g.matchChar(st[len(st)-1], chr)
		if !ok {
			continue
		}
		next := make(stack, len(st)-1, len(st))
		copy(next, st)
		if !isEndOfSequence(g.rules[after.rule][after.elem]) {
			next = append(next, after)
		}
		g.advance(next, &out)
	}
	return out
}

// matchChar tests chr against the character class at p and returns the
// position following the class.
func (g *Grammar) matchChar(p pos, chr uint32) (bool, pos) {
	el := g.rules[p.rule]
	positive := el[p.elem].Type == Char
	found := false
	i := p.elem
	for {
		if el[i+1].Type == CharRngUpper {
			found = found || (el[i].Value <= chr && chr <= el[i+1].Value)
			i += 2
		} else {
			found = found || el[i].Value == chr
			i++
		}
		if el[i].Type != CharAlt {
			break
		}
	}
	return found == positive, pos{p.rule, i}
}

// matchPartial reports whether any completion of a partial code point could
// satisfy the character class at p.
func (g *Grammar) matchPartial(p pos, partial partialUTF8) bool {
	el := g.rules[p.rule]
	positive := el[p.elem].Type == Char
	n := partial.nRemain
	if n < 0 || (n == 1 && partial.value < 2) {
		return false
	}
	shift := uint(n * 6)
	low := partial.value << shift
	high := low | (uint32(1)<<shift - 1)
	if low == 0 {
		switch n {
		case 2:
			low = 1 << 11
		case 3:
			low = 1 << 16
		}
	}
	i := p.elem
	for {
		if el[i+1].Type == CharRngUpper {
			if el[i].Value <= high && low <= el[i+1].Value {
				return positive
			}
			i += 2
		} else {
			if low <= el[i].Value && el[i].Value <= high {
				return positive
			}
			i++
		}
		if el[i].Type != CharAlt {
			break
		}
	}
	return !positive
}
