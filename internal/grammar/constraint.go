package grammar

import (
	"math"

	"github.com/samcharles93/spindle/internal/logits"
)

// Vocabulary maps token ids to the bytes they detokenize to.
type Vocabulary interface {
	Piece(id int) []byte
}

// Constraint binds a Grammar to a vocabulary so it can vet sampling
// candidates and consume sampled tokens.
type Constraint struct {
	g      *Grammar
	vocab  Vocabulary
	eos    int
	pieces map[int][]byte
}

func NewConstraint(g *Grammar, vocab Vocabulary, eos int) *Constraint {
	return &Constraint{g: g, vocab: vocab, eos: eos, pieces: make(map[int][]byte)}
}

// Grammar exposes the underlying parse state.
func (c *Constraint) Grammar() *Grammar { return c.g }

func (c *Constraint) piece(id int) []byte {
	if p, ok := c.pieces[id]; ok {
		return p
	}
	p := c.vocab.Piece(id)
	c.pieces[id] = p
	return p
}

// Apply sets the logit of every candidate the grammar cannot accept to -Inf.
// End of sequence is only allowed once the grammar can end.
func (c *Constraint) Apply(a *logits.TokenDataArray) error {
	negInf := float32(math.Inf(-1))
	canEnd := c.g.CanEnd()
	alive := 0
	for i := range a.Data {
		d := &a.Data[i]
		if math.IsInf(float64(d.Logit), -1) {
			continue
		}
		var ok bool
		if d.ID == c.eos {
			ok = canEnd
		} else {
			ok = c.g.Allows(c.piece(d.ID))
		}
		if !ok {
			d.Logit = negInf
			continue
		}
		alive++
	}
	if alive == 0 {
		return &Error{Token: -1, Reason: "no candidate token satisfies the grammar"}
	}
	return nil
}

// AcceptToken advances the grammar past a sampled token.
func (c *Constraint) AcceptToken(id int) error {
	if id == c.eos {
		if c.g.CanEnd() {
			return nil
		}
		return &Error{Token: id, Reason: "end of sequence before the grammar completed"}
	}
	piece := c.piece(id)
	if err := c.g.Accept(piece); err != nil {
		if ge, ok := err.(*Error); ok {
			ge.Token = id
			return ge
		}
		return err
	}
	return nil
}

// Reset rewinds the grammar to its start state.
func (c *Constraint) Reset() { c.g.Reset() }
