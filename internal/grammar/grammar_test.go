package grammar

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/spindle/internal/logits"
)

type sliceVocab [][]byte

func (v sliceVocab) Piece(id int) []byte {
	if id < 0 || id >= len(v) {
		return nil
	}
	return v[id]
}

func mustGrammar(t *testing.T, src string) *Grammar {
	t.Helper()
	r, err := Parse(src)
	require.NoError(t, err)
	g, err := New(r)
	require.NoError(t, err)
	return g
}

func allowed(a *logits.TokenDataArray) []int {
	var out []int
	for _, d := range a.Data {
		if !math.IsInf(float64(d.Logit), -1) {
			out = append(out, d.ID)
		}
	}
	return out
}

func TestAcceptAlternatives(t *testing.T) {
	t.Parallel()

	g := mustGrammar(t, `root ::= "yes" | "no"`)
	require.False(t, g.CanEnd())

	err := g.AcceptString("x")
	require.ErrorIs(t, err, ErrRejected)
	var ge *Error
	require.True(t, errors.As(err, &ge))

	require.NoError(t, g.AcceptString("ye"))
	require.False(t, g.CanEnd())
	require.NoError(t, g.AcceptString("s"))
	require.True(t, g.CanEnd())
	require.Error(t, g.AcceptString("s"))

	g.Reset()
	require.NoError(t, g.AcceptString("no"))
	require.True(t, g.CanEnd())
}

func TestRejectedInputLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	g := mustGrammar(t, `root ::= "ab"`)
	require.NoError(t, g.AcceptString("a"))
	require.Error(t, g.AcceptString("ax"))
	require.NoError(t, g.AcceptString("b"))
	require.True(t, g.CanEnd())
}

func TestRepetition(t *testing.T) {
	t.Parallel()

	g := mustGrammar(t, `root ::= [0-9]+ ("." [0-9]*)?`)
	require.False(t, g.CanEnd())
	require.NoError(t, g.AcceptString("12"))
	require.True(t, g.CanEnd())
	require.NoError(t, g.AcceptString("."))
	require.True(t, g.CanEnd())
	require.NoError(t, g.AcceptString("5"))
	require.Error(t, g.AcceptString("."))
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	g := mustGrammar(t, `root ::= "ab" | "ac"`)
	require.NoError(t, g.AcceptString("a"))
	c := g.Clone()
	require.NoError(t, c.AcceptString("b"))
	require.True(t, c.CanEnd())
	require.False(t, g.CanEnd())
	require.NoError(t, g.AcceptString("c"))
}

func TestLeftRecursionRejected(t *testing.T) {
	t.Parallel()

	_, err := Parse(`root ::= root "a" | "a"`)
	require.ErrorIs(t, err, ErrInvalidRules)

	_, err = Parse("root ::= x \"a\"\nx ::= \"\" | root")
	require.ErrorIs(t, err, ErrInvalidRules)
}

func TestConstraintMasksCandidates(t *testing.T) {
	t.Parallel()

	vocab := sliceVocab{[]byte("y"), []byte("es"), []byte("n"), []byte("o"), []byte("x"), nil}
	const eos = 5
	c := NewConstraint(mustGrammar(t, `root ::= "yes" | "no"`), vocab, eos)

	a := logits.FromLogits(make([]float32, len(vocab)))
	require.NoError(t, c.Apply(a))
	require.Equal(t, []int{0, 2}, allowed(a))

	require.NoError(t, c.AcceptToken(0))
	a = logits.FromLogits(make([]float32, len(vocab)))
	require.NoError(t, c.Apply(a))
	require.Equal(t, []int{1}, allowed(a))

	require.ErrorIs(t, c.AcceptToken(eos), ErrRejected)
	require.NoError(t, c.AcceptToken(1))

	a = logits.FromLogits(make([]float32, len(vocab)))
	require.NoError(t, c.Apply(a))
	require.Equal(t, []int{eos}, allowed(a))
	require.NoError(t, c.AcceptToken(eos))

	c.Reset()
	err := c.AcceptToken(4)
	require.ErrorIs(t, err, ErrRejected)
	var ge *Error
	require.True(t, errors.As(err, &ge))
	require.Equal(t, 4, ge.Token)
}

func TestConstraintFailsWhenNothingSurvives(t *testing.T) {
	t.Parallel()

	vocab := sliceVocab{[]byte("a"), []byte("b")}
	c := NewConstraint(mustGrammar(t, `root ::= "z"`), vocab, -1)
	err := c.Apply(logits.FromLogits([]float32{1, 2}))
	require.ErrorIs(t, err, ErrRejected)
}

func TestConstraintSplitCodePoint(t *testing.T) {
	t.Parallel()

	// U+00E9 is C3 A9; the vocabulary splits it across two tokens.
	vocab := sliceVocab{{0xC3}, {0xA9}, []byte("e"), {0xC3, 0xA8}}
	c := NewConstraint(mustGrammar(t, `root ::= "é"`), vocab, -1)

	a := logits.FromLogits(make([]float32, len(vocab)))
	require.NoError(t, c.Apply(a))
	require.Equal(t, []int{0}, allowed(a))

	require.NoError(t, c.AcceptToken(0))
	require.False(t, c.Grammar().CanEnd())

	a = logits.FromLogits(make([]float32, len(vocab)))
	require.NoError(t, c.Apply(a))
	require.Equal(t, []int{1}, allowed(a))

	require.NoError(t, c.AcceptToken(1))
	require.True(t, c.Grammar().CanEnd())
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	r, err := LoadJSON([]byte(`{"root":0,"rules":[[{"type":"char","value":97},{"type":"char_rng_upper","value":99},{"type":"end","value":0}]]}`))
	require.NoError(t, err)
	g, err := New(r)
	require.NoError(t, err)
	require.NoError(t, g.AcceptString("b"))
	require.True(t, g.CanEnd())

	_, err = LoadJSON([]byte(`{"root":0,"rules":[[{"type":"char","value":97}]]}`))
	require.ErrorIs(t, err, ErrInvalidRules)

	_, err = LoadJSON([]byte(`{"root":0,"rules":[[{"type":"bogus","value":1}]]}`))
	require.ErrorIs(t, err, ErrInvalidRules)
}

func TestCompiledRulesSurviveJSON(t *testing.T) {
	t.Parallel()

	r, err := Parse("root ::= item (\",\" item)*\nitem ::= [a-z]+")
	require.NoError(t, err)
	data, err := r.MarshalJSON()
	require.NoError(t, err)
	require.Contains(t, string(data), `"rule_ref"`)

	back, err := LoadJSON(data)
	require.NoError(t, err)
	require.Equal(t, r.Rules, back.Rules)
	require.Equal(t, r.Root, back.Root)

	g, err := New(back)
	require.NoError(t, err)
	require.NoError(t, g.AcceptString("ab,c"))
	require.True(t, g.CanEnd())
}
