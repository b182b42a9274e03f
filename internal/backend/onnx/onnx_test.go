package onnx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samcharles93/spindle/internal/inference"
)

// echoRunner returns, at every position, a row with the token id at index
// 0 and the position at index 1.
func echoRunner(calls *int) runFunc {
	return func(ids []int64) ([]float32, error) {
		*calls++
		out := make([]float32, 0, len(ids)*3)
		for pos, id := range ids {
			out = append(out, float32(id), float32(pos), 0)
		}
		return out, nil
	}
}

func batch(start int, flags []bool, toks ...int) inference.Batch {
	b := inference.Batch{Tokens: toks, Logits: flags}
	for i := range toks {
		b.Positions = append(b.Positions, start+i)
		b.SeqIDs = append(b.SeqIDs, 0)
	}
	return b
}

func TestDecodeReturnsFlaggedRows(t *testing.T) {
	t.Parallel()

	calls := 0
	b := newWithRunner(Config{Vocab: 3, Ctx: 8}, echoRunner(&calls))
	require.NoError(t, b.Decode(context.Background(), batch(0, []bool{false, true}, 7, 8)))
	require.Equal(t, []float32{8, 1, 0}, b.Logits())

	require.NoError(t, b.Decode(context.Background(), batch(2, []bool{true, true}, 9, 4)))
	require.Equal(t, []float32{9, 2, 0, 4, 3, 0}, b.Logits())
	require.Equal(t, 2, calls)
}

func TestDecodeChecksPositionsAndCapacity(t *testing.T) {
	t.Parallel()

	calls := 0
	b := newWithRunner(Config{Vocab: 3, Ctx: 2}, echoRunner(&calls))
	require.Error(t, b.Decode(context.Background(), batch(1, []bool{true}, 5)))
	require.NoError(t, b.Decode(context.Background(), batch(0, []bool{true, true}, 5, 6)))
	require.ErrorContains(t, b.Decode(context.Background(), batch(2, []bool{true}, 7)), "full")

	b.RemoveFrom(1)
	require.NoError(t, b.Decode(context.Background(), batch(1, []bool{true}, 7)))
	require.Equal(t, []float32{7, 1, 0}, b.Logits())
}

func TestDecodeRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	b := newWithRunner(Config{Vocab: 3, Ctx: 8}, func([]int64) ([]float32, error) {
		return nil, errors.New("kernel failed")
	})
	require.ErrorContains(t, b.Decode(context.Background(), batch(0, []bool{true}, 5)), "kernel failed")
	state, err := b.SaveState()
	require.NoError(t, err)
	require.Empty(t, state)

	short := newWithRunner(Config{Vocab: 3, Ctx: 8}, func([]int64) ([]float32, error) {
		return []float32{1}, nil
	})
	require.Error(t, short.Decode(context.Background(), batch(0, []bool{true}, 5)))
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	calls := 0
	b := newWithRunner(Config{Vocab: 3, Ctx: 8}, echoRunner(&calls))
	require.NoError(t, b.Decode(context.Background(), batch(0, []bool{true, true, true}, 300, 1, 70000)))
	state, err := b.SaveState()
	require.NoError(t, err)

	other := newWithRunner(Config{Vocab: 3, Ctx: 8}, echoRunner(&calls))
	require.NoError(t, other.LoadState(state))
	require.NoError(t, other.Decode(context.Background(), batch(3, []bool{true}, 2)))
	require.Equal(t, []float32{2, 3, 0}, other.Logits())

	require.Error(t, other.LoadState([]byte{0x80}))
	tiny := newWithRunner(Config{Vocab: 3, Ctx: 2}, echoRunner(&calls))
	require.Error(t, tiny.LoadState(state))
}

func TestOpenValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{ModelPath: "model.onnx", Ctx: 8})
	require.ErrorContains(t, err, "vocabulary")
	_, err = Open(Config{ModelPath: "model.onnx", Vocab: 8})
	require.ErrorContains(t, err, "context")
	require.False(t, LibraryAvailable(""))
}

func TestMetadataDefaultsName(t *testing.T) {
	t.Parallel()

	b := newWithRunner(Config{ModelPath: "m.onnx", Vocab: 3, Ctx: 4, EOS: 2}, nil)
	info := b.Metadata()
	require.Equal(t, "m.onnx", info.Name)
	require.Equal(t, 2, info.EOS)
	require.NoError(t, b.Close())
}
