package logits

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func ids(a *TokenDataArray) []int {
	out := make([]int, len(a.Data))
	for i, d := range a.Data {
		out[i] = d.ID
	}
	return out
}

// fromProbs builds logits whose softmax equals probs.
func fromProbs(probs ...float64) []float32 {
	out := make([]float32, len(probs))
	for i, p := range probs {
		out[i] = float32(math.Log(p))
	}
	return out
}

func TestFromLogitsKeepsIDOrder(t *testing.T) {
	t.Parallel()

	a := FromLogits([]float32{0.5, -1, 3})
	require.Equal(t, []int{0, 1, 2}, ids(a))
	require.False(t, a.Sorted)
	for _, d := range a.Data {
		require.Zero(t, d.P)
	}
}

func TestSoftmaxStableOnTies(t *testing.T) {
	t.Parallel()

	a := FromLogits([]float32{1, 0, 1}).Softmax()
	require.Equal(t, []int{0, 2, 1}, ids(a))
	require.True(t, a.Sorted)

	var sum float32
	for _, d := range a.Data {
		sum += d.P
	}
	require.InDelta(t, 1.0, sum, 1e-6)
	require.Equal(t, a.Data[0].P, a.Data[1].P)
}

func TestTopK(t *testing.T) {
	t.Parallel()

	logs := []float32{1, 5, 3, 7, 2}

	require.Equal(t, []int{3, 1}, ids(FromLogits(logs).TopK(2, 1)))
	require.Len(t, FromLogits(logs).TopK(0, 1).Data, 5)
	require.Len(t, FromLogits(logs).TopK(-1, 1).Data, 5)
	require.Equal(t, []int{3, 1, 2}, ids(FromLogits(logs).TopK(1, 3)))
	require.Len(t, FromLogits(logs).TopK(100, 1).Data, 5)

	// the partial selection and the full sort agree, including ties
	big := make([]float32, 200)
	for i := range big {
		big[i] = float32(i % 7)
	}
	small := FromLogits(big).TopK(10, 1)
	full := FromLogits(big)
	full.sortByLogit()
	require.Equal(t, ids(&TokenDataArray{Data: full.Data[:10]}), ids(small))
}

func TestPenaltiesNoOp(t *testing.T) {
	t.Parallel()

	logs := []float32{2, -1, 0.5, 3}
	a := FromLogits(logs).ApplyPenalties([]int{0, 1, 1, 3}, 1, 0, 0)
	for i, d := range a.Data {
		require.Equal(t, logs[i], d.Logit)
	}
}

func TestPenaltiesMath(t *testing.T) {
	t.Parallel()

	a := FromLogits([]float32{2, -2, 1}).ApplyPenalties([]int{0, 1, 0}, 2, 0.5, 1)
	require.InDelta(t, -1.0, a.Data[0].Logit, 1e-6) // 2/2 - (2*0.5 + 1)
	require.InDelta(t, -5.5, a.Data[1].Logit, 1e-6) // -2*2 - (0.5 + 1)
	require.InDelta(t, 1.0, a.Data[2].Logit, 1e-6)
}

func TestTopP(t *testing.T) {
	t.Parallel()

	logs := fromProbs(0.5, 0.3, 0.2)
	require.Equal(t, []int{0, 1}, ids(FromLogits(logs).TopP(0.7, 1)))
	require.Equal(t, []int{0}, ids(FromLogits(logs).TopP(0.4, 1)))
	require.Equal(t, []int{0, 1, 2}, ids(FromLogits(logs).TopP(0.4, 3)))
	require.Len(t, FromLogits(logs).TopP(1, 1).Data, 3)
}

func TestMinP(t *testing.T) {
	t.Parallel()

	logs := fromProbs(0.5, 0.3, 0.2)
	require.Equal(t, []int{0, 1}, ids(FromLogits(logs).MinP(0.5, 1)))
	require.Equal(t, []int{0, 1, 2}, ids(FromLogits(logs).MinP(0.5, 3)))
	require.Len(t, FromLogits(logs).MinP(0, 1).Data, 3)
}

func TestTypical(t *testing.T) {
	t.Parallel()

	// entropy is ~1.03 nats; token 1 (surprise 1.20) is closest to it, then
	// token 0 (0.69) and finally token 2 (1.61)
	a := FromLogits(fromProbs(0.5, 0.3, 0.2)).Typical(0.5, 1)
	require.Equal(t, []int{1, 0}, ids(a))
	require.False(t, a.Sorted)

	require.Len(t, FromLogits(fromProbs(0.5, 0.3, 0.2)).Typical(1, 1).Data, 3)
}

func TestTailFree(t *testing.T) {
	t.Parallel()

	logs := fromProbs(0.6, 0.25, 0.1, 0.05)
	require.Len(t, FromLogits(logs).TailFree(1, 1).Data, 4)
	require.Equal(t, []int{0}, ids(FromLogits(logs).TailFree(0.5, 1)))
	require.Len(t, FromLogits(logs).TailFree(0.5, 3).Data, 4)
	require.Len(t, FromLogits([]float32{1, 2}).TailFree(0.1, 1).Data, 2)
}

func TestTemperatureScales(t *testing.T) {
	t.Parallel()

	a := FromLogits([]float32{2, -4}).Temperature(0.5)
	require.Equal(t, float32(4), a.Data[0].Logit)
	require.Equal(t, float32(-8), a.Data[1].Logit)
}

func TestLogSoftmaxAndTop(t *testing.T) {
	t.Parallel()

	lp := LogSoftmax(fromProbs(0.5, 0.3, 0.2))
	require.InDelta(t, math.Log(0.5), lp[0], 1e-5)
	require.InDelta(t, math.Log(0.2), lp[2], 1e-5)

	top := TopLogprobs(lp, 2)
	require.Len(t, top, 2)
	require.Equal(t, 0, top[0].ID)
	require.Equal(t, 1, top[1].ID)
	require.Nil(t, TopLogprobs(lp, 0))
}
