package logits

import (
	"cmp"
	"math"
	"slices"
)

// ApplyLogitBias adds a per-token bias to the matching logits.
func (a *TokenDataArray) ApplyLogitBias(bias map[int]float32) *TokenDataArray {
	for id, b := range bias {
		if i := a.Index(id); i >= 0 {
			a.Data[i].Logit += b
		}
	}
	return a
}

// ApplyPenalties penalizes every token that appears in window.
// Positive logits are divided by repeat and the rest multiplied, then
// count*freq plus present is subtracted.
func (a *TokenDataArray) ApplyPenalties(window []int, repeat, freq, present float32) *TokenDataArray {
	if len(window) == 0 || (repeat == 1 && freq == 0 && present == 0) {
		return a
	}
	counts := make(map[int]int, len(window))
	for _, id := range window {
		counts[id]++
	}
	for i := range a.Data {
		c, ok := counts[a.Data[i].ID]
		if !ok {
			continue
		}
		if a.Data[i].Logit > 0 {
			a.Data[i].Logit /= repeat
		} else {
			a.Data[i].Logit *= repeat
		}
		a.Data[i].Logit -= float32(c)*freq + present
	}
	a.Sorted = false
	return a
}

// TopK keeps the k highest logits. k <= 0 disables truncation.
func (a *TokenDataArray) TopK(k, minKeep int) *TokenDataArray {
	n := len(a.Data)
	if k <= 0 {
		k = n
	}
	k = min(max(k, minKeep), n)
	if k == n && a.Sorted {
		return a
	}
	if !a.Sorted && k <= partialTopKLimit {
		a.partialTopK(k)
		return a
	}
	a.sortByLogit()
	a.Data = a.Data[:k]
	return a
}

const partialTopKLimit = 64

// partialTopK is an O(V*K) insertion selection for small k. Equal logits keep
// their input order, which matches a stable sort.
func (a *TokenDataArray) partialTopK(k int) {
	top := make([]TokenData, 0, k+1)
	for _, d := range a.Data {
		pos := len(top)
		for pos > 0 && top[pos-1].Logit < d.Logit {
			pos--
		}
		if pos >= k {
			continue
		}
		top = append(top, TokenData{})
		copy(top[pos+1:], top[pos:])
		top[pos] = d
		if len(top) > k {
			top = top[:k]
		}
	}
	a.Data = append(a.Data[:0], top...)
	a.Sorted = true
}

// TailFree removes the flat tail of the distribution, judged by the
// normalized second derivative of the sorted probabilities.
func (a *TokenDataArray) TailFree(z float32, minKeep int) *TokenDataArray {
	if z >= 1 || len(a.Data) <= 2 {
		return a
	}
	a.Softmax()

	n := len(a.Data)
	first := make([]float32, n-1)
	for i := range first {
		first[i] = a.Data[i].P - a.Data[i+1].P
	}
	second := make([]float32, n-2)
	var sum float32
	for i := range second {
		second[i] = float32(math.Abs(float64(first[i] - first[i+1])))
		sum += second[i]
	}
	if sum > 1e-6 {
		for i := range second {
			second[i] /= sum
		}
	} else {
		for i := range second {
			second[i] = 1 / float32(len(second))
		}
	}

	var cum float32
	last := n
	for i, d := range second {
		cum += d
		if cum > z && i >= minKeep {
			last = i
			break
		}
	}
	a.Data = a.Data[:last]
	return a
}

// Typical keeps the tokens whose surprise is closest to the entropy of the
// distribution until their cumulative probability exceeds p.
func (a *TokenDataArray) Typical(p float32, minKeep int) *TokenDataArray {
	if p >= 1 || len(a.Data) == 0 {
		return a
	}
	a.Softmax()

	var entropy float64
	for _, d := range a.Data {
		if d.P > 0 {
			entropy -= float64(d.P) * math.Log(float64(d.P))
		}
	}

	type scored struct {
		d     TokenData
		shift float64
	}
	items := make([]scored, len(a.Data))
	for i, d := range a.Data {
		items[i] = scored{d: d, shift: math.Abs(-math.Log(float64(d.P)) - entropy)}
	}
	slices.SortStableFunc(items, func(x, y scored) int {
		return cmp.Compare(x.shift, y.shift)
	})

	var cum float32
	last := len(items)
	for i, it := range items {
		cum += it.d.P
		if cum > p && i >= minKeep-1 {
			last = i + 1
			break
		}
	}
	a.Data = a.Data[:last]
	for i := range last {
		a.Data[i] = items[i].d
	}
	a.Sorted = false
	return a
}

// TopP keeps the shortest prefix whose cumulative probability reaches p.
func (a *TokenDataArray) TopP(p float32, minKeep int) *TokenDataArray {
	if p >= 1 || len(a.Data) == 0 {
		return a
	}
	a.Softmax()

	var cum float32
	last := len(a.Data)
	for i, d := range a.Data {
		cum += d.P
		if cum >= p && i+1 >= minKeep {
			last = i + 1
			break
		}
	}
	a.Data = a.Data[:last]
	return a
}

// MinP drops tokens whose probability is below p times the top probability.
func (a *TokenDataArray) MinP(p float32, minKeep int) *TokenDataArray {
	if p <= 0 || len(a.Data) == 0 {
		return a
	}
	a.Softmax()

	threshold := p * a.Data[0].P
	i := 1
	for ; i < len(a.Data); i++ {
		if a.Data[i].P < threshold && i >= minKeep {
			break
		}
	}
	a.Data = a.Data[:i]
	return a
}

// Temperature divides every logit by t. Ordering is unchanged for t > 0.
func (a *TokenDataArray) Temperature(t float32) *TokenDataArray {
	if t <= 0 {
		return a
	}
	for i := range a.Data {
		a.Data[i].Logit /= t
	}
	return a
}
