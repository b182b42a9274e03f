package logits

import (
	"cmp"
	"math"
	"slices"
)

// TokenData is one sampling candidate.
// P is only meaningful after the most recent Softmax.
type TokenData struct {
	ID    int
	Logit float32
	P     float32
}

// TokenDataArray is the candidate list every sampling stage rewrites in place.
// Sorted reports whether Data is ordered by logit, highest first.
type TokenDataArray struct {
	Data   []TokenData
	Sorted bool
}

// FromLogits builds one candidate per vocabulary entry in id order.
func FromLogits(logits []float32) *TokenDataArray {
	a := &TokenDataArray{}
	a.Reset(logits)
	return a
}

// Reset refills the array from logits, reusing its capacity.
func (a *TokenDataArray) Reset(logits []float32) {
	if cap(a.Data) < len(logits) {
		a.Data = make([]TokenData, len(logits))
	}
	a.Data = a.Data[:len(logits)]
	for i, l := range logits {
		a.Data[i] = TokenData{ID: i, Logit: l}
	}
	a.Sorted = false
}

func (a *TokenDataArray) Len() int { return len(a.Data) }

// Index returns the position of token id in the array, or -1.
func (a *TokenDataArray) Index(id int) int {
	if !a.Sorted && id >= 0 && id < len(a.Data) && a.Data[id].ID == id {
		return id
	}
	for i := range a.Data {
		if a.Data[i].ID == id {
			return i
		}
	}
	return -1
}

func (a *TokenDataArray) sortByLogit() {
	if a.Sorted {
		return
	}
	slices.SortStableFunc(a.Data, func(x, y TokenData) int {
		return cmp.Compare(y.Logit, x.Logit)
	})
	a.Sorted = true
}

// Softmax sorts by logit and fills P with normalized probabilities.
func (a *TokenDataArray) Softmax() *TokenDataArray {
	if len(a.Data) == 0 {
		return a
	}
	a.sortByLogit()
	maxLogit := a.Data[0].Logit
	var sum float64
	for i := range a.Data {
		p := math.Exp(float64(a.Data[i].Logit - maxLogit))
		a.Data[i].P = float32(p)
		sum += p
	}
	if sum == 0 {
		return a
	}
	for i := range a.Data {
		a.Data[i].P = float32(float64(a.Data[i].P) / sum)
	}
	return a
}

// Argmax returns the id with the highest logit. Ties go to the smallest id.
func (a *TokenDataArray) Argmax() int {
	if len(a.Data) == 0 {
		return -1
	}
	best := a.Data[0]
	for _, d := range a.Data[1:] {
		if d.Logit > best.Logit || (d.Logit == best.Logit && d.ID < best.ID) {
			best = d
		}
	}
	return best.ID
}
