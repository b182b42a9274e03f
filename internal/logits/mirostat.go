package logits

import (
	"math"
)

// mirostatM is the number of top candidates used to estimate the Zipf exponent.
const mirostatM = 100

// mirostatV1 truncates to a k derived from mu and the estimated Zipf exponent,
// then samples. mu moves toward the level that yields tau bits of surprise.
func (s *Sampler) mirostatV1(a *TokenDataArray, nVocab int) int {
	a.Softmax()
	if len(a.Data) == 1 {
		s.updateMu(a.Data[0].P)
		return a.Data[0].ID
	}

	var sumTiBi, sumTiSq float64
	for i := 0; i < mirostatM-1 && i < len(a.Data)-1; i++ {
		if a.Data[i+1].P <= 0 {
			break
		}
		ti := math.Log(float64(i+2) / float64(i+1))
		bi := math.Log(float64(a.Data[i].P / a.Data[i+1].P))
		sumTiBi += ti * bi
		sumTiSq += ti * ti
	}

	k := len(a.Data)
	if sumTiSq > 0 {
		sHat := sumTiBi / sumTiSq
		epsHat := sHat - 1
		kf := math.Pow((epsHat*math.Pow(2, float64(s.mu)))/(1-math.Pow(float64(nVocab), -epsHat)), 1/sHat)
		if !math.IsNaN(kf) && kf < float64(k) {
			k = int(kf)
		}
	}
	a.TopK(max(k, 1), 1)

	id, p := s.weighted(a)
	s.updateMu(p)
	return id
}

// mirostatV2 keeps only the tokens whose surprise does not exceed mu.
func (s *Sampler) mirostatV2(a *TokenDataArray) int {
	a.Softmax()

	keep := len(a.Data)
	for i, d := range a.Data {
		if -math.Log2(float64(d.P)) > float64(s.mu) {
			keep = i
			break
		}
	}
	a.Data = a.Data[:max(keep, 1)]

	id, p := s.weighted(a)
	s.updateMu(p)
	return id
}

func (s *Sampler) updateMu(p float32) {
	observed := float32(-math.Log2(float64(p)))
	s.mu -= s.cfg.MirostatEta * (observed - s.cfg.MirostatTau)
}
