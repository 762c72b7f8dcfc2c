package logits

import (
	"math"
	"math/rand"
	"sort"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed        int64
	Temperature float32

	// TopK keeps only the k most likely tokens. Zero or negative
	// disables the filter, as does any k at or above the vocab size.
	TopK int

	// TopP keeps the smallest set of tokens whose cumulative probability
	// reaches p (nucleus sampling). Values outside (0, 1) disable it.
	TopP float32
}

// Sampler draws the next token id from a logit vector. Temperature zero is
// pure argmax; otherwise a categorical draw over the filtered, softmaxed
// distribution. The RNG is seeded once, so a fixed seed gives a fixed
// token sequence for fixed logits.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool

	idx  []int
	work []float32
	prob []float64
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if greedy {
		cfg.Temperature = 1
	}
	if cfg.TopP <= 0 || cfg.TopP >= 1 {
		cfg.TopP = 1
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Greedy reports whether the sampler always returns the argmax.
func (s *Sampler) Greedy() bool { return s.greedy }

// Sample draws a single index from the provided logits vector:
//
//  1. Non-finite logits are treated as negative infinity.
//  2. Temperature zero returns the argmax, first occurrence winning ties.
//  3. If TopP is active, the nucleus is chosen by a softmax over the
//     unscaled logits at temperature one; the cumulative cut happens
//     before any temperature is applied.
//  4. If TopK is active, the shortlist is additionally capped at k.
//  5. A second softmax at the requested temperature (max-subtracted for
//     stability) produces the sampling distribution over the shortlist.
//  6. A uniform draw selects the token. A fully degenerate vector falls
//     back to a uniform pick over the whole vocab.
func (s *Sampler) Sample(logits []float32) int {
	if len(logits) == 0 {
		panic("sampler: empty logits")
	}

	if cap(s.work) < len(logits) {
		s.work = make([]float32, len(logits))
	}
	work := s.work[:len(logits)]
	for i, v := range logits {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			work[i] = negInf
		} else {
			work[i] = v
		}
	}

	if s.greedy {
		return argmax(work)
	}

	if cap(s.idx) < len(work) {
		s.idx = make([]int, len(work))
	}
	idx := s.idx[:len(work)]
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return work[idx[a]] > work[idx[b]]
	})

	cut := len(idx)
	if s.cfg.TopP < 1 {
		cut = s.nucleusCut(work, idx)
	}
	if k := s.cfg.TopK; k > 0 && k < cut {
		cut = k
	}

	if cap(s.prob) < cut {
		s.prob = make([]float64, cut)
	}
	prob := s.prob[:cut]
	maxv := work[idx[0]]
	invTemp := float64(1) / float64(s.cfg.Temperature)
	var sum float64
	for i := 0; i < cut; i++ {
		e := math.Exp(float64(work[idx[i]]-maxv) * invTemp)
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		// Everything was masked away; fall back to a uniform in-range pick.
		return s.rng.Intn(len(logits))
	}

	r := s.rng.Float64() * sum
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r <= c {
			return idx[i]
		}
	}
	return idx[cut-1]
}

// nucleusCut returns the shortlist length after the top-p filter. The
// membership probabilities come from a temperature-one softmax over the
// whole vector, independent of the sampling temperature.
func (s *Sampler) nucleusCut(work []float32, idx []int) int {
	maxv := work[idx[0]]
	if math.IsInf(float64(maxv), -1) {
		return 1
	}
	var sum float64
	for _, v := range work {
		sum += math.Exp(float64(v - maxv))
	}
	if sum == 0 {
		return 1
	}
	target := float64(s.cfg.TopP)
	var c float64
	for i, id := range idx {
		c += math.Exp(float64(work[id]-maxv)) / sum
		if c >= target {
			return i + 1
		}
	}
	return len(idx)
}

// argmax returns the index of the maximum value in the slice, preferring the
// first occurrence on ties. If the slice is empty it panics.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
