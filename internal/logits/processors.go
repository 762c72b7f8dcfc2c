// Package logits transforms and samples the vocabulary-sized logit vector a
// forward pass produces. Processors rewrite logits in a fixed order before
// the sampler draws the next token.
package logits

import "math"

var negInf = float32(math.Inf(-1))

// Processor rewrites a logit vector in place given the tokens generated so
// far in this call, and returns it. The prompt is not part of generated.
type Processor interface {
	Apply(logits []float32, generated []int) []float32
}

// Chain applies processors in order. An empty chain is a no-op.
type Chain []Processor

func (c Chain) Apply(logits []float32, generated []int) []float32 {
	for _, p := range c {
		logits = p.Apply(logits, generated)
	}
	return logits
}

// RepetitionPenalty rescales tokens that already occur in the generated
// sequence: positive logits are divided by the penalty, negative logits
// multiplied. A penalty above 1 pushes away from reselection; one below 1
// pulls towards it.
type RepetitionPenalty struct {
	Penalty float32

	seen map[int]struct{}
}

// NewRepetitionPenalty builds the processor. A penalty of 1 is the
// identity; values above 1 suppress repeated tokens, values between 0 and
// 1 favour them, applied exactly as the generation config states them.
func NewRepetitionPenalty(penalty float32) *RepetitionPenalty {
	return &RepetitionPenalty{Penalty: penalty, seen: make(map[int]struct{})}
}

func (p *RepetitionPenalty) Apply(logits []float32, generated []int) []float32 {
	if p.Penalty == 1 || p.Penalty <= 0 {
		return logits
	}
	clear(p.seen)
	for _, id := range generated {
		if id < 0 || id >= len(logits) {
			continue
		}
		if _, ok := p.seen[id]; ok {
			continue
		}
		p.seen[id] = struct{}{}
		if logits[id] > 0 {
			logits[id] /= p.Penalty
		} else {
			logits[id] *= p.Penalty
		}
	}
	return logits
}

// NoRepeatNgram bans every token that would complete an n-gram already
// present in the generated sequence.
type NoRepeatNgram struct {
	N int
}

func NewNoRepeatNgram(n int) *NoRepeatNgram {
	return &NoRepeatNgram{N: n}
}

func (p *NoRepeatNgram) Apply(logits []float32, generated []int) []float32 {
	n := p.N
	if n <= 0 || len(generated)+1 < n {
		return logits
	}
	prefix := generated[len(generated)-(n-1):]
	// Scan earlier positions for the same (n-1)-token prefix and ban
	// whichever token followed it there.
	for i := 0; i+n <= len(generated); i++ {
		if !equalIDs(generated[i:i+n-1], prefix) {
			continue
		}
		next := generated[i+n-1]
		if next >= 0 && next < len(logits) {
			logits[next] = negInf
		}
	}
	return logits
}

func equalIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ForcedToken pins the output of specific decode steps to a fixed token,
// e.g. a forced BOS or language id on encoder-decoder models. The step index
// counts generated tokens, so step 0 forces the first sampled token.
type ForcedToken struct {
	steps map[int]int
}

func NewForcedToken(steps map[int]int) *ForcedToken {
	m := make(map[int]int, len(steps))
	for step, id := range steps {
		m[step] = id
	}
	return &ForcedToken{steps: m}
}

func (p *ForcedToken) Apply(logits []float32, generated []int) []float32 {
	id, ok := p.steps[len(generated)]
	if !ok || id < 0 || id >= len(logits) {
		return logits
	}
	for i := range logits {
		logits[i] = negInf
	}
	logits[id] = 0
	return logits
}
