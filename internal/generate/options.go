// Package generate drives the token-by-token decode loops: prefill and
// decode for causal models, encoder plus decode for encoder-decoder models.
// Each Generate call owns its cache and state; calls never share anything
// mutable.
package generate

import (
	"time"

	"github.com/strand-ml/strand/internal/model"
)

// StreamFunc receives incremental output. It is called with final=false for
// each safe-to-emit chunk and exactly once with final=true when the call
// ends, carrying whatever text remained held back.
type StreamFunc func(text string, final bool)

// Options are the caller-facing generation knobs. Nil fields fall back to
// the model's generation defaults, then to fixed values.
type Options struct {
	MaxNewTokens      *int
	Temperature       *float32
	TopK              *int
	TopP              *float32
	RepetitionPenalty *float32
	NoRepeatNgram     *int
	Seed              *int64

	// Stop sequences end generation as soon as one appears in the
	// decoded text; output is truncated at the earliest match start.
	Stop []string

	Stream StreamFunc
}

// Resolved is the settled configuration a single call runs with.
type Resolved struct {
	MaxNewTokens      int
	Temperature       float32
	TopK              int
	TopP              float32
	RepetitionPenalty float32
	NoRepeatNgram     int
	Seed              int64
	Stop              []string
	Stream            StreamFunc
}

const defaultMaxNewTokens = 512

// Resolve settles options in priority order: caller override, model
// generation defaults, fixed fallbacks. The fixed fallback is greedy
// decoding with no filters.
func Resolve(opts Options, defaults model.GenerationDefaults) Resolved {
	r := Resolved{
		MaxNewTokens:      defaultMaxNewTokens,
		Temperature:       0,
		TopK:              0,
		TopP:              1,
		RepetitionPenalty: 1,
		NoRepeatNgram:     0,
		Seed:              time.Now().UnixNano(),
		Stop:              opts.Stop,
		Stream:            opts.Stream,
	}

	if defaults.MaxNewTokens != nil && *defaults.MaxNewTokens > 0 {
		r.MaxNewTokens = *defaults.MaxNewTokens
	}
	if defaults.Temperature != nil && *defaults.Temperature >= 0 {
		r.Temperature = *defaults.Temperature
	}
	if defaults.TopK != nil && *defaults.TopK > 0 {
		r.TopK = *defaults.TopK
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		r.TopP = *defaults.TopP
	}
	if defaults.RepetitionPenalty != nil && *defaults.RepetitionPenalty > 0 {
		r.RepetitionPenalty = *defaults.RepetitionPenalty
	}
	if defaults.NoRepeatNgram != nil && *defaults.NoRepeatNgram > 0 {
		r.NoRepeatNgram = *defaults.NoRepeatNgram
	}

	if opts.MaxNewTokens != nil && *opts.MaxNewTokens > 0 {
		r.MaxNewTokens = *opts.MaxNewTokens
	}
	if opts.Temperature != nil {
		r.Temperature = *opts.Temperature
	}
	if opts.TopK != nil {
		r.TopK = *opts.TopK
	}
	if opts.TopP != nil {
		r.TopP = *opts.TopP
	}
	if opts.RepetitionPenalty != nil {
		r.RepetitionPenalty = *opts.RepetitionPenalty
	}
	if opts.NoRepeatNgram != nil {
		r.NoRepeatNgram = *opts.NoRepeatNgram
	}
	if opts.Seed != nil {
		r.Seed = *opts.Seed
	}
	return r
}
