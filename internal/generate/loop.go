package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/strand-ml/strand/internal/executor"
	"github.com/strand-ml/strand/internal/kvcache"
	"github.com/strand-ml/strand/internal/logits"
	"github.com/strand-ml/strand/internal/model"
	"github.com/strand-ml/strand/internal/tokenizer"
)

// Stats summarises one generation call.
type Stats struct {
	PromptTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Result is the outcome of one generation call. Text is already truncated
// for stop sequences and excludes the EOS token.
type Result struct {
	Text     string
	TokenIDs []int
	Reason   StopReason
	Stats    Stats
}

// loop is the single-call decode state shared by the causal and
// encoder-decoder engines. It owns the cache and the generated sequence.
type loop struct {
	exec   executor.Executor
	tok    *tokenizer.Tokenizer
	desc   *model.Descriptor
	cache  *kvcache.Cache
	res    Resolved
	encDec bool

	inputs []string
	// extra tensors fed on every forward pass, e.g. encoder hidden
	// states and the encoder attention mask on seq2seq models.
	extra []executor.NamedTensor

	chain     logits.Chain
	sampler   *logits.Sampler
	crit      criteria
	stream    *streamer
	generated []int
}

func newLoop(exec executor.Executor, tok *tokenizer.Tokenizer, desc *model.Descriptor, res Resolved, encDec bool) (*loop, error) {
	cache, err := kvcache.New(kvcache.Config{
		Layers:         desc.Layers,
		KVHeads:        desc.KVHeads,
		HeadDim:        desc.HeadDim,
		EncoderDecoder: encDec,
	})
	if err != nil {
		return nil, err
	}

	var chain logits.Chain
	if res.RepetitionPenalty > 0 && res.RepetitionPenalty != 1 {
		chain = append(chain, logits.NewRepetitionPenalty(res.RepetitionPenalty))
	}
	if res.NoRepeatNgram > 0 {
		chain = append(chain, logits.NewNoRepeatNgram(res.NoRepeatNgram))
	}
	if encDec && desc.ForcedBOS >= 0 {
		chain = append(chain, logits.NewForcedToken(map[int]int{0: desc.ForcedBOS}))
	}

	eos := desc.EOS
	if tok.EOSID() >= 0 && len(eos) == 0 {
		eos = []int{tok.EOSID()}
	}

	return &loop{
		exec:   exec,
		tok:    tok,
		desc:   desc,
		cache:  cache,
		res:    res,
		encDec: encDec,
		inputs: exec.Inputs(),
		chain:  chain,
		sampler: logits.NewSampler(logits.SamplerConfig{
			Seed:        res.Seed,
			Temperature: res.Temperature,
			TopK:        res.TopK,
			TopP:        res.TopP,
		}),
		crit:   newCriteria(res, eos),
		stream: newStreamer(res.Stream, res.Stop),
	}, nil
}

func (l *loop) close() {
	l.cache.Close()
}

// forward runs one pass over ids, updates the cache and returns the logits
// row for the last position.
func (l *loop) forward(ctx context.Context, ids []int) ([]float32, error) {
	n := len(ids)
	past := l.cache.SeqLen()

	tokens := make([]int64, n)
	for i, id := range ids {
		tokens[i] = int64(id)
	}
	in := []executor.NamedTensor{
		executor.Int64(executor.InputIDs, []int64{1, int64(n)}, tokens),
	}
	if executor.HasInput(l.inputs, executor.AttentionMask) {
		mask := make([]int64, past+n)
		for i := range mask {
			mask[i] = 1
		}
		in = append(in, executor.Int64(executor.AttentionMask, []int64{1, int64(past + n)}, mask))
	}
	if executor.HasInput(l.inputs, executor.PositionIDs) {
		pos := make([]int64, n)
		for i := range pos {
			pos[i] = int64(past + i)
		}
		in = append(in, executor.Int64(executor.PositionIDs, []int64{1, int64(n)}, pos))
	}
	if executor.WantsPast(l.inputs) {
		self, err := l.cache.SelfTensors()
		if err != nil {
			return nil, err
		}
		in = append(in, self...)
		if l.encDec && l.cache.HasCross() {
			cross, err := l.cache.CrossTensors()
			if err != nil {
				return nil, err
			}
			in = append(in, cross...)
		}
	}
	in = append(in, l.extra...)

	out, err := l.exec.Forward(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}

	lg, ok := executor.ByName(out, executor.Logits)
	if !ok {
		return nil, fmt.Errorf("forward pass returned no %s tensor", executor.Logits)
	}
	data, err := lg.Floats()
	if err != nil {
		return nil, err
	}
	vocab := lg.Dim(len(lg.Shape) - 1)
	if vocab <= 0 || len(data) < vocab {
		return nil, fmt.Errorf("malformed logits tensor: shape %v", lg.Shape)
	}
	row := make([]float32, vocab)
	copy(row, data[len(data)-vocab:])

	if err := l.cache.Update(out, n); err != nil {
		return nil, err
	}
	if l.encDec && !l.cache.HasCross() {
		if err := l.cache.SealCross(); err != nil {
			return nil, fmt.Errorf("cross-attention cache: %w", err)
		}
	}
	return row, nil
}

// run is the decode phase: sample, evaluate stopping rules, stream, feed
// the token back. row is the logits row produced by the preceding prefill
// or seed pass. Cancellation is honoured at iteration boundaries and
// returns the partial result without error.
func (l *loop) run(ctx context.Context, row []float32) (*Result, error) {
	start := time.Now()
	text := ""
	for {
		select {
		case <-ctx.Done():
			l.stream.finish(text)
			return l.result(text, StopCancelled, start), nil
		default:
		}

		row = l.chain.Apply(row, l.generated)
		next := l.sampler.Sample(row)
		l.generated = append(l.generated, next)

		prevText := text
		decoded, err := l.tok.Decode(l.generated)
		if err != nil {
			return nil, fmt.Errorf("decode generated ids: %w", err)
		}
		text = decoded

		done, cut, reason := l.crit.Check(l.generated, text)
		if done {
			final := text
			switch reason {
			case StopEOS:
				final = prevText
			case StopSequence:
				if cut >= 0 {
					final = text[:cut]
				}
			}
			l.stream.finish(final)
			return l.result(final, reason, start), nil
		}
		l.stream.push(text)

		row, err = l.forward(ctx, []int{next})
		if err != nil {
			return nil, err
		}
	}
}

func (l *loop) result(text string, reason StopReason, start time.Time) *Result {
	stats := Stats{
		TokensGenerated: len(l.generated),
		Duration:        time.Since(start),
	}
	if s := stats.Duration.Seconds(); s > 0 {
		stats.TPS = float64(stats.TokensGenerated) / s
	}
	return &Result{
		Text:     text,
		TokenIDs: append([]int(nil), l.generated...),
		Reason:   reason,
		Stats:    stats,
	}
}
