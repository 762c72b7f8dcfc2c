package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/strand-ml/strand/internal/executor"
	"github.com/strand-ml/strand/internal/logger"
	"github.com/strand-ml/strand/internal/model"
	"github.com/strand-ml/strand/internal/tokenizer"
)

// Seq2Seq drives encoder-decoder generation: one encoder pass over the
// source, whose hidden states feed every decoder step, then a decode loop
// seeded with the decoder-start token. The cross-attention cache is written
// by the first decoder pass and fixed afterwards.
type Seq2Seq struct {
	encoder executor.Executor
	decoder executor.Executor
	tok     *tokenizer.Tokenizer
	desc    *model.Descriptor
	log     logger.Logger
}

func NewSeq2Seq(encoder, decoder executor.Executor, tok *tokenizer.Tokenizer, desc *model.Descriptor, log logger.Logger) (*Seq2Seq, error) {
	if !desc.EncoderDecoder {
		return nil, fmt.Errorf("model is not encoder-decoder")
	}
	if log == nil {
		log = logger.Default()
	}
	return &Seq2Seq{encoder: encoder, decoder: decoder, tok: tok, desc: desc, log: log}, nil
}

// Generate translates or transforms the source text. Cancellation behaves
// as in Engine.Generate: partial result, no error.
func (s *Seq2Seq) Generate(ctx context.Context, source string, opts Options) (*Result, error) {
	res := Resolve(opts, s.desc.Defaults)

	srcIDs, err := s.tok.Encode(source)
	if err != nil {
		return nil, fmt.Errorf("encode source: %w", err)
	}
	if len(srcIDs) == 0 {
		return nil, fmt.Errorf("empty source")
	}

	hidden, mask, err := s.encode(ctx, srcIDs)
	if err != nil {
		return nil, err
	}

	l, err := newLoop(s.decoder, s.tok, s.desc, res, true)
	if err != nil {
		return nil, err
	}
	defer l.close()

	decoderInputs := s.decoder.Inputs()
	if executor.HasInput(decoderInputs, executor.EncoderHiddenStates) {
		l.extra = append(l.extra, hidden)
	}
	if executor.HasInput(decoderInputs, executor.EncoderAttentionMask) {
		l.extra = append(l.extra, mask)
	}

	s.log.Debug("decoder seed", "source_tokens", len(srcIDs), "decoder_start", s.desc.DecoderStart)
	row, err := l.forward(ctx, []int{s.desc.DecoderStart})
	if err != nil {
		return nil, err
	}

	out, err := l.run(ctx, row)
	if err != nil {
		return nil, err
	}
	out.Stats.PromptTokens = len(srcIDs)
	s.log.Debug("generation finished",
		"reason", out.Reason,
		"tokens", out.Stats.TokensGenerated,
		"tps", out.Stats.TPS,
	)
	return out, nil
}

// encode runs the single encoder pass and returns the hidden states and
// source attention mask shaped for the decoder.
func (s *Seq2Seq) encode(ctx context.Context, srcIDs []int) (executor.NamedTensor, executor.NamedTensor, error) {
	n := len(srcIDs)
	tokens := make([]int64, n)
	maskData := make([]int64, n)
	for i, id := range srcIDs {
		tokens[i] = int64(id)
		maskData[i] = 1
	}
	in := []executor.NamedTensor{
		executor.Int64(executor.InputIDs, []int64{1, int64(n)}, tokens),
		executor.Int64(executor.AttentionMask, []int64{1, int64(n)}, maskData),
	}
	out, err := s.encoder.Forward(ctx, in)
	if err != nil {
		return executor.NamedTensor{}, executor.NamedTensor{}, fmt.Errorf("encoder pass: %w", err)
	}
	hidden, ok := executor.ByName(out, executor.LastHiddenState)
	if !ok {
		hidden, ok = executor.ByName(out, executor.EncoderHiddenStates)
	}
	if !ok {
		return executor.NamedTensor{}, executor.NamedTensor{}, fmt.Errorf("encoder pass returned no hidden states")
	}
	hidden.Name = executor.EncoderHiddenStates
	mask := executor.Int64(executor.EncoderAttentionMask, []int64{1, int64(n)}, maskData)
	return hidden, mask, nil
}

// Close releases both executor sessions.
func (s *Seq2Seq) Close() error {
	return errors.Join(s.encoder.Close(), s.decoder.Close())
}
