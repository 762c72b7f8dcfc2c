package generate

import (
	"context"
	"fmt"

	"github.com/strand-ml/strand/internal/executor"
	"github.com/strand-ml/strand/internal/logger"
	"github.com/strand-ml/strand/internal/model"
	"github.com/strand-ml/strand/internal/tokenizer"
)

// Engine drives decoder-only generation: one prefill pass over the whole
// prompt with an empty cache, then single-token decode passes. The
// tokenizer and descriptor are shared; everything mutable is per call.
type Engine struct {
	exec executor.Executor
	tok  *tokenizer.Tokenizer
	desc *model.Descriptor
	log  logger.Logger
}

func NewEngine(exec executor.Executor, tok *tokenizer.Tokenizer, desc *model.Descriptor, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{exec: exec, tok: tok, desc: desc, log: log}
}

// Generate produces a completion for the prompt. Cancelling the context
// ends the call at the next iteration boundary and returns the partial
// result without error.
func (e *Engine) Generate(ctx context.Context, prompt string, opts Options) (*Result, error) {
	res := Resolve(opts, e.desc.Defaults)

	promptIDs, err := e.tok.Encode(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	if len(promptIDs) == 0 {
		return nil, fmt.Errorf("empty prompt")
	}

	l, err := newLoop(e.exec, e.tok, e.desc, res, false)
	if err != nil {
		return nil, err
	}
	defer l.close()

	e.log.Debug("prefill", "prompt_tokens", len(promptIDs), "max_new_tokens", res.MaxNewTokens)
	row, err := l.forward(ctx, promptIDs)
	if err != nil {
		return nil, err
	}

	out, err := l.run(ctx, row)
	if err != nil {
		return nil, err
	}
	out.Stats.PromptTokens = len(promptIDs)
	e.log.Debug("generation finished",
		"reason", out.Reason,
		"tokens", out.Stats.TokensGenerated,
		"tps", out.Stats.TPS,
	)
	return out, nil
}

// Close releases the executor session.
func (e *Engine) Close() error {
	return e.exec.Close()
}
