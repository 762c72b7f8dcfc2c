package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/strand-ml/strand/internal/api"
	"github.com/strand-ml/strand/internal/generate"
	"github.com/strand-ml/strand/internal/logger"
)

func runCmd() *cli.Command {
	var (
		prompt   string
		noStream bool
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:    "max-tokens",
			Aliases: []string{"n"},
			Usage:   "maximum number of tokens to generate",
		},
		&cli.Float64Flag{
			Name:    "temperature",
			Aliases: []string{"temp", "t"},
			Usage:   "sampling temperature (0 = greedy)",
		},
		&cli.Int64Flag{
			Name:  "top-k",
			Usage: "top-k sampling cutoff (0 = disabled)",
		},
		&cli.Float64Flag{
			Name:  "top-p",
			Usage: "nucleus sampling threshold (1 = disabled)",
		},
		&cli.Float64Flag{
			Name:  "repetition-penalty",
			Usage: "repetition penalty (1 = disabled)",
		},
		&cli.Int64Flag{
			Name:  "no-repeat-ngram",
			Usage: "ban repeating n-grams of this size (0 = disabled)",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "sampling seed",
		},
		&cli.StringSliceFlag{
			Name:  "stop",
			Usage: "stop sequence, repeatable",
		},
		&cli.BoolFlag{
			Name:        "no-stream",
			Usage:       "print the full completion at once instead of streaming",
			Destination: &noStream,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate a completion for a prompt",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(c, cfg)
			log := newLogger()

			if prompt == "" {
				return cli.Exit("error: --prompt is required", 1)
			}

			provider := api.NewCachedProvider(api.ProviderConfig{
				DefaultModelDir: modelDir,
				ModelsDir:       modelsDir,
				Loader: func(dir string) (api.Engine, error) {
					log.Info("loading model", "dir", dir)
					return loadEngine(dir, log)
				},
			})
			defer func() { _ = provider.Close() }()

			opts := buildOptions(c, cfg)
			if !noStream {
				opts.Stream = func(text string, final bool) {
					fmt.Print(text)
				}
			}

			var result *generate.Result
			err := provider.WithEngine(ctx, "", func(engine api.Engine) error {
				var err error
				result, err = engine.Generate(ctx, prompt, opts)
				return err
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: generate: %v", err), 1)
			}

			if noStream {
				fmt.Println(result.Text)
			} else {
				fmt.Println()
			}
			printStats(log, result)
			return nil
		},
	}
}

// buildOptions settles sampling knobs from the flags and the config file.
// Untouched knobs stay nil so the model's own generation defaults apply.
func buildOptions(c *cli.Command, cfg Config) generate.Options {
	var opts generate.Options

	if c.IsSet("max-tokens") {
		opts.MaxNewTokens = intp(int(c.Int("max-tokens")))
	} else if cfg.MaxTokens != nil {
		opts.MaxNewTokens = intp(int(*cfg.MaxTokens))
	}
	if c.IsSet("temperature") {
		opts.Temperature = f32p(float32(c.Float("temperature")))
	} else if cfg.Temperature != nil {
		opts.Temperature = f32p(float32(*cfg.Temperature))
	}
	if c.IsSet("top-k") {
		opts.TopK = intp(int(c.Int("top-k")))
	} else if cfg.TopK != nil {
		opts.TopK = intp(int(*cfg.TopK))
	}
	if c.IsSet("top-p") {
		opts.TopP = f32p(float32(c.Float("top-p")))
	} else if cfg.TopP != nil {
		opts.TopP = f32p(float32(*cfg.TopP))
	}
	if c.IsSet("repetition-penalty") {
		opts.RepetitionPenalty = f32p(float32(c.Float("repetition-penalty")))
	} else if cfg.RepetitionPenalty != nil {
		opts.RepetitionPenalty = f32p(float32(*cfg.RepetitionPenalty))
	}
	if c.IsSet("no-repeat-ngram") {
		opts.NoRepeatNgram = intp(int(c.Int("no-repeat-ngram")))
	}
	if c.IsSet("seed") {
		opts.Seed = i64p(int64(c.Int("seed")))
	} else if cfg.Seed != nil {
		opts.Seed = i64p(*cfg.Seed)
	}
	opts.Stop = c.StringSlice("stop")
	return opts
}

func printStats(log logger.Logger, result *generate.Result) {
	_, _ = fmt.Fprintf(os.Stderr, "\n[%d tokens, %.2f tok/s, stopped: %s]\n",
		result.Stats.TokensGenerated, result.Stats.TPS, result.Reason)
	log.Debug("generation stats",
		"prompt_tokens", result.Stats.PromptTokens,
		"tokens", result.Stats.TokensGenerated,
		"duration", result.Stats.Duration,
		"reason", result.Reason,
	)
}

func intp(v int) *int         { return &v }
func i64p(v int64) *int64     { return &v }
func f32p(v float32) *float32 { return &v }
