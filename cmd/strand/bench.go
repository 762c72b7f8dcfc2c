package main

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/strand-ml/strand/internal/api"
	"github.com/strand-ml/strand/internal/generate"
)

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		prompt     string
		steps      int64
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of timed runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text for benchmarking",
			Value:       "Explain the theory of relativity in simple terms.",
			Destination: &prompt,
		},
		&cli.Int64Flag{
			Name:        "steps",
			Aliases:     []string{"n"},
			Usage:       "tokens to generate per run",
			Value:       128,
			Destination: &steps,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Measure decode throughput",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := LoadConfig()
			applyCommonConfig(c, cfg)
			log := newLogger()

			provider := api.NewCachedProvider(api.ProviderConfig{
				DefaultModelDir: modelDir,
				ModelsDir:       modelsDir,
				Loader: func(dir string) (api.Engine, error) {
					log.Info("loading model", "dir", dir)
					return loadEngine(dir, log)
				},
			})
			defer func() { _ = provider.Close() }()

			// Greedy and bounded so every run does the same work.
			opts := generate.Options{
				MaxNewTokens: intp(int(steps)),
				Temperature:  f32p(0),
			}

			return provider.WithEngine(ctx, "", func(engine api.Engine) error {
				loadStart := time.Now()
				if _, err := engine.Generate(ctx, prompt, generate.Options{MaxNewTokens: intp(1)}); err != nil {
					return err
				}
				fmt.Printf("first token after load: %s\n", time.Since(loadStart).Round(time.Millisecond))

				for i := int64(0); i < warmupRuns; i++ {
					if _, err := engine.Generate(ctx, prompt, opts); err != nil {
						return err
					}
				}

				bar := progressbar.NewOptions(int(benchRuns),
					progressbar.OptionSetDescription("benchmarking"),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("runs"),
				)

				var totalTokens int
				var totalTime time.Duration
				var best float64
				for i := int64(0); i < benchRuns; i++ {
					result, err := engine.Generate(ctx, prompt, opts)
					if err != nil {
						return err
					}
					totalTokens += result.Stats.TokensGenerated
					totalTime += result.Stats.Duration
					if result.Stats.TPS > best {
						best = result.Stats.TPS
					}
					_ = bar.Add(1)
				}
				_ = bar.Finish()
				fmt.Println()

				mean := float64(totalTokens) / totalTime.Seconds()
				fmt.Printf("runs:        %d x %d tokens\n", benchRuns, steps)
				fmt.Printf("mean:        %.2f tok/s\n", mean)
				fmt.Printf("best:        %.2f tok/s\n", best)
				return nil
			})
		},
	}
}
