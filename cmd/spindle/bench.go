package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/logger"
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
			Usage:       "number of benchmark runs",
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
			Usage:       "number of tokens to generate per run",
			Value:       128,
			Destination: &steps,
		},
	)

	return &cli.Command{
		Name:   "bench",
		Usage:  "Measure prompt evaluation and generation throughput",
		Flags:  flags,
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if benchRuns < 1 {
				return cli.Exit("error: --runs must be at least 1", 1)
			}

			path, err := resolveRunModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
			}
			loadStart := time.Now()
			opts := engineOptions(false)
			opts.Logger = log
			res, err := newLoader().Load(path, opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = res.Engine.Close() }()
			loadDuration := time.Since(loadStart)

			// Alternating prompts defeat prefix reuse so every run pays for
			// the full prompt.
			prompts := [2]string{prompt, " " + prompt}
			n := int(steps)
			seed := int64(42)
			temp := 0.0
			req, err := inference.ResolveCompletion(inference.CompletionOptions{
				MaxTokens:   &n,
				Seed:        &seed,
				Temperature: &temp,
			}, res.GenerationDefaults)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			fmt.Println("=== Spindle Benchmark ===")
			fmt.Printf("Model:      %s\n", res.Engine.ModelName())
			fmt.Printf("Backend:    %s\n", res.Backend)
			fmt.Printf("Tokenizer:  %s\n", res.Tokenizer)
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Load:       %s\n", loadDuration.Round(time.Millisecond))
			fmt.Printf("Steps:      %d tokens\n", steps)
			fmt.Println()

			total := int(warmupRuns + benchRuns)
			bar := progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("Benchmarking"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)

			results := make([]benchResult, 0, benchRuns)
			for i := range total {
				req.Prompt = prompts[i%2]
				r, err := benchOnce(ctx, res.Engine, req)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: run %d: %v", i+1, err), 1)
				}
				_ = bar.Add(1)
				if i >= int(warmupRuns) {
					results = append(results, r)
				}
			}
			_ = bar.Finish()

			printBenchResults(os.Stdout, results)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))
			return nil
		},
	}
}

type benchResult struct {
	PromptTokens int
	Tokens       int
	FirstToken   time.Duration
	Duration     time.Duration
}

// PromptTPS counts prompt tokens over the time to the first streamed text.
func (r benchResult) PromptTPS() float64 {
	if r.FirstToken <= 0 {
		return 0
	}
	return float64(r.PromptTokens) / r.FirstToken.Seconds()
}

func (r benchResult) GenTPS() float64 {
	gen := r.Duration - r.FirstToken
	if gen <= 0 || r.Tokens <= 1 {
		return 0
	}
	return float64(r.Tokens-1) / gen.Seconds()
}

func benchOnce(ctx context.Context, engine *inference.Engine, req inference.CompletionRequest) (benchResult, error) {
	start := time.Now()
	var first time.Duration
	res, err := engine.Complete(ctx, req, func(string) {
		if first == 0 {
			first = time.Since(start)
		}
	})
	if err != nil {
		return benchResult{}, err
	}
	return benchResult{
		PromptTokens: res.Usage.PromptTokens,
		Tokens:       res.Usage.CompletionTokens,
		FirstToken:   first,
		Duration:     time.Since(start),
	}, nil
}

func printBenchResults(w io.Writer, results []benchResult) {
	_, _ = fmt.Fprintln(w, "=== Results ===")
	_, _ = fmt.Fprintf(w, "%-6s %10s %10s %10s %8s\n", "Run", "Prompt", "Gen", "Duration", "Tokens")
	_, _ = fmt.Fprintf(w, "%-6s %10s %10s %10s %8s\n", "---", "tps", "tps", "", "")

	var sumPrompt, sumGen float64
	for i, r := range results {
		_, _ = fmt.Fprintf(w, "%-6d %10.2f %10.2f %10s %8d\n",
			i+1, r.PromptTPS(), r.GenTPS(), r.Duration.Round(time.Millisecond), r.Tokens)
		sumPrompt += r.PromptTPS()
		sumGen += r.GenTPS()
	}
	if len(results) == 0 {
		return
	}
	n := float64(len(results))
	_, _ = fmt.Fprintf(w, "\n%-6s %10.2f %10.2f\n", "Avg", sumPrompt/n, sumGen/n)
}
