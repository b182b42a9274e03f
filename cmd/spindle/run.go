package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/inference"
	"github.com/samcharles93/spindle/internal/loader"
	"github.com/samcharles93/spindle/internal/logger"
)

func runCmd() *cli.Command {
	var (
		prompt     string
		promptFile string
		echoPrompt bool
		streamMode string
		showConfig bool
		sampling   samplingFlags
	)

	flags := append(commonModelFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "prompt text (empty starts an interactive session)",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "file",
			Aliases:     []string{"f"},
			Usage:       "read the prompt from a file",
			Destination: &promptFile,
		},
		&cli.BoolFlag{
			Name:        "echo",
			Usage:       "print the prompt before the completion",
			Destination: &echoPrompt,
		},
		&cli.StringFlag{
			Name:        "stream-mode",
			Usage:       "output mode (instant, smooth, quiet)",
			Value:       string(StreamInstant),
			Destination: &streamMode,
		},
		&cli.BoolFlag{
			Name:        "show-config",
			Usage:       "print backend, tokenizer and context summary",
			Value:       true,
			Destination: &showConfig,
		},
	)
	flags = append(flags, sampling.flags()...)

	return &cli.Command{
		Name:   "run",
		Usage:  "Complete a prompt, or chat with the model interactively",
		Flags:  flags,
		Before: setup,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applySamplingConfig(c, loaded, &sampling)
			if loaded.StreamMode != "" && !c.IsSet("stream-mode") {
				streamMode = loaded.StreamMode
			}
			mode, err := parseStreamMode(streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if promptFile != "" {
				data, err := os.ReadFile(promptFile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read prompt: %v", err), 1)
				}
				prompt = string(data)
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
			log.Debug("model loaded", "elapsed", time.Since(loadStart))

			if showConfig {
				printSummary(os.Stderr, res)
			}

			session := &runSession{
				engine:   res.Engine,
				defaults: res.GenerationDefaults,
				sampling: &sampling,
				cmd:      c,
				mode:     mode,
				echo:     echoPrompt,
				out:      os.Stdout,
				stats:    os.Stderr,
			}
			if prompt != "" {
				_, err := session.complete(ctx, prompt)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				return nil
			}
			return session.interactive(ctx, os.Stdin)
		},
	}
}

func printSummary(w io.Writer, res *loader.LoadResult) {
	info := res.Engine.Metadata()
	_, _ = fmt.Fprintf(w, "model=%s backend=%s tokenizer=%s vocab=%d ctx=%d\n",
		res.Engine.ModelName(), res.Backend, res.Tokenizer, info.Vocab, res.Engine.NCtx())
	gen := res.GenerationDefaults
	if gen.Temperature != nil || gen.TopK != nil || gen.TopP != nil || gen.RepetitionPenalty != nil {
		_, _ = fmt.Fprintln(w, "sampling defaults from generation_config.json")
	}
}

type runSession struct {
	engine   *inference.Engine
	defaults inference.GenDefaults
	sampling *samplingFlags
	cmd      *cli.Command
	mode     StreamMode
	echo     bool
	out      io.Writer
	stats    io.Writer
}

func (s *runSession) complete(ctx context.Context, prompt string) (string, error) {
	opts, err := s.sampling.options(s.cmd, prompt)
	if err != nil {
		return "", err
	}
	opts.Echo = &s.echo
	req, err := inference.ResolveCompletion(opts, s.defaults)
	if err != nil {
		return "", err
	}

	sw := NewStreamWriter(s.out, s.mode)
	start := time.Now()
	res, err := s.engine.Complete(ctx, req, sw.Write)
	text := sw.Close()
	_, _ = fmt.Fprintln(s.out)
	if err != nil {
		return text, err
	}

	elapsed := time.Since(start)
	tps := 0.0
	if elapsed > 0 {
		tps = float64(res.Usage.CompletionTokens) / elapsed.Seconds()
	}
	_, _ = fmt.Fprintf(s.stats, "prompt=%d completion=%d finish=%s %.2f tok/s (%s)\n",
		res.Usage.PromptTokens, res.Usage.CompletionTokens, res.FinishReason, tps, elapsed.Round(time.Millisecond))
	if s.echo {
		text = strings.TrimPrefix(text, prompt)
	}
	return text, nil
}

// interactive keeps a running transcript so each turn only evaluates the
// new text; the engine reuses the common prefix.
func (s *runSession) interactive(ctx context.Context, in io.Reader) error {
	_, _ = fmt.Fprintln(s.stats, "Interactive mode. Type /exit to quit, /reset to clear the context.")
	s.echo = false
	scanner := bufio.NewScanner(in)
	var transcript strings.Builder
	for {
		_, _ = fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := scanner.Text()
		switch strings.TrimSpace(input) {
		case "":
			continue
		case "/exit":
			return nil
		case "/reset":
			transcript.Reset()
			continue
		}

		turn := transcript.String() + input + "\n"
		text, err := s.complete(ctx, turn)
		if errors.Is(err, inference.ErrContextOverflow) && transcript.Len() > 0 {
			_, _ = fmt.Fprintln(s.stats, "context full; starting over")
			transcript.Reset()
			turn = input + "\n"
			text, err = s.complete(ctx, turn)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			_, _ = fmt.Fprintln(s.stats, "error:", err)
			continue
		}
		transcript.Reset()
		transcript.WriteString(turn)
		transcript.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			transcript.WriteByte('\n')
		}
	}
}
