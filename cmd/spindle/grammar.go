package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/spindle/internal/grammar"
)

func grammarCmd() *cli.Command {
	var (
		check  bool
		accept string
	)

	return &cli.Command{
		Name:      "grammar",
		Usage:     "Compile a GBNF grammar and print its rule table as JSON",
		ArgsUsage: "<file.gbnf | ->",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "check",
				Usage:       "only validate the grammar",
				Destination: &check,
			},
			&cli.StringFlag{
				Name:        "accept",
				Usage:       "report whether the grammar accepts this text",
				Destination: &accept,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			src, err := readGrammarSource(cmd.Args().First())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			rules, err := grammar.Parse(string(src))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			if cmd.IsSet("accept") {
				ok, reason := acceptsText(rules, accept)
				if !ok {
					return cli.Exit("rejected: "+reason, 1)
				}
				fmt.Println("accepted")
				return nil
			}
			if check {
				fmt.Printf("ok: %d rules\n", len(rules.Rules))
				return nil
			}

			out, err := json.MarshalIndent(rules, "", "  ")
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: encode rules: %v", err), 1)
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func readGrammarSource(path string) ([]byte, error) {
	switch path {
	case "":
		return nil, fmt.Errorf("grammar file is required (use - for stdin)")
	case "-":
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// acceptsText reports whether text is a complete sentence of the grammar.
func acceptsText(rules *grammar.Rules, text string) (bool, string) {
	g, err := grammar.New(rules)
	if err != nil {
		return false, err.Error()
	}
	if err := g.AcceptString(text); err != nil {
		return false, err.Error()
	}
	if !g.CanEnd() {
		return false, "input ends before the grammar completes"
	}
	return true, ""
}
