package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPipeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pipe",
		Short: "Run commands read from stdin over one connection",
		Long: `Read one command per line from stdin and run them in order against a
single browser session. Blank lines and lines starting with # are skipped.
Global flags apply from the pipe invocation; on a line they are ignored. The
first failing line stops the run.`,
		Example: `  printf 'goto https://example.com\nwait h1 --print-text\n' | foxtrot pipe`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner := bufio.NewScanner(a.env.Stdin)
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}

				parts := splitArgs(line)
				if len(parts) == 0 {
					continue
				}
				if parts[0] == "pipe" {
					return fmt.Errorf("line %d: pipe cannot be nested", lineNo)
				}

				sub := newRootCmd(a)
				// keep the configuration resolved for the pipe itself
				sub.PersistentPreRunE = nil
				sub.SetArgs(parts)
				sub.SetIn(a.env.Stdin)
				sub.SetOut(a.env.Stdout)
				sub.SetErr(a.env.Stderr)
				if err := sub.Execute(); err != nil {
					return fmt.Errorf("line %d: %w", lineNo, err)
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			return nil
		},
	}
}

// splitArgs splits a command line into arguments. Single or double quotes
// group words; there are no escapes.
func splitArgs(line string) []string {
	var (
		args    []string
		current strings.Builder
		quote   byte
		inArg   bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				current.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
			inArg = true
		case c == ' ' || c == '\t':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteByte(c)
			inArg = true
		}
	}
	if inArg {
		args = append(args, current.String())
	}
	return args
}
