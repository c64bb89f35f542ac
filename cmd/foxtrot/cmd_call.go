package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomyan/foxtrot/internal/session"
)

// rawCaller sends an arbitrary protocol command. Both clients implement it.
type rawCaller interface {
	Call(ctx context.Context, command string, params interface{}) (json.RawMessage, error)
}

func newCallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call <command> [params-json]",
		Short: "Send a raw protocol command",
		Long: `Send a raw command over the connected transport and print the result.
Marionette commands look like WebDriver:GetTitle, BiDi methods like
browsingContext.getTree. Params default to {}.`,
		Example: `  foxtrot call WebDriver:GetTitle
  foxtrot --transport bidi call browsingContext.getTree '{"maxDepth":0}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[0]
			params := json.RawMessage(`{}`)
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params are not valid JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}

			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				caller, ok := s.Driver().(rawCaller)
				if !ok {
					return nil, fmt.Errorf("transport %s does not accept raw commands", a.cfg.Transport)
				}
				result, err := caller.Call(ctx, command, params)
				if err != nil {
					return nil, err
				}
				if len(result) == 0 {
					result = json.RawMessage(`null`)
				}
				return rawJSON(result), nil
			})
		},
	}
}
