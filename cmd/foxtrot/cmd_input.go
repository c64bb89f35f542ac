package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomyan/foxtrot/internal/session"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

func newTypeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "type <selector> <text>",
		Short: "Click the first matching element and type into it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			selector, text := args[0], args[1]
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				if err := s.EnterTextInBox(ctx, text, selector); err != nil {
					return nil, err
				}
				return OKResult{OK: true}, nil
			})
		},
	}
}

func newKeysCmd(a *app) *cobra.Command {
	var enter bool
	cmd := &cobra.Command{
		Use:   "keys <keys>",
		Short: "Send keystrokes to the focused element",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := args[0]
			if enter {
				keys += webdriver.KeyEnter
			}
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				if err := s.SendKeys(ctx, keys); err != nil {
					return nil, err
				}
				return OKResult{OK: true}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&enter, "enter", false, "Press Enter after the keys")
	return cmd
}

func newAlertCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "alert <text|accept|dismiss|send> [text]",
		Short:     "Read or answer the open user prompt",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"text", "accept", "dismiss", "send"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			switch action {
			case "send":
				if len(args) != 2 {
					return fmt.Errorf("alert send needs the text to enter")
				}
			case "text", "accept", "dismiss":
				if len(args) != 1 {
					return fmt.Errorf("alert %s takes no text", action)
				}
			default:
				return fmt.Errorf("unknown alert action %q", action)
			}

			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				alert := s.Alert()
				result := AlertResult{Action: action}
				var err error
				switch action {
				case "text":
					result.Text, err = alert.Text(ctx)
				case "accept":
					err = alert.Accept(ctx)
				case "dismiss":
					err = alert.Dismiss(ctx)
				case "send":
					result.Text = args[1]
					err = alert.SendKeys(ctx, args[1])
				}
				if err != nil {
					return nil, err
				}
				return result, nil
			})
		},
	}
}
