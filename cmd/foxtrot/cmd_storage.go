package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tomyan/foxtrot/internal/session"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

func newCookiesCmd(a *app) *cobra.Command {
	var clearAll bool
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "List cookies for the current page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				if clearAll {
					if err := s.DeleteAllCookies(ctx); err != nil {
						return nil, err
					}
					return CookiesResult{Cookies: []webdriver.Cookie{}, Cleared: true}, nil
				}
				cookies, err := s.Cookies(ctx)
				if err != nil {
					return nil, err
				}
				if cookies == nil {
					cookies = []webdriver.Cookie{}
				}
				return CookiesResult{Cookies: cookies}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete all cookies for the current page")
	return cmd
}
