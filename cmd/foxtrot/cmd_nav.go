package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tomyan/foxtrot/internal/session"
)

func newGotoCmd(a *app) *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "goto <url>",
		Short: "Navigate the current tab",
		Long: `Navigate the current tab and wait for the page to load. With --async the
location is set from script and the command returns without waiting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				if async {
					if err := s.NavigateAsync(ctx, url); err != nil {
						return nil, err
					}
					return NavigateResult{URL: url, Async: true}, nil
				}

				if err := s.Navigate(ctx, url); err != nil {
					return nil, err
				}
				current, err := s.CurrentURL(ctx)
				if err != nil {
					return nil, err
				}
				title, err := s.Title(ctx)
				if err != nil {
					return nil, err
				}
				return NavigateResult{URL: current, Title: title}, nil
			})
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Set window.location and return immediately")
	return cmd
}

func newSourceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "source",
		Short: "Print the current page's HTML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				html, err := s.PageSource(ctx)
				if err != nil {
					return nil, err
				}
				return SourceResult{HTML: html}, nil
			})
		},
	}
}

func newGetJSONCmd(a *app) *cobra.Command {
	var (
		query  string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "get-json <url>",
		Short: "Load a JSON URL and print the document",
		Long: `Load a URL that serves JSON and print the document Firefox's JSON viewer
rendered. --query runs a jq expression over it. --strict parses the page as
HTML and requires exactly one JSON viewer block.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				if query != "" {
					queryJSON := s.QueryJSON
					if strict {
						queryJSON = s.QueryJSONStrict
					}
					results, err := queryJSON(ctx, url, query)
					if err != nil {
						return nil, err
					}
					return queryResults(results), nil
				}

				getJSON := s.GetJSON
				if strict {
					getJSON = s.GetJSONStrict
				}
				var doc json.RawMessage
				if err := getJSON(ctx, url, &doc); err != nil {
					return nil, err
				}
				return rawJSON(doc), nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "jq expression to run over the document")
	cmd.Flags().BoolVar(&strict, "strict", false, "Parse the page as HTML and require a single JSON block")
	return cmd
}

func newIsTorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "is-tor",
		Short: "Check whether the browser routes through Tor",
		Long: `Load the DuckDuckGo onion service and report whether it answered. This
navigates the current tab away from its page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				tor, err := s.IsTor(ctx)
				if err != nil {
					return nil, err
				}
				return TorResult{Tor: tor}, nil
			})
		},
	}
}
