package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyan/foxtrot/internal/session"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// elementsResult builds the command output, reading each element's text when
// asked to.
func elementsResult(ctx context.Context, s *session.Session, selector string, elements []webdriver.Element, withText bool) (ElementsResult, error) {
	result := ElementsResult{
		Selector: selector,
		Count:    len(elements),
		Elements: make([]string, 0, len(elements)),
	}
	for _, el := range elements {
		result.Elements = append(result.Elements, el.ID)
		if withText {
			text, err := s.Driver().ElementText(ctx, el)
			if err != nil {
				return result, fmt.Errorf("reading text of %s: %w", el.ID, err)
			}
			result.Texts = append(result.Texts, text)
		}
	}
	return result, nil
}

func single(el *webdriver.Element) []webdriver.Element {
	if el == nil {
		return nil
	}
	return []webdriver.Element{*el}
}

func newFindCmd(a *app) *cobra.Command {
	var (
		texts    []string
		offset   int
		withText bool
	)
	cmd := &cobra.Command{
		Use:   "find <selector>",
		Short: "Find elements matching a CSS selector",
		Long: `Find elements matching a CSS selector. With --text only elements whose
visible text equals one of the given values are kept. --offset picks a single
element from the matches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selector := args[0]
			useOffset := cmd.Flags().Changed("offset")
			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				var (
					elements []webdriver.Element
					err      error
				)
				switch {
				case useOffset && len(texts) > 0:
					var el *webdriver.Element
					el, err = s.FindElementWithText(ctx, selector, offset, texts...)
					elements = single(el)
				case useOffset:
					var el *webdriver.Element
					el, err = s.FindElement(ctx, selector, offset)
					elements = single(el)
				case len(texts) > 0:
					elements, err = s.FindElementsWithText(ctx, selector, texts...)
				default:
					elements, err = s.FindElements(ctx, selector)
				}
				if err != nil {
					return nil, err
				}
				return elementsResult(ctx, s, selector, elements, withText)
			})
		},
	}
	cmd.Flags().StringArrayVar(&texts, "text", nil, "Keep elements with this exact text (repeatable)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Return only the element at this index")
	cmd.Flags().BoolVar(&withText, "print-text", false, "Include each element's text in the output")
	return cmd
}

func newWaitCmd(a *app) *cobra.Command {
	var (
		texts         []string
		minCount      int
		includeHidden bool
		waitTimeout   time.Duration
		offset        int
		withText      bool
	)
	cmd := &cobra.Command{
		Use:   "wait <selector>",
		Short: "Wait for elements matching a CSS selector to appear",
		Long: `Poll until at least --min-count displayed elements match the selector.
The wait lasts --wait-timeout, capped by --timeout, and exits with status 3
when it expires.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selector := args[0]
			useOffset := cmd.Flags().Changed("offset")

			limit := a.cfg.Timeout
			if waitTimeout > 0 {
				limit = waitTimeout
			}
			opts := []session.WaitOption{
				session.WithInterval(a.cfg.Interval),
				session.WithMinCount(minCount),
				session.WithTimeout(limit),
				session.ErrorOnTimeout(),
			}
			if includeHidden {
				opts = append(opts, session.IncludeHidden())
			}

			return a.withSession(func(ctx context.Context, s *session.Session) (interface{}, error) {
				var (
					elements []webdriver.Element
					err      error
				)
				switch {
				case useOffset && len(texts) > 0:
					var el *webdriver.Element
					el, err = s.WaitForElementWithText(ctx, selector, texts, offset, opts...)
					elements = single(el)
				case useOffset:
					var all []webdriver.Element
					all, err = s.WaitForElements(ctx, selector, append(opts, session.WithMinCount(offset+1))...)
					if offset >= 0 && offset < len(all) {
						elements = all[offset : offset+1]
					}
				case len(texts) > 0:
					elements, err = s.WaitForElementsWithText(ctx, selector, texts, opts...)
				default:
					elements, err = s.WaitForElements(ctx, selector, opts...)
				}
				if err != nil {
					return nil, err
				}
				return elementsResult(ctx, s, selector, elements, withText)
			})
		},
	}
	cmd.Flags().StringArrayVar(&texts, "text", nil, "Only count elements with this exact text (repeatable)")
	cmd.Flags().IntVar(&minCount, "min-count", 1, "Number of matching elements to wait for")
	cmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "Count elements that are not displayed")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 0, "How long to wait, defaults to --timeout")
	cmd.Flags().IntVar(&offset, "offset", 0, "Wait for and return the element at this index")
	cmd.Flags().BoolVar(&withText, "print-text", false, "Include each element's text in the output")
	return cmd
}
