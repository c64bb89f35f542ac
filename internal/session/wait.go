package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/tomyan/foxtrot/internal/logging"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// DefaultInterval is the pause between lookups while waiting.
const DefaultInterval = 200 * time.Millisecond

// ErrTimeout is matched by the error a wait returns when ErrorOnTimeout is set
// and the deadline passes.
var ErrTimeout = errors.New("timed out waiting for elements")

// TimeoutError reports which selector a wait gave up on.
type TimeoutError struct {
	Selector string
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %q", e.Elapsed.Round(time.Millisecond), e.Selector)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

type waitOptions struct {
	interval       time.Duration
	minCount       int
	visible        bool
	timeout        time.Duration
	errorOnTimeout bool
}

// WaitOption tunes a wait.
type WaitOption func(*waitOptions)

// WithInterval sets the pause between lookups.
func WithInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.interval = d }
}

// WithMinCount sets how many matches end the wait. The default is 1.
func WithMinCount(n int) WaitOption {
	return func(o *waitOptions) { o.minCount = n }
}

// IncludeHidden counts matches whether or not they are displayed.
func IncludeHidden() WaitOption {
	return func(o *waitOptions) { o.visible = false }
}

// WithTimeout bounds the wait. Zero, the default, waits forever. A negative
// timeout expires after the first lookup.
func WithTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.timeout = d }
}

// ErrorOnTimeout makes an expired wait return a *TimeoutError instead of an
// empty result.
func ErrorOnTimeout() WaitOption {
	return func(o *waitOptions) { o.errorOnTimeout = true }
}

func newWaitOptions(opts []WaitOption) waitOptions {
	o := waitOptions{
		interval: DefaultInterval,
		minCount: 1,
		visible:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitForElements polls until at least the minimum count of elements match
// the selector. By default only displayed elements count. A satisfied wait
// returns a non-nil slice, empty only when the minimum count is zero or less.
// When the timeout passes it returns nil, or a *TimeoutError with
// ErrorOnTimeout.
func (s *Session) WaitForElements(ctx context.Context, selector string, opts ...WaitOption) ([]webdriver.Element, error) {
	o := newWaitOptions(opts)
	return s.poll(ctx, selector, o, func(ctx context.Context) ([]webdriver.Element, error) {
		return s.FindElements(ctx, selector)
	})
}

// WaitForElement waits like WaitForElements and returns the first match, or
// nil if the wait expired.
func (s *Session) WaitForElement(ctx context.Context, selector string, opts ...WaitOption) (*webdriver.Element, error) {
	elements, err := s.WaitForElements(ctx, selector, opts...)
	if err != nil {
		return nil, err
	}
	return at(elements, 0), nil
}

// WaitForElementsWithText polls until enough elements matching selector carry
// one of texts.
func (s *Session) WaitForElementsWithText(ctx context.Context, selector string, texts []string, opts ...WaitOption) ([]webdriver.Element, error) {
	o := newWaitOptions(opts)
	return s.poll(ctx, selector, o, func(ctx context.Context) ([]webdriver.Element, error) {
		return s.FindElementsWithText(ctx, selector, texts...)
	})
}

// WaitForElementWithText waits for the offset-th element carrying one of
// texts. The minimum count is always offset+1.
func (s *Session) WaitForElementWithText(ctx context.Context, selector string, texts []string, offset int, opts ...WaitOption) (*webdriver.Element, error) {
	opts = append(opts, WithMinCount(offset+1))
	elements, err := s.WaitForElementsWithText(ctx, selector, texts, opts...)
	if err != nil {
		return nil, err
	}
	return at(elements, offset), nil
}

func (s *Session) poll(ctx context.Context, selector string, o waitOptions, lookup func(context.Context) ([]webdriver.Element, error)) ([]webdriver.Element, error) {
	start := time.Now()
	for {
		elements, err := lookup(ctx)
		if err != nil {
			return nil, err
		}

		stale := false
		if o.visible {
			elements, err = s.filterDisplayed(ctx, elements)
			switch {
			case errors.Is(err, webdriver.ErrStaleElement):
				L_debug("session: element went stale during visibility check, retrying", "selector", selector)
				stale = true
			case err != nil:
				return nil, err
			}
		}

		if !stale && len(elements) >= o.minCount {
			// nil is reserved for an expired wait
			if elements == nil {
				elements = []webdriver.Element{}
			}
			return elements, nil
		}

		if elapsed := time.Since(start); o.timeout != 0 && elapsed >= o.timeout {
			if o.errorOnTimeout {
				return nil, &TimeoutError{Selector: selector, Elapsed: elapsed}
			}
			return nil, nil
		}

		// a stale pass retries straight away
		if stale {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.interval):
		}
	}
}
