package session

import (
	"context"
	"errors"

	"github.com/tomyan/foxtrot/internal/webdriver"
)

// FindElements returns every element currently matching the CSS selector.
// It never waits.
func (s *Session) FindElements(ctx context.Context, selector string) ([]webdriver.Element, error) {
	return s.driver.FindElements(ctx, selector)
}

// FindElement returns the element at offset among the current matches, or
// nil if there are not that many.
func (s *Session) FindElement(ctx context.Context, selector string, offset int) (*webdriver.Element, error) {
	elements, err := s.FindElements(ctx, selector)
	if err != nil {
		return nil, err
	}
	return at(elements, offset), nil
}

// FindElementsWithText returns the matches whose text equals one of texts.
// Elements that go stale while their text is read are left out.
func (s *Session) FindElementsWithText(ctx context.Context, selector string, texts ...string) ([]webdriver.Element, error) {
	elements, err := s.FindElements(ctx, selector)
	if err != nil {
		return nil, err
	}

	var matched []webdriver.Element
	for _, el := range elements {
		text, ok, err := s.readText(ctx, el)
		if err != nil {
			return nil, err
		}
		if ok && containsText(texts, text) {
			matched = append(matched, el)
		}
	}
	return matched, nil
}

// FindElementWithText returns the offset-th element with matching text, or nil.
func (s *Session) FindElementWithText(ctx context.Context, selector string, offset int, texts ...string) (*webdriver.Element, error) {
	elements, err := s.FindElementsWithText(ctx, selector, texts...)
	if err != nil {
		return nil, err
	}
	return at(elements, offset), nil
}

// readText reads el's text. ok is false when the element went stale.
func (s *Session) readText(ctx context.Context, el webdriver.Element) (text string, ok bool, err error) {
	text, err = s.driver.ElementText(ctx, el)
	if errors.Is(err, webdriver.ErrStaleElement) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// filterDisplayed keeps the displayed elements. A stale element aborts the
// whole pass with an error matching webdriver.ErrStaleElement.
func (s *Session) filterDisplayed(ctx context.Context, elements []webdriver.Element) ([]webdriver.Element, error) {
	var shown []webdriver.Element
	for _, el := range elements {
		ok, err := s.driver.IsElementDisplayed(ctx, el)
		if err != nil {
			return nil, err
		}
		if ok {
			shown = append(shown, el)
		}
	}
	return shown, nil
}

func containsText(texts []string, text string) bool {
	for _, t := range texts {
		if t == text {
			return true
		}
	}
	return false
}

func at(elements []webdriver.Element, offset int) *webdriver.Element {
	if offset < 0 || offset >= len(elements) {
		return nil
	}
	el := elements[offset]
	return &el
}
