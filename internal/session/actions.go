package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tomyan/foxtrot/internal/webdriver"
)

const torCheckScript = `return document.title.startsWith("DuckDuckGo");`

// EnterTextInBox clicks the first element matching selector and types text.
// It does not wait for the element.
func (s *Session) EnterTextInBox(ctx context.Context, text, selector string) error {
	el, err := s.FindElement(ctx, selector, 0)
	if err != nil {
		return err
	}
	if el == nil {
		return fmt.Errorf("%w: %s", webdriver.ErrNoSuchElement, selector)
	}
	if err := s.driver.ElementClick(ctx, *el); err != nil {
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	return s.SendKeys(ctx, text)
}

// SendKeys types keys into whatever has focus, one keyDown/keyUp pair per
// character, then releases all keys.
func (s *Session) SendKeys(ctx context.Context, keys string) error {
	if err := s.driver.PerformActions(ctx, webdriver.KeyActions(keys)); err != nil {
		return fmt.Errorf("sending keys: %w", err)
	}
	if err := s.driver.ReleaseActions(ctx); err != nil {
		return fmt.Errorf("releasing keys: %w", err)
	}
	return nil
}

// Quit signals the browser process, os.Interrupt when sig is nil. The
// connection is not closed first.
func (s *Session) Quit(sig os.Signal) error {
	if sig == nil {
		sig = os.Interrupt
	}
	pid := s.driver.ProcessID()
	if pid <= 0 {
		return errors.New("browser process id unknown")
	}
	if err := s.signal(pid, sig); err != nil {
		return fmt.Errorf("signalling browser %d: %w", pid, err)
	}
	return nil
}

// IsTor reports whether the browser reaches the DuckDuckGo onion service.
func (s *Session) IsTor(ctx context.Context) (bool, error) {
	if err := s.driver.Navigate(ctx, s.torCheckURL); err != nil {
		return false, fmt.Errorf("loading tor check page: %w", err)
	}
	raw, err := s.driver.ExecuteScript(ctx, torCheckScript)
	if err != nil {
		return false, fmt.Errorf("reading tor check page: %w", err)
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return false, fmt.Errorf("parsing tor check result: %w", err)
	}
	return ok, nil
}

// NavigateAsync starts loading url without waiting for the load.
func (s *Session) NavigateAsync(ctx context.Context, url string) error {
	target, err := json.Marshal(url)
	if err != nil {
		return err
	}
	if _, err := s.driver.ExecuteScript(ctx, "window.location="+string(target)+";"); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}
