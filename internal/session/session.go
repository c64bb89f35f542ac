// Package session wraps a remote browser driver with polling element lookup,
// text search and a few page helpers.
package session

import (
	"context"
	"encoding/json"
	"os"

	"github.com/tomyan/foxtrot/internal/launcher"
	"github.com/tomyan/foxtrot/internal/webdriver"
)

// Driver is the set of remote-control operations the session layer relies
// on. *marionette.Client and *bidi.Client both implement it.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	ExecuteScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error)

	FindElements(ctx context.Context, selector string) ([]webdriver.Element, error)
	ElementText(ctx context.Context, el webdriver.Element) (string, error)
	IsElementDisplayed(ctx context.Context, el webdriver.Element) (bool, error)
	ElementClick(ctx context.Context, el webdriver.Element) error

	PerformActions(ctx context.Context, sources ...webdriver.ActionSource) error
	ReleaseActions(ctx context.Context) error

	Cookies(ctx context.Context) ([]webdriver.Cookie, error)
	DeleteAllCookies(ctx context.Context) error

	AlertText(ctx context.Context) (string, error)
	AcceptAlert(ctx context.Context) error
	DismissAlert(ctx context.Context) error
	SendAlertText(ctx context.Context, text string) error

	SetPref(ctx context.Context, name string, value interface{}) error
	ProcessID() int
	Close() error
}

// DefaultTorCheckURL is the DuckDuckGo onion service; it only loads over Tor.
const DefaultTorCheckURL = "https://duckduckgogg42xjoc72x3sjasowoarfbgcmvfimaftt6twagswzczad.onion/"

// Session is a Driver plus wait, search and page helpers.
type Session struct {
	driver      Driver
	signal      func(pid int, sig os.Signal) error
	torCheckURL string
	strictJSON  bool
}

// Option configures a Session.
type Option func(*Session)

// WithSignaller replaces the function Quit uses to signal the browser.
func WithSignaller(fn func(pid int, sig os.Signal) error) Option {
	return func(s *Session) { s.signal = fn }
}

// WithTorCheckURL overrides the page IsTor loads.
func WithTorCheckURL(url string) Option {
	return func(s *Session) { s.torCheckURL = url }
}

// WithStrictJSON makes GetJSON and QueryJSON parse the page with an HTML
// parser and refuse pages with zero or several json containers.
func WithStrictJSON() Option {
	return func(s *Session) { s.strictJSON = true }
}

// New wraps d.
func New(d Driver, opts ...Option) *Session {
	s := &Session{
		driver:      d,
		signal:      launcher.SignalProcess,
		torCheckURL: DefaultTorCheckURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver returns the wrapped driver for operations the session does not cover.
func (s *Session) Driver() Driver {
	return s.driver
}

// Navigate loads url and waits for the load to finish.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.driver.Navigate(ctx, url)
}

// ExecuteScript runs script in the page.
func (s *Session) ExecuteScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error) {
	return s.driver.ExecuteScript(ctx, script, args...)
}

// CurrentURL returns the page URL.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	return s.driver.CurrentURL(ctx)
}

// Title returns the page title.
func (s *Session) Title(ctx context.Context) (string, error) {
	return s.driver.Title(ctx)
}

// PageSource returns the page's HTML.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	return s.driver.PageSource(ctx)
}

// Cookies returns the cookies visible to the page.
func (s *Session) Cookies(ctx context.Context) ([]webdriver.Cookie, error) {
	return s.driver.Cookies(ctx)
}

// DeleteAllCookies clears the page's cookies.
func (s *Session) DeleteAllCookies(ctx context.Context) error {
	return s.driver.DeleteAllCookies(ctx)
}

// Alert is the currently open user prompt.
type Alert struct {
	driver Driver
}

// Alert returns a handle on the open user prompt. Its methods fail with
// webdriver.ErrNoSuchAlert when no prompt is open.
func (s *Session) Alert() *Alert {
	return &Alert{driver: s.driver}
}

// Text returns the prompt message.
func (a *Alert) Text(ctx context.Context) (string, error) {
	return a.driver.AlertText(ctx)
}

// Accept presses OK.
func (a *Alert) Accept(ctx context.Context) error {
	return a.driver.AcceptAlert(ctx)
}

// Dismiss presses Cancel.
func (a *Alert) Dismiss(ctx context.Context) error {
	return a.driver.DismissAlert(ctx)
}

// SendKeys types into a prompt() input.
func (a *Alert) SendKeys(ctx context.Context, text string) error {
	return a.driver.SendAlertText(ctx, text)
}
