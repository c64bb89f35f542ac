package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tomyan/foxtrot/internal/webdriver"
)

// fakeDriver is an in-memory Driver. Unset hooks behave like an empty page.
type fakeDriver struct {
	mu sync.Mutex

	find      func(call int, selector string) ([]webdriver.Element, error)
	text      func(el webdriver.Element) (string, error)
	displayed func(el webdriver.Element) (bool, error)
	script    func(script string) (json.RawMessage, error)
	setPref   func(name string, value interface{}) error

	source string
	pid    int

	findCalls    int
	displayCalls int
	navigated    []string
	scripts      []string
	clicked      []webdriver.Element
	actions      []webdriver.ActionSource
	released     int
	prefs        map[string]interface{}
	closed       bool
	alertOps     []string
}

var _ Driver = (*fakeDriver)(nil)

func elements(ids ...string) []webdriver.Element {
	out := make([]webdriver.Element, len(ids))
	for i, id := range ids {
		out[i] = webdriver.Element{ID: id}
	}
	return out
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.navigated) == 0 {
		return "about:blank", nil
	}
	return f.navigated[len(f.navigated)-1], nil
}

func (f *fakeDriver) Title(ctx context.Context) (string, error) {
	return "fake", nil
}

func (f *fakeDriver) PageSource(ctx context.Context) (string, error) {
	return f.source, nil
}

func (f *fakeDriver) ExecuteScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.scripts = append(f.scripts, script)
	fn := f.script
	f.mu.Unlock()
	if fn == nil {
		return json.RawMessage("null"), nil
	}
	return fn(script)
}

func (f *fakeDriver) FindElements(ctx context.Context, selector string) ([]webdriver.Element, error) {
	f.mu.Lock()
	f.findCalls++
	call := f.findCalls
	fn := f.find
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(call, selector)
}

func (f *fakeDriver) ElementText(ctx context.Context, el webdriver.Element) (string, error) {
	if f.text == nil {
		return "", nil
	}
	return f.text(el)
}

func (f *fakeDriver) IsElementDisplayed(ctx context.Context, el webdriver.Element) (bool, error) {
	f.mu.Lock()
	f.displayCalls++
	f.mu.Unlock()
	if f.displayed == nil {
		return true, nil
	}
	return f.displayed(el)
}

func (f *fakeDriver) ElementClick(ctx context.Context, el webdriver.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicked = append(f.clicked, el)
	return nil
}

func (f *fakeDriver) PerformActions(ctx context.Context, sources ...webdriver.ActionSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, sources...)
	return nil
}

func (f *fakeDriver) ReleaseActions(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fakeDriver) Cookies(ctx context.Context) ([]webdriver.Cookie, error) {
	return []webdriver.Cookie{{Name: "sid", Value: "1"}}, nil
}

func (f *fakeDriver) DeleteAllCookies(ctx context.Context) error {
	return nil
}

func (f *fakeDriver) alertOp(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertOps = append(f.alertOps, op)
}

func (f *fakeDriver) AlertText(ctx context.Context) (string, error) {
	f.alertOp("text")
	return "are you sure?", nil
}

func (f *fakeDriver) AcceptAlert(ctx context.Context) error {
	f.alertOp("accept")
	return nil
}

func (f *fakeDriver) DismissAlert(ctx context.Context) error {
	f.alertOp("dismiss")
	return nil
}

func (f *fakeDriver) SendAlertText(ctx context.Context, text string) error {
	f.alertOp("send:" + text)
	return nil
}

func (f *fakeDriver) SetPref(ctx context.Context, name string, value interface{}) error {
	if f.setPref != nil {
		if err := f.setPref(name, value); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefs == nil {
		f.prefs = make(map[string]interface{})
	}
	f.prefs[name] = value
	return nil
}

func (f *fakeDriver) ProcessID() int {
	return f.pid
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
