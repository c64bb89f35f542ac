package marionette

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomyan/foxtrot/internal/webdriver"
)

// Browsing contexts for Marionette:SetContext.
const (
	ContextContent = "content"
	ContextChrome  = "chrome"
)

// NewSession starts a WebDriver session. caps may be nil.
func (c *Client) NewSession(ctx context.Context, caps map[string]interface{}) (*webdriver.Capabilities, error) {
	params := map[string]interface{}{}
	if caps != nil {
		params["capabilities"] = map[string]interface{}{"alwaysMatch": caps}
	}

	result, err := c.Call(ctx, "WebDriver:NewSession", params)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	var resp struct {
		SessionID    string                 `json:"sessionId"`
		Capabilities webdriver.Capabilities `json:"capabilities"`
	}
	if err := decodeValue(result, &resp); err != nil {
		return nil, fmt.Errorf("parsing session response: %w", err)
	}

	c.sessionID = resp.SessionID
	c.caps = resp.Capabilities
	return &c.caps, nil
}

// SessionID returns the active session id, empty before NewSession.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Capabilities returns the capabilities negotiated by NewSession.
func (c *Client) Capabilities() webdriver.Capabilities {
	return c.caps
}

// ProcessID returns the browser's process id as reported at session start.
func (c *Client) ProcessID() int {
	return c.caps.ProcessID
}

// SetContext switches command execution between content and chrome.
func (c *Client) SetContext(ctx context.Context, value string) error {
	_, err := c.Call(ctx, "Marionette:SetContext", map[string]interface{}{"value": value})
	if err != nil {
		return fmt.Errorf("setting context %s: %w", value, err)
	}
	return nil
}

// Navigate loads url and blocks until the page load completes.
func (c *Client) Navigate(ctx context.Context, url string) error {
	_, err := c.Call(ctx, "WebDriver:Navigate", map[string]interface{}{"url": url})
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the URL of the current top-level browsing context.
func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	return c.callString(ctx, "WebDriver:GetCurrentURL", nil)
}

// Title returns document.title.
func (c *Client) Title(ctx context.Context) (string, error) {
	return c.callString(ctx, "WebDriver:GetTitle", nil)
}

// PageSource returns the serialized DOM of the current page.
func (c *Client) PageSource(ctx context.Context) (string, error) {
	return c.callString(ctx, "WebDriver:GetPageSource", nil)
}

// ExecuteScript runs script as a function body in the page and returns its
// JSON-encoded return value.
func (c *Client) ExecuteScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	result, err := c.Call(ctx, "WebDriver:ExecuteScript", map[string]interface{}{
		"script": script,
		"args":   args,
	})
	if err != nil {
		return nil, fmt.Errorf("executing script: %w", err)
	}

	var value json.RawMessage
	if err := decodeValue(result, &value); err != nil {
		return nil, fmt.Errorf("parsing script result: %w", err)
	}
	return value, nil
}

// FindElements returns all elements matching a CSS selector.
func (c *Client) FindElements(ctx context.Context, selector string) ([]webdriver.Element, error) {
	result, err := c.Call(ctx, "WebDriver:FindElements", map[string]interface{}{
		"using": "css selector",
		"value": selector,
	})
	if err != nil {
		return nil, fmt.Errorf("finding %q: %w", selector, err)
	}

	var elements []webdriver.Element
	if err := decodeValue(result, &elements); err != nil {
		return nil, fmt.Errorf("parsing elements: %w", err)
	}
	return elements, nil
}

// ElementText returns the rendered text of el.
func (c *Client) ElementText(ctx context.Context, el webdriver.Element) (string, error) {
	return c.callString(ctx, "WebDriver:GetElementText", map[string]interface{}{"id": el.ID})
}

// IsElementDisplayed reports whether el is rendered.
func (c *Client) IsElementDisplayed(ctx context.Context, el webdriver.Element) (bool, error) {
	result, err := c.Call(ctx, "WebDriver:IsElementDisplayed", map[string]interface{}{"id": el.ID})
	if err != nil {
		return false, err
	}
	var shown bool
	if err := decodeValue(result, &shown); err != nil {
		return false, fmt.Errorf("parsing displayed state: %w", err)
	}
	return shown, nil
}

// ElementClick scrolls el into view and clicks its centre.
func (c *Client) ElementClick(ctx context.Context, el webdriver.Element) error {
	_, err := c.Call(ctx, "WebDriver:ElementClick", map[string]interface{}{"id": el.ID})
	return err
}

// PerformActions dispatches input action sequences.
func (c *Client) PerformActions(ctx context.Context, sources ...webdriver.ActionSource) error {
	_, err := c.Call(ctx, "WebDriver:PerformActions", map[string]interface{}{"actions": sources})
	if err != nil {
		return fmt.Errorf("performing actions: %w", err)
	}
	return nil
}

// ReleaseActions releases all keys and pointer buttons currently held.
func (c *Client) ReleaseActions(ctx context.Context) error {
	_, err := c.Call(ctx, "WebDriver:ReleaseActions", nil)
	return err
}

// Cookies returns the cookies visible to the current document.
func (c *Client) Cookies(ctx context.Context) ([]webdriver.Cookie, error) {
	result, err := c.Call(ctx, "WebDriver:GetCookies", nil)
	if err != nil {
		return nil, fmt.Errorf("getting cookies: %w", err)
	}
	var cookies []webdriver.Cookie
	if err := decodeValue(result, &cookies); err != nil {
		return nil, fmt.Errorf("parsing cookies: %w", err)
	}
	return cookies, nil
}

// DeleteAllCookies clears cookies for the current document.
func (c *Client) DeleteAllCookies(ctx context.Context) error {
	_, err := c.Call(ctx, "WebDriver:DeleteAllCookies", nil)
	return err
}

// AlertText returns the message of the open user prompt.
func (c *Client) AlertText(ctx context.Context) (string, error) {
	return c.callString(ctx, "WebDriver:GetAlertText", nil)
}

// AcceptAlert accepts the open user prompt.
func (c *Client) AcceptAlert(ctx context.Context) error {
	_, err := c.Call(ctx, "WebDriver:AcceptAlert", nil)
	return err
}

// DismissAlert dismisses the open user prompt.
func (c *Client) DismissAlert(ctx context.Context) error {
	_, err := c.Call(ctx, "WebDriver:DismissAlert", nil)
	return err
}

// SendAlertText types text into the open prompt() dialog.
func (c *Client) SendAlertText(ctx context.Context, text string) error {
	_, err := c.Call(ctx, "WebDriver:SendAlertText", map[string]interface{}{"text": text})
	return err
}

const setPrefScript = `
const [name, value] = arguments;
switch (typeof value) {
  case "boolean":
    Services.prefs.setBoolPref(name, value);
    break;
  case "number":
    Services.prefs.setIntPref(name, value);
    break;
  default:
    Services.prefs.setStringPref(name, String(value));
}
`

// SetPref sets a browser preference from the chrome context.
func (c *Client) SetPref(ctx context.Context, name string, value interface{}) error {
	if err := c.SetContext(ctx, ContextChrome); err != nil {
		return err
	}
	defer c.SetContext(ctx, ContextContent)

	if _, err := c.ExecuteScript(ctx, setPrefScript, name, value); err != nil {
		return fmt.Errorf("setting pref %s: %w", name, err)
	}
	return nil
}

// Quit asks the browser to shut down gracefully.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.Call(ctx, "Marionette:Quit", map[string]interface{}{"flags": []string{"eForceQuit"}})
	return err
}

func (c *Client) callString(ctx context.Context, command string, params interface{}) (string, error) {
	result, err := c.Call(ctx, command, params)
	if err != nil {
		return "", err
	}
	var s string
	if err := decodeValue(result, &s); err != nil {
		return "", fmt.Errorf("parsing %s response: %w", command, err)
	}
	return s, nil
}

// decodeValue unmarshals a response body. Marionette wraps primitive results
// as {"value": ...}; objects and arrays may arrive bare.
func decodeValue(raw json.RawMessage, v interface{}) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err == nil {
			if inner, ok := wrapper["value"]; ok && len(wrapper) == 1 {
				return json.Unmarshal(inner, v)
			}
		}
	}
	if trimmed == "" {
		raw = json.RawMessage("null")
	}
	return json.Unmarshal(raw, v)
}
