package bidi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomyan/foxtrot/internal/webdriver"
)

// BrowsingContextInfo is one entry of browsingContext.getTree.
type BrowsingContextInfo struct {
	Context string `json:"context"`
	URL     string `json:"url"`
}

// UserPrompt is an open alert, confirm, prompt or beforeunload dialog.
type UserPrompt struct {
	Context      string `json:"context"`
	Type         string `json:"type"`
	Message      string `json:"message"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

const (
	textFunction    = `function(el) { return el.innerText; }`
	displayFunction = `function(el) { return el.isConnected && el.checkVisibility({visibilityProperty: true}); }`
	scrollFunction  = `function(el) { el.scrollIntoView({block: "center", inline: "center"}); }`
)

// NewSession starts a BiDi session. caps may be nil.
func (c *Client) NewSession(ctx context.Context, caps map[string]interface{}) (*webdriver.Capabilities, error) {
	if caps == nil {
		caps = map[string]interface{}{}
	}
	result, err := c.Call(ctx, "session.new", map[string]interface{}{
		"capabilities": map[string]interface{}{"alwaysMatch": caps},
	})
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	var resp struct {
		SessionID    string                 `json:"sessionId"`
		Capabilities webdriver.Capabilities `json:"capabilities"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
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

// Contexts lists the top-level browsing contexts.
func (c *Client) Contexts(ctx context.Context) ([]BrowsingContextInfo, error) {
	return c.tree(ctx, map[string]interface{}{"maxDepth": 0})
}

func (c *Client) tree(ctx context.Context, params map[string]interface{}) ([]BrowsingContextInfo, error) {
	result, err := c.Call(ctx, "browsingContext.getTree", params)
	if err != nil {
		return nil, fmt.Errorf("listing browsing contexts: %w", err)
	}
	var resp struct {
		Contexts []BrowsingContextInfo `json:"contexts"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parsing browsing contexts: %w", err)
	}
	return resp.Contexts, nil
}

// Navigate loads url and waits for the load to complete.
func (c *Client) Navigate(ctx context.Context, url string) error {
	_, err := c.Call(ctx, "browsingContext.navigate", map[string]interface{}{
		"context": c.context,
		"url":     url,
		"wait":    "complete",
	})
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the URL of the browsing context.
func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	contexts, err := c.tree(ctx, map[string]interface{}{"root": c.context, "maxDepth": 0})
	if err != nil {
		return "", err
	}
	if len(contexts) == 0 {
		return "", fmt.Errorf("browsing context %s not found", c.context)
	}
	return contexts[0].URL, nil
}

// Title returns the document title.
func (c *Client) Title(ctx context.Context) (string, error) {
	return c.evaluateString(ctx, "document.title")
}

// PageSource returns the serialized document.
func (c *Client) PageSource(ctx context.Context) (string, error) {
	return c.evaluateString(ctx, "new XMLSerializer().serializeToString(document)")
}

// ExecuteScript runs script as the body of a function, with args available
// as arguments[i], and returns its result as JSON.
func (c *Client) ExecuteScript(ctx context.Context, script string, args ...interface{}) (json.RawMessage, error) {
	rv, err := c.callFunction(ctx, "function() {\n"+script+"\n}", args...)
	if err != nil {
		return nil, err
	}
	v, err := rv.toJSON()
	if err != nil {
		return nil, fmt.Errorf("decoding script result: %w", err)
	}
	return json.Marshal(v)
}

// FindElements returns the elements matching a CSS selector.
func (c *Client) FindElements(ctx context.Context, selector string) ([]webdriver.Element, error) {
	result, err := c.Call(ctx, "browsingContext.locateNodes", map[string]interface{}{
		"context": c.context,
		"locator": map[string]interface{}{"type": "css", "value": selector},
	})
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", selector, err)
	}

	var resp struct {
		Nodes []remoteValue `json:"nodes"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parsing nodes: %w", err)
	}
	elements := make([]webdriver.Element, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		elements = append(elements, webdriver.Element{ID: n.SharedID})
	}
	return elements, nil
}

// ElementText returns the rendered text of el.
func (c *Client) ElementText(ctx context.Context, el webdriver.Element) (string, error) {
	rv, err := c.callFunction(ctx, textFunction, el)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(rv.Value, &text); err != nil {
		return "", fmt.Errorf("parsing element text: %w", err)
	}
	return text, nil
}

// IsElementDisplayed reports whether el is rendered and visible.
func (c *Client) IsElementDisplayed(ctx context.Context, el webdriver.Element) (bool, error) {
	rv, err := c.callFunction(ctx, displayFunction, el)
	if err != nil {
		return false, err
	}
	var shown bool
	if err := json.Unmarshal(rv.Value, &shown); err != nil {
		return false, fmt.Errorf("parsing displayed state: %w", err)
	}
	return shown, nil
}

// ElementClick scrolls el into view and clicks its centre with the mouse.
func (c *Client) ElementClick(ctx context.Context, el webdriver.Element) error {
	if _, err := c.callFunction(ctx, scrollFunction, el); err != nil {
		return err
	}

	zero, left := 0, 0
	mouse := webdriver.ActionSource{
		Type:       "pointer",
		ID:         "mouse",
		Parameters: map[string]string{"pointerType": "mouse"},
		Actions: []webdriver.Action{
			{
				Type: "pointerMove",
				X:    &zero,
				Y:    &zero,
				Origin: map[string]interface{}{
					"type":    "element",
					"element": map[string]interface{}{"sharedId": el.ID},
				},
			},
			{Type: "pointerDown", Button: &left},
			{Type: "pointerUp", Button: &left},
		},
	}
	if err := c.PerformActions(ctx, mouse); err != nil {
		return err
	}
	return c.ReleaseActions(ctx)
}

// PerformActions dispatches input action sequences.
func (c *Client) PerformActions(ctx context.Context, sources ...webdriver.ActionSource) error {
	_, err := c.Call(ctx, "input.performActions", map[string]interface{}{
		"context": c.context,
		"actions": sources,
	})
	return err
}

// ReleaseActions releases every pressed key and button.
func (c *Client) ReleaseActions(ctx context.Context) error {
	_, err := c.Call(ctx, "input.releaseActions", map[string]interface{}{"context": c.context})
	return err
}

// Cookies returns the cookies in the browsing context's storage partition.
func (c *Client) Cookies(ctx context.Context) ([]webdriver.Cookie, error) {
	result, err := c.Call(ctx, "storage.getCookies", map[string]interface{}{
		"partition": c.partition(),
	})
	if err != nil {
		return nil, fmt.Errorf("getting cookies: %w", err)
	}

	var resp struct {
		Cookies []struct {
			Name     string      `json:"name"`
			Value    remoteValue `json:"value"`
			Domain   string      `json:"domain"`
			Path     string      `json:"path"`
			Expiry   int64       `json:"expiry"`
			HTTPOnly bool        `json:"httpOnly"`
			Secure   bool        `json:"secure"`
			SameSite string      `json:"sameSite"`
		} `json:"cookies"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parsing cookies: %w", err)
	}

	cookies := make([]webdriver.Cookie, 0, len(resp.Cookies))
	for _, bc := range resp.Cookies {
		var value string
		json.Unmarshal(bc.Value.Value, &value)
		cookies = append(cookies, webdriver.Cookie{
			Name:     bc.Name,
			Value:    value,
			Domain:   bc.Domain,
			Path:     bc.Path,
			Expiry:   bc.Expiry,
			HTTPOnly: bc.HTTPOnly,
			Secure:   bc.Secure,
			SameSite: sameSite(bc.SameSite),
		})
	}
	return cookies, nil
}

// DeleteAllCookies clears the browsing context's storage partition.
func (c *Client) DeleteAllCookies(ctx context.Context) error {
	_, err := c.Call(ctx, "storage.deleteCookies", map[string]interface{}{
		"partition": c.partition(),
	})
	if err != nil {
		return fmt.Errorf("deleting cookies: %w", err)
	}
	return nil
}

// AlertText returns the message of the open prompt.
func (c *Client) AlertText(ctx context.Context) (string, error) {
	c.promptMu.Lock()
	defer c.promptMu.Unlock()
	if c.prompt == nil {
		return "", &webdriver.ProtocolError{Code: webdriver.CodeNoSuchAlert, Message: "no user prompt open"}
	}
	return c.prompt.Message, nil
}

// AcceptAlert accepts the open prompt, submitting text from SendAlertText if
// any was given.
func (c *Client) AcceptAlert(ctx context.Context) error {
	params := map[string]interface{}{"context": c.context, "accept": true}
	c.promptMu.Lock()
	if c.promptText != nil {
		params["userText"] = *c.promptText
	}
	c.promptMu.Unlock()
	return c.handlePrompt(ctx, params)
}

// DismissAlert dismisses the open prompt.
func (c *Client) DismissAlert(ctx context.Context) error {
	return c.handlePrompt(ctx, map[string]interface{}{"context": c.context, "accept": false})
}

// SendAlertText sets the text submitted when the open prompt is accepted.
func (c *Client) SendAlertText(ctx context.Context, text string) error {
	c.promptMu.Lock()
	defer c.promptMu.Unlock()
	if c.prompt == nil {
		return &webdriver.ProtocolError{Code: webdriver.CodeNoSuchAlert, Message: "no user prompt open"}
	}
	if c.prompt.Type != "prompt" {
		return fmt.Errorf("%s dialog does not take text: %w", c.prompt.Type, webdriver.ErrUnsupported)
	}
	c.promptText = &text
	return nil
}

// SetPref is not available over BiDi.
func (c *Client) SetPref(ctx context.Context, name string, value interface{}) error {
	return fmt.Errorf("setting preference %s over bidi: %w", name, webdriver.ErrUnsupported)
}

func (c *Client) handlePrompt(ctx context.Context, params map[string]interface{}) error {
	if _, err := c.Call(ctx, "browsingContext.handleUserPrompt", params); err != nil {
		return fmt.Errorf("handling user prompt: %w", err)
	}
	c.clearPrompt()
	return nil
}

func (c *Client) clearPrompt() {
	c.promptMu.Lock()
	c.prompt = nil
	c.promptText = nil
	c.promptMu.Unlock()
}

func (c *Client) trackPrompts(opened, closed <-chan json.RawMessage) {
	for {
		select {
		case raw := <-opened:
			var p UserPrompt
			if err := json.Unmarshal(raw, &p); err != nil || p.Context != c.context {
				continue
			}
			c.promptMu.Lock()
			c.prompt = &p
			c.promptText = nil
			c.promptMu.Unlock()
		case raw := <-closed:
			var p struct {
				Context string `json:"context"`
			}
			if err := json.Unmarshal(raw, &p); err != nil || p.Context != c.context {
				continue
			}
			c.clearPrompt()
		case <-c.closeCh:
			return
		}
	}
}

func (c *Client) partition() map[string]interface{} {
	return map[string]interface{}{"type": "context", "context": c.context}
}

func (c *Client) evaluateString(ctx context.Context, expression string) (string, error) {
	result, err := c.Call(ctx, "script.evaluate", map[string]interface{}{
		"expression":      expression,
		"target":          map[string]interface{}{"context": c.context},
		"awaitPromise":    false,
		"resultOwnership": "none",
	})
	if err != nil {
		return "", fmt.Errorf("evaluating %s: %w", expression, err)
	}
	rv, err := scriptResult(result)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(rv.Value, &s); err != nil {
		return "", fmt.Errorf("parsing %s: %w", expression, err)
	}
	return s, nil
}

func (c *Client) callFunction(ctx context.Context, fn string, args ...interface{}) (remoteValue, error) {
	arguments := make([]interface{}, 0, len(args))
	for _, arg := range args {
		lv, err := localValue(arg)
		if err != nil {
			return remoteValue{}, err
		}
		arguments = append(arguments, lv)
	}

	result, err := c.Call(ctx, "script.callFunction", map[string]interface{}{
		"functionDeclaration": fn,
		"arguments":           arguments,
		"target":              map[string]interface{}{"context": c.context},
		"awaitPromise":        true,
		"resultOwnership":     "none",
	})
	if err != nil {
		return remoteValue{}, err
	}
	return scriptResult(result)
}

// scriptResult unpacks a script.EvaluateResult. A thrown exception becomes a
// javascript error.
func scriptResult(raw json.RawMessage) (remoteValue, error) {
	var resp struct {
		Type             string      `json:"type"`
		Result           remoteValue `json:"result"`
		ExceptionDetails struct {
			Text       string `json:"text"`
			StackTrace struct {
				CallFrames []struct {
					FunctionName string `json:"functionName"`
					URL          string `json:"url"`
					LineNumber   int    `json:"lineNumber"`
				} `json:"callFrames"`
			} `json:"stackTrace"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return remoteValue{}, fmt.Errorf("parsing script result: %w", err)
	}
	if resp.Type == "exception" {
		var frames []string
		for _, f := range resp.ExceptionDetails.StackTrace.CallFrames {
			frames = append(frames, fmt.Sprintf("%s@%s:%d", f.FunctionName, f.URL, f.LineNumber))
		}
		return remoteValue{}, &webdriver.ProtocolError{
			Code:       webdriver.CodeJavaScript,
			Message:    resp.ExceptionDetails.Text,
			Stacktrace: strings.Join(frames, "\n"),
		}
	}
	return resp.Result, nil
}

func sameSite(s string) string {
	switch s {
	case "strict":
		return "Strict"
	case "lax":
		return "Lax"
	case "none":
		return "None"
	}
	return s
}
