// Package webdriver holds the wire-level types shared by the Marionette and
// WebDriver BiDi clients.
package webdriver

import (
	"encoding/json"
	"errors"
	"fmt"
)

// --- Errors ---

// Errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrUnreachable      = errors.New("browser not reachable")
	ErrUnsupported      = errors.New("operation not supported by driver")
	ErrProtocol         = errors.New("protocol error")
	ErrStaleElement     = errors.New("stale element reference")
	ErrNoSuchElement    = errors.New("no such element")
	ErrNoSuchAlert      = errors.New("no such alert")
	ErrJavaScript       = errors.New("javascript error")
	ErrScriptTimeout    = errors.New("script timeout")
)

// W3C error codes as sent on the wire.
const (
	CodeStaleElement  = "stale element reference"
	CodeNoSuchElement = "no such element"
	CodeNoSuchNode    = "no such node" // BiDi spelling of a stale reference
	CodeNoSuchAlert   = "no such alert"
	CodeJavaScript    = "javascript error"
	CodeScriptTimeout = "script timeout"
)

// ProtocolError is an error returned by the remote end.
type ProtocolError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("protocol error: %s", e.Code)
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	switch e.Code {
	case CodeStaleElement, CodeNoSuchNode:
		return ErrStaleElement
	case CodeNoSuchElement:
		return ErrNoSuchElement
	case CodeNoSuchAlert:
		return ErrNoSuchAlert
	case CodeJavaScript:
		return ErrJavaScript
	case CodeScriptTimeout:
		return ErrScriptTimeout
	}
	return ErrProtocol
}

// --- Elements ---

// ElementKey is the W3C web element identifier key.
const ElementKey = "element-6066-11e4-a52e-4f735466cecf"

// Element is a reference to a DOM node located by the driver. It may go
// stale once the page mutates.
type Element struct {
	ID string `json:"id"`
}

// MarshalJSON encodes the element as a W3C web element reference.
func (e Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{ElementKey: e.ID})
}

// UnmarshalJSON accepts the W3C form and the legacy {"ELEMENT": id} form.
func (e *Element) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decoding element reference: %w", err)
	}
	if id, ok := m[ElementKey]; ok {
		e.ID = id
		return nil
	}
	if id, ok := m["ELEMENT"]; ok {
		e.ID = id
		return nil
	}
	return fmt.Errorf("not an element reference: %s", data)
}

// --- Storage ---

// Cookie represents a browser cookie.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expiry   int64  `json:"expiry,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// --- Capabilities ---

// Capabilities is the subset of negotiated session capabilities we read.
type Capabilities struct {
	BrowserName    string `json:"browserName"`
	BrowserVersion string `json:"browserVersion"`
	PlatformName   string `json:"platformName"`
	ProcessID      int    `json:"moz:processID"`
	Headless       bool   `json:"moz:headless"`
}
