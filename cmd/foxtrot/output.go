package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tomyan/foxtrot/internal/webdriver"
)

// TextValuer is implemented by result types that have an obvious plain-text representation.
type TextValuer interface {
	TextValue() string
}

// ConnectResult describes the connected browser.
type ConnectResult struct {
	Transport      string `json:"transport"`
	Address        string `json:"address"`
	BrowserName    string `json:"browserName,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	ProcessID      int    `json:"processId"`
}

// ElementsResult lists matched elements.
type ElementsResult struct {
	Selector string   `json:"selector"`
	Count    int      `json:"count"`
	Elements []string `json:"elements"`
	Texts    []string `json:"texts,omitempty"`
}

// NavigateResult reports where a navigation ended up.
type NavigateResult struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Async bool   `json:"async,omitempty"`
}

// OKResult is returned by commands with nothing else to say.
type OKResult struct {
	OK bool `json:"ok"`
}

// SourceResult holds the page HTML.
type SourceResult struct {
	HTML string `json:"html"`
}

// TorResult reports the Tor check.
type TorResult struct {
	Tor bool `json:"tor"`
}

// CookiesResult lists cookies.
type CookiesResult struct {
	Cookies []webdriver.Cookie `json:"cookies"`
	Cleared bool               `json:"cleared,omitempty"`
}

// AlertResult reports a prompt action.
type AlertResult struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}

// QuitResult reports the signal sent to the browser.
type QuitResult struct {
	PID    int    `json:"pid"`
	Signal string `json:"signal"`
}

// LaunchResult describes a started Firefox.
type LaunchResult struct {
	PID            int    `json:"pid,omitempty"`
	MarionettePort int    `json:"marionettePort"`
	RemotePort     int    `json:"remotePort,omitempty"`
	ProfileDir     string `json:"profileDir,omitempty"`
	Relaunched     bool   `json:"relaunched,omitempty"`
}

// VersionResult is the CLI version.
type VersionResult struct {
	Version string `json:"version"`
}

func (r ElementsResult) TextValue() string {
	if len(r.Texts) > 0 {
		return strings.Join(r.Texts, "\n")
	}
	return fmt.Sprintf("%d", r.Count)
}

func (r NavigateResult) TextValue() string { return r.URL }
func (r SourceResult) TextValue() string   { return r.HTML }
func (r TorResult) TextValue() string      { return fmt.Sprintf("%t", r.Tor) }
func (r AlertResult) TextValue() string    { return r.Text }
func (r VersionResult) TextValue() string  { return r.Version }

// rawJSON passes an already-encoded document through untouched in json and
// ndjson modes.
type rawJSON json.RawMessage

func (r rawJSON) MarshalJSON() ([]byte, error) { return json.RawMessage(r), nil }

// queryResults are jq outputs, printed one per line in text mode.
type queryResults []interface{}

func (r queryResults) TextValue() string {
	lines := make([]string, 0, len(r))
	for _, v := range r {
		if s, ok := v.(string); ok {
			lines = append(lines, s)
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			lines = append(lines, fmt.Sprint(v))
			continue
		}
		lines = append(lines, string(b))
	}
	return strings.Join(lines, "\n")
}

func outputResult(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "ndjson":
		return json.NewEncoder(w).Encode(v)
	case "text":
		if tv, ok := v.(TextValuer); ok {
			_, err := fmt.Fprintln(w, tv.TextValue())
			return err
		}
		// Fall back to JSON for complex types
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format: %s", format)
}
