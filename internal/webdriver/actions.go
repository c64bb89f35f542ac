package webdriver

import "github.com/google/uuid"

// Special keys, as W3C code points.
const (
	KeyNull      = "\ue000"
	KeyCancel    = "\ue001"
	KeyBackspace = "\ue003"
	KeyTab       = "\ue004"
	KeyClear     = "\ue005"
	KeyReturn    = "\ue006"
	KeyEnter     = "\ue007"
	KeyShift     = "\ue008"
	KeyControl   = "\ue009"
	KeyAlt       = "\ue00a"
	KeyEscape    = "\ue00c"
	KeySpace     = "\ue00d"
	KeyPageUp    = "\ue00e"
	KeyPageDown  = "\ue00f"
	KeyEnd       = "\ue010"
	KeyHome      = "\ue011"
	KeyLeft      = "\ue012"
	KeyUp        = "\ue013"
	KeyRight     = "\ue014"
	KeyDown      = "\ue015"
	KeyDelete    = "\ue017"
	KeyMeta      = "\ue03d"
)

// Action is a single step within an input source.
type Action struct {
	Type     string      `json:"type"`
	Value    string      `json:"value,omitempty"`
	Duration *int        `json:"duration,omitempty"`
	Button   *int        `json:"button,omitempty"`
	Origin   interface{} `json:"origin,omitempty"`
	X        *int        `json:"x,omitempty"`
	Y        *int        `json:"y,omitempty"`
}

// ActionSource is one input device and its action list.
type ActionSource struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Actions    []Action          `json:"actions"`
}

// KeyActions builds a key input source that presses and releases each rune
// of keys in order.
func KeyActions(keys string) ActionSource {
	src := ActionSource{
		Type: "key",
		ID:   "key-" + uuid.NewString(),
	}
	for _, r := range keys {
		k := string(r)
		src.Actions = append(src.Actions,
			Action{Type: "keyDown", Value: k},
			Action{Type: "keyUp", Value: k},
		)
	}
	return src
}
