package bidi

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tomyan/foxtrot/internal/webdriver"
)

// remoteValue is a serialized script value as returned by script.evaluate,
// script.callFunction and browsingContext.locateNodes.
type remoteValue struct {
	Type     string          `json:"type"`
	Value    json.RawMessage `json:"value,omitempty"`
	SharedID string          `json:"sharedId,omitempty"`
}

// toJSON converts a remote value to plain JSON. Nodes become web element
// references so results look like Marionette's. Values with no JSON form
// (functions, windows, symbols) become null.
func (rv remoteValue) toJSON() (interface{}, error) {
	switch rv.Type {
	case "undefined", "null":
		return nil, nil

	case "string", "boolean", "bigint", "date":
		var v interface{}
		if err := json.Unmarshal(rv.Value, &v); err != nil {
			return nil, err
		}
		return v, nil

	case "number":
		var n float64
		if err := json.Unmarshal(rv.Value, &n); err == nil {
			return n, nil
		}
		var special string
		if err := json.Unmarshal(rv.Value, &special); err != nil {
			return nil, fmt.Errorf("decoding number: %w", err)
		}
		// NaN and the infinities have no JSON form
		if special == "-0" {
			return math.Copysign(0, -1), nil
		}
		return nil, nil

	case "array", "set", "nodelist", "htmlcollection":
		var items []remoteValue
		if err := json.Unmarshal(rv.Value, &items); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", rv.Type, err)
		}
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			v, err := item.toJSON()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case "object", "map":
		var pairs [][2]json.RawMessage
		if err := json.Unmarshal(rv.Value, &pairs); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", rv.Type, err)
		}
		out := make(map[string]interface{}, len(pairs))
		for _, pair := range pairs {
			key, err := mapKey(pair[0])
			if err != nil {
				return nil, err
			}
			var item remoteValue
			if err := json.Unmarshal(pair[1], &item); err != nil {
				return nil, fmt.Errorf("decoding %s entry %q: %w", rv.Type, key, err)
			}
			v, err := item.toJSON()
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil

	case "node":
		return map[string]interface{}{webdriver.ElementKey: rv.SharedID}, nil

	case "regexp":
		var re struct {
			Pattern string `json:"pattern"`
			Flags   string `json:"flags"`
		}
		if err := json.Unmarshal(rv.Value, &re); err != nil {
			return nil, err
		}
		return "/" + re.Pattern + "/" + re.Flags, nil
	}
	return nil, nil
}

// mapKey decodes an object key, which is a plain string for objects and a
// remote value for maps.
func mapKey(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var rv remoteValue
	if err := json.Unmarshal(raw, &rv); err != nil {
		return "", fmt.Errorf("decoding map key: %w", err)
	}
	v, err := rv.toJSON()
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// localValue serializes a Go value as a script argument. Elements are passed
// by shared id.
func localValue(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case nil:
		return map[string]interface{}{"type": "null"}, nil
	case webdriver.Element:
		return map[string]interface{}{"sharedId": v.ID}, nil
	case *webdriver.Element:
		return map[string]interface{}{"sharedId": v.ID}, nil
	case string:
		return map[string]interface{}{"type": "string", "value": v}, nil
	case bool:
		return map[string]interface{}{"type": "boolean", "value": v}, nil
	case int:
		return map[string]interface{}{"type": "number", "value": v}, nil
	case int64:
		return map[string]interface{}{"type": "number", "value": v}, nil
	case float64:
		return numberValue(v), nil
	case []interface{}:
		items := make([]interface{}, 0, len(v))
		for _, item := range v {
			lv, err := localValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, lv)
		}
		return map[string]interface{}{"type": "array", "value": items}, nil
	case map[string]interface{}:
		if id, ok := asElement(v); ok {
			return map[string]interface{}{"sharedId": id}, nil
		}
		pairs := make([]interface{}, 0, len(v))
		for k, item := range v {
			lv, err := localValue(item)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, []interface{}{k, lv})
		}
		return map[string]interface{}{"type": "object", "value": pairs}, nil
	}

	// anything else goes through its JSON form
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding script argument: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return localValue(generic)
}

func numberValue(f float64) map[string]interface{} {
	switch {
	case math.IsNaN(f):
		return map[string]interface{}{"type": "number", "value": "NaN"}
	case math.IsInf(f, 1):
		return map[string]interface{}{"type": "number", "value": "Infinity"}
	case math.IsInf(f, -1):
		return map[string]interface{}{"type": "number", "value": "-Infinity"}
	}
	return map[string]interface{}{"type": "number", "value": f}
}

func asElement(v interface{}) (string, bool) {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) != 1 {
		return "", false
	}
	id, ok := m[webdriver.ElementKey].(string)
	return id, ok
}
