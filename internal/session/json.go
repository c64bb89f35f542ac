package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/itchyny/gojq"
)

const (
	jsonOpenMarker  = `<div id="json">`
	jsonCloseMarker = `</div></div>`
)

var (
	// ErrJSONMarkerNotFound means the page has no json container.
	ErrJSONMarkerNotFound = errors.New("json container not found in page source")
	// ErrJSONMarkerAmbiguous means strict extraction found several containers.
	ErrJSONMarkerAmbiguous = errors.New("page source has more than one json container")
)

// JSONFromPageSource returns the text between the first <div id="json"> and
// the last </div></div> of source. Nothing is unescaped or validated.
func JSONFromPageSource(source string) (string, error) {
	start := strings.Index(source, jsonOpenMarker)
	if start < 0 {
		return "", fmt.Errorf("%w: missing %s", ErrJSONMarkerNotFound, jsonOpenMarker)
	}
	end := strings.LastIndex(source, jsonCloseMarker)
	if end < 0 {
		return "", fmt.Errorf("%w: missing %s", ErrJSONMarkerNotFound, jsonCloseMarker)
	}
	start += len(jsonOpenMarker)
	if end < start {
		return "", fmt.Errorf("%w: %s precedes %s", ErrJSONMarkerNotFound, jsonCloseMarker, jsonOpenMarker)
	}
	return source[start:end], nil
}

// JSONFromPageSourceStrict parses source as HTML and returns the text of the
// single div#json element.
func JSONFromPageSourceStrict(source string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return "", fmt.Errorf("parsing page source: %w", err)
	}

	sel := doc.Find("div#json")
	switch sel.Length() {
	case 0:
		return "", ErrJSONMarkerNotFound
	case 1:
		return sel.Text(), nil
	default:
		return "", fmt.Errorf("%w: found %d", ErrJSONMarkerAmbiguous, sel.Length())
	}
}

// GetJSON loads url, pulls the JSON document out of the page and decodes it
// into v. The extractor is strict when the session was built WithStrictJSON.
func (s *Session) GetJSON(ctx context.Context, url string, v interface{}) error {
	return s.getJSON(ctx, url, v, s.strictJSON)
}

// GetJSONStrict is GetJSON with JSONFromPageSourceStrict whatever the
// session default.
func (s *Session) GetJSONStrict(ctx context.Context, url string, v interface{}) error {
	return s.getJSON(ctx, url, v, true)
}

// QueryJSON loads url like GetJSON and runs the jq query over the document.
func (s *Session) QueryJSON(ctx context.Context, url, query string) ([]interface{}, error) {
	return s.queryJSON(ctx, url, query, s.strictJSON)
}

// QueryJSONStrict is QueryJSON with strict extraction.
func (s *Session) QueryJSONStrict(ctx context.Context, url, query string) ([]interface{}, error) {
	return s.queryJSON(ctx, url, query, true)
}

func (s *Session) getJSON(ctx context.Context, url string, v interface{}, strict bool) error {
	if err := s.driver.Navigate(ctx, url); err != nil {
		return fmt.Errorf("loading %s: %w", url, err)
	}
	source, err := s.driver.PageSource(ctx)
	if err != nil {
		return fmt.Errorf("reading page source: %w", err)
	}

	extract := JSONFromPageSource
	if strict {
		extract = JSONFromPageSourceStrict
	}
	text, err := extract(source)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decoding json from %s: %w", url, err)
	}
	return nil
}

func (s *Session) queryJSON(ctx context.Context, url, query string, strict bool) ([]interface{}, error) {
	var doc interface{}
	if err := s.getJSON(ctx, url, &doc, strict); err != nil {
		return nil, err
	}
	return RunQuery(ctx, query, doc)
}

// RunQuery evaluates a jq expression against a decoded JSON value and
// collects every output.
func RunQuery(ctx context.Context, query string, input interface{}) ([]interface{}, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("invalid jq query: %w", err)
	}

	var results []interface{}
	iter := parsed.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq error: %w", err)
		}
		results = append(results, v)
	}
	return results, nil
}
