// Package extract recovers structured records from free-form evaluation
// service output.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// ParseError reports that no strategy could recover a structured object.
// Raw carries the text that was examined.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return "extract: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// envelopePaths are probed in order to find the text payload of a response.
var envelopePaths = []string{
	"output.message.content.0.text",
	"content.0.text",
	"content.0",
	"completion",
	"text",
	"response",
	"response_text",
}

// Strategy locates a candidate JSON object inside text.
type Strategy func(text string) (string, bool)

// Strategies are tried in order; the first candidate that parses wins.
var Strategies = []Strategy{FencedBlock, BraceSpan}

var fence = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n(.*?)```")

// FencedBlock returns the contents of the first fenced code block.
func FencedBlock(text string) (string, bool) {
	m := fence.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	inner := strings.TrimSpace(m[1])
	return inner, inner != ""
}

// BraceSpan returns the text from the first '{' to the last '}'.
func BraceSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// Payload locates the text payload of a service response. Plain text is its
// own payload; JSON envelopes and structured values are probed along the
// known envelope paths.
func Payload(resp any) (string, error) {
	switch v := resp.(type) {
	case nil:
		return "", &ParseError{Err: eris.New("empty response")}
	case string:
		return textPayload(v), nil
	case []byte:
		return textPayload(string(v)), nil
	case json.RawMessage:
		return textPayload(string(v)), nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", &ParseError{Err: eris.Wrap(err, "encode response")}
	}
	if text, ok := probeEnvelope(string(raw)); ok {
		return text, nil
	}
	return "", &ParseError{Raw: string(raw), Err: eris.New("no known envelope in response")}
}

func textPayload(s string) string {
	s = strings.TrimSpace(s)
	if gjson.Valid(s) && gjson.Parse(s).IsObject() {
		if text, ok := probeEnvelope(s); ok {
			return text
		}
	}
	return s
}

func probeEnvelope(js string) (string, bool) {
	for _, path := range envelopePaths {
		r := gjson.Get(js, path)
		if r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			return r.Str, true
		}
	}
	return "", false
}

// Object recovers a JSON object from a service response.
func Object(resp any) (map[string]any, error) {
	text, err := Payload(resp)
	if err != nil {
		return nil, err
	}
	return ParseText(text)
}

// ParseText runs the candidate strategies over text.
func ParseText(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Raw: text, Err: eris.New("empty payload")}
	}
	var lastErr error = eris.New("no JSON object found")
	for _, strategy := range Strategies {
		candidate, ok := strategy(text)
		if !ok {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			lastErr = eris.Wrap(err, "decode candidate")
			continue
		}
		if obj == nil {
			lastErr = eris.New("candidate is not an object")
			continue
		}
		return obj, nil
	}
	return nil, &ParseError{Raw: text, Err: lastErr}
}

// ValidationDefaults are backfilled into validation replies.
func ValidationDefaults() map[string]any {
	return map[string]any{
		"overall_match":      false,
		"confidence_score":   0,
		"discrepancies":      []any{},
		"warnings":           []any{},
		"validation_details": map[string]any{},
	}
}

// Backfill sets every key of defaults that obj lacks or holds as null.
func Backfill(obj, defaults map[string]any) map[string]any {
	if obj == nil {
		obj = map[string]any{}
	}
	for k, v := range defaults {
		if cur, ok := obj[k]; !ok || cur == nil {
			obj[k] = v
		}
	}
	return obj
}

// ValidationObject recovers a validation reply with every required key present.
func ValidationObject(resp any) (map[string]any, error) {
	obj, err := Object(resp)
	if err != nil {
		return nil, err
	}
	return Backfill(obj, ValidationDefaults()), nil
}
