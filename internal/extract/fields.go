package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/joelkehle/kyc-agency/internal/document"
)

// Fields recovers the extracted fields of a document of the given kind. When
// no JSON object can be parsed the known fields of kind are reconstructed
// from the raw text; a response yielding no fields at all is an error.
func Fields(resp any, kind document.Kind) (document.Record, error) {
	text, err := Payload(resp)
	if err != nil {
		return nil, err
	}
	obj, parseErr := ParseText(text)
	if parseErr == nil {
		return flatten(obj), nil
	}
	rec := Reconstruct(text, kind.Fields())
	if len(rec) == 0 {
		return nil, &ParseError{Raw: text, Err: eris.Wrapf(parseErr, "no %s fields recoverable", kind)}
	}
	return rec, nil
}

// Reconstruct scans text for "field": value pairs, preferring quoted values
// and falling back to values running to the next comma, brace or newline.
func Reconstruct(text string, fields []string) document.Record {
	rec := document.Record{}
	for _, field := range fields {
		name := regexp.QuoteMeta(field)
		strict := regexp.MustCompile(`"` + name + `"\s*:\s*"([^"]*)"`)
		if m := strict.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
			rec[field] = strings.TrimSpace(m[1])
			continue
		}
		loose := regexp.MustCompile(`"` + name + `"\s*:\s*([^,\n\r}]+)`)
		if m := loose.FindStringSubmatch(text); m != nil {
			v := strings.Trim(strings.TrimSpace(m[1]), `"`)
			if v != "" && v != "null" {
				rec[field] = v
			}
		}
	}
	return rec
}

// flatten stringifies scalar values; nested values are kept as JSON text.
func flatten(obj map[string]any) document.Record {
	rec := document.Record{}
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
		case string:
			rec[k] = val
		case float64:
			rec[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			rec[k] = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				rec[k] = fmt.Sprint(val)
				continue
			}
			rec[k] = string(b)
		}
	}
	return rec
}
