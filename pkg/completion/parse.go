package completion

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?s)^```(?:json|JSON)?\\s*\n?(.*?)\\s*```$")

// StripCodeFence removes a surrounding markdown code fence, as in
// "```json\n{...}\n```".
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ErrNoJSONObject is returned when a response holds no JSON object.
var ErrNoJSONObject = errors.New("no JSON object in response")

// ExtractJSONObject returns the first balanced {...} span of s, ignoring
// braces inside string literals.
func ExtractJSONObject(s string) (string, error) {
	s = StripCodeFence(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSONObject
}

// DecodeJSON extracts the first JSON object of a response, normalizes
// string arrays in object fields, and unmarshals it into v.
func DecodeJSON(response string, v interface{}) error {
	obj, err := ExtractJSONObject(response)
	if err != nil {
		return err
	}
	normalized, _, err := NormalizeJSONArraysToStrings([]byte(obj))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(normalized, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// NormalizeJSONArraysToStrings rewrites arrays of strings nested inside
// objects into comma-joined strings ({"rationale": ["a", "b"]} becomes
// {"rationale": "a, b"}). A top-level array is preserved. The bool reports
// whether anything changed.
func NormalizeJSONArraysToStrings(data []byte) ([]byte, bool, error) {
	var root interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, false, fmt.Errorf("parse JSON: %w", err)
	}
	changed := false
	out, err := json.Marshal(normalizeValue(root, &changed, true))
	if err != nil {
		return nil, false, fmt.Errorf("marshal normalized JSON: %w", err)
	}
	return out, changed, nil
}

func normalizeValue(value interface{}, changed *bool, top bool) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = normalizeValue(val, changed, false)
		}
		return out
	case []interface{}:
		if !top && len(v) > 0 && allStrings(v) {
			*changed = true
			parts := make([]string, len(v))
			for i, elem := range v {
				parts[i] = elem.(string)
			}
			return strings.Join(parts, ", ")
		}
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = normalizeValue(elem, changed, false)
		}
		return out
	default:
		return value
	}
}

func allStrings(arr []interface{}) bool {
	for _, elem := range arr {
		if _, ok := elem.(string); !ok {
			return false
		}
	}
	return true
}
