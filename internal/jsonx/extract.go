// Package jsonx recovers a JSON object from free-form model text.
package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNoObject = errors.New("no JSON object found")

// ExtractObject scans text for the first balanced {...} span and unmarshals
// it. Braces inside string literals (including escaped quotes) do not count
// toward the balance. Leading and trailing prose around the object is
// ignored.
func ExtractObject(text string) (map[string]json.RawMessage, error) {
	span, err := FirstObjectSpan(text)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &out); err != nil {
		return nil, fmt.Errorf("parse extracted object: %w", err)
	}
	return out, nil
}

// FirstObjectSpan returns the raw text of the first balanced brace span.
func FirstObjectSpan(text string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if start >= 0 && inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		case '"':
			if start >= 0 {
				inString = true
			}
		}
	}
	return "", ErrNoObject
}
