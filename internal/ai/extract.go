// AngelaMos | 2026
// extract.go

package ai

import (
	"encoding/json"
)

// ExtractJSON returns the first balanced top-level {...} object in text
// that is valid JSON. Braces inside JSON strings are not counted, so
// prose before and after the object is tolerated.
func ExtractJSON(text string) (json.RawMessage, bool) {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return json.RawMessage(candidate), true
				}
				start = -1
			}
		}
	}

	return nil, false
}

// ParseJSON decodes the object found by ExtractJSON into T. A nil result
// means the model answered but the content was unusable.
func ParseJSON[T any](text string) (*T, bool) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, false
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return &out, true
}
