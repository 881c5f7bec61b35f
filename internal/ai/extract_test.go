// AngelaMos | 2026
// extract_test.go

package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFromProse(t *testing.T) {
	raw, ok := ExtractJSON(`Sure! Here is the result: {"a": 1, "b": {"c": 2}} Hope that helps.`)
	require.True(t, ok)
	assert.JSONEq(t, `{"a": 1, "b": {"c": 2}}`, string(raw))
}

func TestExtractJSONWithoutObject(t *testing.T) {
	for _, text := range []string{
		"",
		"no json here",
		"only an opening { brace",
		"} backwards {",
	} {
		raw, ok := ExtractJSON(text)
		assert.False(t, ok, text)
		assert.Nil(t, raw, text)
	}
}

func TestExtractJSONIgnoresBracesInStrings(t *testing.T) {
	raw, ok := ExtractJSON(`Result: {"caption": "use {curly} braces \" and }", "n": 1} trailing }`)
	require.True(t, ok)
	assert.JSONEq(t, `{"caption": "use {curly} braces \" and }", "n": 1}`, string(raw))
}

func TestExtractJSONSkipsInvalidCandidate(t *testing.T) {
	raw, ok := ExtractJSON(`{not json} then {"ok": true}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
}

func TestParseJSON(t *testing.T) {
	type result struct {
		A int `json:"a"`
		B struct {
			C int `json:"c"`
		} `json:"b"`
	}

	got, ok := ParseJSON[result](`Sure! Here is the result: {"a": 1, "b": {"c": 2}} Hope that helps.`)
	require.True(t, ok)
	assert.Equal(t, 1, got.A)
	assert.Equal(t, 2, got.B.C)

	got, ok = ParseJSON[result](`{"a": "not a number"}`)
	assert.False(t, ok)
	assert.Nil(t, got)
}
