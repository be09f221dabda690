package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	got := ExtractJSON(`Sure! Here is the result: {"a":1,"b":{"c":2}} hope that helps`)
	assert.Equal(t, `{"a":1,"b":{"c":2}}`, got)
}

func TestExtractJSONArray(t *testing.T) {
	got := ExtractJSON(`[{"x":1},{"x":2}]`)
	assert.Equal(t, `[{"x":1},{"x":2}]`, got)
}

func TestExtractJSONFenced(t *testing.T) {
	input := "```json\n{\"rated_segments\":[]}\n```"
	got := ExtractJSON(input)
	assert.Equal(t, `{"rated_segments":[]}`, got)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	got := ExtractJSON(`{"text":"a { nested } brace and a \" quote"}`)
	assert.Equal(t, `{"text":"a { nested } brace and a \" quote"}`, got)
}

func TestExtractJSONNone(t *testing.T) {
	assert.Empty(t, ExtractJSON("no json here"))
	assert.Empty(t, ExtractJSON(""))
	assert.Empty(t, ExtractJSON(`{"unterminated":`))
}
