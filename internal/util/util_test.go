package util

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10, false))
	assert.Equal(t, "hello w...", TruncateString("hello world out there", 10, false))
	assert.Equal(t, "hello...", TruncateString("hello world out there", 10, true))
	assert.Equal(t, "", TruncateString("anything", 0, false))
}

func TestHeadTail(t *testing.T) {
	s := strings.Repeat("a", 100) + strings.Repeat("z", 100)
	out := HeadTail(s, 60)
	assert.Contains(t, out, "[content truncated]")
	assert.True(t, strings.HasPrefix(out, "aaaa"))
	assert.True(t, strings.HasSuffix(out, "zzzz"))

	assert.Equal(t, "short", HeadTail("short", 60))
}

func TestExtractJSONObject(t *testing.T) {
	raw := "Sure, here is the result:\n```json\n{\"a\": 1, \"b\": {\"c\": \"}\"}}\n```\ndone"
	got := ExtractJSONObject(raw)
	require.NotEmpty(t, got)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
	assert.EqualValues(t, 1, parsed["a"])

	assert.Empty(t, ExtractJSONObject("no json here"))
	assert.Empty(t, ExtractJSONObject("{unclosed"))
}

func TestExtractJSONArray(t *testing.T) {
	raw := "plan: [{\"focus\": \"x [1]\"}, {\"focus\": \"y\"}] trailing"
	got := ExtractJSONArray(raw)
	require.NotEmpty(t, got)

	var parsed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &parsed))
	assert.Len(t, parsed, 2)
}
