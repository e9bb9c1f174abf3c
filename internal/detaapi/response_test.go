package detaapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
	}{
		{name: "errors array", body: `{"errors":["a","b"]}`, expected: []string{"a", "b"}},
		{name: "single error field", body: `{"error":"boom"}`, expected: []string{"boom"}},
		{name: "plain text", body: "upstream exploded\n", expected: []string{"upstream exploded"}},
		{name: "json without errors", body: `{"ok":false}`, expected: []string{`{"ok":false}`}},
		{name: "empty body", body: "  ", expected: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ErrorMessages([]byte(tc.body)))
		})
	}
}

func TestJoinMessages(t *testing.T) {
	assert.Equal(t, "first\nsecond", JoinMessages([]string{"first", "second"}))
	assert.Equal(t, "", JoinMessages(nil))
}

func TestDecodeEmptyBodyIsNull(t *testing.T) {
	var out map[string]any
	require.NoError(t, Decode(nil, &out))
	assert.Nil(t, out)

	var page struct {
		Paging Paging           `json:"paging"`
		Items  []map[string]any `json:"items"`
	}
	require.NoError(t, Decode([]byte(`{"paging":{"size":1,"last":"k1"},"items":[{"key":"k1"}]}`), &page))
	assert.Equal(t, "k1", page.Paging.Last)
	assert.Len(t, page.Items, 1)
}

func TestEncodeDoesNotEscapeHTML(t *testing.T) {
	data, err := Encode(map[string]string{"q": "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"<a&b>"}`, string(data))
}
