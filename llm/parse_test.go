package llm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/icl/failure"
	"github.com/c360studio/icl/llm"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		shape llm.Shape
		want  any
	}{
		{
			name: "bare object",
			raw:  `{"name": "calc", "ops": ["add"]}`,
			want: map[string]any{"name": "calc", "ops": []any{"add"}},
		},
		{
			name: "fenced json with prose",
			raw:  "Here is the spec:\n\n```json\n{\"name\": \"calc\"}\n```\n\nLet me know!",
			want: map[string]any{"name": "calc"},
		},
		{
			name: "largest fenced block wins",
			raw:  "```json\n{\"a\": 1}\n```\nand the full version:\n```json\n{\"a\": 1, \"b\": [1, 2, 3]}\n```",
			want: map[string]any{"a": 1.0, "b": []any{1.0, 2.0, 3.0}},
		},
		{
			name: "largest block invalid falls back to next",
			raw:  "```json\n{\"a\": 1}\n```\n```json\n{\"this is\": not json at all, really}\n```",
			want: map[string]any{"a": 1.0},
		},
		{
			name: "fenced yaml",
			raw:  "```yaml\nname: calc\nops:\n  - add\n  - sub\n```",
			want: map[string]any{"name": "calc", "ops": []any{"add", "sub"}},
		},
		{
			name: "comments and trailing commas",
			raw:  "```json\n{\n  \"a\": 1, // first\n  \"b\": [2,],\n}\n```",
			want: map[string]any{"a": 1.0, "b": []any{2.0}},
		},
		{
			name: "balanced braces in prose",
			raw:  `Sure! {"title": "uses {braces} in \"strings\""} hope that helps`,
			want: map[string]any{"title": `uses {braces} in "strings"`},
		},
		{
			name:  "object wrapped for array schema",
			raw:   "```json\n{\"id\": \"R1\"}\n```",
			shape: llm.ShapeArray,
			want:  []any{map[string]any{"id": "R1"}},
		},
		{
			name:  "array in prose for array schema",
			raw:   `The requirements are [{"id": "R1"}, {"id": "R2"}].`,
			shape: llm.ShapeArray,
			want:  []any{map[string]any{"id": "R1"}, map[string]any{"id": "R2"}},
		},
		{
			name:  "bracketed prose skipped",
			raw:   `See [the notes] then {"ok": true}`,
			shape: llm.ShapeArray,
			want:  []any{map[string]any{"ok": true}},
		},
		{
			name: "cli json envelope",
			raw:  `{"response": "` + "```json\\n{\\\"name\\\": \\\"calc\\\"}\\n```" + `", "stats": {"models": {}}}`,
			want: map[string]any{"name": "calc"},
		},
		{
			name: "source code fence ignored",
			raw:  "```go\nfunc main() { fmt.Println(\"{}\") }\n```\n```json\n{\"done\": true}\n```",
			want: map[string]any{"done": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := llm.ParseResponse(tt.raw, tt.shape)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResponse_Failures(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"empty", "   ", "reply is empty"},
		{"prose only", "I could not complete the task.", "no JSON object or array found"},
		{"broken fence", "```json\n{\"a\": \n```", "none of 1 fenced block(s)"},
		{"yaml scalar", "```yaml\njust a string\n```", "none of 1 fenced block(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.ParseResponse(tt.raw, llm.ShapeObject)
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.ParseError))

			var pe *llm.ParseError
			require.True(t, errors.As(err, &pe))
			assert.Contains(t, pe.Reason, tt.reason)
			assert.Equal(t, tt.raw, pe.Raw)
		})
	}
}
