package llm

import (
	"encoding/json"
	"testing"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "valid input unchanged",
			input: `{"components": ["parser", "lexer"]}`,
			want:  `{"components": ["parser", "lexer"]}`,
		},
		{
			name:  "trailing comma in array",
			input: `["add", "subtract",]`,
			want:  `["add", "subtract"]`,
		},
		{
			name:  "trailing comma before newline and brace",
			input: "{\"a\": 1,\n}",
			want:  "{\"a\": 1\n}",
		},
		{
			name:  "line comments",
			input: "{\n  \"score\": 0.9, // good\n  \"feedback\": \"ok\" // done\n}",
			want:  "{\n  \"score\": 0.9,\n  \"feedback\": \"ok\"\n}",
		},
		{
			name:  "comment between comma and bracket",
			input: "[\n  \"one\", // first\n]",
			want:  "[\n  \"one\"\n]",
		},
		{
			name:  "block comment",
			input: `{"a": /* the answer */ 42}`,
			want:  `{"a":  42}`,
		},
		{
			name:  "URL inside string preserved",
			input: `{"url": "http://example.com/a,]"}`,
			want:  `{"url": "http://example.com/a,]"}`,
		},
		{
			name:  "escaped quote inside string",
			input: `{"path": "a\"b//c",}`,
			want:  `{"path": "a\"b//c"}`,
		},
		{
			name:  "unterminated block comment truncates",
			input: `{"a": 1} /* trailing`,
			want:  `{"a": 1} `,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := repairJSON(tt.input); got != tt.want {
				t.Errorf("repairJSON(%q)\ngot:  %q\nwant: %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRepairJSON_ProducesValidJSON(t *testing.T) {
	raw := "{\n  // requirements for the calculator\n  \"requirements\": [\n    \"add two numbers\",  // core\n    \"divide safely\",\n  ],\n  /* reviewed */ \"version\": 2,\n}"
	var v map[string]any
	if err := json.Unmarshal([]byte(repairJSON(raw)), &v); err != nil {
		t.Fatalf("repaired JSON is invalid: %v\n%s", err, repairJSON(raw))
	}
	if reqs, ok := v["requirements"].([]any); !ok || len(reqs) != 2 {
		t.Errorf("requirements = %#v", v["requirements"])
	}
}
