package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/icl/failure"
)

// Shape is the top-level JSON shape the target schema expects.
type Shape int

const (
	ShapeAny Shape = iota
	ShapeObject
	ShapeArray
)

// fencePattern matches a fenced code block and captures its language tag and body.
var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")

// ParseError reports a reply from which no structured payload could be
// extracted. Raw is kept so the correction prompt can echo it back.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "parse response: " + e.Reason
}

type fencedBlock struct {
	lang string
	body string
}

// ParseResponse extracts the structured payload from an LLM reply.
//
// Extraction order: the whole reply as JSON, then the largest fenced block
// whose body parses as JSON or YAML, then the first balanced {...} or [...]
// span. When shape is ShapeArray a lone object is wrapped in a one-element
// array. The gemini CLI's --output-format json envelope is unwrapped first.
func ParseResponse(raw string, shape Shape) (any, error) {
	text := strings.TrimSpace(unwrapEnvelope(raw))
	if text == "" {
		return nil, parseFailure("reply is empty", raw)
	}

	if v, ok := decodeJSON(text); ok {
		return conform(v, shape), nil
	}

	blocks := fencedBlocks(text)
	sort.SliceStable(blocks, func(i, j int) bool {
		return len(blocks[i].body) > len(blocks[j].body)
	})
	for _, b := range blocks {
		if v, ok := decodeBlock(b); ok {
			return conform(v, shape), nil
		}
	}

	opens := []byte{'{', '['}
	if shape == ShapeArray {
		opens = []byte{'[', '{'}
	}
	for _, open := range opens {
		if v, ok := firstBalanced(text, open); ok {
			return conform(v, shape), nil
		}
	}

	reason := "no JSON object or array found in reply"
	if len(blocks) > 0 {
		reason = fmt.Sprintf("none of %d fenced block(s) contained valid JSON or YAML", len(blocks))
	}
	return nil, parseFailure(reason, raw)
}

func parseFailure(reason, raw string) error {
	return failure.Wrap(failure.ParseError, &ParseError{Reason: reason, Raw: raw}, "extract payload")
}

// unwrapEnvelope returns the "response" field of a CLI JSON envelope such as
// {"response": "...", "stats": {...}}. Other replies are returned unchanged.
func unwrapEnvelope(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}
	var env struct {
		Response *string         `json:"response"`
		Stats    json.RawMessage `json:"stats"`
	}
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil || env.Response == nil || env.Stats == nil {
		return raw
	}
	return *env.Response
}

func fencedBlocks(text string) []fencedBlock {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	blocks := make([]fencedBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fencedBlock{lang: strings.ToLower(m[1]), body: strings.TrimSpace(m[2])})
	}
	return blocks
}

func decodeBlock(b fencedBlock) (any, bool) {
	switch b.lang {
	case "json", "jsonc", "json5", "javascript", "js":
		return decodeJSON(b.body)
	case "yaml", "yml":
		return decodeYAML(b.body)
	case "":
		if v, ok := decodeJSON(b.body); ok {
			return v, true
		}
		return decodeYAML(b.body)
	default:
		return nil, false
	}
}

// decodeJSON accepts objects and arrays only, retrying once with comments and
// trailing commas stripped.
func decodeJSON(s string) (any, bool) {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, true
	}
	if err := json.Unmarshal([]byte(repairJSON(s)), &v); err == nil {
		return v, true
	}
	return nil, false
}

// decodeYAML accepts mappings and sequences and converts them to the same
// value model encoding/json produces.
func decodeYAML(s string) (any, bool) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
	default:
		return nil, false
	}
	data, err := json.Marshal(v)
	if err != nil {
		// non-string mapping keys
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

// firstBalanced scans for top-level spans opened by open and returns the first
// one that decodes.
func firstBalanced(text string, open byte) (any, bool) {
	from := 0
	for from < len(text) {
		idx := strings.IndexByte(text[from:], open)
		if idx < 0 {
			return nil, false
		}
		start := from + idx
		end := matchClose(text, start)
		if end < 0 {
			return nil, false
		}
		if v, ok := decodeJSON(text[start : end+1]); ok {
			return v, true
		}
		from = start + 1
	}
	return nil, false
}

// matchClose returns the index of the bracket closing text[start], honoring
// JSON string literals, or -1 when unbalanced.
func matchClose(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
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
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func conform(v any, shape Shape) any {
	if shape == ShapeArray {
		if obj, ok := v.(map[string]any); ok {
			return []any{obj}
		}
	}
	return v
}
