package llm

import "strings"

// repairJSON strips the non-JSON habits models carry over from JavaScript:
// line and block comments, and trailing commas before a closing bracket.
// Text inside string literals is never touched.
func repairJSON(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			b.WriteByte(ch)
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

		switch {
		case ch == '"':
			inString = true
			b.WriteByte(ch)
		case ch == '/' && i+1 < len(raw) && raw[i+1] == '/':
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			trimTrailingBlanks(&b)
			if i < len(raw) {
				b.WriteByte('\n')
			}
		case ch == '/' && i+1 < len(raw) && raw[i+1] == '*':
			end := strings.Index(raw[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		case ch == ',' && closesNext(raw[i+1:]):
			// dropped
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// closesNext reports whether the next significant byte of rest closes an
// object or array, skipping blanks and comments.
func closesNext(rest string) bool {
	for i := 0; i < len(rest); i++ {
		switch ch := rest[i]; {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
		case ch == '/' && i+1 < len(rest) && rest[i+1] == '/':
			nl := strings.IndexByte(rest[i:], '\n')
			if nl < 0 {
				return false
			}
			i += nl
		case ch == '/' && i+1 < len(rest) && rest[i+1] == '*':
			end := strings.Index(rest[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		default:
			return ch == '}' || ch == ']'
		}
	}
	return false
}

func trimTrailingBlanks(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " \t")
	if len(trimmed) != len(s) {
		b.Reset()
		b.WriteString(trimmed)
	}
}
