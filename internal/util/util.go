package util

import (
	"strings"
)

// ContainsString reports whether slice contains item.
func ContainsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated
// (UTF-8 safe). If preserveWords is true, truncates at the last space before
// maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBeforeRune(runes, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

func lastSpaceBeforeRune(runes []rune, pos int) int {
	if pos > len(runes) {
		pos = len(runes)
	}
	for i := pos - 1; i >= 0; i-- {
		if runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' {
			return i
		}
	}
	return -1
}

// HeadTail keeps the head and tail of long content with an elision marker in
// between. Used for fetched page bodies where both the opening and the
// conclusion tend to carry signal.
func HeadTail(s string, maxChars int) string {
	runes := []rune(s)
	if maxChars <= 0 || len(runes) <= maxChars {
		return s
	}
	const marker = "\n...[content truncated]...\n"
	head := maxChars * 2 / 3
	tail := maxChars - head
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:])
}

// ExtractJSONObject pulls the first balanced top-level JSON object out of
// free-form model output. Handles strings and escapes so braces inside quoted
// text do not unbalance the scan. Returns "" when no object is found.
func ExtractJSONObject(s string) string {
	return extractBalanced(s, '{', '}')
}

// ExtractJSONArray pulls the first balanced top-level JSON array.
func ExtractJSONArray(s string) string {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
