// Package policy masks sensitive values before session content leaves the process.
package policy

import "regexp"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: cards run before phones so long digit runs are not
// classified as phone numbers.
var rules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_\-]{16,}\b`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{30,}\b`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns and credentials.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactValues returns a copy of m with string values redacted. Nested maps
// and slices are walked.
func RedactValues(m map[string]any) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	out := make(map[string]any, len(m))
	changed := false
	for k, v := range m {
		next, c := redactValue(v)
		out[k] = next
		changed = changed || c
	}
	return out, changed
}

func redactValue(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		return RedactPII(t)
	case map[string]any:
		return RedactValues(t)
	case []any:
		out := make([]any, len(t))
		changed := false
		for i, item := range t {
			next, c := redactValue(item)
			out[i] = next
			changed = changed || c
		}
		return out, changed
	default:
		return v, false
	}
}
