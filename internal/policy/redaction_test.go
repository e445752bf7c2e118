package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIIKeys(t *testing.T) {
	out, changed := RedactPII("paste sk-abcdefghijklmnopqrstuv into the field")
	if !changed || !strings.Contains(out, "[REDACTED_KEY]") {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}

func TestRedactPIIUnchanged(t *testing.T) {
	out, changed := RedactPII("Click the blue Export button.")
	if changed || out != "Click the blue Export button." {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}

func TestRedactValuesNested(t *testing.T) {
	in := map[string]any{
		"app":   "Figma",
		"count": 3,
		"owner": map[string]any{"email": "a@b.io"},
		"tags":  []any{"x", "call 555-123-45678"},
	}
	out, changed := RedactValues(in)
	if !changed {
		t.Fatalf("changed = false")
	}
	if out["app"] != "Figma" || out["count"] != 3 {
		t.Fatalf("untouched values changed: %+v", out)
	}
	if out["owner"].(map[string]any)["email"] != "[REDACTED_EMAIL]" {
		t.Fatalf("nested map not redacted: %+v", out["owner"])
	}
	if !strings.Contains(out["tags"].([]any)[1].(string), "[REDACTED_PHONE]") {
		t.Fatalf("slice not redacted: %+v", out["tags"])
	}
	if in["owner"].(map[string]any)["email"] != "a@b.io" {
		t.Fatalf("input mutated")
	}
}
