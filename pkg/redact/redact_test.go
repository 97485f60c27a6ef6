package redact

import (
	"strings"
	"testing"
)

func TestTextRedactsWhenEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	in := "reach me at jane.doe@example.com or +62 812 3456 7890"
	out := Text(in)
	if !strings.Contains(out, "[REDACTED_EMAIL]") {
		t.Fatalf("expected redacted email in %q", out)
	}
	if !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("expected redacted phone in %q", out)
	}
}

func TestTextPassthroughWhenDisabled(t *testing.T) {
	SetEnabled(false)
	in := "mail me at jane.doe@example.com"
	if out := Text(in); out != in {
		t.Fatalf("expected passthrough, got %q", out)
	}
}
