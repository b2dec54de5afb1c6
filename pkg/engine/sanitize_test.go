package engine

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitize_StripsThinkingMarkers(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"thinks marker", "*thinks* deeply about it* Hello there!", "Hello there!"},
		{"stage direction", "*waves enthusiastically* Hi chat!", "Hi chat!"},
		{"thinking paren", "(thinking: what should I say) Good question!", "Good question!"},
		{"thinking bracket", "[thinking: processing] Sure thing!", "Sure thing!"},
		{"stalling filler", "Let me think about this... The answer is 42.", "The answer is 42."},
		{"hmm filler", "Hmm, let me see... Probably yes.", "Probably yes."},
		{"clean passthrough", "Just a normal response.", "Just a normal response."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitize(tc.in, 480); got != tc.want {
				t.Errorf("sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitize_CollapsesWhitespace(t *testing.T) {
	got := sanitize("  Hello\n\n  world\t !  ", 480)
	if got != "Hello world !" {
		t.Errorf("got %q", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	in := "A perfectly ordinary reply. Nothing to strip here."
	once := sanitize(in, 480)
	twice := sanitize(once, 480)
	if once != twice {
		t.Errorf("not idempotent: %q vs %q", once, twice)
	}
}

func TestSanitize_TruncatesAtSentenceBoundary(t *testing.T) {
	first := strings.Repeat("a", 100) + "."
	second := strings.Repeat("b", 100) + "."
	third := strings.Repeat("c", 300) + "."
	in := first + " " + second + " " + third

	got := sanitize(in, 240)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if !strings.Contains(got, first) || !strings.Contains(got, second) {
		t.Errorf("expected first two sentences kept, got %q", got)
	}
	if strings.Contains(got, "ccc") {
		t.Errorf("third sentence should have been cut, got %q", got)
	}
	if utf8.RuneCountInString(got) > 240 {
		t.Errorf("length %d exceeds limit 240", utf8.RuneCountInString(got))
	}
}

func TestSanitize_HardTruncateWithoutBoundary(t *testing.T) {
	in := strings.Repeat("x", 600)
	got := sanitize(in, 480)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if utf8.RuneCountInString(got) != 470+3 {
		t.Errorf("length = %d, want 473", utf8.RuneCountInString(got))
	}
}

func TestSanitize_WithinLimitUntouched(t *testing.T) {
	in := strings.Repeat("y", 480)
	if got := sanitize(in, 480); got != in {
		t.Errorf("response within limit was modified")
	}
}
