package tgui

import (
	"strings"
	"testing"
)

func TestEscAndTags(t *testing.T) {
	if got := string(B("a <b> & c")); got != "<b>a &lt;b&gt; &amp; c</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := string(Link(`x"y`, "https://e.com?a=1&b=2")); strings.Contains(got, `x"y`) {
		t.Fatalf("attribute not escaped: %q", got)
	}
}

func TestLinesSkipsBlankParts(t *testing.T) {
	got := string(Lines(B("head"), "", Esc("body"), H("  ")))
	if got != "<b>head</b>\nbody" {
		t.Fatalf("Lines = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Errorf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	s, err := Data("bc", "ok", "tok:en")
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	ns, action, payload := Split(s)
	if ns != "bc" || action != "ok" || payload != "tok:en" {
		t.Fatalf("Split(%q) = %q %q %q", s, ns, action, payload)
	}

	if _, err := Data("bc", "ok", strings.Repeat("x", MaxCallbackDataLen)); err == nil {
		t.Fatalf("oversized callback data must be rejected")
	}
}
