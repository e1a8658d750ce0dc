package transport

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClampText(t *testing.T) {
	t.Parallel()

	if got := ClampText("short", 10); got != "short" {
		t.Fatalf("ClampText(short)=%q", got)
	}

	long := strings.Repeat("a", 20)
	got := ClampText(long, 10)
	if n := utf8.RuneCountInString(got); n > 10 {
		t.Fatalf("len=%d want <=10 (%q)", n, got)
	}
	if !strings.HasSuffix(got, "\n…") {
		t.Fatalf("missing ellipsis: %q", got)
	}

	lines := "line-one\nline-two\nline-three\nline-four"
	got = ClampText(lines, 30)
	if got != "line-one\nline-two\nline-three\n…" {
		t.Fatalf("ClampText(lines)=%q", got)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := SplitText("abc", 10); len(got) != 1 || got[0] != "abc" {
		t.Fatalf("SplitText(abc)=%q", got)
	}

	in := strings.Repeat("x", 8) + "\n" + strings.Repeat("y", 8)
	got := SplitText(in, 10)
	if len(got) != 2 || got[0] != strings.Repeat("x", 8) || got[1] != strings.Repeat("y", 8) {
		t.Fatalf("SplitText=%q", got)
	}

	for _, c := range SplitText(strings.Repeat("z", 25), 10) {
		if utf8.RuneCountInString(c) > 10 {
			t.Fatalf("chunk too long: %q", c)
		}
	}
}
