package sanitizer

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		`line one\nline two\ttabbed`,
		"clean text with no artifacts",
		"has a [Truncated] marker and [...] ellipsis",
		"box drawing ─━ and emoji \U0001F600",
		"",
		// escaped backslash immediately followed by a bare escape letter:
		// a naive single unescape pass turns `\\n` into the two chars
		// `\` + `n`, which looks like an un-decoded "\n" to a second pass.
		`double-escaped \\n then \\t and \\\\ quad-slash`,
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Fatalf("Sanitize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestSanitizeDoubleEscapedBackslashStaysIdempotent(t *testing.T) {
	// raw is backslash, backslash, n: an escaped backslash followed by a
	// literal n, not an escaped newline.
	raw := `\\n`
	once := Sanitize(raw)
	twice := Sanitize(once)
	if once != twice {
		t.Fatalf("Sanitize not idempotent for %q: once=%q twice=%q", raw, once, twice)
	}
}

func TestSanitizeOutputIsValidUTF8(t *testing.T) {
	in := "mixed \U0001F600 emoji ✓ check \\n escaped"
	out := Sanitize(in)
	if !utf8.ValidString(out) {
		t.Fatalf("Sanitize produced invalid UTF-8: %q", out)
	}
}

func TestSanitizeNeverGrowsInBytes(t *testing.T) {
	in := "some text with ─━ noise and [Truncated] artifacts and \\n escapes"
	out := Sanitize(in)
	if len(out) > len(in) {
		t.Fatalf("Sanitize grew input: %d -> %d bytes", len(in), len(out))
	}
}

func TestUnescapesLiteralControlSequences(t *testing.T) {
	out := Sanitize(`hello\nworld\ttab\"quote\\slash`)
	if !strings.Contains(out, "\n") || !strings.Contains(out, "\t") {
		t.Fatalf("expected literal escape sequences to be unescaped, got %q", out)
	}
}

func TestDropsCarriageReturn(t *testing.T) {
	out := Sanitize("line one\r\nline two")
	if strings.Contains(out, "\r") {
		t.Fatalf("expected carriage return to be stripped, got %q", out)
	}
}

func TestStripsDecorativeCodepoints(t *testing.T) {
	out := Sanitize("status: ✓ done ❌ failed \U0001F600")
	for _, r := range out {
		if isNoiseCodepoint(r) {
			t.Fatalf("noise codepoint %U survived sanitization in %q", r, out)
		}
	}
}

func TestRemovesTruncationArtifacts(t *testing.T) {
	out := Sanitize("the beginning [Truncated] and middle [...] and end")
	if strings.Contains(out, "[Truncated]") || strings.Contains(out, "[...]") {
		t.Fatalf("expected truncation artifacts removed, got %q", out)
	}
}

func TestMultiByteCharactersNeverSplit(t *testing.T) {
	in := "café naïve 日本語"
	out := Sanitize(in)
	if !utf8.ValidString(out) {
		t.Fatalf("multi-byte character was split: %q", out)
	}
	if !strings.Contains(out, "café") {
		t.Fatalf("expected accented characters to survive sanitization, got %q", out)
	}
}
