// Package sanitizer normalizes raw ingested text before any downstream
// step touches it: unescaping literal control sequences,
// stripping decorative/noise codepoints, and removing truncation
// artifacts left behind by upstream tools that captured the content.
package sanitizer

import (
	"strings"

	"starcore/internal/logging"
)

// noiseRanges are codepoint ranges dropped as terminal/emoji decoration:
// box drawing and block elements (U+2500-U+259F), geometric shapes,
// miscellaneous symbols and dingbats (U+25A0-U+27BF), and the
// supplementary emoji plane (U+1F300-U+1F9FF).
var noiseRanges = [][2]rune{
	{0x2500, 0x259F},
	{0x25A0, 0x27BF},
	{0x1F300, 0x1F9FF},
}

// noisePoints are single codepoints dropped for the same reason (star,
// check marks, cross marks). Only the star lies outside the ranges above;
// the check and cross marks are also covered by U+25A0-U+27BF.
var noisePoints = map[rune]struct{}{
	0x2B50: {}, // star
	0x2713: {}, // check mark
	0x2714: {}, // heavy check mark
	0x274C: {}, // cross mark
	0x274E: {}, // negative squared cross mark
}

// truncationArtifacts are literal substrings left behind by upstream tools
// that captured truncated output.
var truncationArtifacts = []string{"[Truncated]", "[...]"}

// Sanitize applies the full pipeline to raw text and returns sanitized,
// valid-UTF-8 text. Sanitize is idempotent: Sanitize(Sanitize(s)) == Sanitize(s),
// and len(output) <= len(input) in bytes.
func Sanitize(raw string) string {
	s := unescapeAndStripCR(raw)
	s = stripNoiseCodepoints(s)
	s = stripTruncationArtifacts(s)
	return s
}

// SanitizeLogged wraps Sanitize with a debug log line, for call sites that
// want visibility into how much a document shrank (the ingestion
// orchestrator logs this per compound).
func SanitizeLogged(raw string) string {
	out := Sanitize(raw)
	logging.Get(logging.CategorySanitizer).Debug("sanitized %d bytes -> %d bytes", len(raw), len(out))
	return out
}

// unescapeAndStripCR unescapes literal backslash-n/backslash-t/backslash-quote/
// backslash-backslash sequences (two-character sequences appearing in the
// raw text, not actual control bytes) and drops literal carriage-return
// bytes. It runs unescapePass to a fixed point: decoding "\\n" (an escaped
// backslash followed by a literal n) in one pass produces "\n" (a bare
// backslash next to an n), which is indistinguishable from an un-decoded
// escape to a second pass. Iterating until the string stops changing
// means Sanitize's output is always already at that fixed point, so a
// second call is a no-op and the documented idempotence invariant holds
// no matter how many backslashes the input chains together. Every
// substitution unescapePass performs strictly shortens the string, so
// this always terminates.
func unescapeAndStripCR(s string) string {
	for {
		next := unescapePass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func unescapePass(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\r' {
			continue
		}
		if r == '\\' && i+1 < len(runes) {
			switch runes[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case '"':
				b.WriteByte('"')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// stripNoiseCodepoints decodes the string one codepoint at a time and
// drops any codepoint in noiseRanges or noisePoints. Operating rune-by-rune
// (rather than via regexp on raw bytes) guarantees the output stays valid
// UTF-8 and that no multi-byte character is ever split.
func stripNoiseCodepoints(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isNoiseCodepoint(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isNoiseCodepoint(r rune) bool {
	if _, ok := noisePoints[r]; ok {
		return true
	}
	for _, rg := range noiseRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

func stripTruncationArtifacts(s string) string {
	for _, artifact := range truncationArtifacts {
		s = strings.ReplaceAll(s, artifact, "")
	}
	return s
}
