package planet

import (
	"testing"
)

func TestBuildFTSQuery_EmptyKeywordsYieldsEmptyQuery(t *testing.T) {
	if got := buildFTSQuery(nil, nil); got != "" {
		t.Fatalf("buildFTSQuery(nil) = %q, want empty", got)
	}
}

func TestBuildFTSQuery_QuotesAndOrsTerms(t *testing.T) {
	got := buildFTSQuery([]string{"adhd", "focus"}, nil)
	want := `"adhd" OR "focus"`
	if got != want {
		t.Fatalf("buildFTSQuery() = %q, want %q", got, want)
	}
}

func TestQuoteFTSTerm_EscapesDoubleQuotes(t *testing.T) {
	got := quoteFTSTerm(`a"b`)
	want := `"a""b"`
	if got != want {
		t.Fatalf("quoteFTSTerm() = %q, want %q", got, want)
	}
}

func TestDetectCodeMarkers(t *testing.T) {
	if !DetectCodeMarkers("what does this func do") {
		t.Fatalf("DetectCodeMarkers() = false, want true for query containing 'func'")
	}
	if DetectCodeMarkers("what did I eat for breakfast") {
		t.Fatalf("DetectCodeMarkers() = true, want false")
	}
}
