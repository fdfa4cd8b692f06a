package queryparse

import (
	"testing"

	"starcore/internal/starerrors"
)

func TestParse_EmptyQueryFails(t *testing.T) {
	_, err := Parse("   ", nil)
	if starerrors.CodeOf(err) != starerrors.QueryMalformed {
		t.Fatalf("Parse(empty) error = %v, want QueryMalformed", err)
	}
}

func TestParse_TooLongQueryFails(t *testing.T) {
	long := make([]byte, MaxQueryLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := Parse(string(long), nil)
	if starerrors.CodeOf(err) != starerrors.QueryMalformed {
		t.Fatalf("Parse(too long) error = %v, want QueryMalformed", err)
	}
}

func TestParse_KeywordsDropStopwordsAndDedupe(t *testing.T) {
	p, err := Parse("the quick fox and the quick fox", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"quick", "fox"}
	if len(p.Keywords) != len(want) {
		t.Fatalf("Keywords = %v, want %v", p.Keywords, want)
	}
	for i, w := range want {
		if p.Keywords[i] != w {
			t.Fatalf("Keywords[%d] = %q, want %q", i, p.Keywords[i], w)
		}
	}
}

func TestParse_TagHintsMatchKnownVocabulary(t *testing.T) {
	knownTags := map[string]struct{}{"adhd": {}}
	p, err := Parse("notes about my adhd diagnosis", knownTags)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(p.TagHints) != 1 || p.TagHints[0] != "adhd" {
		t.Fatalf("TagHints = %v, want [adhd]", p.TagHints)
	}
}

func TestParse_TemporalMarkerSetsAscendingSort(t *testing.T) {
	p, err := Parse("find the earliest mention of this project", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.Sort != SortAscending {
		t.Fatalf("Sort = %v, want SortAscending", p.Sort)
	}
}

func TestParse_DefaultSortIsDescending(t *testing.T) {
	p, err := Parse("what did I write about budgets", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if p.Sort != SortDescending {
		t.Fatalf("Sort = %v, want SortDescending", p.Sort)
	}
}

func TestParse_LongClauseSplitsOnConjunction(t *testing.T) {
	query := "one two three four five six seven eight nine ten eleven twelve and thirteen fourteen"
	p, err := Parse(query, nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(p.Clauses) < 2 {
		t.Fatalf("Clauses = %v, want at least 2 after conjunction split", p.Clauses)
	}
}

func TestParse_ShortSentenceStaysOneClause(t *testing.T) {
	p, err := Parse("short query here.", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(p.Clauses) != 1 {
		t.Fatalf("Clauses = %v, want exactly 1", p.Clauses)
	}
}
