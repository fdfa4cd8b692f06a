package tagger

import (
	"reflect"
	"testing"
)

func TestTag_SeedPatternScan(t *testing.T) {
	seeds := SeedDictionary{"adhd": "adhd", "diagnosis": "diagnosis"}
	got := Tag("I was thinking about my ADHD diagnosis today.", Options{Seeds: seeds})
	want := []string{"adhd", "diagnosis"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tag() = %v, want %v", got, want)
	}
}

func TestTag_LocalInfection(t *testing.T) {
	opts := Options{
		Seeds: SeedDictionary{},
		Prev:  &Neighbor{Tags: []string{"adhd", "focus"}, Distance: 1},
		Next:  &Neighbor{Tags: []string{"adhd", "sleep"}, Distance: 1},
	}
	got := Tag("an unrelated middle paragraph", opts)
	want := []string{"adhd"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tag() = %v, want %v", got, want)
	}
}

func TestTag_LocalInfectionBeyondDistanceDropped(t *testing.T) {
	opts := Options{
		Prev: &Neighbor{Tags: []string{"adhd"}, Distance: 3},
		Next: &Neighbor{Tags: []string{"adhd"}, Distance: 1},
	}
	if got := Tag("text", opts); len(got) != 0 {
		t.Fatalf("Tag() = %v, want empty (prev too far)", got)
	}
}

func TestTag_FrequencyCapDropsStopwordTags(t *testing.T) {
	opts := Options{
		Seeds:        SeedDictionary{"note": "note"},
		FrequencyOf:  func(tag string) int64 { return 10000 },
		MaxFrequency: 500,
	}
	if got := Tag("a quick note", opts); len(got) != 0 {
		t.Fatalf("Tag() = %v, want empty (over frequency cap)", got)
	}
}

func TestTag_NormalizesCaseAndPunctuation(t *testing.T) {
	seeds := SeedDictionary{"chronos": "Project-Chronos!"}
	got := Tag("exploring Chronos", seeds_opts(seeds))
	want := []string{"project-chronos"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tag() = %v, want %v", got, want)
	}
}

func seeds_opts(s SeedDictionary) Options { return Options{Seeds: s} }

func TestTag_Deterministic(t *testing.T) {
	seeds := SeedDictionary{"a": "zzz", "b": "aaa", "c": "mmm"}
	text := "a b c all present"
	first := Tag(text, Options{Seeds: seeds})
	second := Tag(text, Options{Seeds: seeds})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Tag() not deterministic: %v vs %v", first, second)
	}
	if !sortedStrings(first) {
		t.Fatalf("Tag() output not sorted: %v", first)
	}
}

func sortedStrings(ss []string) bool {
	for i := 1; i < len(ss); i++ {
		if ss[i-1] > ss[i] {
			return false
		}
	}
	return true
}
