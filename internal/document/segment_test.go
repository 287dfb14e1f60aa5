package document

import (
	"reflect"
	"testing"
)

func twoRunSegment() *Segment {
	return &Segment{
		Index: 0,
		Runs: []TextRun{
			{ID: "r1", Text: "Hello "},
			{ID: "r2", Text: "world"},
		},
	}
}

func TestTextConcatenatesRuns(t *testing.T) {
	s := twoRunSegment()
	if got := s.Text(); got != "Hello world" {
		t.Fatalf("Text() = %q, want %q", got, "Hello world")
	}
}

func TestSpeechTextLowersAllCapsRuns(t *testing.T) {
	s := &Segment{Runs: []TextRun{{ID: "r1", Text: "NASA launched. I agree, OK?"}}}

	got := s.SpeechText()
	want := "nasa launched. I agree, ok?"
	if got != want {
		t.Fatalf("SpeechText() = %q, want %q", got, want)
	}
	if len([]rune(got)) != len([]rune(s.Text())) {
		t.Fatalf("SpeechText() changed rune count: %d vs %d", len([]rune(got)), len([]rune(s.Text())))
	}
}

func TestSpeechTextKeepsSingleCapitals(t *testing.T) {
	s := &Segment{Runs: []TextRun{{ID: "r1", Text: "The Cat"}}}
	if got := s.SpeechText(); got != "The Cat" {
		t.Fatalf("SpeechText() = %q, want unchanged", got)
	}
}

func TestResolveWithinOneRun(t *testing.T) {
	s := twoRunSegment()

	got := s.Resolve(0, 5) // "Hello"
	want := []RunRange{{RunID: "r1", Start: 0, End: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve(0,5) = %+v, want %+v", got, want)
	}
}

func TestResolveSpansRuns(t *testing.T) {
	s := twoRunSegment()

	got := s.Resolve(4, 9) // "o wor"
	want := []RunRange{
		{RunID: "r1", Start: 4, End: 6},
		{RunID: "r2", Start: 0, End: 3},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve(4,9) = %+v, want %+v", got, want)
	}
}

func TestResolveZeroWidthAttachesToOneRun(t *testing.T) {
	s := twoRunSegment()

	got := s.Resolve(6, 6)
	want := []RunRange{{RunID: "r1", Start: 6, End: 6}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve(6,6) = %+v, want %+v", got, want)
	}
}

func TestResolveClampsOutOfBounds(t *testing.T) {
	s := twoRunSegment()

	got := s.Resolve(8, 99)
	want := []RunRange{{RunID: "r2", Start: 2, End: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Resolve(8,99) = %+v, want %+v", got, want)
	}
	if got := s.Resolve(5, 2); got != nil {
		t.Fatalf("Resolve(5,2) = %+v, want nil", got)
	}
}

func TestSegmentAtOffset(t *testing.T) {
	segs := []Segment{
		{Index: 0, Runs: []TextRun{{ID: "a", Text: "abcde"}}},
		{Index: 1, Runs: []TextRun{{ID: "b", Text: "fgh"}}},
	}

	if idx, local := SegmentAtOffset(segs, 2); idx != 0 || local != 2 {
		t.Fatalf("SegmentAtOffset(2) = (%d,%d), want (0,2)", idx, local)
	}
	if idx, local := SegmentAtOffset(segs, 6); idx != 1 || local != 1 {
		t.Fatalf("SegmentAtOffset(6) = (%d,%d), want (1,1)", idx, local)
	}
	if idx, _ := SegmentAtOffset(segs, 42); idx != -1 {
		t.Fatalf("SegmentAtOffset(42) index = %d, want -1", idx)
	}
}
