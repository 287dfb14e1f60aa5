// Package document models the extracted page text the narration engine reads
// from: an ordered list of paragraph-like segments, each backed by the
// concrete text runs it was assembled from, so highlight ranges can be mapped
// back to their place in the rendered document.
package document

import "unicode"

// TextRun is one contiguous piece of rendered text. ID identifies the run in
// the client's document model; the engine never interprets it.
type TextRun struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Segment is one paragraph-like unit of extracted text, the granularity at
// which speech is requested. Index is the segment's position in the document
// order.
type Segment struct {
	Index int       `json:"index"`
	Runs  []TextRun `json:"runs"`
}

// RunRange addresses a slice of one run, in rune offsets local to that run.
// Start == End marks a zero-width range.
type RunRange struct {
	RunID string `json:"run_id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Text returns the segment's full text, runs concatenated in order.
func (s *Segment) Text() string {
	var n int
	for _, r := range s.Runs {
		n += len(r.Text)
	}
	b := make([]byte, 0, n)
	for _, r := range s.Runs {
		b = append(b, r.Text...)
	}
	return string(b)
}

// SpeechText returns the text sent to the synthesizer: maximal runs of two or
// more uppercase letters are lowercased so initialisms are read as words.
// The rune count is unchanged, so character offsets into the result map 1:1
// onto Text().
func (s *Segment) SpeechText() string {
	runes := []rune(s.Text())
	i := 0
	for i < len(runes) {
		if !unicode.IsUpper(runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && unicode.IsUpper(runes[j]) {
			j++
		}
		if j-i >= 2 {
			for k := i; k < j; k++ {
				runes[k] = unicode.ToLower(runes[k])
			}
		}
		i = j
	}
	return string(runes)
}

// Resolve maps a rune-offset range over the segment's text back onto the
// underlying runs. A range may span several runs because normalization works
// on the concatenated text. Out-of-bounds offsets clamp; an inverted or
// fully out-of-range input yields nil.
func (s *Segment) Resolve(start, end int) []RunRange {
	if start < 0 {
		start = 0
	}
	if end < start {
		return nil
	}

	var out []RunRange
	base := 0
	for _, run := range s.Runs {
		n := len([]rune(run.Text))
		runStart, runEnd := base, base+n
		base = runEnd

		// A zero-width range attaches to the first run whose span admits it.
		if start == end {
			if start >= runStart && start <= runEnd {
				return []RunRange{{RunID: run.ID, Start: start - runStart, End: start - runStart}}
			}
			continue
		}
		lo, hi := max(start, runStart), min(end, runEnd)
		if lo >= hi {
			continue
		}
		out = append(out, RunRange{RunID: run.ID, Start: lo - runStart, End: hi - runStart})
	}
	return out
}

// RuneLen reports the segment text's length in runes.
func (s *Segment) RuneLen() int {
	return len([]rune(s.Text()))
}

// SegmentAtOffset locates the segment containing the given rune offset into
// the document's concatenated text, returning the segment's index and the
// offset local to it. Returns -1 when the offset is past the end.
func SegmentAtOffset(segments []Segment, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	base := 0
	for i := range segments {
		n := segments[i].RuneLen()
		if offset < base+n {
			return i, offset - base
		}
		base += n
	}
	return -1, 0
}
