package speech

import (
	"log"
	"strings"
	"unicode"
)

// AlignWords resolves each timestamp's text range against the normalized
// request text. Entries that already carry explicit offsets are trusted as-is;
// the rest are recovered by case-insensitive forward matching from the last
// resolved position. Unmatched punctuation-only entries are dropped. An
// unmatched content word gets an empty zero-width range at the best-guess
// offset (the end of the text for the final entry) and is flagged Approximate.
func AlignWords(words []WordTimestamp, text string) []WordTimestamp {
	haystack := []rune(strings.ToLower(text))
	textLen := len([]rune(text))

	out := make([]WordTimestamp, 0, len(words))
	cursor := 0
	for i, w := range words {
		if w.Text.End > w.Text.Start {
			out = append(out, w)
			if w.Text.End > cursor {
				cursor = w.Text.End
			}
			continue
		}

		needle := []rune(strings.ToLower(strings.TrimSpace(w.Word)))
		if idx := indexRunes(haystack, needle, cursor); idx >= 0 && len(needle) > 0 {
			w.Text = TextRange{Start: idx, End: idx + len(needle)}
			cursor = w.Text.End
			out = append(out, w)
			continue
		}

		if !hasContent(needle) {
			continue
		}

		guess := cursor
		if i == len(words)-1 {
			guess = textLen
		}
		w.Text = TextRange{Start: guess, End: guess}
		w.Approximate = true
		log.Printf("speech: word %q not found in request text, using zero-width range at %d", w.Word, guess)
		out = append(out, w)
	}
	return out
}

func indexRunes(haystack, needle []rune, from int) int {
	if len(needle) == 0 || from < 0 {
		return -1
	}
	for i := from; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// hasContent reports whether the word carries anything beyond punctuation.
func hasContent(word []rune) bool {
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}
