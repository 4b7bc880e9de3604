package vocab

import (
	"unicode"
	"unicode/utf8"
)

// SplitWords is a small word tokenizer for command-line input: it splits on
// whitespace and separates punctuation into its own tokens, keeping
// apostrophe suffixes ("Tesla's" -> "Tesla", "'s") and keeping hyphens,
// periods and commas between word characters ("four-year", "1,000") attached.
func SplitWords(text string) []string {
	var (
		out   []string
		start = -1
	)
	flush := func(end int) {
		if start >= 0 && end > start {
			out = append(out, text[start:end])
		}
		start = -1
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r):
			if start < 0 {
				start = i
			}
		case r == '\'' || r == '’':
			inWord := start >= 0
			flush(i)
			if next, _ := utf8.DecodeRuneInString(text[i+size:]); inWord && unicode.IsLetter(next) {
				start = i
			} else {
				out = append(out, text[i:i+size])
			}
		case (r == '-' || r == '.' || r == ',') && start >= 0 && joins(text, i+size):
			// "four-year", "U.S", "1,000": keep inside the word.
		default:
			flush(i)
			out = append(out, text[i:i+size])
		}
		i += size
	}
	flush(len(text))
	return out
}

// joins reports whether the rune at offset i continues a word.
func joins(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
