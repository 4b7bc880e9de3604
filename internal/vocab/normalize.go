package vocab

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalizer folds surface variants of a word onto the vocabulary form.
type Normalizer struct {
	lowercase     bool
	removeAccents bool
	nfkc          bool
}

// NewNormalizer creates a new normalizer
func NewNormalizer(lowercase, removeAccents, nfkc bool) Normalizer {
	return Normalizer{
		lowercase:     lowercase,
		removeAccents: removeAccents,
		nfkc:          nfkc,
	}
}

// DefaultNormalizer matches the lowercase, NFKC-folded vocabularies produced
// from GloVe-style embedding tables.
func DefaultNormalizer() Normalizer {
	return NewNormalizer(true, false, true)
}

// Enabled reports whether Normalize can change its input.
func (n Normalizer) Enabled() bool {
	return n.lowercase || n.removeAccents || n.nfkc
}

// Flags returns the normalizer settings in NewNormalizer argument order.
func (n Normalizer) Flags() (lowercase, removeAccents, nfkc bool) {
	return n.lowercase, n.removeAccents, n.nfkc
}

// Normalize normalizes text
func (n Normalizer) Normalize(text string) string {
	if n.nfkc {
		text = norm.NFKC.String(text)
	}
	if n.removeAccents {
		text = removeAccents(text)
	}
	if n.lowercase {
		text = strings.ToLower(text)
	}
	return text
}

// removeAccents strips combining marks after NFD decomposition.
func removeAccents(s string) string {
	t := norm.NFD.String(s)

	var result strings.Builder
	result.Grow(len(t))
	for _, r := range t {
		if !unicode.Is(unicode.Mn, r) {
			result.WriteRune(r)
		}
	}
	return norm.NFC.String(result.String())
}
