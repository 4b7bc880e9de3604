// Package vocab maps words and characters to embedding ids.
//
// Every vocabulary reserves id 0 for padding and id 1 for out-of-vocabulary
// tokens, so the embedding table's first two rows are the zero vector and the
// unknown-word vector.
package vocab

import (
	"fmt"
	"unicode/utf8"
)

// Reserved ids and their token strings.
const (
	PadID    = 0
	OOVID    = 1
	PadToken = "__padding__"
	OOVToken = "__oov__"
)

// Vocab is an immutable id ↔ token mapping.
type Vocab struct {
	tokens     []string
	ids        map[string]int
	normalizer Normalizer
}

// New builds a vocabulary from tokens. The reserved tokens are prepended
// unless tokens already starts with them; duplicate tokens keep their first id.
func New(tokens []string, n Normalizer) *Vocab {
	v := &Vocab{
		tokens:     make([]string, 0, len(tokens)+2),
		ids:        make(map[string]int, len(tokens)+2),
		normalizer: n,
	}
	v.add(PadToken)
	v.add(OOVToken)
	for _, t := range tokens {
		v.add(t)
	}
	return v
}

// FromTokens restores a vocabulary whose ids are the positions in tokens,
// as persisted in a model file. tokens must start with the reserved tokens
// and contain no duplicates.
func FromTokens(tokens []string, n Normalizer) (*Vocab, error) {
	if len(tokens) < 2 || tokens[PadID] != PadToken || tokens[OOVID] != OOVToken {
		return nil, fmt.Errorf("vocabulary must start with %q, %q", PadToken, OOVToken)
	}
	v := &Vocab{
		tokens:     append([]string(nil), tokens...),
		ids:        make(map[string]int, len(tokens)),
		normalizer: n,
	}
	for i, t := range v.tokens {
		if _, dup := v.ids[t]; dup {
			return nil, fmt.Errorf("duplicate token %q at id %d", t, i)
		}
		v.ids[t] = i
	}
	return v, nil
}

func (v *Vocab) add(t string) {
	if _, ok := v.ids[t]; ok {
		return
	}
	v.ids[t] = len(v.tokens)
	v.tokens = append(v.tokens, t)
}

// Size returns the number of ids, reserved ones included.
func (v *Vocab) Size() int { return len(v.tokens) }

// Tokens returns the id-ordered token list.
func (v *Vocab) Tokens() []string { return append([]string(nil), v.tokens...) }

// Normalizer returns the fallback normalizer used by ID.
func (v *Vocab) Normalizer() Normalizer { return v.normalizer }

// ID returns the id of word. An exact match wins; otherwise the normalized
// form is tried, and unknown words map to OOVID. The reserved token strings
// are never matched from input text.
func (v *Vocab) ID(word string) int {
	if word == PadToken || word == OOVToken {
		return OOVID
	}
	if id, ok := v.ids[word]; ok {
		return id
	}
	if v.normalizer.Enabled() {
		if id, ok := v.ids[v.normalizer.Normalize(word)]; ok && id > OOVID {
			return id
		}
	}
	return OOVID
}

// Encode maps words to ids.
func (v *Vocab) Encode(words []string) []int {
	ids := make([]int, len(words))
	for i, w := range words {
		ids[i] = v.ID(w)
	}
	return ids
}

// Token returns the token for id, or "" when id is out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// Decode maps ids back to tokens. Padding is dropped.
func (v *Vocab) Decode(ids []int) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == PadID {
			continue
		}
		out = append(out, v.Token(id))
	}
	return out
}

// CharVocab builds a character vocabulary over every rune in words.
func CharVocab(words []string) *Vocab {
	var chars []string
	seen := make(map[rune]bool)
	for _, w := range words {
		for _, r := range w {
			if !seen[r] {
				seen[r] = true
				chars = append(chars, string(r))
			}
		}
	}
	return New(chars, Normalizer{})
}

// EncodeChars maps each word to its character ids, truncated to maxLen runes
// when maxLen > 0. Unknown characters map to OOVID.
func (v *Vocab) EncodeChars(words []string, maxLen int) [][]int {
	out := make([][]int, len(words))
	for i, w := range words {
		n := utf8.RuneCountInString(w)
		if maxLen > 0 && n > maxLen {
			n = maxLen
		}
		ids := make([]int, 0, n)
		for _, r := range w {
			if len(ids) == n {
				break
			}
			ids = append(ids, v.ID(string(r)))
		}
		out[i] = ids
	}
	return out
}
