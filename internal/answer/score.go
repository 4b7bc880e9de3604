package answer

import (
	"strings"
	"unicode"
)

// asciiPunct is the punctuation removed before comparing answers.
const asciiPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// NormalizeAnswer lowercases s, drops ASCII punctuation and the articles
// "a", "an" and "the", and collapses whitespace.
func NormalizeAnswer(s string) string {
	return strings.Join(answerTokens(s), " ")
}

func answerTokens(s string) []string {
	s = strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && strings.ContainsRune(asciiPunct, r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	fields := strings.Fields(s)
	tokens := fields[:0]
	for _, f := range fields {
		switch f {
		case "a", "an", "the":
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// ExactMatch reports 1 when prediction and gold normalise to the same text.
func ExactMatch(prediction, gold string) float64 {
	if NormalizeAnswer(prediction) == NormalizeAnswer(gold) {
		return 1
	}
	return 0
}

// F1 is the harmonic mean of token precision and recall between the
// normalised prediction and gold answer. Tokens are counted as a multiset.
func F1(prediction, gold string) float64 {
	pred := answerTokens(prediction)
	ref := answerTokens(gold)
	if len(pred) == 0 || len(ref) == 0 {
		if len(pred) == len(ref) {
			return 1
		}
		return 0
	}

	counts := make(map[string]int, len(ref))
	for _, t := range ref {
		counts[t]++
	}
	common := 0
	for _, t := range pred {
		if counts[t] > 0 {
			counts[t]--
			common++
		}
	}
	if common == 0 {
		return 0
	}
	precision := float64(common) / float64(len(pred))
	recall := float64(common) / float64(len(ref))
	return 2 * precision * recall / (precision + recall)
}

// BestScores returns the highest exact match and F1 of prediction over all
// gold answers. Both are 0 when golds is empty.
func BestScores(prediction string, golds []string) (em, f1 float64) {
	for _, g := range golds {
		em = max(em, ExactMatch(prediction, g))
		f1 = max(f1, F1(prediction, g))
	}
	return em, f1
}

// Evaluation accumulates scores over a set of predictions.
type Evaluation struct {
	Count int
	em    float64
	f1    float64
}

// Add scores one prediction against its gold answers. Predictions without
// gold answers are ignored.
func (e *Evaluation) Add(prediction string, golds []string) {
	if len(golds) == 0 {
		return
	}
	em, f1 := BestScores(prediction, golds)
	e.Count++
	e.em += em
	e.f1 += f1
}

// ExactMatch returns the average exact match as a percentage.
func (e *Evaluation) ExactMatch() float64 {
	if e.Count == 0 {
		return 0
	}
	return 100 * e.em / float64(e.Count)
}

// F1 returns the average F1 as a percentage.
func (e *Evaluation) F1() float64 {
	if e.Count == 0 {
		return 0
	}
	return 100 * e.f1 / float64(e.Count)
}
