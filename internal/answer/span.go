// Package answer turns start/end position distributions into answer spans.
//
// Spans use an inclusive end index: the answer tokens are tokens[Start:End+1].
package answer

import (
	"fmt"
	"strings"

	"github.com/lth/go-matchlstm/internal/kernels"
)

// Span is a predicted answer range inside the context.
type Span struct {
	Start int
	End   int // inclusive
	// Score is Ps[Start]·Pe[End].
	Score float64
}

// Len returns the number of tokens covered by the span, or 0 when the span
// is inverted (possible only from ArgMax).
func (s Span) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start + 1
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d] %.4f", s.Start, s.End, s.Score)
}

// Search returns the span maximising ps[s]·pe[e] subject to s <= e.
//
// It scans end positions left to right while tracking the best start seen
// so far (inclusive of the current end), so it runs in O(T) and never
// returns Start > End. Ties keep the earliest span.
func Search(ps, pe []float64) (Span, error) {
	if len(ps) != len(pe) {
		return Span{}, fmt.Errorf("answer search: start length %d != end length %d", len(ps), len(pe))
	}
	if len(ps) == 0 {
		return Span{}, fmt.Errorf("answer search: empty distributions")
	}

	bestStartProb := ps[0]
	bestStartIdx := 0
	best := Span{Start: 0, End: 0, Score: ps[0] * pe[0]}

	for e := 1; e < len(pe); e++ {
		if ps[e] > bestStartProb {
			bestStartProb = ps[e]
			bestStartIdx = e
		}
		if score := bestStartProb * pe[e]; score > best.Score {
			best = Span{Start: bestStartIdx, End: e, Score: score}
		}
	}
	return best, nil
}

// ArgMax picks the start and end independently. It is the behaviour when
// answer search is disabled; Start > End is possible and left as-is.
func ArgMax(ps, pe []float64) (Span, error) {
	if len(ps) == 0 || len(pe) == 0 {
		return Span{}, fmt.Errorf("answer argmax: empty distributions")
	}
	s := kernels.ArgMax(ps)
	e := kernels.ArgMax(pe)
	return Span{Start: s, End: e, Score: ps[s] * pe[e]}, nil
}

// Decode selects a span with Search when search is true, ArgMax otherwise.
func Decode(ps, pe []float64, search bool) (Span, error) {
	if search {
		return Search(ps, pe)
	}
	return ArgMax(ps, pe)
}

// Extract returns the tokens covered by span. Inverted or out-of-range spans
// yield nil.
func Extract[T any](tokens []T, span Span) []T {
	if span.Start < 0 || span.End >= len(tokens) || span.End < span.Start {
		return nil
	}
	return tokens[span.Start : span.End+1]
}

// Text joins the words covered by span with single spaces.
func Text(words []string, span Span) string {
	return strings.Join(Extract(words, span), " ")
}
