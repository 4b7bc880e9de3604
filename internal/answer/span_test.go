package answer

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestSearchExample(t *testing.T) {
	ps := []float64{0.1, 0.6, 0.3}
	pe := []float64{0.2, 0.1, 0.7}

	span, err := Search(ps, pe)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if span.Start != 1 || span.End != 2 {
		t.Errorf("Search = (%d,%d), expected (1,2)", span.Start, span.End)
	}
	if math.Abs(span.Score-0.42) > 1e-12 {
		t.Errorf("score = %g, expected 0.42", span.Score)
	}
}

// bruteForce enumerates every s <= e pair.
func bruteForce(ps, pe []float64) Span {
	best := Span{Score: math.Inf(-1)}
	for s := range ps {
		for e := s; e < len(pe); e++ {
			if score := ps[s] * pe[e]; score > best.Score {
				best = Span{Start: s, End: e, Score: score}
			}
		}
	}
	return best
}

func randomDistribution(rng *rand.Rand, n int) []float64 {
	p := make([]float64, n)
	sum := 0.0
	for i := range p {
		p[i] = rng.Float64()
		sum += p[i]
	}
	for i := range p {
		p[i] /= sum
	}
	return p
}

func TestSearchMatchesBruteForce(t *testing.T) {
	trials := 2000
	if testing.Short() {
		trials = 200
	}
	rng := rand.New(rand.NewPCG(42, 7))
	for trial := 0; trial < trials; trial++ {
		n := 1 + rng.IntN(12)
		ps := randomDistribution(rng, n)
		pe := randomDistribution(rng, n)

		got, err := Search(ps, pe)
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		want := bruteForce(ps, pe)

		if got.Start > got.End {
			t.Fatalf("trial %d: start %d > end %d", trial, got.Start, got.End)
		}
		if math.Abs(got.Score-want.Score) > 1e-15 {
			t.Fatalf("trial %d: score %g, brute force %g", trial, got.Score, want.Score)
		}
		if got.Start != want.Start || got.End != want.End {
			t.Fatalf("trial %d: span (%d,%d), brute force (%d,%d)",
				trial, got.Start, got.End, want.Start, want.End)
		}
	}
}

func TestSearchEdgeCases(t *testing.T) {
	tests := []struct {
		name       string
		ps, pe     []float64
		start, end int
	}{
		{"single position", []float64{1}, []float64{1}, 0, 0},
		{"end before start peak", []float64{0, 0, 1}, []float64{1, 0, 0}, 0, 0},
		{"uniform keeps earliest", []float64{0.5, 0.5}, []float64{0.5, 0.5}, 0, 0},
		{"masked tail", []float64{0.7, 0.3, 0, 0}, []float64{0.4, 0.6, 0, 0}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, err := Search(tt.ps, tt.pe)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if span.Start != tt.start || span.End != tt.end {
				t.Errorf("Search = (%d,%d), expected (%d,%d)", span.Start, span.End, tt.start, tt.end)
			}
		})
	}
}

func TestSearchErrors(t *testing.T) {
	if _, err := Search(nil, nil); err == nil {
		t.Error("expected error for empty distributions")
	}
	if _, err := Search([]float64{1}, []float64{0.5, 0.5}); err == nil {
		t.Error("expected error for length mismatch")
	}
}

func TestArgMaxAllowsInvertedSpan(t *testing.T) {
	span, err := ArgMax([]float64{0, 0, 1}, []float64{1, 0, 0})
	if err != nil {
		t.Fatalf("ArgMax: %v", err)
	}
	if span.Start != 2 || span.End != 0 {
		t.Errorf("ArgMax = (%d,%d), expected (2,0)", span.Start, span.End)
	}
	if span.Len() != 0 {
		t.Errorf("inverted span Len = %d", span.Len())
	}
}

func TestDecode(t *testing.T) {
	ps := []float64{0, 0, 1}
	pe := []float64{1, 0, 0}
	s, _ := Decode(ps, pe, true)
	if s.Start > s.End {
		t.Errorf("Decode with search returned inverted span %v", s)
	}
	a, _ := Decode(ps, pe, false)
	if a.Start != 2 || a.End != 0 {
		t.Errorf("Decode without search = %v", a)
	}
}

func TestExtractInclusiveEnd(t *testing.T) {
	words := []string{"to", "attend", "school", "at", "the"}
	tests := []struct {
		span Span
		want string
	}{
		{Span{Start: 0, End: 2}, "to attend school"},
		{Span{Start: 3, End: 3}, "at"},
		{Span{Start: 2, End: 1}, ""},
		{Span{Start: 4, End: 5}, ""},
	}
	for _, tt := range tests {
		if got := Text(words, tt.span); got != tt.want {
			t.Errorf("Text(%v) = %q, expected %q", tt.span, got, tt.want)
		}
	}
	if n := (Span{Start: 1, End: 3}).Len(); n != 3 {
		t.Errorf("Len = %d, expected 3", n)
	}
}

func BenchmarkSearch(b *testing.B) {
	rng := rand.New(rand.NewPCG(1, 1))
	ps := randomDistribution(rng, 400)
	pe := randomDistribution(rng, 400)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Search(ps, pe)
	}
}
