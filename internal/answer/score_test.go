package answer

import (
	"math"
	"testing"
)

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"The Eiffel Tower", "eiffel tower"},
		{"  an   apple, a pear. ", "apple pear"},
		{"Tesla's", "teslas"},
		{"THEORY", "theory"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAnswer(tt.in); got != tt.want {
			t.Errorf("NormalizeAnswer(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestExactMatchAndF1(t *testing.T) {
	tests := []struct {
		name       string
		prediction string
		gold       string
		em, f1     float64
	}{
		{"identical", "Martin Sekulić", "Martin Sekulić", 1, 1},
		{"articles and case", "the Higher Real Gymnasium", "Higher real gymnasium.", 1, 1},
		{"partial overlap", "math teacher Martin Sekulić", "Martin Sekulić", 0, 2 * 0.5 * 1 / 1.5},
		{"no overlap", "Karlovac", "1870", 0, 0},
		{"repeated tokens counted once each", "the the school school", "school", 0, 2 * 0.5 * 1 / 1.5},
		{"both empty after normalising", "the", "a", 1, 1},
		{"empty prediction", "", "1870", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if em := ExactMatch(tt.prediction, tt.gold); em != tt.em {
				t.Errorf("ExactMatch = %g, expected %g", em, tt.em)
			}
			if f1 := F1(tt.prediction, tt.gold); math.Abs(f1-tt.f1) > 1e-12 {
				t.Errorf("F1 = %g, expected %g", f1, tt.f1)
			}
		})
	}
}

func TestBestScoresTakesMaxOverGolds(t *testing.T) {
	em, f1 := BestScores("in 1870", []string{"Karlovac", "1870", "in the year 1870"})
	if em != 0 {
		t.Errorf("em = %g, expected 0", em)
	}
	// "in 1870" vs "1870": precision 1/2, recall 1; vs "in year 1870": 1 and 2/3.
	want := 2 * 1 * (2.0 / 3) / (1 + 2.0/3)
	if math.Abs(f1-want) > 1e-12 {
		t.Errorf("f1 = %g, expected %g", f1, want)
	}

	if em, f1 := BestScores("anything", nil); em != 0 || f1 != 0 {
		t.Errorf("BestScores with no golds = (%g, %g), expected zeros", em, f1)
	}
}

func TestEvaluation(t *testing.T) {
	var e Evaluation
	if e.ExactMatch() != 0 || e.F1() != 0 {
		t.Fatalf("empty evaluation should report zeros")
	}

	e.Add("1870", []string{"1870"})
	e.Add("Karlovac", []string{"Smiljan"})
	e.Add("ignored", nil)

	if e.Count != 2 {
		t.Fatalf("Count = %d, expected 2", e.Count)
	}
	if math.Abs(e.ExactMatch()-50) > 1e-9 {
		t.Errorf("ExactMatch = %g, expected 50", e.ExactMatch())
	}
	if math.Abs(e.F1()-50) > 1e-9 {
		t.Errorf("F1 = %g, expected 50", e.F1())
	}
}
