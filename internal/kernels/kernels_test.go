package kernels

import (
	"errors"
	"math"
	"math/rand/v2"
	"runtime"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestMaskedSoftmax(t *testing.T) {
	tests := []struct {
		name string
		src  []float64
		mask []bool
	}{
		{"all valid", []float64{1, 2, 3, 4}, []bool{true, true, true, true}},
		{"tail padded", []float64{1, 2, 3, 4}, []bool{true, true, false, false}},
		{"head padded", []float64{10, -3, 0.5}, []bool{false, true, true}},
		{"single valid", []float64{-100, 7, 3}, []bool{false, true, false}},
		{"large scores", []float64{1000, 999, -1000}, []bool{true, true, true}},
		{"neg inf scores", []float64{math.Inf(-1), math.Inf(-1)}, []bool{true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := make([]float64, len(tt.src))
			if err := MaskedSoftmax(dst, tt.src, tt.mask); err != nil {
				t.Fatalf("MaskedSoftmax: %v", err)
			}
			sum := 0.0
			for i, v := range dst {
				if !tt.mask[i] {
					if v != 0 {
						t.Errorf("dst[%d] = %g at masked position, expected exactly 0", i, v)
					}
					continue
				}
				if v < 0 || math.IsNaN(v) {
					t.Errorf("dst[%d] = %g, expected a probability", i, v)
				}
				sum += v
			}
			if math.Abs(sum-1) > 1e-6 {
				t.Errorf("sum over valid positions = %g, expected 1", sum)
			}
		})
	}
}

func TestMaskedSoftmaxAllMasked(t *testing.T) {
	dst := make([]float64, 3)
	err := MaskedSoftmax(dst, []float64{1, 2, 3}, []bool{false, false, false})
	if !errors.Is(err, ErrAllMasked) {
		t.Fatalf("expected ErrAllMasked, got %v", err)
	}
}

func TestMaskedSoftmaxRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 500; trial++ {
		n := 1 + rng.IntN(20)
		src := make([]float64, n)
		mask := make([]bool, n)
		mask[rng.IntN(n)] = true
		for i := range src {
			src[i] = rng.NormFloat64() * 5
			if rng.Float64() < 0.6 {
				mask[i] = true
			}
		}
		dst := make([]float64, n)
		if err := MaskedSoftmax(dst, src, mask); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		sum := 0.0
		for i, v := range dst {
			if !mask[i] && v != 0 {
				t.Fatalf("trial %d: masked position %d = %g", trial, i, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("trial %d: sum = %g", trial, sum)
		}
	}
}

func TestMaskedSoftmaxRows(t *testing.T) {
	scores := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		3, 2, 1,
	})
	mask := [][]bool{{true, true, false}, {false, true, true}}
	if err := MaskedSoftmaxRows(scores, mask); err != nil {
		t.Fatalf("MaskedSoftmaxRows: %v", err)
	}
	if scores.At(0, 2) != 0 || scores.At(1, 0) != 0 {
		t.Errorf("masked entries not zero: %v", mat.Formatted(scores))
	}
	// exp(1)/(exp(1)+exp(2))
	want := 1 / (1 + math.E)
	if math.Abs(scores.At(0, 0)-want) > 1e-12 {
		t.Errorf("scores[0,0] = %g, expected %g", scores.At(0, 0), want)
	}

	bad := [][]bool{{true, true, true}, {false, false, false}}
	if err := MaskedSoftmaxRows(mat.NewDense(2, 3, nil), bad); !errors.Is(err, ErrAllMasked) {
		t.Errorf("expected ErrAllMasked for empty row, got %v", err)
	}
}

func TestSigmoidOpenInterval(t *testing.T) {
	for _, x := range []float64{-1e6, -800, -40, -1, 0, 1, 40, 800, 1e6} {
		s := Sigmoid(x)
		if !(s > 0 && s < 1) {
			t.Errorf("Sigmoid(%g) = %g, expected value strictly inside (0,1)", x, s)
		}
	}
	if math.Abs(Sigmoid(0)-0.5) > 1e-15 {
		t.Errorf("Sigmoid(0) = %g", Sigmoid(0))
	}
}

func TestReverseRoundTrip(t *testing.T) {
	tests := [][]int{
		{},
		{1},
		{1, 2},
		{5, 4, 3, 2, 1, 0},
	}
	for _, s := range tests {
		r := Reverse(s)
		for i := range s {
			if r[i] != s[len(s)-1-i] {
				t.Fatalf("Reverse(%v) = %v", s, r)
			}
		}
		back := Reverse(r)
		for i := range s {
			if back[i] != s[i] {
				t.Fatalf("Reverse(Reverse(%v)) = %v", s, back)
			}
		}
	}

	mask := [][]bool{{true, true, false}, {true, false, false}}
	got := ReverseMask(ReverseMask(mask))
	for b := range mask {
		for i := range mask[b] {
			if got[b][i] != mask[b][i] {
				t.Fatalf("ReverseMask round trip changed row %d: %v", b, got[b])
			}
		}
	}
}

func TestWeightedSum(t *testing.T) {
	seq := []*mat.Dense{
		mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		mat.NewDense(2, 2, []float64{0, 1, 2, 2}),
	}
	weights := mat.NewDense(2, 2, []float64{
		0.25, 0.75,
		1, 0,
	})
	out := WeightedSum(weights, seq)
	want := []float64{0.25, 0.75, 0, 1}
	for i, v := range want {
		if got := out.At(i/2, i%2); math.Abs(got-v) > 1e-12 {
			t.Errorf("out[%d,%d] = %g, expected %g", i/2, i%2, got, v)
		}
	}
}

func TestColumnDot(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		-1, 0, 4,
	})
	dst := mat.NewDense(2, 2, nil)
	ColumnDot(dst, 1, m, []float64{0.5, 1, -1})

	want := mat.NewDense(2, 2, []float64{
		0, -0.5,
		0, -4.5,
	})
	if !mat.EqualApprox(dst, want, 1e-12) {
		t.Errorf("ColumnDot =\n%v\nexpected\n%v", mat.Formatted(dst), mat.Formatted(want))
	}
}

func TestConcatSplit(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{1, 2})
	b := mat.NewDense(2, 2, []float64{3, 4, 5, 6})
	c := Concat(a, b)
	if r, cols := c.Dims(); r != 2 || cols != 3 {
		t.Fatalf("Concat dims = %dx%d", r, cols)
	}
	left, right := Split(c, 1)
	if !mat.Equal(left, a) || !mat.Equal(right, b) {
		t.Errorf("Split did not undo Concat")
	}
}

func TestSelectRowsAndZeroRows(t *testing.T) {
	next := mat.NewDense(2, 2, []float64{1, 1, 2, 2})
	prev := mat.NewDense(2, 2, []float64{9, 9, 8, 8})
	out := SelectRows(next, prev, []bool{true, false})
	if out.At(0, 0) != 1 || out.At(1, 0) != 8 {
		t.Errorf("SelectRows = %v", mat.Formatted(out))
	}
	ZeroRows(out, []bool{false, true})
	if out.At(0, 1) != 0 || out.At(1, 1) != 8 {
		t.Errorf("ZeroRows = %v", mat.Formatted(out))
	}
}

func TestDropout(t *testing.T) {
	m := mat.NewDense(10, 10, nil)
	m.Apply(func(_, _ int, _ float64) float64 { return 1 }, m)

	Dropout(m, 0, rand.New(rand.NewPCG(1, 1)))
	if m.At(3, 3) != 1 {
		t.Fatalf("p=0 dropout changed values")
	}

	a := mat.DenseCopyOf(m)
	b := mat.DenseCopyOf(m)
	Dropout(a, 0.5, rand.New(rand.NewPCG(7, 7)))
	Dropout(b, 0.5, rand.New(rand.NewPCG(7, 7)))
	if !mat.Equal(a, b) {
		t.Errorf("dropout with identical seeds differs")
	}
	for _, v := range a.RawMatrix().Data {
		if v != 0 && v != 2 {
			t.Fatalf("unexpected dropout value %g", v)
		}
	}
}

func TestArgMaxAndRenormalize(t *testing.T) {
	if got := ArgMax([]float64{0.1, 0.5, 0.5, 0.2}); got != 1 {
		t.Errorf("ArgMax tie = %d, expected earliest index 1", got)
	}
	if got := ArgMax(nil); got != -1 {
		t.Errorf("ArgMax(nil) = %d", got)
	}
	v := []float64{1, 1, 2}
	Renormalize(v)
	if math.Abs(v[2]-0.5) > 1e-12 {
		t.Errorf("Renormalize = %v", v)
	}
}

func TestCPUFeatures(t *testing.T) {
	if got := CPUFeatures(); !strings.HasPrefix(got, runtime.GOARCH) {
		t.Errorf("CPUFeatures = %q, expected %s prefix", got, runtime.GOARCH)
	}
}
