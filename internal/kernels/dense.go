package kernels

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Concat joins a and b column-wise: (batch × da) ++ (batch × db) -> (batch × (da+db)).
func Concat(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Augment(a, b)
	return &out
}

// Split slices m column-wise at col, returning copies of the left and right halves.
func Split(m *mat.Dense, col int) (left, right *mat.Dense) {
	rows, cols := m.Dims()
	if col <= 0 || col >= cols {
		panic("Split: column out of range")
	}
	left = mat.DenseCopyOf(m.Slice(0, rows, 0, col))
	right = mat.DenseCopyOf(m.Slice(0, rows, col, cols))
	return left, right
}

// Reverse returns a new slice with the elements of s in reverse order.
// Reverse(Reverse(s)) restores s exactly.
func Reverse[T any](s []T) []T {
	out := make([]T, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}

// ReverseMask reverses every row of a (batch × T) mask.
func ReverseMask(mask [][]bool) [][]bool {
	out := make([][]bool, len(mask))
	for b, row := range mask {
		out[b] = Reverse(row)
	}
	return out
}

// WeightedSum computes out[b] = Σ_j weights[b, j] · seq[j][b] for a time-major
// sequence seq (L steps of batch × d) and weights (batch × L).
func WeightedSum(weights *mat.Dense, seq []*mat.Dense) *mat.Dense {
	batch, steps := weights.Dims()
	if steps != len(seq) {
		panic("WeightedSum: weight columns do not match sequence length")
	}
	_, d := seq[0].Dims()
	out := mat.NewDense(batch, d, nil)
	for j, step := range seq {
		for b := 0; b < batch; b++ {
			w := weights.At(b, j)
			if w == 0 {
				continue
			}
			dst := out.RawRowView(b)
			src := step.RawRowView(b)
			for k := range dst {
				dst[k] += w * src[k]
			}
		}
	}
	return out
}

// ColumnDot computes out[b] = m[b] · v for every row of m, writing into
// column j of dst.
func ColumnDot(dst *mat.Dense, j int, m *mat.Dense, v []float64) {
	rows, _ := m.Dims()
	for b := 0; b < rows; b++ {
		dst.Set(b, j, floats.Dot(m.RawRowView(b), v))
	}
}

// ZeroRows clears every row b of m where keep[b] is false.
func ZeroRows(m *mat.Dense, keep []bool) {
	for b, ok := range keep {
		if ok {
			continue
		}
		row := m.RawRowView(b)
		for k := range row {
			row[k] = 0
		}
	}
}

// SelectRows returns a matrix whose row b is next[b] when take[b] is true
// and prev[b] otherwise. It implements the hold-state rule at padded steps.
func SelectRows(next, prev *mat.Dense, take []bool) *mat.Dense {
	out := mat.DenseCopyOf(next)
	for b, ok := range take {
		if ok {
			continue
		}
		copy(out.RawRowView(b), prev.RawRowView(b))
	}
	return out
}

// Dropout zeroes each element of m with probability p and scales survivors by
// 1/(1-p) (inverted dropout). p <= 0 or a nil rng leaves m unchanged.
func Dropout(m *mat.Dense, p float64, rng *rand.Rand) {
	if p <= 0 || rng == nil {
		return
	}
	scale := 1 / (1 - p)
	m.Apply(func(_, _ int, v float64) float64 {
		if rng.Float64() < p {
			return 0
		}
		return v * scale
	}, m)
}
