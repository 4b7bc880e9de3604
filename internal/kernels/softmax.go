// Package kernels provides dense math helpers on top of the gonum array engine.
//
// Activations are batch-major: every *mat.Dense is (batch × features), so a
// single call covers the whole batch at one time step.
package kernels

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrAllMasked is returned when a softmax row has no valid position.
var ErrAllMasked = errors.New("kernels: softmax over fully masked row")

// MaskedSoftmax computes softmax(src) over the positions where mask is true.
// Masked positions receive exactly 0 and the valid positions sum to 1.
// dst and src may alias.
func MaskedSoftmax(dst, src []float64, mask []bool) error {
	n := len(src)
	if len(dst) < n || len(mask) != n {
		panic("MaskedSoftmax: buffer size mismatch")
	}

	// Find max over valid positions for numerical stability
	maxVal := math.Inf(-1)
	valid := 0
	for i := 0; i < n; i++ {
		if !mask[i] {
			continue
		}
		valid++
		if src[i] > maxVal {
			maxVal = src[i]
		}
	}
	if valid == 0 {
		return ErrAllMasked
	}

	for i := 0; i < n; i++ {
		if !mask[i] {
			dst[i] = 0
			continue
		}
		dst[i] = math.Exp(src[i] - maxVal)
	}

	sum := floats.Sum(dst[:n])
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		// Scores were all -Inf or NaN; fall back to uniform over valid positions
		inv := 1.0 / float64(valid)
		for i := 0; i < n; i++ {
			if mask[i] {
				dst[i] = inv
			} else {
				dst[i] = 0
			}
		}
		return nil
	}
	floats.Scale(1/sum, dst[:n])
	return nil
}

// MaskedSoftmaxRows applies MaskedSoftmax in place to every row of scores
// (batch × L), using mask[b] for row b.
func MaskedSoftmaxRows(scores *mat.Dense, mask [][]bool) error {
	rows, _ := scores.Dims()
	if len(mask) != rows {
		return fmt.Errorf("masked softmax: %d mask rows for %d score rows", len(mask), rows)
	}
	for b := 0; b < rows; b++ {
		row := scores.RawRowView(b)
		if err := MaskedSoftmax(row, row, mask[b]); err != nil {
			return fmt.Errorf("row %d: %w", b, err)
		}
	}
	return nil
}

// Renormalize scales v so that it sums to 1. Zero vectors are left as-is.
func Renormalize(v []float64) {
	sum := floats.Sum(v)
	if sum == 0 {
		return
	}
	floats.Scale(1/sum, v)
}

// ArgMax returns the index of the largest element of v, the earliest on ties.
// It returns -1 for an empty slice.
func ArgMax(v []float64) int {
	if len(v) == 0 {
		return -1
	}
	return floats.MaxIdx(v)
}
