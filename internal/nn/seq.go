package nn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/kernels"
)

// ErrShape reports inconsistent sequence, mask or batch dimensions.
var ErrShape = errors.New("shape mismatch")

// Seq is a time-major batch of vectors with a validity mask.
//
// Steps[t] is (batch × dim); Mask[b][t] is true for real tokens.
type Seq struct {
	Steps []*mat.Dense
	Mask  [][]bool
}

// Len returns the number of time steps.
func (s Seq) Len() int { return len(s.Steps) }

// Batch returns the batch size.
func (s Seq) Batch() int { return len(s.Mask) }

// Dim returns the per-step feature width.
func (s Seq) Dim() int {
	if len(s.Steps) == 0 {
		return 0
	}
	_, c := s.Steps[0].Dims()
	return c
}

// MaskAt returns the mask column for step t.
func (s Seq) MaskAt(t int) []bool {
	col := make([]bool, len(s.Mask))
	for b, row := range s.Mask {
		col[b] = row[t]
	}
	return col
}

// Validate checks that every step has the same shape and that the mask
// covers exactly Len() positions for every batch row.
func (s Seq) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: empty sequence", ErrShape)
	}
	batch, dim := s.Steps[0].Dims()
	if batch != len(s.Mask) {
		return fmt.Errorf("%w: %d mask rows for batch of %d", ErrShape, len(s.Mask), batch)
	}
	for t, step := range s.Steps {
		if r, c := step.Dims(); r != batch || c != dim {
			return fmt.Errorf("%w: step %d is %dx%d, expected %dx%d", ErrShape, t, r, c, batch, dim)
		}
	}
	for b, row := range s.Mask {
		if len(row) != len(s.Steps) {
			return fmt.Errorf("%w: mask row %d has length %d, sequence has %d", ErrShape, b, len(row), len(s.Steps))
		}
	}
	return nil
}

// Reverse returns the sequence with positions in reverse order. Steps are
// shared, not copied.
func (s Seq) Reverse() Seq {
	return Seq{Steps: kernels.Reverse(s.Steps), Mask: kernels.ReverseMask(s.Mask)}
}

// ConcatSeq joins two aligned sequences feature-wise. The mask of a is kept.
func ConcatSeq(a, b Seq) Seq {
	if a.Len() != b.Len() {
		panic("ConcatSeq: sequences differ in length")
	}
	out := Seq{Steps: make([]*mat.Dense, a.Len()), Mask: a.Mask}
	for t := range a.Steps {
		out.Steps[t] = kernels.Concat(a.Steps[t], b.Steps[t])
	}
	return out
}

// Rows returns the per-example view of step-major data: out[b][t] is the
// vector for example b at position t.
func (s Seq) Rows(b int) [][]float64 {
	out := make([][]float64, s.Len())
	for t, step := range s.Steps {
		out[t] = append([]float64(nil), step.RawRowView(b)...)
	}
	return out
}

// runCell applies cell over steps with the hold-state rule: at a padded
// position the state is carried unchanged and the output row is zero.
func runCell(cell Cell, steps []*mat.Dense, mask [][]bool, init State) ([]*mat.Dense, State) {
	s := init
	out := make([]*mat.Dense, len(steps))
	seq := Seq{Steps: steps, Mask: mask}
	for t, x := range steps {
		valid := seq.MaskAt(t)
		s = Hold(cell.Advance(s, x), s, valid)
		h := mat.DenseCopyOf(s.H)
		kernels.ZeroRows(h, valid)
		out[t] = h
	}
	return out, s
}
