package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/kernels"
)

// PointerCell is the attention cell of the boundary decoder: it points at a
// context position and feeds the attended vector back into its recurrence.
type PointerCell struct {
	wr   *Linear // [h, d]
	wa   *Linear // [h, h]
	wf   *Linear // [1, h]
	cell Cell    // input d, hidden h
}

// NewPointerCell loads a pointer cell over context vectors of width in.
func NewPointerCell(kind CellKind, p Params, name string, in, hidden int) (*PointerCell, error) {
	c := &PointerCell{}
	var err error
	if c.wr, err = NewLinear(p, name+".attn.wr", in, hidden, true); err != nil {
		return nil, err
	}
	if c.wa, err = NewLinear(p, name+".attn.wa", hidden, hidden, true); err != nil {
		return nil, err
	}
	if c.wf, err = NewLinear(p, name+".attn.wf", hidden, 1, true); err != nil {
		return nil, err
	}
	if c.cell, err = NewCell(kind, p, name+".cell", in, hidden); err != nil {
		return nil, err
	}
	return c, nil
}

// NumParams reports the number of scalar parameters.
func (c *PointerCell) NumParams() int {
	return c.wr.NumParams() + c.wa.NumParams() + c.wf.NumParams() + c.cell.NumParams()
}

// PointerTarget is a context representation with its Wr projection cached.
type PointerTarget struct {
	Seq  Seq
	proj []*mat.Dense
}

// Prepare projects hr once per decode.
func (c *PointerCell) Prepare(hr Seq) *PointerTarget {
	proj := make([]*mat.Dense, hr.Len())
	for t, step := range hr.Steps {
		proj[t] = c.wr.Forward(step)
	}
	return &PointerTarget{Seq: hr, proj: proj}
}

// Step emits the boundary distribution β (batch × T) for the current state
// and returns the state advanced by the attended context vector.
func (c *PointerCell) Step(target *PointerTarget, s State) (State, *mat.Dense, error) {
	beta := attentionScores(target.proj, c.wa.Forward(s.H), c.wf)
	if err := kernels.MaskedSoftmaxRows(beta, target.Seq.Mask); err != nil {
		return State{}, nil, fmt.Errorf("pointer attention: %w", err)
	}
	ctx := kernels.WeightedSum(beta, target.Seq.Steps)
	return c.cell.Advance(s, ctx), beta, nil
}

// decode runs the fixed two-step decode and returns the two distributions in
// emission order.
func (c *PointerCell) decode(target *PointerTarget, seed *mat.Dense) (first, second *mat.Dense, err error) {
	s := c.cell.InitState(target.Seq.Batch())
	if seed != nil {
		if r, col := seed.Dims(); r != target.Seq.Batch() || col != c.cell.HiddenSize() {
			return nil, nil, fmt.Errorf("%w: decoder seed is %dx%d, expected %dx%d", ErrShape, r, col, target.Seq.Batch(), c.cell.HiddenSize())
		}
		s = WithHidden(c.cell, seed)
	}
	if s, first, err = c.Step(target, s); err != nil {
		return nil, nil, err
	}
	if _, second, err = c.Step(target, s); err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

// BoundaryPointer decodes start and end distributions over the context.
type BoundaryPointer struct {
	fw     *PointerCell
	bw     *PointerCell // nil when unidirectional; decodes end-then-start
	hidden int
}

// PointerResult holds the decoded distributions (batch × T).
type PointerResult struct {
	Start *mat.Dense
	End   *mat.Dense
	// Per-direction distributions before combination. Backward is zero-valued
	// for a unidirectional decoder.
	Forward  [2]*mat.Dense
	Backward [2]*mat.Dense
}

// NewBoundaryPointer loads the decoder. A bidirectional decoder has a second,
// independently parameterised cell under name.bw.
func NewBoundaryPointer(kind CellKind, p Params, name string, in, hidden int, bidirectional bool) (*BoundaryPointer, error) {
	bp := &BoundaryPointer{hidden: hidden}
	var err error
	if bp.fw, err = NewPointerCell(kind, p, name+".fw", in, hidden); err != nil {
		return nil, err
	}
	if bidirectional {
		if bp.bw, err = NewPointerCell(kind, p, name+".bw", in, hidden); err != nil {
			return nil, err
		}
	}
	return bp, nil
}

// Bidirectional reports whether the decoder runs both orders.
func (bp *BoundaryPointer) Bidirectional() bool { return bp.bw != nil }

// HiddenSize is the width of a decoder seed.
func (bp *BoundaryPointer) HiddenSize() int { return bp.hidden }

// NumParams reports the number of scalar parameters.
func (bp *BoundaryPointer) NumParams() int {
	n := bp.fw.NumParams()
	if bp.bw != nil {
		n += bp.bw.NumParams()
	}
	return n
}

// Decode runs the two-step decode over hr. seedFw and seedBw (batch ×
// HiddenSize) initialise the forward and reverse passes; nil means a zero
// state. seedBw is ignored by a unidirectional decoder.
//
// In the bidirectional case the two start distributions are averaged
// elementwise and re-normalised, and likewise the two end distributions.
func (bp *BoundaryPointer) Decode(hr Seq, seedFw, seedBw *mat.Dense) (PointerResult, error) {
	if err := hr.Validate(); err != nil {
		return PointerResult{}, fmt.Errorf("pointer: %w", err)
	}
	if hr.Dim() != bp.fw.wr.In() {
		return PointerResult{}, fmt.Errorf("%w: pointer input width %d, expected %d", ErrShape, hr.Dim(), bp.fw.wr.In())
	}

	start, end, err := bp.fw.decode(bp.fw.Prepare(hr), seedFw)
	if err != nil {
		return PointerResult{}, fmt.Errorf("pointer forward: %w", err)
	}
	res := PointerResult{Start: start, End: end, Forward: [2]*mat.Dense{start, end}}
	if bp.bw == nil {
		return res, nil
	}

	bwEnd, bwStart, err := bp.bw.decode(bp.bw.Prepare(hr), seedBw)
	if err != nil {
		return PointerResult{}, fmt.Errorf("pointer backward: %w", err)
	}
	res.Backward = [2]*mat.Dense{bwStart, bwEnd}
	res.Start = average(start, bwStart)
	res.End = average(end, bwEnd)
	return res, nil
}

func average(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Add(a, b)
	out.Scale(0.5, &out)
	rows, _ := out.Dims()
	for r := 0; r < rows; r++ {
		kernels.Renormalize(out.RawRowView(r))
	}
	return &out
}
