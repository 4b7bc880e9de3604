package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/kernels"
)

// MatchCell is one direction of a Match-LSTM: attention over a target
// sequence followed by a recurrent update on [hp ; c].
type MatchCell struct {
	wq   *Linear // [h, d]
	wp   *Linear // [h, d]
	wr   *Linear // [h, h]
	wg   *Linear // [1, h]
	gate *Linear // [2d, 2d], nil unless gated attention is enabled
	cell Cell    // input 2d, hidden h
}

// NewMatchCell loads a match cell attending over inputs of width in.
func NewMatchCell(kind CellKind, p Params, name string, in, hidden int, gated bool) (*MatchCell, error) {
	m := &MatchCell{}
	var err error
	if m.wq, err = NewLinear(p, name+".attn.wq", in, hidden, true); err != nil {
		return nil, err
	}
	if m.wp, err = NewLinear(p, name+".attn.wp", in, hidden, true); err != nil {
		return nil, err
	}
	if m.wr, err = NewLinear(p, name+".attn.wr", hidden, hidden, true); err != nil {
		return nil, err
	}
	if m.wg, err = NewLinear(p, name+".attn.wg", hidden, 1, true); err != nil {
		return nil, err
	}
	if gated {
		if m.gate, err = NewLinear(p, name+".gate", 2*in, 2*in, true); err != nil {
			return nil, err
		}
	}
	if m.cell, err = NewCell(kind, p, name+".cell", 2*in, hidden); err != nil {
		return nil, err
	}
	return m, nil
}

// NumParams reports the number of scalar parameters.
func (m *MatchCell) NumParams() int {
	n := m.wq.NumParams() + m.wp.NumParams() + m.wr.NumParams() + m.wg.NumParams() + m.cell.NumParams()
	if m.gate != nil {
		n += m.gate.NumParams()
	}
	return n
}

// MatchTarget is an attention target with its Wq projection precomputed.
type MatchTarget struct {
	Seq  Seq
	proj []*mat.Dense // Wq·Hq_j per position
}

// Prepare projects the attention target once per pass.
func (m *MatchCell) Prepare(q Seq) *MatchTarget {
	proj := make([]*mat.Dense, q.Len())
	for j, step := range q.Steps {
		proj[j] = m.wq.Forward(step)
	}
	return &MatchTarget{Seq: q, proj: proj}
}

// MatchStep is the attention output of one step.
type MatchStep struct {
	Alpha *mat.Dense // [batch, Lq], zero at masked target positions
	Z     *mat.Dense // [batch, 2d], the (gated) recurrent input
	Gate  *mat.Dense // [batch, 2d], nil unless gated
}

// Attend computes the attention weights and the recurrent input for context
// vector hp given the previous hidden value hrPrev.
func (m *MatchCell) Attend(target *MatchTarget, hp, hrPrev *mat.Dense) (MatchStep, error) {
	add := m.wp.Forward(hp)
	add.Add(add, m.wr.Forward(hrPrev))

	alpha := attentionScores(target.proj, add, m.wg)
	if err := kernels.MaskedSoftmaxRows(alpha, target.Seq.Mask); err != nil {
		return MatchStep{}, fmt.Errorf("match attention: %w", err)
	}
	c := kernels.WeightedSum(alpha, target.Seq.Steps)
	z := kernels.Concat(hp, c)

	step := MatchStep{Alpha: alpha, Z: z}
	if m.gate != nil {
		g := m.gate.Forward(z)
		kernels.SigmoidInPlace(g)
		z.MulElem(g, z)
		step.Gate = g
	}
	return step, nil
}

// Step is the pure loop body of a match pass: attend, then advance the cell.
func (m *MatchCell) Step(target *MatchTarget, hp *mat.Dense, s State) (State, MatchStep, error) {
	att, err := m.Attend(target, hp, s.H)
	if err != nil {
		return State{}, MatchStep{}, err
	}
	return m.cell.Advance(s, att.Z), att, nil
}

// attentionScores returns scores[b, j] = wᵀ·tanh(proj[j][b] + add[b]) + bias.
func attentionScores(proj []*mat.Dense, add *mat.Dense, score *Linear) *mat.Dense {
	batch, _ := add.Dims()
	w, bias := score.Row()
	scores := mat.NewDense(batch, len(proj), nil)
	var g mat.Dense
	for j, p := range proj {
		g.Add(p, add)
		kernels.TanhInPlace(&g)
		kernels.ColumnDot(scores, j, &g, w)
	}
	if bias != 0 {
		scores.Apply(func(_, _ int, v float64) float64 { return v + bias }, scores)
	}
	return scores
}

// Attention is a diagnostic weight map: [batch][context position][target position].
type Attention [][][]float64

func collectAttention(alphas []*mat.Dense, batch int) Attention {
	out := make(Attention, batch)
	for b := 0; b < batch; b++ {
		out[b] = make([][]float64, len(alphas))
		for t, a := range alphas {
			out[b][t] = append([]float64(nil), a.RawRowView(b)...)
		}
	}
	return out
}

// MatchLayer runs match cells over the whole context, optionally in both
// directions.
type MatchLayer struct {
	fw     *MatchCell
	bw     *MatchCell // nil when unidirectional
	hidden int
}

// MatchResult is the output of a match pass.
type MatchResult struct {
	// Out is the question-aware context representation; padded positions are zero.
	Out Seq
	// Final is the final hidden value, forward then backward concatenated.
	Final *mat.Dense
	// Forward and Backward hold attention weights in original context order.
	// Backward is nil for a unidirectional layer.
	Forward  Attention
	Backward Attention
	// Gates holds the per-step gate values of the forward pass when gated
	// attention is enabled.
	Gates []*mat.Dense
}

// NewMatchLayer loads a match layer over context and target vectors of width in.
func NewMatchLayer(kind CellKind, p Params, name string, in, hidden int, bidirectional, gated bool) (*MatchLayer, error) {
	l := &MatchLayer{hidden: hidden}
	var err error
	if l.fw, err = NewMatchCell(kind, p, name+".fw", in, hidden, gated); err != nil {
		return nil, err
	}
	if bidirectional {
		if l.bw, err = NewMatchCell(kind, p, name+".bw", in, hidden, gated); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// OutputSize returns the per-position output width.
func (l *MatchLayer) OutputSize() int {
	if l.bw != nil {
		return 2 * l.hidden
	}
	return l.hidden
}

// NumParams reports the number of scalar parameters.
func (l *MatchLayer) NumParams() int {
	n := l.fw.NumParams()
	if l.bw != nil {
		n += l.bw.NumParams()
	}
	return n
}

// Forward aligns every position of p against the whole of q. Self-matching
// is Forward(p, p).
func (l *MatchLayer) Forward(p, q Seq) (MatchResult, error) {
	if err := p.Validate(); err != nil {
		return MatchResult{}, fmt.Errorf("match context: %w", err)
	}
	if err := q.Validate(); err != nil {
		return MatchResult{}, fmt.Errorf("match target: %w", err)
	}
	if p.Batch() != q.Batch() {
		return MatchResult{}, fmt.Errorf("%w: context batch %d, target batch %d", ErrShape, p.Batch(), q.Batch())
	}
	if p.Dim() != l.fw.wp.In() || q.Dim() != l.fw.wq.In() {
		return MatchResult{}, fmt.Errorf("%w: match input widths %d/%d, expected %d", ErrShape, p.Dim(), q.Dim(), l.fw.wp.In())
	}

	fwOut, fwFinal, fwAlpha, gates, err := l.pass(l.fw, p, q)
	if err != nil {
		return MatchResult{}, err
	}
	res := MatchResult{
		Out:     Seq{Steps: fwOut, Mask: p.Mask},
		Final:   fwFinal,
		Forward: collectAttention(fwAlpha, p.Batch()),
		Gates:   gates,
	}
	if l.bw == nil {
		return res, nil
	}

	bwOut, bwFinal, bwAlpha, _, err := l.pass(l.bw, p.Reverse(), q)
	if err != nil {
		return MatchResult{}, err
	}
	res.Out = ConcatSeq(res.Out, Seq{Steps: kernels.Reverse(bwOut), Mask: p.Mask})
	res.Final = kernels.Concat(fwFinal, bwFinal)
	res.Backward = collectAttention(kernels.Reverse(bwAlpha), p.Batch())
	return res, nil
}

// pass runs one direction over p in the order given.
func (l *MatchLayer) pass(cell *MatchCell, p, q Seq) ([]*mat.Dense, *mat.Dense, []*mat.Dense, []*mat.Dense, error) {
	target := cell.Prepare(q)
	s := cell.cell.InitState(p.Batch())
	out := make([]*mat.Dense, p.Len())
	alphas := make([]*mat.Dense, p.Len())
	var gates []*mat.Dense

	for t, hp := range p.Steps {
		valid := p.MaskAt(t)
		next, att, err := cell.Step(target, hp, s)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("step %d: %w", t, err)
		}
		s = Hold(next, s, valid)

		h := mat.DenseCopyOf(s.H)
		kernels.ZeroRows(h, valid)
		kernels.ZeroRows(att.Alpha, valid)
		out[t] = h
		alphas[t] = att.Alpha
		if att.Gate != nil {
			gates = append(gates, att.Gate)
		}
	}
	return out, s.H, alphas, gates, nil
}
