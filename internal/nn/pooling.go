package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/kernels"
)

// AttentionPooling reduces a masked sequence to one vector per example.
type AttentionPooling struct {
	ws *Linear // [h, d]
	wf *Linear // [1, h]
}

// NewAttentionPooling loads a pooling layer over inputs of width in.
func NewAttentionPooling(p Params, name string, in, hidden int) (*AttentionPooling, error) {
	ws, err := NewLinear(p, name+".ws", in, hidden, true)
	if err != nil {
		return nil, err
	}
	wf, err := NewLinear(p, name+".wf", hidden, 1, true)
	if err != nil {
		return nil, err
	}
	return &AttentionPooling{ws: ws, wf: wf}, nil
}

// NumParams reports the number of scalar parameters.
func (a *AttentionPooling) NumParams() int { return a.ws.NumParams() + a.wf.NumParams() }

// Pool returns Σ_j β_j·H_j (batch × d) and the weights β (batch × L).
func (a *AttentionPooling) Pool(h Seq) (*mat.Dense, *mat.Dense, error) {
	if err := h.Validate(); err != nil {
		return nil, nil, fmt.Errorf("pooling: %w", err)
	}
	if h.Dim() != a.ws.In() {
		return nil, nil, fmt.Errorf("%w: pooling input width %d, expected %d", ErrShape, h.Dim(), a.ws.In())
	}
	proj := make([]*mat.Dense, h.Len())
	for j, step := range h.Steps {
		proj[j] = a.ws.Forward(step)
	}
	zero := mat.NewDense(h.Batch(), a.ws.Out(), nil)
	beta := attentionScores(proj, zero, a.wf)
	if err := kernels.MaskedSoftmaxRows(beta, h.Mask); err != nil {
		return nil, nil, fmt.Errorf("pooling: %w", err)
	}
	return kernels.WeightedSum(beta, h.Steps), beta, nil
}
