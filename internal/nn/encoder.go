package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/kernels"
)

// Encoder is a stacked, optionally bidirectional recurrent encoder.
type Encoder struct {
	layers        []encoderLayer
	hidden        int
	bidirectional bool
}

type encoderLayer struct {
	fw Cell
	bw Cell // nil when unidirectional
}

// EncoderResult is the output of an encoder pass.
type EncoderResult struct {
	// Out holds one vector per position (hidden × directions wide); padded
	// positions are zero.
	Out Seq
	// Final is the last layer's final hidden value, forward then backward
	// direction concatenated.
	Final *mat.Dense
}

// NewEncoder builds an encoder with parameters under name (name.l0.fw, ...).
func NewEncoder(kind CellKind, p Params, name string, in, hidden, layers int, bidirectional bool) (*Encoder, error) {
	if layers < 1 {
		return nil, fmt.Errorf("encoder %s: layer count must be positive, got %d", name, layers)
	}
	e := &Encoder{hidden: hidden, bidirectional: bidirectional}
	width := in
	for l := 0; l < layers; l++ {
		var layer encoderLayer
		var err error
		if layer.fw, err = NewCell(kind, p, fmt.Sprintf("%s.l%d.fw", name, l), width, hidden); err != nil {
			return nil, err
		}
		if bidirectional {
			if layer.bw, err = NewCell(kind, p, fmt.Sprintf("%s.l%d.bw", name, l), width, hidden); err != nil {
				return nil, err
			}
		}
		e.layers = append(e.layers, layer)
		width = e.OutputSize()
	}
	return e, nil
}

// OutputSize returns the per-position output width.
func (e *Encoder) OutputSize() int {
	if e.bidirectional {
		return 2 * e.hidden
	}
	return e.hidden
}

// NumParams reports the number of scalar parameters.
func (e *Encoder) NumParams() int {
	n := 0
	for _, l := range e.layers {
		n += l.fw.NumParams()
		if l.bw != nil {
			n += l.bw.NumParams()
		}
	}
	return n
}

// Forward encodes x.
func (e *Encoder) Forward(x Seq) (EncoderResult, error) {
	if err := x.Validate(); err != nil {
		return EncoderResult{}, err
	}
	if x.Dim() != e.layers[0].fw.InputSize() {
		return EncoderResult{}, fmt.Errorf("%w: encoder input width %d, expected %d", ErrShape, x.Dim(), e.layers[0].fw.InputSize())
	}

	batch := x.Batch()
	cur := x
	var final *mat.Dense
	for _, layer := range e.layers {
		fwOut, fwState := runCell(layer.fw, cur.Steps, cur.Mask, layer.fw.InitState(batch))
		if layer.bw == nil {
			cur = Seq{Steps: fwOut, Mask: x.Mask}
			final = fwState.H
			continue
		}
		rev := cur.Reverse()
		bwOut, bwState := runCell(layer.bw, rev.Steps, rev.Mask, layer.bw.InitState(batch))
		cur = ConcatSeq(Seq{Steps: fwOut, Mask: x.Mask}, Seq{Steps: kernels.Reverse(bwOut), Mask: x.Mask})
		final = kernels.Concat(fwState.H, bwState.H)
	}
	return EncoderResult{Out: cur, Final: final}, nil
}
