package nn

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is an affine map y = x·Wᵀ + b applied to every row of a batch.
type Linear struct {
	W *mat.Dense // [out, in]
	B []float64  // [out], nil when the layer has no bias
}

// NewLinear loads name.weight (and name.bias when bias is set).
func NewLinear(p Params, name string, in, out int, bias bool) (*Linear, error) {
	w, err := p.Matrix(name+".weight", out, in)
	if err != nil {
		return nil, err
	}
	l := &Linear{W: w}
	if bias {
		if l.B, err = p.Vector(name+".bias", out); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// In returns the input width.
func (l *Linear) In() int {
	_, c := l.W.Dims()
	return c
}

// Out returns the output width.
func (l *Linear) Out() int {
	r, _ := l.W.Dims()
	return r
}

// Forward maps x (batch × in) to (batch × out).
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	if _, c := x.Dims(); c != l.In() {
		panic(fmt.Sprintf("Linear: input width %d, expected %d", c, l.In()))
	}
	var out mat.Dense
	out.Mul(x, l.W.T())
	if l.B != nil {
		rows, _ := out.Dims()
		for b := 0; b < rows; b++ {
			floats.Add(out.RawRowView(b), l.B)
		}
	}
	return &out
}

// Row returns the single output row of a width-1 projection and its bias.
// It is used for the score vectors wᵀ·tanh(...).
func (l *Linear) Row() ([]float64, float64) {
	if l.Out() != 1 {
		panic("Linear.Row: layer has more than one output")
	}
	var b float64
	if l.B != nil {
		b = l.B[0]
	}
	return l.W.RawRowView(0), b
}

// NumParams reports the number of scalar parameters.
func (l *Linear) NumParams() int {
	r, c := l.W.Dims()
	return r*c + len(l.B)
}
