package nn

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/kernels"
)

// CellKind selects the recurrent step algorithm.
type CellKind int

const (
	// LSTM is a long short-term memory cell (value/carry state).
	LSTM CellKind = iota
	// GRU is a gated recurrent unit (value-only state).
	GRU
)

// String returns the configuration name of the cell kind.
func (k CellKind) String() string {
	switch k {
	case LSTM:
		return "lstm"
	case GRU:
		return "gru"
	default:
		return fmt.Sprintf("cell(%d)", int(k))
	}
}

// ParseCellKind maps a configuration string to a CellKind.
func ParseCellKind(s string) (CellKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lstm":
		return LSTM, nil
	case "gru":
		return GRU, nil
	default:
		return 0, fmt.Errorf("unknown cell kind %q (allowed: lstm, gru)", s)
	}
}

// State is the recurrent state threaded through a pass. C is nil for GRU.
type State struct {
	H *mat.Dense // [batch, hidden]
	C *mat.Dense // [batch, hidden]
}

// Cell advances a recurrent state by one step.
type Cell interface {
	// Advance consumes the previous state and an input (batch × InputSize)
	// and returns the next state. It does not modify its arguments.
	Advance(s State, x *mat.Dense) State
	// InitState returns a zero state for the given batch size.
	InitState(batch int) State
	InputSize() int
	HiddenSize() int
	NumParams() int
}

// NewCell constructs the cell selected by kind with parameters under name.
func NewCell(kind CellKind, p Params, name string, in, hidden int) (Cell, error) {
	switch kind {
	case LSTM:
		return newLSTMCell(p, name, in, hidden)
	case GRU:
		return newGRUCell(p, name, in, hidden)
	default:
		return nil, fmt.Errorf("unknown cell kind %v", kind)
	}
}

// WithHidden returns a state for cell whose hidden value is h and whose
// carry (if any) is zero.
func WithHidden(cell Cell, h *mat.Dense) State {
	batch, _ := h.Dims()
	s := cell.InitState(batch)
	s.H = mat.DenseCopyOf(h)
	return s
}

// Hold keeps prev for rows where valid is false and next elsewhere.
func Hold(next, prev State, valid []bool) State {
	out := State{H: kernels.SelectRows(next.H, prev.H, valid)}
	if next.C != nil {
		out.C = kernels.SelectRows(next.C, prev.C, valid)
	}
	return out
}

// lstmCell uses the PyTorch gate layout (input, forget, cell, output).
type lstmCell struct {
	ih, hh *Linear // [4h, in], [4h, h]
	in     int
	hidden int
}

func newLSTMCell(p Params, name string, in, hidden int) (*lstmCell, error) {
	ih, err := NewLinear(p, name+".ih", in, 4*hidden, true)
	if err != nil {
		return nil, fmt.Errorf("lstm %s: %w", name, err)
	}
	hh, err := NewLinear(p, name+".hh", hidden, 4*hidden, true)
	if err != nil {
		return nil, fmt.Errorf("lstm %s: %w", name, err)
	}
	return &lstmCell{ih: ih, hh: hh, in: in, hidden: hidden}, nil
}

func (c *lstmCell) InitState(batch int) State {
	return State{
		H: mat.NewDense(batch, c.hidden, nil),
		C: mat.NewDense(batch, c.hidden, nil),
	}
}

func (c *lstmCell) Advance(s State, x *mat.Dense) State {
	gates := c.ih.Forward(x)
	gates.Add(gates, c.hh.Forward(s.H))

	batch, _ := x.Dims()
	h := c.hidden
	next := State{
		H: mat.NewDense(batch, h, nil),
		C: mat.NewDense(batch, h, nil),
	}
	for b := 0; b < batch; b++ {
		g := gates.RawRowView(b)
		prevC := s.C.RawRowView(b)
		outH := next.H.RawRowView(b)
		outC := next.C.RawRowView(b)
		for k := 0; k < h; k++ {
			i := kernels.Sigmoid(g[k])
			f := kernels.Sigmoid(g[h+k])
			cand := math.Tanh(g[2*h+k])
			o := kernels.Sigmoid(g[3*h+k])
			outC[k] = f*prevC[k] + i*cand
			outH[k] = o * math.Tanh(outC[k])
		}
	}
	return next
}

func (c *lstmCell) InputSize() int  { return c.in }
func (c *lstmCell) HiddenSize() int { return c.hidden }
func (c *lstmCell) NumParams() int  { return c.ih.NumParams() + c.hh.NumParams() }

// gruCell uses the PyTorch gate layout (reset, update, new).
type gruCell struct {
	ih, hh *Linear // [3h, in], [3h, h]
	in     int
	hidden int
}

func newGRUCell(p Params, name string, in, hidden int) (*gruCell, error) {
	ih, err := NewLinear(p, name+".ih", in, 3*hidden, true)
	if err != nil {
		return nil, fmt.Errorf("gru %s: %w", name, err)
	}
	hh, err := NewLinear(p, name+".hh", hidden, 3*hidden, true)
	if err != nil {
		return nil, fmt.Errorf("gru %s: %w", name, err)
	}
	return &gruCell{ih: ih, hh: hh, in: in, hidden: hidden}, nil
}

func (c *gruCell) InitState(batch int) State {
	return State{H: mat.NewDense(batch, c.hidden, nil)}
}

func (c *gruCell) Advance(s State, x *mat.Dense) State {
	gi := c.ih.Forward(x)
	gh := c.hh.Forward(s.H)

	batch, _ := x.Dims()
	h := c.hidden
	next := State{H: mat.NewDense(batch, h, nil)}
	for b := 0; b < batch; b++ {
		xi := gi.RawRowView(b)
		hi := gh.RawRowView(b)
		prev := s.H.RawRowView(b)
		out := next.H.RawRowView(b)
		for k := 0; k < h; k++ {
			r := kernels.Sigmoid(xi[k] + hi[k])
			z := kernels.Sigmoid(xi[h+k] + hi[h+k])
			n := math.Tanh(xi[2*h+k] + r*hi[2*h+k])
			out[k] = (1-z)*n + z*prev[k]
		}
	}
	return next
}

func (c *gruCell) InputSize() int  { return c.in }
func (c *gruCell) HiddenSize() int { return c.hidden }
func (c *gruCell) NumParams() int  { return c.ih.NumParams() + c.hh.NumParams() }
