package runtime

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/nn"
	"github.com/lth/go-matchlstm/internal/vocab"
)

// Embedding is a read-only id → vector table. Row vocab.PadID is the zero
// vector and row vocab.OOVID the unknown-word vector; ids outside the table
// resolve to the unknown-word vector.
type Embedding struct {
	table *mat.Dense // [vocab, dim]
}

// NewEmbedding loads name as a rows × dim table and clears the padding row.
func NewEmbedding(p nn.Params, name string, rows, dim int) (*Embedding, error) {
	if rows < 2 {
		return nil, fmt.Errorf("%w: embedding %s needs the two reserved rows, has %d", ErrShape, name, rows)
	}
	table, err := p.Matrix(name, rows, dim)
	if err != nil {
		return nil, err
	}
	row := table.RawRowView(vocab.PadID)
	for i := range row {
		row[i] = 0
	}
	return &Embedding{table: table}, nil
}

// Dim returns the vector width.
func (e *Embedding) Dim() int {
	_, c := e.table.Dims()
	return c
}

// Rows returns the number of ids in the table.
func (e *Embedding) Rows() int {
	r, _ := e.table.Dims()
	return r
}

// NumParams reports the number of scalar parameters.
func (e *Embedding) NumParams() int { return e.Rows() * e.Dim() }

// Vector returns the row for id. The slice aliases the table and must not be
// modified.
func (e *Embedding) Vector(id int) []float64 {
	if id < 0 || id >= e.Rows() {
		id = vocab.OOVID
	}
	return e.table.RawRowView(id)
}

// Lookup embeds a batch of id sequences into a time-major sequence of width
// Dim. ids[b] must have length T for every b; mask is used as given.
func (e *Embedding) Lookup(ids [][]int, mask [][]bool, T int) nn.Seq {
	s := nn.Seq{Steps: make([]*mat.Dense, T), Mask: mask}
	for t := 0; t < T; t++ {
		step := mat.NewDense(len(ids), e.Dim(), nil)
		for b, seq := range ids {
			copy(step.RawRowView(b), e.Vector(seq[t]))
		}
		s.Steps[t] = step
	}
	return s
}
