package runtime

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/gguf"
	"github.com/lth/go-matchlstm/internal/nn"
)

// paramSource is an nn.Params that remembers what it handed out, so a
// constructed model can be written back to a container.
type paramSource interface {
	nn.Params
	Tensors() []nn.Tensor
}

// ggufParams serves parameters from a GGUF reader, converting them to
// float64 and checking shapes against what the layer asks for.
type ggufParams struct {
	r       *gguf.Reader
	tensors []nn.Tensor
	used    map[string]bool
}

func newGGUFParams(r *gguf.Reader) *ggufParams {
	return &ggufParams{r: r, used: make(map[string]bool)}
}

func (p *ggufParams) load(name string, shape ...int) ([]float64, error) {
	if p.used[name] {
		return nil, fmt.Errorf("parameter %s requested twice", name)
	}
	data, desc, err := p.r.Float64s(name)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}
	if !sameShape(desc.Shape, shape) {
		return nil, fmt.Errorf("%w: parameter %s is %v, expected %v", ErrShape, name, desc.Shape, shape)
	}
	p.used[name] = true
	p.tensors = append(p.tensors, nn.Tensor{Name: name, Shape: append([]int(nil), shape...), Data: data})
	return data, nil
}

// Matrix implements nn.Params.
func (p *ggufParams) Matrix(name string, rows, cols int) (*mat.Dense, error) {
	data, err := p.load(name, rows, cols)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(rows, cols, data), nil
}

// Vector implements nn.Params.
func (p *ggufParams) Vector(name string, n int) ([]float64, error) {
	return p.load(name, n)
}

// Tensors returns the parameters loaded so far, in request order.
func (p *ggufParams) Tensors() []nn.Tensor { return p.tensors }

// unused lists tensors in the file that no layer asked for. A non-empty
// result means the file was written for a different configuration.
func (p *ggufParams) unused() []string {
	var out []string
	for _, name := range p.r.ListTensors() {
		if !p.used[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
