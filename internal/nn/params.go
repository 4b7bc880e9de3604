// Package nn implements the recurrent layers of the reader: cells, the
// sequence encoder, match attention, attention pooling and the boundary
// pointer decoder.
//
// All layers are forward-only and operate on whole batches per time step.
// Parameters are pulled by name from a Params source at construction and
// never mutated afterwards, so a constructed layer is safe for concurrent use.
package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Params supplies named parameters at construction time.
type Params interface {
	// Matrix returns a rows × cols parameter.
	Matrix(name string, rows, cols int) (*mat.Dense, error)
	// Vector returns a length-n parameter.
	Vector(name string, n int) ([]float64, error)
}

// Tensor is a named parameter recorded by RandomParams.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// RandomParams draws every requested parameter from U(-bound, bound) using
// its own seeded source. Requested tensors are recorded in order so they can
// be persisted.
type RandomParams struct {
	rng     *rand.Rand
	bound   float64
	tensors []Tensor
	seen    map[string]int
}

// NewRandomParams creates a parameter source seeded with seed.
func NewRandomParams(seed uint64, bound float64) *RandomParams {
	if bound <= 0 {
		bound = 0.1
	}
	return &RandomParams{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		bound: bound,
		seen:  make(map[string]int),
	}
}

// Matrix implements Params.
func (r *RandomParams) Matrix(name string, rows, cols int) (*mat.Dense, error) {
	data, err := r.draw(name, rows, cols)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(rows, cols, data), nil
}

// Vector implements Params.
func (r *RandomParams) Vector(name string, n int) ([]float64, error) {
	return r.draw(name, n)
}

func (r *RandomParams) draw(name string, shape ...int) ([]float64, error) {
	if _, dup := r.seen[name]; dup {
		return nil, fmt.Errorf("parameter %s requested twice", name)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("parameter %s: invalid shape %v", name, shape)
		}
		n *= d
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = (r.rng.Float64()*2 - 1) * r.bound
	}
	r.seen[name] = len(r.tensors)
	r.tensors = append(r.tensors, Tensor{Name: name, Shape: append([]int(nil), shape...), Data: data})
	return data, nil
}

// Tensors returns the parameters drawn so far, in request order.
func (r *RandomParams) Tensors() []Tensor {
	return r.tensors
}

// Count returns the total number of scalar parameters drawn.
func (r *RandomParams) Count() int {
	n := 0
	for _, t := range r.tensors {
		n += len(t.Data)
	}
	return n
}
