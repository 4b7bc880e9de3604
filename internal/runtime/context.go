package runtime

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/lth/go-matchlstm/internal/kernels"
)

// InferenceContext carries the per-run state of a forward pass: the random
// source used by dropout and whether the pass runs in training mode. A
// context must not be shared by concurrent passes.
type InferenceContext struct {
	Seed     uint64
	Training bool
	rng      *rand.Rand
}

// NewInferenceContext returns a context whose random stream is fully
// determined by seed.
func NewInferenceContext(seed uint64, training bool) *InferenceContext {
	return &InferenceContext{
		Seed:     seed,
		Training: training,
		rng:      rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
	}
}

// Derive returns an independent context for sub-run i (one batch of a larger
// request), keeping the training flag.
func (ic *InferenceContext) Derive(i int) *InferenceContext {
	return NewInferenceContext(ic.Seed+uint64(i)*0x9e3779b97f4a7c15, ic.Training)
}

// dropout applies inverted dropout in training mode and is a no-op otherwise.
func (ic *InferenceContext) dropout(m *mat.Dense, p float64) {
	if ic == nil || !ic.Training || p <= 0 {
		return
	}
	kernels.Dropout(m, p, ic.rng)
}
