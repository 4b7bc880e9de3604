package kernels

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// gateCeil is the largest float64 strictly below 1.
var gateCeil = math.Nextafter(1, 0)

// Sigmoid applies the logistic function
// sigmoid(x) = 1 / (1 + exp(-x))
// The result is clamped to the open interval (0, 1) so that gates never
// fully open or close, even when exp saturates.
func Sigmoid(x float64) float64 {
	var s float64
	if x >= 0 {
		s = 1.0 / (1.0 + math.Exp(-x))
	} else {
		// exp(x) / (1 + exp(x)) is stable for negative x
		e := math.Exp(x)
		s = e / (1.0 + e)
	}
	if s <= 0 {
		return math.SmallestNonzeroFloat64
	}
	if s >= 1 {
		return gateCeil
	}
	return s
}

// SigmoidInPlace applies Sigmoid to every element of m.
func SigmoidInPlace(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 { return Sigmoid(v) }, m)
}

// TanhInPlace applies tanh to every element of m.
func TanhInPlace(m *mat.Dense) {
	m.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, m)
}

// ReLU applies the ReLU activation function
// ReLU(x) = max(0, x)
func ReLU(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}
