package gguf

import (
	"fmt"
	"math"
)

// TensorView provides typed access to tensor data
type TensorView struct {
	desc *TensorDesc
	data []byte
}

// NewTensorView creates a view over tensor data
func NewTensorView(desc *TensorDesc, data []byte) *TensorView {
	return &TensorView{
		desc: desc,
		data: data,
	}
}

// Shape returns the tensor shape
func (tv *TensorView) Shape() []int {
	return tv.desc.Shape
}

// DType returns the tensor data type
func (tv *TensorView) DType() DType {
	return tv.desc.DType
}

// NumElements returns total number of elements
func (tv *TensorView) NumElements() int {
	return tv.desc.NumElements()
}

// Float64s decodes the tensor into float64 values. Integer tensors are
// converted exactly.
func (tv *TensorView) Float64s() ([]float64, error) {
	n := tv.NumElements()
	size := tv.desc.DType.ElementSize()
	if size == 0 {
		return nil, fmt.Errorf("unsupported dtype for conversion: %s", tv.desc.DType)
	}
	if len(tv.data) < n*size {
		return nil, fmt.Errorf("insufficient data for %s tensor %s", tv.desc.DType, tv.desc.Name)
	}

	out := make([]float64, n)
	switch tv.desc.DType {
	case DTypeF32:
		for i := range out {
			out[i] = float64(math.Float32frombits(byteOrder.Uint32(tv.data[i*4:])))
		}
	case DTypeF16:
		for i := range out {
			out[i] = float64(float16ToFloat32(byteOrder.Uint16(tv.data[i*2:])))
		}
	case DTypeF64:
		for i := range out {
			out[i] = math.Float64frombits(byteOrder.Uint64(tv.data[i*8:]))
		}
	case DTypeI32:
		for i := range out {
			out[i] = float64(int32(byteOrder.Uint32(tv.data[i*4:])))
		}
	}
	return out, nil
}

// float16ToFloat32 converts float16 to float32
func float16ToFloat32(f16 uint16) float32 {
	sign := (f16 >> 15) & 0x1
	exp := (f16 >> 10) & 0x1F
	mant := f16 & 0x3FF

	var f32Bits uint32

	if exp == 0 {
		if mant == 0 {
			f32Bits = uint32(sign) << 31
		} else {
			// Subnormal - convert to normalized float32
			exp := uint32(127 - 15 + 1)
			mant := uint32(mant)
			for (mant & 0x400) == 0 {
				mant <<= 1
				exp--
			}
			mant &= 0x3FF
			f32Bits = (uint32(sign) << 31) | (exp << 23) | (mant << 13)
		}
	} else if exp == 0x1F {
		// Inf or NaN
		f32Bits = (uint32(sign) << 31) | (0xFF << 23) | (uint32(mant) << 13)
	} else {
		f32Bits = (uint32(sign) << 31) | ((uint32(exp-15+127) & 0xFF) << 23) | (uint32(mant) << 13)
	}

	return math.Float32frombits(f32Bits)
}
