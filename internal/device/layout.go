package device

import (
	"fmt"
)

// DataType identifies the element type of a device tensor.
type DataType int

const (
	Float16 DataType = iota
	Float32
	Float64
)

func (dt DataType) String() string {
	switch dt {
	case Float16:
		return "f16"
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	}
	return fmt.Sprintf("DataType(%d)", int(dt))
}

// ElementSize returns the size of one element in bytes.
func ElementSize(dt DataType) (int, error) {
	switch dt {
	case Float16:
		return 2, nil
	case Float32:
		return 4, nil
	case Float64:
		return 8, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedDataType, dt)
}

// TensorLayout is the value form of a tensor descriptor: element type plus
// per-axis dims and strides, dims[0] being the slowest-varying axis.
// Layouts are never edited in place; repacking produces a new one.
type TensorLayout struct {
	DataType DataType
	Dims     []int
	Strides  []int
}

func (l TensorLayout) NDims() int {
	return len(l.Dims)
}

func (l TensorLayout) NumElements() int {
	n := 1
	for _, d := range l.Dims {
		n *= d
	}
	return n
}

func (l TensorLayout) Validate() error {
	if len(l.Dims) == 0 {
		return fmt.Errorf("invalid layout: no dimensions")
	}
	if len(l.Dims) != len(l.Strides) {
		return fmt.Errorf("invalid layout: %d dims vs %d strides", len(l.Dims), len(l.Strides))
	}
	for i, d := range l.Dims {
		if d <= 0 {
			return fmt.Errorf("invalid dim[%d]: %d (must be positive)", i, d)
		}
	}
	for i, s := range l.Strides {
		if s <= 0 {
			return fmt.Errorf("invalid stride[%d]: %d (must be positive)", i, s)
		}
	}
	return nil
}

// IsPacked reports whether the layout is fully row-major contiguous.
// Overlapping strides are excluded by convention, so this reduces to
// strides[0] == prod(dims[1:]). 0-d and 1-d tensors are packed (the
// product over an empty range is 1).
func (l TensorLayout) IsPacked() bool {
	if len(l.Strides) == 0 {
		return true
	}
	inner := 1
	for _, d := range l.Dims[1:] {
		inner *= d
	}
	return l.Strides[0] == inner
}

// PackedStrides returns row-major contiguous strides for dims, by a
// backward running product: strides[n-1]=1, strides[i]=strides[i+1]*dims[i+1].
func PackedStrides(dims []int) []int {
	n := len(dims)
	strides := make([]int, n)
	if n == 0 {
		return strides
	}
	strides[n-1] = 1
	for i := n - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * dims[i+1]
	}
	return strides
}

// Packed returns a new layout with the same element type and dims but
// fully packed strides. The receiver is left untouched.
func (l TensorLayout) Packed() TensorLayout {
	dims := make([]int, len(l.Dims))
	copy(dims, l.Dims)
	return TensorLayout{
		DataType: l.DataType,
		Dims:     dims,
		Strides:  PackedStrides(dims),
	}
}

// MemorySize returns the byte span the layout addresses:
// dims[0] * strides[0] * element size.
func (l TensorLayout) MemorySize() (int, error) {
	if err := l.Validate(); err != nil {
		return 0, err
	}
	es, err := ElementSize(l.DataType)
	if err != nil {
		return 0, err
	}
	return l.Dims[0] * l.Strides[0] * es, nil
}

func sameDims(a, b []int) bool {
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
