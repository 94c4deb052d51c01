package device

import (
	"fmt"
	"unsafe"
)

// HostScalar carries an alpha/beta blend factor for Transform in the
// representation the backend expects for the tensor's element type:
// float32 for f16/f32 tensors, float64 for f64 tensors. The backend reads
// it through Pointer, typed by the tensor, not by this call's argument.
type HostScalar struct {
	dt  DataType
	f32 float32
	f64 float64
}

// NewHostScalar narrows v to the representation matching dt.
func NewHostScalar(dt DataType, v float64) (HostScalar, error) {
	switch dt {
	case Float16, Float32:
		return HostScalar{dt: dt, f32: float32(v)}, nil
	case Float64:
		return HostScalar{dt: dt, f64: v}, nil
	}
	return HostScalar{}, fmt.Errorf("%w: %s (host scalar)", ErrUnsupportedDataType, dt)
}

// Value widens the stored representation back to float64.
func (s HostScalar) Value() float64 {
	if s.dt == Float64 {
		return s.f64
	}
	return float64(s.f32)
}

func (s HostScalar) IsZero() bool {
	return s.Value() == 0
}

// Pointer returns a type-erased pointer to the stored representation,
// suitable for passing to a native blend-copy call. The pointee is a
// float when the scalar was built for f16/f32 and a double for f64.
func (s *HostScalar) Pointer() unsafe.Pointer {
	if s.dt == Float64 {
		return unsafe.Pointer(&s.f64)
	}
	return unsafe.Pointer(&s.f32)
}
