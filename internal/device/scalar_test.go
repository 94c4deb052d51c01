package device

import (
	"errors"
	"math"
	"testing"
)

func TestNewHostScalarNarrowing(t *testing.T) {
	// f16 and f32 tensors take a float32 scalar; f64 keeps the double.
	s, err := NewHostScalar(Float16, 0.5)
	if err != nil {
		t.Fatalf("NewHostScalar(f16): %v", err)
	}
	if s.Value() != 0.5 {
		t.Fatalf("Value = %v, want 0.5", s.Value())
	}

	// A value that does not survive the float32 round trip shows the
	// narrowing happened.
	v := 1.0000000001
	s, err = NewHostScalar(Float32, v)
	if err != nil {
		t.Fatalf("NewHostScalar(f32): %v", err)
	}
	if s.Value() != float64(float32(v)) {
		t.Fatalf("f32 scalar not narrowed: %v", s.Value())
	}

	s, err = NewHostScalar(Float64, v)
	if err != nil {
		t.Fatalf("NewHostScalar(f64): %v", err)
	}
	if s.Value() != v {
		t.Fatalf("f64 scalar narrowed: %v", s.Value())
	}
}

func TestNewHostScalarUnsupported(t *testing.T) {
	_, err := NewHostScalar(DataType(42), 1.0)
	if !errors.Is(err, ErrUnsupportedDataType) {
		t.Fatalf("expected ErrUnsupportedDataType, got %v", err)
	}
}

func TestHostScalarPointer(t *testing.T) {
	s32, _ := NewHostScalar(Float32, 2.5)
	p := s32.Pointer()
	if p == nil {
		t.Fatal("nil pointer")
	}
	if got := *(*float32)(p); got != 2.5 {
		t.Fatalf("f32 pointee = %v, want 2.5", got)
	}

	s64, _ := NewHostScalar(Float64, math.Pi)
	if got := *(*float64)(s64.Pointer()); got != math.Pi {
		t.Fatalf("f64 pointee = %v, want pi", got)
	}
}

func TestHostScalarIsZero(t *testing.T) {
	z, _ := NewHostScalar(Float32, 0)
	if !z.IsZero() {
		t.Fatal("expected zero")
	}
	nz, _ := NewHostScalar(Float64, -1)
	if nz.IsZero() {
		t.Fatal("expected non-zero")
	}
}
