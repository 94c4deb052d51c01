//go:build !cuda

package device

import (
	"testing"
)

func TestCPUBackendDescriptorLifecycle(t *testing.T) {
	b := NewCPUBackend()

	d, err := b.CreateDescriptor()
	if err != nil {
		t.Fatalf("CreateDescriptor: %v", err)
	}
	l := TensorLayout{DataType: Float16, Dims: []int{2, 5}, Strides: []int{5, 1}}
	if err := b.SetLayout(d, l); err != nil {
		t.Fatalf("SetLayout: %v", err)
	}

	got, err := b.GetLayout(d)
	if err != nil {
		t.Fatalf("GetLayout: %v", err)
	}
	if got.DataType != Float16 || !sameDims(got.Dims, l.Dims) {
		t.Fatalf("GetLayout = %+v, want %+v", got, l)
	}

	dt, err := b.GetDataType(d)
	if err != nil {
		t.Fatalf("GetDataType: %v", err)
	}
	if dt != Float16 {
		t.Fatalf("GetDataType = %s, want f16", dt)
	}

	if err := b.DestroyDescriptor(d); err != nil {
		t.Fatalf("DestroyDescriptor: %v", err)
	}
	if err := b.DestroyDescriptor(d); err == nil {
		t.Fatal("expected error destroying a dead descriptor")
	}
}

func TestCPUTransformShapeMismatch(t *testing.T) {
	b := NewCPUBackend()

	mk := func(l TensorLayout) (Descriptor, Buffer) {
		d, _ := b.CreateDescriptor()
		if err := b.SetLayout(d, l); err != nil {
			t.Fatalf("SetLayout: %v", err)
		}
		size, _ := l.MemorySize()
		buf, _ := b.RawAlloc(size)
		return d, buf
	}

	src, sbuf := mk(TensorLayout{DataType: Float32, Dims: []int{2, 3}, Strides: []int{3, 1}})
	dst, dbuf := mk(TensorLayout{DataType: Float32, Dims: []int{3, 2}, Strides: []int{2, 1}})

	alpha, _ := NewHostScalar(Float32, 1)
	beta, _ := NewHostScalar(Float32, 0)
	if err := b.Transform(0, alpha, src, sbuf, beta, dst, dbuf); err == nil {
		t.Fatal("expected shape mismatch error")
	}

	dst2, dbuf2 := mk(TensorLayout{DataType: Float64, Dims: []int{2, 3}, Strides: []int{3, 1}})
	if err := b.Transform(0, alpha, src, sbuf, beta, dst2, dbuf2); err == nil {
		t.Fatal("expected data type mismatch error")
	}
}

func TestCPUTransformBlend(t *testing.T) {
	b := NewCPUBackend()

	l := TensorLayout{DataType: Float32, Dims: []int{4}, Strides: []int{1}}
	mk := func() (Descriptor, Buffer, []byte) {
		d, _ := b.CreateDescriptor()
		if err := b.SetLayout(d, l); err != nil {
			t.Fatalf("SetLayout: %v", err)
		}
		buf, _ := b.RawAlloc(16)
		data, _ := b.BufferBytes(buf)
		return d, buf, data
	}

	src, sbuf, sdata := mk()
	dst, dbuf, ddata := mk()
	for i := 0; i < 4; i++ {
		StoreElement(sdata, Float32, i, float64(i+1))
		StoreElement(ddata, Float32, i, 10)
	}

	// dst = 2*src + 0.5*dst
	alpha, _ := NewHostScalar(Float32, 2)
	beta, _ := NewHostScalar(Float32, 0.5)
	if err := b.Transform(0, alpha, src, sbuf, beta, dst, dbuf); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	for i := 0; i < 4; i++ {
		want := 2*float64(i+1) + 5
		if got, _ := LoadElement(ddata, Float32, i); got != want {
			t.Fatalf("dst[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestCPUTransformFloat16(t *testing.T) {
	b := NewCPUBackend()

	l := TensorLayout{DataType: Float16, Dims: []int{2, 2}, Strides: []int{4, 1}}
	pl := l.Packed()

	src, _ := b.CreateDescriptor()
	if err := b.SetLayout(src, l); err != nil {
		t.Fatalf("SetLayout: %v", err)
	}
	dst, _ := b.CreateDescriptor()
	if err := b.SetLayout(dst, pl); err != nil {
		t.Fatalf("SetLayout: %v", err)
	}

	ssize, _ := l.MemorySize()
	dsize, _ := pl.MemorySize()
	sbuf, _ := b.RawAlloc(ssize)
	dbuf, _ := b.RawAlloc(dsize)
	sdata, _ := b.BufferBytes(sbuf)
	ddata, _ := b.BufferBytes(dbuf)

	// f16-exact values survive the packing copy bit-for-bit.
	vals := []float64{1, -2, 0.5, 1024}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			StoreElement(sdata, Float16, i*l.Strides[0]+j, vals[2*i+j])
		}
	}

	alpha, _ := NewHostScalar(Float16, 1)
	beta, _ := NewHostScalar(Float16, 0)
	if err := b.Transform(0, alpha, src, sbuf, beta, dst, dbuf); err != nil {
		t.Fatalf("Transform: %v", err)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got, _ := LoadElement(ddata, Float16, i*pl.Strides[0]+j); got != vals[2*i+j] {
				t.Fatalf("dst[%d,%d] = %v, want %v", i, j, got, vals[2*i+j])
			}
		}
	}
}
