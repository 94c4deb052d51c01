//go:build !cuda

package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/x448/float16"
)

// CPUBackend is the reference backend family: descriptors and buffers are
// host-side, and Transform is a strided blend-copy over host memory. It
// doubles as the RawAllocator underneath a CachingAllocator. Streams are
// accepted and ignored; host work completes synchronously.
type CPUBackend struct {
	mu       sync.Mutex
	descs    map[Descriptor]TensorLayout
	nextDesc Descriptor
	bufs     map[Buffer][]byte
	nextBuf  Buffer
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		descs:    make(map[Descriptor]TensorLayout),
		nextDesc: 1,
		bufs:     make(map[Buffer][]byte),
		nextBuf:  1,
	}
}

// NewBackend returns the backend family selected at build time.
func NewBackend() (*CPUBackend, error) {
	return NewCPUBackend(), nil
}

// NewStack returns the build-selected backend with a matching allocator.
func NewStack() (Backend, Allocator, error) {
	b := NewCPUBackend()
	return b, NewCachingAllocator(b), nil
}

func (b *CPUBackend) CreateDescriptor() (Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.nextDesc
	b.nextDesc++
	b.descs[d] = TensorLayout{}
	return d, nil
}

func (b *CPUBackend) DestroyDescriptor(d Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.descs[d]; !ok {
		return &BackendError{Op: "DestroyDescriptor", Msg: "unknown descriptor"}
	}
	delete(b.descs, d)
	return nil
}

func (b *CPUBackend) GetLayout(d Descriptor) (TensorLayout, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.descs[d]
	if !ok {
		return TensorLayout{}, &BackendError{Op: "GetLayout", Msg: "unknown descriptor"}
	}
	return l, nil
}

func (b *CPUBackend) SetLayout(d Descriptor, l TensorLayout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.descs[d]; !ok {
		return &BackendError{Op: "SetLayout", Msg: "unknown descriptor"}
	}
	b.descs[d] = l
	return nil
}

func (b *CPUBackend) GetDataType(d Descriptor) (DataType, error) {
	l, err := b.GetLayout(d)
	if err != nil {
		return 0, err
	}
	return l.DataType, nil
}

func (b *CPUBackend) Supports(dt DataType) bool {
	switch dt {
	case Float16, Float32, Float64:
		return true
	}
	return false
}

func (b *CPUBackend) RequiresPacked() bool {
	// The reference transform honors arbitrary strides.
	return false
}

// RawAlloc hands out an opaque id backed by host memory. Ids, not real
// pointers, so the garbage collector stays in charge of the backing.
func (b *CPUBackend) RawAlloc(n int) (Buffer, error) {
	if n <= 0 {
		return 0, &BackendError{Op: "RawAlloc", Msg: fmt.Sprintf("invalid size %d", n)}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := b.nextBuf
	b.nextBuf++
	b.bufs[buf] = make([]byte, n)
	return buf, nil
}

func (b *CPUBackend) RawFree(buf Buffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.bufs[buf]; !ok {
		return &BackendError{Op: "RawFree", Msg: "unknown buffer"}
	}
	delete(b.bufs, buf)
	return nil
}

// DescriptorCount reports how many descriptors are live, for leak checks.
func (b *CPUBackend) DescriptorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.descs)
}

// BufferBytes exposes the backing memory of a buffer, for loading inputs
// and reading results back.
func (b *CPUBackend) BufferBytes(buf Buffer) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.bufs[buf]
	if !ok {
		return nil, &BackendError{Op: "BufferBytes", Msg: "unknown buffer"}
	}
	return data, nil
}

// Transform computes dst = alpha*src + beta*dst element by element,
// addressing both sides through their own strides.
func (b *CPUBackend) Transform(stream Stream, alpha HostScalar, srcDesc Descriptor, src Buffer,
	beta HostScalar, dstDesc Descriptor, dst Buffer) error {
	_ = stream

	srcL, err := b.GetLayout(srcDesc)
	if err != nil {
		return err
	}
	dstL, err := b.GetLayout(dstDesc)
	if err != nil {
		return err
	}
	if srcL.DataType != dstL.DataType {
		return &BackendError{Op: "Transform",
			Msg: fmt.Sprintf("data type mismatch: %s vs %s", srcL.DataType, dstL.DataType)}
	}
	if !sameDims(srcL.Dims, dstL.Dims) {
		return &BackendError{Op: "Transform",
			Msg: fmt.Sprintf("shape mismatch: %v vs %v", srcL.Dims, dstL.Dims)}
	}

	srcBytes, err := b.BufferBytes(src)
	if err != nil {
		return err
	}
	dstBytes, err := b.BufferBytes(dst)
	if err != nil {
		return err
	}

	a := alpha.Value()
	bt := beta.Value()
	dt := srcL.DataType
	ndims := srcL.NDims()
	idx := make([]int, ndims)
	total := srcL.NumElements()

	for n := 0; n < total; n++ {
		srcOff, dstOff := 0, 0
		for i := 0; i < ndims; i++ {
			srcOff += idx[i] * srcL.Strides[i]
			dstOff += idx[i] * dstL.Strides[i]
		}

		sv, err := LoadElement(srcBytes, dt, srcOff)
		if err != nil {
			return err
		}
		out := a * sv
		if bt != 0 {
			dv, err := LoadElement(dstBytes, dt, dstOff)
			if err != nil {
				return err
			}
			out += bt * dv
		}
		if err := StoreElement(dstBytes, dt, dstOff, out); err != nil {
			return err
		}

		for i := ndims - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < srcL.Dims[i] {
				break
			}
			idx[i] = 0
		}
	}
	return nil
}

// LoadElement reads element i of a little-endian host buffer as float64.
func LoadElement(data []byte, dt DataType, i int) (float64, error) {
	es, err := ElementSize(dt)
	if err != nil {
		return 0, err
	}
	off := i * es
	if off < 0 || off+es > len(data) {
		return 0, &BackendError{Op: "LoadElement", Msg: fmt.Sprintf("element %d out of range", i)}
	}
	switch dt {
	case Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(data[off:])).Float32()), nil
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))), nil
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[off:])), nil
	}
}

// StoreElement writes element i of a little-endian host buffer.
func StoreElement(data []byte, dt DataType, i int, v float64) error {
	es, err := ElementSize(dt)
	if err != nil {
		return err
	}
	off := i * es
	if off < 0 || off+es > len(data) {
		return &BackendError{Op: "StoreElement", Msg: fmt.Sprintf("element %d out of range", i)}
	}
	switch dt {
	case Float16:
		binary.LittleEndian.PutUint16(data[off:], float16.Fromfloat32(float32(v)).Bits())
	case Float32:
		binary.LittleEndian.PutUint32(data[off:], math.Float32bits(float32(v)))
	default:
		binary.LittleEndian.PutUint64(data[off:], math.Float64bits(v))
	}
	return nil
}
