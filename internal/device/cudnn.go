//go:build linux && cuda

package device

/*
#cgo LDFLAGS: -lcudnn -lcudart -lcuda -L/usr/local/cuda/lib64
#cgo CFLAGS: -I/usr/local/cuda/include
#include <cuda_runtime.h>
#include <cudnn.h>
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// CUDNNBackend drives the native cuDNN descriptor and transform API. The
// blend-copy is cudnnTransformTensor, which honors strides on both sides,
// so packing is opt-in on this family.
type CUDNNBackend struct {
	handle C.cudnnHandle_t
	mu     sync.Mutex
}

// NewBackend returns the backend family selected at build time.
func NewBackend() (*CUDNNBackend, error) {
	return NewCUDNNBackend()
}

// NewStack returns the build-selected backend with a matching allocator.
func NewStack() (Backend, Allocator, error) {
	b, err := NewCUDNNBackend()
	if err != nil {
		return nil, nil, err
	}
	return b, NewStreamAllocator(), nil
}

func NewCUDNNBackend() (*CUDNNBackend, error) {
	var h C.cudnnHandle_t
	if err := cudnnErr("cudnnCreate", C.cudnnCreate(&h)); err != nil {
		return nil, err
	}
	return &CUDNNBackend{handle: h}, nil
}

func (b *CUDNNBackend) Close() error {
	if b.handle == nil {
		return nil
	}
	err := cudnnErr("cudnnDestroy", C.cudnnDestroy(b.handle))
	b.handle = nil
	return err
}

func cudnnErr(op string, st C.cudnnStatus_t) error {
	if st == C.CUDNN_STATUS_SUCCESS {
		return nil
	}
	return &BackendError{Op: op, Status: int(st), Msg: C.GoString(C.cudnnGetErrorString(st))}
}

func cudaErr(op string, st C.cudaError_t) error {
	if st == C.cudaSuccess {
		return nil
	}
	return &BackendError{Op: op, Status: int(st), Msg: C.GoString(C.cudaGetErrorString(st))}
}

func cdesc(d Descriptor) C.cudnnTensorDescriptor_t {
	return C.cudnnTensorDescriptor_t(unsafe.Pointer(uintptr(d)))
}

func cstream(s Stream) C.cudaStream_t {
	return C.cudaStream_t(unsafe.Pointer(uintptr(s)))
}

func toCudnnType(dt DataType) (C.cudnnDataType_t, error) {
	switch dt {
	case Float16:
		return C.CUDNN_DATA_HALF, nil
	case Float32:
		return C.CUDNN_DATA_FLOAT, nil
	case Float64:
		return C.CUDNN_DATA_DOUBLE, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedDataType, dt)
}

func fromCudnnType(dt C.cudnnDataType_t) (DataType, error) {
	switch dt {
	case C.CUDNN_DATA_HALF:
		return Float16, nil
	case C.CUDNN_DATA_FLOAT:
		return Float32, nil
	case C.CUDNN_DATA_DOUBLE:
		return Float64, nil
	}
	return 0, fmt.Errorf("%w: cudnn data type %d", ErrUnsupportedDataType, int(dt))
}

func (b *CUDNNBackend) CreateDescriptor() (Descriptor, error) {
	var d C.cudnnTensorDescriptor_t
	if err := cudnnErr("cudnnCreateTensorDescriptor", C.cudnnCreateTensorDescriptor(&d)); err != nil {
		return 0, err
	}
	return Descriptor(uintptr(unsafe.Pointer(d))), nil
}

func (b *CUDNNBackend) DestroyDescriptor(d Descriptor) error {
	return cudnnErr("cudnnDestroyTensorDescriptor", C.cudnnDestroyTensorDescriptor(cdesc(d)))
}

func (b *CUDNNBackend) GetLayout(d Descriptor) (TensorLayout, error) {
	var cdt C.cudnnDataType_t
	var nb C.int
	dims := make([]C.int, C.CUDNN_DIM_MAX)
	strides := make([]C.int, C.CUDNN_DIM_MAX)
	if err := cudnnErr("cudnnGetTensorNdDescriptor",
		C.cudnnGetTensorNdDescriptor(cdesc(d), C.CUDNN_DIM_MAX, &cdt, &nb, &dims[0], &strides[0])); err != nil {
		return TensorLayout{}, err
	}
	dt, err := fromCudnnType(cdt)
	if err != nil {
		return TensorLayout{}, err
	}
	l := TensorLayout{
		DataType: dt,
		Dims:     make([]int, int(nb)),
		Strides:  make([]int, int(nb)),
	}
	for i := 0; i < int(nb); i++ {
		l.Dims[i] = int(dims[i])
		l.Strides[i] = int(strides[i])
	}
	return l, nil
}

func (b *CUDNNBackend) SetLayout(d Descriptor, l TensorLayout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	cdt, err := toCudnnType(l.DataType)
	if err != nil {
		return err
	}
	n := l.NDims()
	dims := make([]C.int, n)
	strides := make([]C.int, n)
	for i := 0; i < n; i++ {
		dims[i] = C.int(l.Dims[i])
		strides[i] = C.int(l.Strides[i])
	}
	return cudnnErr("cudnnSetTensorNdDescriptor",
		C.cudnnSetTensorNdDescriptor(cdesc(d), cdt, C.int(n), &dims[0], &strides[0]))
}

func (b *CUDNNBackend) GetDataType(d Descriptor) (DataType, error) {
	var cdt C.cudnnDataType_t
	var nb C.int
	var dim, stride C.int
	if err := cudnnErr("cudnnGetTensorNdDescriptor",
		C.cudnnGetTensorNdDescriptor(cdesc(d), 1, &cdt, &nb, &dim, &stride)); err != nil {
		return 0, err
	}
	return fromCudnnType(cdt)
}

func (b *CUDNNBackend) Supports(dt DataType) bool {
	switch dt {
	case Float16, Float32, Float64:
		return true
	}
	return false
}

func (b *CUDNNBackend) RequiresPacked() bool {
	return false
}

func (b *CUDNNBackend) Transform(stream Stream, alpha HostScalar, srcDesc Descriptor, src Buffer,
	beta HostScalar, dstDesc Descriptor, dst Buffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := cudnnErr("cudnnSetStream", C.cudnnSetStream(b.handle, cstream(stream))); err != nil {
		return err
	}
	return cudnnErr("cudnnTransformTensor",
		C.cudnnTransformTensor(b.handle,
			alpha.Pointer(),
			cdesc(srcDesc), unsafe.Pointer(uintptr(src)),
			beta.Pointer(),
			cdesc(dstDesc), unsafe.Pointer(uintptr(dst))))
}

// StreamAllocator allocates through the CUDA stream-ordered pool
// allocator. cudaFreeAsync defers physical reuse until prior work on the
// recorded stream completes, which is exactly the contract Allocator
// demands.
type StreamAllocator struct {
	mu      sync.Mutex
	streams map[Buffer]Stream
	sizes   map[Buffer]int
}

func NewStreamAllocator() *StreamAllocator {
	return &StreamAllocator{
		streams: make(map[Buffer]Stream),
		sizes:   make(map[Buffer]int),
	}
}

func (a *StreamAllocator) Alloc(stream Stream, n int) (Buffer, error) {
	if n <= 0 {
		return 0, fmt.Errorf("device: invalid allocation size %d", n)
	}
	var p unsafe.Pointer
	if err := cudaErr("cudaMallocAsync", C.cudaMallocAsync(&p, C.size_t(n), cstream(stream))); err != nil {
		return 0, err
	}
	buf := Buffer(uintptr(p))
	a.mu.Lock()
	a.streams[buf] = stream
	a.sizes[buf] = n
	a.mu.Unlock()
	metrics.RecordDeviceMemory(int64(n))
	return buf, nil
}

func (a *StreamAllocator) Free(buf Buffer) error {
	if buf == 0 {
		return nil
	}
	a.mu.Lock()
	stream, ok := a.streams[buf]
	n := a.sizes[buf]
	delete(a.streams, buf)
	delete(a.sizes, buf)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("device: free of unknown buffer %#x", uintptr(buf))
	}
	if err := cudaErr("cudaFreeAsync", C.cudaFreeAsync(unsafe.Pointer(uintptr(buf)), cstream(stream))); err != nil {
		return err
	}
	metrics.RecordDeviceMemory(-int64(n))
	return nil
}
