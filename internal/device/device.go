package device

import (
	"errors"
	"fmt"
)

// Stream identifies a device command queue. Work submitted to one stream
// executes in submission order; ordering across streams is the caller's
// problem. The zero value is the default stream.
type Stream uintptr

// Buffer is an opaque handle to a device allocation. The zero value means
// no buffer. Two Buffers compare equal iff they refer to the same
// allocation, which is how the proxies detect aliasing.
type Buffer uintptr

// Descriptor is an opaque handle to a backend tensor descriptor.
type Descriptor uintptr

// ErrUnsupportedDataType is returned for element types outside the active
// backend's supported set.
var ErrUnsupportedDataType = errors.New("unsupported data type")

// BackendError wraps a failed native backend or allocator call. These are
// not recoverable at this layer: no retry, no degradation. Callers either
// fail the enclosing operation or abort.
type BackendError struct {
	Op     string
	Status int
	Msg    string
}

func (e *BackendError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("device: %s failed: %s (status %d)", e.Op, e.Msg, e.Status)
	}
	return fmt.Sprintf("device: %s failed with status %d", e.Op, e.Status)
}

// Backend is the native tensor interface the packing proxies are written
// against. There is one implementation per backend family, selected at
// build time; see cpu.go and cudnn.go.
type Backend interface {
	CreateDescriptor() (Descriptor, error)
	DestroyDescriptor(Descriptor) error
	GetLayout(Descriptor) (TensorLayout, error)
	SetLayout(Descriptor, TensorLayout) error
	GetDataType(Descriptor) (DataType, error)

	// Transform computes dst = alpha*src + beta*dst, honoring each side's
	// strides. Source and destination must agree on dims and data type.
	Transform(stream Stream, alpha HostScalar, srcDesc Descriptor, src Buffer,
		beta HostScalar, dstDesc Descriptor, dst Buffer) error

	// Supports reports whether the backend handles the element type at all.
	Supports(DataType) bool

	// RequiresPacked reports whether the backend is known to mis-handle
	// strided tensors, which makes packing the platform default.
	RequiresPacked() bool
}

// Allocator hands out device buffers ordered against a stream: reuse of a
// freed buffer must not be observable before prior work on its stream has
// completed. Implementations are safe for concurrent use.
//
// A Free error means the device allocator itself is in a bad state.
// Treat it as fatal to the computation; there is no local recovery.
type Allocator interface {
	Alloc(stream Stream, n int) (Buffer, error)
	Free(Buffer) error
}
