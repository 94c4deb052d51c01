package device

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// PackContext bundles what the packing proxies need to talk to one device
// on one stream. A context is cheap and may be shared across proxies;
// cross-stream ordering stays the caller's responsibility.
type PackContext struct {
	Backend Backend
	Alloc   Allocator
	Stream  Stream
	Policy  *config.PackPolicy
}

// NewPackContext builds a context. A nil policy gets the process-wide
// default seeded from the backend's platform behavior.
func NewPackContext(b Backend, alloc Allocator, stream Stream, pol *config.PackPolicy) *PackContext {
	if pol == nil {
		pol = config.NewPackPolicy(b.RequiresPacked())
	}
	return &PackContext{Backend: b, Alloc: alloc, Stream: stream, Policy: pol}
}

func (pc *PackContext) free(buf Buffer) error {
	if ca, ok := pc.Alloc.(*CachingAllocator); ok {
		return ca.FreeOn(pc.Stream, buf)
	}
	return pc.Alloc.Free(buf)
}

// PackedDescriptor returns desc itself when its layout is already fully
// packed, otherwise a fresh descriptor carrying the same dims with packed
// strides. The bool reports whether the caller owns the returned
// descriptor and must destroy it.
func PackedDescriptor(b Backend, desc Descriptor) (Descriptor, bool, error) {
	l, err := b.GetLayout(desc)
	if err != nil {
		return 0, false, err
	}
	if !b.Supports(l.DataType) {
		return 0, false, fmt.Errorf("%w: %s", ErrUnsupportedDataType, l.DataType)
	}
	if l.IsPacked() {
		return desc, false, nil
	}
	pd, err := b.CreateDescriptor()
	if err != nil {
		return 0, false, err
	}
	if err := b.SetLayout(pd, l.Packed()); err != nil {
		b.DestroyDescriptor(pd)
		return 0, false, err
	}
	return pd, true, nil
}

// ReadProxy presents a packed, read-only view of a tensor for the
// duration of a scope. When the source is already packed, or packing is
// off, the proxy aliases the source: same descriptor, same buffer, and
// Close touches nothing. Otherwise it owns a packed scratch buffer that
// Close returns to the allocator.
//
// Not safe for concurrent use; one proxy belongs to one scope.
type ReadProxy struct {
	pc           *PackContext
	unpackedDesc Descriptor
	packedDesc   Descriptor
	unpackedBuf  Buffer
	packedBuf    Buffer
	closed       bool
}

// NewReadProxyDesc is the descriptor-only variant: it never allocates or
// copies, callers just want a packed descriptor for negotiation.
func NewReadProxyDesc(pc *PackContext, desc Descriptor, mode config.PackMode) (*ReadProxy, error) {
	p := &ReadProxy{pc: pc, unpackedDesc: desc, packedDesc: desc}
	if pc.Policy.ShouldPack(mode) {
		pd, _, err := PackedDescriptor(pc.Backend, desc)
		if err != nil {
			return nil, err
		}
		p.packedDesc = pd
	}
	return p, nil
}

// NewReadProxy materializes a packed copy of the source when needed. A
// read view must reflect current source contents, so the copy-in is
// unconditional in the owned case.
func NewReadProxy(pc *PackContext, desc Descriptor, data Buffer, mode config.PackMode) (*ReadProxy, error) {
	p, err := NewReadProxyDesc(pc, desc, mode)
	if err != nil {
		return nil, err
	}
	p.unpackedBuf = data

	if p.packedDesc == p.unpackedDesc {
		p.packedBuf = data
		return p, nil
	}

	l, err := pc.Backend.GetLayout(p.packedDesc)
	if err != nil {
		p.dropDesc()
		return nil, err
	}
	size, err := l.MemorySize()
	if err != nil {
		p.dropDesc()
		return nil, err
	}
	buf, err := pc.Alloc.Alloc(pc.Stream, size)
	if err != nil {
		p.dropDesc()
		return nil, err
	}
	metrics.PackAllocations.Inc()

	alpha, err := NewHostScalar(l.DataType, 1)
	if err != nil {
		pc.free(buf)
		p.dropDesc()
		return nil, err
	}
	beta, _ := NewHostScalar(l.DataType, 0)

	start := time.Now()
	if err := pc.Backend.Transform(pc.Stream, alpha, desc, data, beta, p.packedDesc, buf); err != nil {
		// Copy-in failed after the allocation: release before surfacing.
		pc.free(buf)
		p.dropDesc()
		return nil, err
	}
	metrics.RecordPackCopy("in", time.Since(start))

	p.packedBuf = buf
	logger.Log.Debug("read proxy packed", "dims", l.Dims, "bytes", size, "dtype", l.DataType.String())
	return p, nil
}

// Desc returns the packed descriptor to hand to backend calls.
func (p *ReadProxy) Desc() Descriptor { return p.packedDesc }

// Data returns the packed buffer. In the aliased case this is the source
// buffer itself.
func (p *ReadProxy) Data() Buffer { return p.packedBuf }

func (p *ReadProxy) dropDesc() {
	if p.packedDesc != p.unpackedDesc {
		p.pc.Backend.DestroyDescriptor(p.packedDesc)
		p.packedDesc = p.unpackedDesc
	}
}

// Close releases the packed scratch buffer and descriptor if the proxy
// owns them. A Free error means the device allocator is in a bad state;
// treat it as fatal. Close is idempotent.
func (p *ReadProxy) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	if p.packedBuf != 0 && p.packedBuf != p.unpackedBuf {
		if err := p.pc.free(p.packedBuf); err != nil {
			firstErr = err
		}
		p.packedBuf = 0
	}
	if p.packedDesc != p.unpackedDesc {
		if err := p.pc.Backend.DestroyDescriptor(p.packedDesc); err != nil && firstErr == nil {
			firstErr = err
		}
		p.packedDesc = p.unpackedDesc
	}
	return firstErr
}

// WriteProxy presents a packed, writable view of a tensor. On a normal
// scope exit, Finish copies the packed contents back into the original
// strided buffer; on a failing scope exit the write-back must be skipped,
// which CloseWith handles.
//
// Not safe for concurrent use; one proxy belongs to one scope.
type WriteProxy struct {
	pc           *PackContext
	unpackedDesc Descriptor
	packedDesc   Descriptor
	unpackedBuf  Buffer
	packedBuf    Buffer
	dt           DataType
	closed       bool
}

// NewWriteProxyDesc is the descriptor-only variant; no buffer work.
func NewWriteProxyDesc(pc *PackContext, desc Descriptor, mode config.PackMode) (*WriteProxy, error) {
	p := &WriteProxy{pc: pc, unpackedDesc: desc, packedDesc: desc}
	if pc.Policy.ShouldPack(mode) {
		pd, _, err := PackedDescriptor(pc.Backend, desc)
		if err != nil {
			return nil, err
		}
		p.packedDesc = pd
	}
	return p, nil
}

// NewWriteProxy materializes a packed scratch buffer when needed.
// accumWeight is the scale the caller will use for its accumulating
// write: when non-zero, the scratch buffer is seeded with the current
// unpacked contents so the accumulation reads meaningful values; when
// zero, the following operation overwrites everything and seeding is
// skipped.
func NewWriteProxy(pc *PackContext, desc Descriptor, data Buffer, accumWeight float64, mode config.PackMode) (*WriteProxy, error) {
	p, err := NewWriteProxyDesc(pc, desc, mode)
	if err != nil {
		return nil, err
	}
	p.unpackedBuf = data

	if p.packedDesc == p.unpackedDesc {
		p.packedBuf = data
		return p, nil
	}

	l, err := pc.Backend.GetLayout(p.packedDesc)
	if err != nil {
		p.dropDesc()
		return nil, err
	}
	size, err := l.MemorySize()
	if err != nil {
		p.dropDesc()
		return nil, err
	}
	buf, err := pc.Alloc.Alloc(pc.Stream, size)
	if err != nil {
		p.dropDesc()
		return nil, err
	}
	metrics.PackAllocations.Inc()
	p.dt = l.DataType

	if accumWeight != 0 {
		alpha, err := NewHostScalar(l.DataType, 1)
		if err != nil {
			pc.free(buf)
			p.dropDesc()
			return nil, err
		}
		beta, _ := NewHostScalar(l.DataType, 0)
		start := time.Now()
		if err := pc.Backend.Transform(pc.Stream, alpha, desc, data, beta, p.packedDesc, buf); err != nil {
			pc.free(buf)
			p.dropDesc()
			return nil, err
		}
		metrics.RecordPackCopy("in", time.Since(start))
	}

	p.packedBuf = buf
	logger.Log.Debug("write proxy packed", "dims", l.Dims, "bytes", size,
		"dtype", l.DataType.String(), "seeded", accumWeight != 0)
	return p, nil
}

// Desc returns the packed descriptor to hand to backend calls.
func (p *WriteProxy) Desc() Descriptor { return p.packedDesc }

// Data returns the packed buffer. In the aliased case this is the source
// buffer itself.
func (p *WriteProxy) Data() Buffer { return p.packedBuf }

func (p *WriteProxy) dropDesc() {
	if p.packedDesc != p.unpackedDesc {
		p.pc.Backend.DestroyDescriptor(p.packedDesc)
		p.packedDesc = p.unpackedDesc
	}
}

// Finish enqueues the write-back of the packed contents into the original
// strided buffer, then releases the proxy's resources. The release runs
// whether or not the write-back fails; a write-back error takes
// precedence in the return. After a write-back error the written region
// of the original tensor is indeterminate and the enclosing computation
// should be treated as failed.
func (p *WriteProxy) Finish() error {
	if p.closed {
		return nil
	}

	var wbErr error
	if p.packedBuf != 0 && p.packedBuf != p.unpackedBuf {
		alpha, err := NewHostScalar(p.dt, 1)
		if err != nil {
			wbErr = err
		} else {
			beta, _ := NewHostScalar(p.dt, 0)
			start := time.Now()
			wbErr = p.pc.Backend.Transform(p.pc.Stream, alpha, p.packedDesc, p.packedBuf,
				beta, p.unpackedDesc, p.unpackedBuf)
			if wbErr == nil {
				metrics.RecordPackCopy("out", time.Since(start))
			}
		}
	}

	relErr := p.release()
	if wbErr != nil {
		return wbErr
	}
	return relErr
}

// Abandon releases the proxy's resources without writing back. Pending
// writes to the packed buffer are dropped.
func (p *WriteProxy) Abandon() error {
	if p.closed {
		return nil
	}
	if p.packedBuf != 0 && p.packedBuf != p.unpackedBuf {
		metrics.WritebackSkipped.Inc()
		logger.Log.Warn("write-back skipped, packed writes dropped")
	}
	return p.release()
}

func (p *WriteProxy) release() error {
	p.closed = true
	var firstErr error
	if p.packedBuf != 0 && p.packedBuf != p.unpackedBuf {
		if err := p.pc.free(p.packedBuf); err != nil {
			firstErr = err
		}
		p.packedBuf = 0
	}
	if p.packedDesc != p.unpackedDesc {
		if err := p.pc.Backend.DestroyDescriptor(p.packedDesc); err != nil && firstErr == nil {
			firstErr = err
		}
		p.packedDesc = p.unpackedDesc
	}
	return firstErr
}

// CloseWith is the scope-exit hook:
//
//	wp, err := device.NewWriteProxy(...)
//	if err != nil { return err }
//	defer wp.CloseWith(&err)
//
// If *errp is nil the scope exited cleanly: the write-back runs and its
// error, if any, lands in *errp. If *errp is already non-nil the scope is
// unwinding from an earlier failure and the write-back is skipped
// unconditionally; performing a second fallible operation there could
// mask the original failure, so dropping the writes is the accepted
// trade-off. Note the check only sees what *errp holds: a pre-existing
// unrelated error stored there suppresses the write-back just the same.
func (p *WriteProxy) CloseWith(errp *error) {
	if *errp == nil {
		*errp = p.Finish()
		return
	}
	if err := p.Abandon(); err != nil {
		logger.Log.Error("release failed while unwinding", "error", err)
	}
}
