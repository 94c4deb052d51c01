package device

import (
	"fmt"
	"sync"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// RawAllocator is the device malloc/free underneath the cache. RawFree is
// responsible for any stream-ordering the device needs; the host
// implementation completes work synchronously so there is nothing to
// defer.
type RawAllocator interface {
	RawAlloc(n int) (Buffer, error)
	RawFree(Buffer) error
}

type cacheEntry struct {
	buf    Buffer
	stream Stream
}

// CachingAllocator keeps freed buffers on per-size free lists instead of
// returning them to the device, like the caching pool the engine uses for
// activation tensors. Entries remember the stream they were last used on;
// same-stream reuse is always ordered, and cross-stream reuse relies on
// the raw allocator's synchronous completion.
//
// Safe for concurrent use.
type CachingAllocator struct {
	raw RawAllocator

	mu    sync.Mutex
	free  map[int][]cacheEntry
	sizes map[Buffer]int
}

func NewCachingAllocator(raw RawAllocator) *CachingAllocator {
	return &CachingAllocator{
		raw:   raw,
		free:  make(map[int][]cacheEntry),
		sizes: make(map[Buffer]int),
	}
}

func (a *CachingAllocator) Alloc(stream Stream, n int) (Buffer, error) {
	if n <= 0 {
		return 0, fmt.Errorf("device: invalid allocation size %d", n)
	}

	a.mu.Lock()
	if entries := a.free[n]; len(entries) > 0 {
		// Prefer an entry freed on the same stream.
		pick := len(entries) - 1
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].stream == stream {
				pick = i
				break
			}
		}
		buf := entries[pick].buf
		a.free[n] = append(entries[:pick], entries[pick+1:]...)
		a.sizes[buf] = n
		a.mu.Unlock()
		metrics.AllocCacheHits.Inc()
		return buf, nil
	}
	a.mu.Unlock()

	metrics.AllocCacheMisses.Inc()
	buf, err := a.raw.RawAlloc(n)
	if err != nil {
		return 0, err
	}
	metrics.RecordDeviceMemory(int64(n))

	a.mu.Lock()
	a.sizes[buf] = n
	a.mu.Unlock()
	return buf, nil
}

func (a *CachingAllocator) Free(buf Buffer) error {
	if buf == 0 {
		return nil
	}
	a.mu.Lock()
	n, ok := a.sizes[buf]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("device: free of unknown buffer %#x", uintptr(buf))
	}
	delete(a.sizes, buf)
	a.free[n] = append(a.free[n], cacheEntry{buf: buf})
	a.mu.Unlock()
	return nil
}

// FreeOn is Free with the stream the buffer was last used on, so a later
// same-stream Alloc can reuse it without any ordering concern.
func (a *CachingAllocator) FreeOn(stream Stream, buf Buffer) error {
	if buf == 0 {
		return nil
	}
	a.mu.Lock()
	n, ok := a.sizes[buf]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("device: free of unknown buffer %#x", uintptr(buf))
	}
	delete(a.sizes, buf)
	a.free[n] = append(a.free[n], cacheEntry{buf: buf, stream: stream})
	a.mu.Unlock()
	return nil
}

// Trim returns every cached buffer to the raw allocator. The first raw
// free error aborts the sweep; remaining entries stay cached.
func (a *CachingAllocator) Trim() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for n, entries := range a.free {
		for len(entries) > 0 {
			e := entries[len(entries)-1]
			if err := a.raw.RawFree(e.buf); err != nil {
				a.free[n] = entries
				return err
			}
			metrics.RecordDeviceMemory(-int64(n))
			entries = entries[:len(entries)-1]
		}
		delete(a.free, n)
	}
	return nil
}

// CachedBytes reports how many bytes sit on the free lists.
func (a *CachingAllocator) CachedBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for n, entries := range a.free {
		total += int64(n) * int64(len(entries))
	}
	return total
}
