package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deviceBytes atomic.Int64

var (
	DeviceMemoryAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_memory_allocated_bytes",
		Help: "Current bytes allocated on the device",
	})

	PackAllocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pack_allocations_total",
		Help: "Total packed scratch buffers allocated by the proxies",
	})

	PackCopies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pack_copies_total",
		Help: "Total pack/unpack copies issued, by direction",
	}, []string{"direction"})

	PackCopyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pack_copy_duration_seconds",
		Help:    "Histogram of pack/unpack copy submission times",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	WritebackSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pack_writeback_skipped_total",
		Help: "Write-backs dropped because the scope was already failing",
	})

	AllocCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alloc_cache_hits_total",
		Help: "Allocations served from the caching allocator free list",
	})

	AllocCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alloc_cache_misses_total",
		Help: "Allocations that fell through to the raw device allocator",
	})
)

// RecordDeviceMemory adds delta to the device byte accounting and updates
// the gauge with the new total.
func RecordDeviceMemory(delta int64) {
	DeviceMemoryAllocated.Set(float64(deviceBytes.Add(delta)))
}

// DeviceBytes returns the current device byte accounting.
func DeviceBytes() int64 {
	return deviceBytes.Load()
}

// RecordPackCopy records one pack or unpack copy. Direction is "in" for
// unpacked->packed and "out" for the write-back.
func RecordPackCopy(direction string, d time.Duration) {
	PackCopies.WithLabelValues(direction).Inc()
	PackCopyDuration.WithLabelValues(direction).Observe(d.Seconds())
}
