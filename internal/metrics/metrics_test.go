package metrics

import (
	"testing"
	"time"
)

func TestRecordDeviceMemory(t *testing.T) {
	before := DeviceBytes()
	RecordDeviceMemory(4096)
	if got := DeviceBytes(); got != before+4096 {
		t.Fatalf("DeviceBytes = %d, want %d", got, before+4096)
	}
	RecordDeviceMemory(-4096)
	if got := DeviceBytes(); got != before {
		t.Fatalf("DeviceBytes after free = %d, want %d", got, before)
	}
}

func TestRecordPackCopy(t *testing.T) {
	// Verify the labeled metrics accept both directions without panicking.
	RecordPackCopy("in", 2*time.Millisecond)
	RecordPackCopy("out", 5*time.Millisecond)
	RecordPackCopy("out", 7*time.Millisecond)
}

func TestCountersExist(t *testing.T) {
	PackAllocations.Inc()
	WritebackSkipped.Inc()
	AllocCacheHits.Inc()
	AllocCacheMisses.Inc()
}
