// Package capacity derives a substream admission bound from the container
// memory limit and rate-limits new substream acceptance so a connection
// storm cannot starve the dispatcher.
package capacity

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// MemoryLimit returns the container memory limit in bytes, supporting both
// cgroup v1 and v2. A zero return means no limit was detected.
func MemoryLimit() int64 {
	// cgroup v2 first (newer systems, most managed container runtimes)
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			if n, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
				return n
			}
		}
	}

	// cgroup v1 fallback
	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			return n
		}
	}

	return 0
}

// MaxSubstreams determines a safe concurrent-substream bound for the given
// memory limit. Each substream costs roughly one goroutine pair, its frame
// buffers, and (for subscriptions) a bounded delivery queue.
func MaxSubstreams(memoryLimitBytes int64) int {
	if memoryLimitBytes == 0 {
		return 10000
	}

	// Reserve headroom for the runtime and the storage backend's own caches.
	const runtimeOverheadBytes = 128 * 1024 * 1024
	// Queue of 128 responses plus goroutine stacks and frame buffers.
	const bytesPerSubstream = 96 * 1024

	availableBytes := memoryLimitBytes - runtimeOverheadBytes
	if availableBytes < 0 {
		availableBytes = memoryLimitBytes / 2
	}

	maxStreams := int(availableBytes / bytesPerSubstream)
	if maxStreams < 100 {
		maxStreams = 100
	}
	if maxStreams > 100000 {
		maxStreams = 100000
	}
	return maxStreams
}

// Limiter gates substream admission: a hard concurrency cap plus an
// optional accept-rate limit.
type Limiter struct {
	max     int64
	current atomic.Int64
	rate    *rate.Limiter
}

// NewLimiter builds a Limiter. maxStreams <= 0 derives the cap from the
// detected memory limit; acceptPerSec <= 0 disables rate limiting.
func NewLimiter(maxStreams int, acceptPerSec float64) *Limiter {
	if maxStreams <= 0 {
		maxStreams = MaxSubstreams(MemoryLimit())
	}
	l := &Limiter{max: int64(maxStreams)}
	if acceptPerSec > 0 {
		l.rate = rate.NewLimiter(rate.Limit(acceptPerSec), int(acceptPerSec)+1)
	}
	return l
}

// Acquire reports whether a new substream may be admitted, reserving a slot
// when it is. Callers must Release the slot when the substream ends.
func (l *Limiter) Acquire() bool {
	if l.rate != nil && !l.rate.Allow() {
		return false
	}
	if l.current.Add(1) > l.max {
		l.current.Add(-1)
		return false
	}
	return true
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.current.Add(-1)
}

// Current reports the number of admitted substreams.
func (l *Limiter) Current() int64 {
	return l.current.Load()
}
