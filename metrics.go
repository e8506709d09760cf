package dproc

import (
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// Metrics tracks dispatch-loop throughput and latency for one endpoint.
// All fields are safe for concurrent use from both dispatch-loop goroutines.
type Metrics struct {
	clock *timecache.TimeCache

	// Frame counters, split by direction and ftype.
	ReqPushed    atomic.Uint64 // REQ frames enqueued to the child
	ReqHandled   atomic.Uint64 // REQ frames popped and handled by the child loop
	RspPushed    atomic.Uint64 // RSP frames enqueued to the parent
	RspDelivered atomic.Uint64 // RSP frames popped and delivered to the RPC runtime
	RegistCount  atomic.Uint64 // REGIST frames processed
	ReleaseCount atomic.Uint64 // RELEASE frames processed

	// Failure counters.
	PushFailures  atomic.Uint64 // Push calls that returned ErrCodeOutOfSHMMem
	PopRetries    atomic.Uint64 // transient Pop allocation failures retried
	ProtocolDrops atomic.Uint64 // records dropped for an unexpected ftype
	NodeOfflines  atomic.Uint64 // synthetic NODE_OFFLINE responses injected

	// Latency tracking for REQ handling, nanoseconds: time from a REQ
	// frame's Pop() return to the child dispatch loop finishing the node
	// handler call (including, on a handler error, enqueuing the
	// synthesized RSP), recorded by childDispatchLoop via RecordLatency.
	TotalLatencyNs atomic.Uint64
	LatencyCount   atomic.Uint64

	StartTime atomic.Int64 // endpoint start timestamp, UnixNano
	StopTime  atomic.Int64 // endpoint stop timestamp, UnixNano (0 if still running)
}

// NewMetrics creates a Metrics instance with its start time set to now.
// clock caches the current time at a millisecond resolution and supplies
// the StartTime/StopTime stamps and the running uptime; per-request
// latency is measured by the child dispatch loop with time.Now.
func NewMetrics() *Metrics {
	m := &Metrics{clock: timecache.NewWithResolution(time.Millisecond)}
	m.StartTime.Store(m.clock.CachedTime().UnixNano())
	return m
}

// now returns the cached current time.
func (m *Metrics) now() time.Time { return m.clock.CachedTime() }

// RecordLatency records the latency of one handled request. Called from
// childDispatchLoop after each REQ frame's handler call returns.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.TotalLatencyNs.Add(uint64(d.Nanoseconds()))
	m.LatencyCount.Add(1)
}

// Stop marks the endpoint as stopped and releases the background clock
// goroutine the time cache runs.
func (m *Metrics) Stop() {
	m.StopTime.Store(m.now().UnixNano())
	m.clock.Stop()
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to log or export.
type MetricsSnapshot struct {
	ReqPushed, ReqHandled       uint64
	RspPushed, RspDelivered     uint64
	RegistCount, ReleaseCount   uint64
	PushFailures, PopRetries    uint64
	ProtocolDrops, NodeOfflines uint64
	AvgLatencyNs                uint64
	UptimeNs                    uint64
}

// Snapshot takes a point-in-time copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReqPushed:     m.ReqPushed.Load(),
		ReqHandled:    m.ReqHandled.Load(),
		RspPushed:     m.RspPushed.Load(),
		RspDelivered:  m.RspDelivered.Load(),
		RegistCount:   m.RegistCount.Load(),
		ReleaseCount:  m.ReleaseCount.Load(),
		PushFailures:  m.PushFailures.Load(),
		PopRetries:    m.PopRetries.Load(),
		ProtocolDrops: m.ProtocolDrops.Load(),
		NodeOfflines:  m.NodeOfflines.Load(),
	}

	total, count := m.TotalLatencyNs.Load(), m.LatencyCount.Load()
	if count > 0 {
		snap.AvgLatencyNs = total / count
	}

	start, stop := m.StartTime.Load(), m.StopTime.Load()
	if stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(m.now().UnixNano() - start)
	}
	return snap
}

// Reset zeroes every counter and restarts the uptime clock. Useful for
// testing.
func (m *Metrics) Reset() {
	m.ReqPushed.Store(0)
	m.ReqHandled.Store(0)
	m.RspPushed.Store(0)
	m.RspDelivered.Store(0)
	m.RegistCount.Store(0)
	m.ReleaseCount.Store(0)
	m.PushFailures.Store(0)
	m.PopRetries.Store(0)
	m.ProtocolDrops.Store(0)
	m.NodeOfflines.Store(0)
	m.TotalLatencyNs.Store(0)
	m.LatencyCount.Store(0)
	m.StartTime.Store(m.now().UnixNano())
	m.StopTime.Store(0)
}
