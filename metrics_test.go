package dproc

import (
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	defer m.Stop()

	m.ReqPushed.Add(3)
	m.ReqHandled.Add(2)
	m.RspPushed.Add(2)
	m.RspDelivered.Add(1)
	m.PushFailures.Add(1)
	m.RecordLatency(10 * time.Millisecond)
	m.RecordLatency(20 * time.Millisecond)

	snap := m.Snapshot()
	if snap.ReqPushed != 3 {
		t.Errorf("ReqPushed = %d, want 3", snap.ReqPushed)
	}
	if snap.ReqHandled != 2 {
		t.Errorf("ReqHandled = %d, want 2", snap.ReqHandled)
	}
	if snap.RspPushed != 2 {
		t.Errorf("RspPushed = %d, want 2", snap.RspPushed)
	}
	if snap.PushFailures != 1 {
		t.Errorf("PushFailures = %d, want 1", snap.PushFailures)
	}
	wantAvg := uint64(15 * time.Millisecond)
	if snap.AvgLatencyNs != wantAvg {
		t.Errorf("AvgLatencyNs = %d, want %d", snap.AvgLatencyNs, wantAvg)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	defer m.Stop()

	m.ReqPushed.Add(5)
	m.Reset()

	if got := m.Snapshot().ReqPushed; got != 0 {
		t.Errorf("ReqPushed after Reset = %d, want 0", got)
	}
}

func TestMetricsUptimeGrowsWhileRunning(t *testing.T) {
	m := NewMetrics()
	defer m.Stop()

	time.Sleep(2 * time.Millisecond)
	snap := m.Snapshot()
	if snap.UptimeNs == 0 {
		t.Error("expected non-zero uptime while running")
	}
}
