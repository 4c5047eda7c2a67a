package telemetry

import (
	"testing"
	"time"
)

func TestFieldStatsObserveAccumulatesAndTracksRate(t *testing.T) {
	f := &FieldStats{}
	f.Observe(100, 100*time.Millisecond) // 1000 events/sec
	f.Observe(10, 100*time.Millisecond)  // 100 events/sec

	if f.Events.Load() != 110 {
		t.Fatalf("expected 110 total events, got %d", f.Events.Load())
	}
	if f.minRate.Load() != 100 {
		t.Fatalf("expected min rate 100, got %d", f.minRate.Load())
	}
	if f.maxRate.Load() != 1000 {
		t.Fatalf("expected max rate 1000, got %d", f.maxRate.Load())
	}
}

func TestRegistrySnapshotIncludesEveryObservedField(t *testing.T) {
	r := NewRegistry()
	r.Field("conn.bytes").Observe(5, 10*time.Millisecond)
	r.Field("conn.service").Observe(5, 10*time.Millisecond)

	snap := r.Snapshot(time.Now())
	if len(snap.Fields) != 2 {
		t.Fatalf("expected 2 fields in snapshot, got %d", len(snap.Fields))
	}
}

func TestTickerEmitsReportsUntilStopped(t *testing.T) {
	r := NewRegistry()
	r.Field("conn.bytes").Observe(5, time.Millisecond)

	reports := make(chan Report, 8)
	ticker := NewTicker(r, SinkFunc(func(rep Report) { reports <- rep }), 5*time.Millisecond)
	ticker.Start()
	defer ticker.Stop()

	select {
	case rep := <-reports:
		if len(rep.Fields) != 1 {
			t.Fatalf("expected 1 field in report, got %d", len(rep.Fields))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a telemetry report")
	}
}
