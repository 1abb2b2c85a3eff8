package recognize

import (
	"testing"
	"time"
)

func TestStatsSnapshotPercentiles(t *testing.T) {
	stats := NewStats(time.Hour)
	for _, ms := range []int{100, 200, 300, 400, 500} {
		stats.Record(time.Duration(ms)*time.Millisecond, false)
	}

	snap := stats.Snapshot()
	if snap.Calls != 5 {
		t.Fatalf("expected calls=5, got %d", snap.Calls)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
	if snap.Failures != 0 {
		t.Fatalf("expected no failures, got %d", snap.Failures)
	}
}

func TestStatsPrunesExpiredSamples(t *testing.T) {
	stats := NewStats(10 * time.Millisecond)
	stats.Record(100*time.Millisecond, true)
	time.Sleep(25 * time.Millisecond)

	if snap := stats.Snapshot(); snap.Calls != 0 || snap.Failures != 0 {
		t.Fatalf("expected empty snapshot after prune, got %+v", snap)
	}

	stats.Record(200*time.Millisecond, false)
	snap := stats.Snapshot()
	if snap.Calls != 1 || snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("unexpected snapshot for fresh sample: %+v", snap)
	}
}

func TestStatsRecordClampsNegativeDuration(t *testing.T) {
	stats := NewStats(time.Hour)
	stats.Record(-10*time.Millisecond, false)
	snap := stats.Snapshot()
	if snap.Calls != 1 || snap.MinMs != 0 || snap.MaxMs != 0 {
		t.Fatalf("expected one zero-length call, got %+v", snap)
	}
}
