package recognize

import (
	"slices"
	"sync"
	"time"
)

type sample struct {
	at       time.Time
	duration time.Duration
	failed   bool
}

// StatsSnapshot aggregates recognition calls inside the rolling window.
type StatsSnapshot struct {
	Calls    int     `json:"calls"`
	Failures int     `json:"failures"`
	MinMs    int64   `json:"min_ms"`
	MaxMs    int64   `json:"max_ms"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
}

// Stats keeps recent recognition latencies for the stats endpoint.
type Stats struct {
	mu      sync.Mutex
	samples []sample
	window  time.Duration
}

func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = time.Hour
	}
	return &Stats{
		samples: make([]sample, 0, 256),
		window:  window,
	}
}

// Record adds one call. Negative durations count as zero.
func (s *Stats) Record(d time.Duration, failed bool) {
	if d < 0 {
		d = 0
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.samples = append(s.samples, sample{at: now, duration: d, failed: failed})
}

func (s *Stats) Snapshot() StatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	if len(s.samples) == 0 {
		return StatsSnapshot{}
	}

	ms := make([]int64, 0, len(s.samples))
	var sum int64
	failures := 0
	for _, sm := range s.samples {
		v := sm.duration.Milliseconds()
		ms = append(ms, v)
		sum += v
		if sm.failed {
			failures++
		}
	}
	slices.Sort(ms)

	return StatsSnapshot{
		Calls:    len(ms),
		Failures: failures,
		MinMs:    ms[0],
		MaxMs:    ms[len(ms)-1],
		AvgMs:    float64(sum) / float64(len(ms)),
		P50Ms:    percentile(ms, 50),
		P95Ms:    percentile(ms, 95),
		P99Ms:    percentile(ms, 99),
	}
}

func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	kept := s.samples[:0]
	for _, sm := range s.samples {
		if !sm.at.Before(cutoff) {
			kept = append(kept, sm)
		}
	}
	s.samples = kept
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	idx := float64(len(sorted)-1) * pct / 100
	lower := int(idx)
	if lower+1 >= len(sorted) {
		return float64(sorted[lower])
	}
	lo, hi := float64(sorted[lower]), float64(sorted[lower+1])
	return lo + (hi-lo)*(idx-float64(lower))
}
