package posesource

import (
	"math"
	"sync"
	"time"
)

const (
	// A source is stable if FPS stddev < 15% of mean FPS and mean jitter
	// < 20% of the expected inter-frame interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20

	defaultRateWindow = 120
)

// RateStats describes the delivery rate of a pose source.
type RateStats struct {
	Frames       int           `json:"frames"`
	Duration     time.Duration `json:"duration"`
	FPSMean      float64       `json:"fpsMean"`
	FPSStdDev    float64       `json:"fpsStdDev"`
	FPSMin       float64       `json:"fpsMin"`
	FPSMax       float64       `json:"fpsMax"`
	JitterMean   float64       `json:"jitterMean"`
	JitterStdDev float64       `json:"jitterStdDev"`
	JitterMax    float64       `json:"jitterMax"`
	IsStable     bool          `json:"isStable"`
}

// CalculateRateStats computes FPS and jitter statistics from delivery
// timestamps spanning totalDuration.
func CalculateRateStats(frameTimes []time.Time, totalDuration time.Duration) RateStats {
	n := len(frameTimes)
	stats := RateStats{Frames: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	intervals := make([]float64, 0, n-1)
	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, iv)
		if iv > 0 {
			instantaneous = append(instantaneous, 1.0/iv)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.FPSMin = math.Min(stats.FPSMin, fps)
		stats.FPSMax = math.Max(stats.FPSMax, fps)
		d := fps - stats.FPSMean
		sumSquares += d * d
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / stats.FPSMean
	var jitterSum float64
	jitters := make([]float64, len(intervals))
	for i, iv := range intervals {
		j := math.Abs(iv - expected)
		jitters[i] = j
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSquares float64
	for _, j := range jitters {
		d := j - stats.JitterMean
		jitterSquares += d * d
	}
	stats.JitterStdDev = math.Sqrt(jitterSquares / float64(len(jitters)))

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold

	return stats
}

// RateTracker keeps the most recent delivery timestamps in a ring.
type RateTracker struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	full  bool
}

// NewRateTracker tracks the last window deliveries (default 120).
func NewRateTracker(window int) *RateTracker {
	if window < 2 {
		window = defaultRateWindow
	}
	return &RateTracker{times: make([]time.Time, window)}
}

// Mark records a delivery at t.
func (r *RateTracker) Mark(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.times[r.next] = t
	r.next = (r.next + 1) % len(r.times)
	if r.next == 0 {
		r.full = true
	}
}

// Stats computes rate statistics over the tracked window.
func (r *RateTracker) Stats() RateStats {
	r.mu.Lock()
	var ordered []time.Time
	if r.full {
		ordered = append(ordered, r.times[r.next:]...)
		ordered = append(ordered, r.times[:r.next]...)
	} else {
		ordered = append(ordered, r.times[:r.next]...)
	}
	r.mu.Unlock()

	if len(ordered) < 2 {
		return RateStats{Frames: len(ordered)}
	}
	// n timestamps span n-1 intervals; scale so FPSMean is per interval
	span := ordered[len(ordered)-1].Sub(ordered[0])
	if span <= 0 {
		return RateStats{Frames: len(ordered)}
	}
	per := span / time.Duration(len(ordered)-1)
	return CalculateRateStats(ordered, span+per)
}
