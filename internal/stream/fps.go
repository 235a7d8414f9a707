package stream

import (
	"math"
	"time"
)

const (
	// Stable when the FPS stddev is under 15% of the mean and the mean
	// jitter under 20% of the expected frame interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// FPSStats summarizes frame arrival times.
type FPSStats struct {
	Frames     int           `json:"frames"`
	Duration   time.Duration `json:"duration"`
	FPSMean    float64       `json:"fps_mean"`
	FPSStdDev  float64       `json:"fps_std_dev"`
	FPSMin     float64       `json:"fps_min"`
	FPSMax     float64       `json:"fps_max"`
	JitterMean float64       `json:"jitter_mean"`
	JitterMax  float64       `json:"jitter_max"`
	IsStable   bool          `json:"is_stable"`
}

// CalculateFPSStats computes rate and jitter statistics from arrival times.
func CalculateFPSStats(times []time.Time) FPSStats {
	n := len(times)
	if n < 2 {
		return FPSStats{Frames: n}
	}

	total := times[n-1].Sub(times[0])
	st := FPSStats{Frames: n, Duration: total}
	if total <= 0 {
		return st
	}
	st.FPSMean = float64(n-1) / total.Seconds()

	inst := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if dt := times[i].Sub(times[i-1]).Seconds(); dt > 0 {
			inst = append(inst, 1/dt)
		}
	}
	if len(inst) == 0 {
		return st
	}

	st.FPSMin, st.FPSMax = inst[0], inst[0]
	var sq float64
	for _, f := range inst {
		st.FPSMin = math.Min(st.FPSMin, f)
		st.FPSMax = math.Max(st.FPSMax, f)
		sq += (f - st.FPSMean) * (f - st.FPSMean)
	}
	st.FPSStdDev = math.Sqrt(sq / float64(len(inst)))

	expected := 1 / st.FPSMean
	var jsum float64
	for i := 1; i < n; i++ {
		j := math.Abs(times[i].Sub(times[i-1]).Seconds() - expected)
		jsum += j
		st.JitterMax = math.Max(st.JitterMax, j)
	}
	st.JitterMean = jsum / float64(n-1)

	st.IsStable = st.FPSStdDev < st.FPSMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold
	return st
}

// arrivalWindow keeps the last N frame arrival times.
type arrivalWindow struct {
	times []time.Time
	size  int
}

func newArrivalWindow(size int) *arrivalWindow {
	return &arrivalWindow{times: make([]time.Time, 0, size), size: size}
}

func (w *arrivalWindow) add(t time.Time) {
	if len(w.times) == w.size {
		copy(w.times, w.times[1:])
		w.times = w.times[:w.size-1]
	}
	w.times = append(w.times, t)
}

func (w *arrivalWindow) snapshot() []time.Time {
	out := make([]time.Time, len(w.times))
	copy(out, w.times)
	return out
}
