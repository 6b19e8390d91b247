package perf

import "math"

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	variance := 0.0
	for _, v := range vals {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(vals) - 1)
	return math.Sqrt(variance)
}

// sharpe is the Sharpe-like ratio over the trailing ROI window:
// mean(roi)/stddev(roi). Zero when the window is too short or flat.
func sharpe(rois []float64) float64 {
	sd := stddev(rois)
	if sd == 0 {
		return 0
	}
	return mean(rois) / sd
}
