package trails

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// detailDepth is how many recent distances a summary lists.
const detailDepth = 4

// Summary condenses one slot's track for the history details panel.
type Summary struct {
	Slot string `json:"slot"`
	// RecentDistancesMM lists up to four distances, newest first.
	RecentDistancesMM []float64     `json:"recent_distances_mm"`
	Age               time.Duration `json:"age_ns"`
	Points            int           `json:"points"`

	MeanSpeedMPS float64 `json:"mean_speed_mps"`
	P85SpeedMPS  float64 `json:"p85_speed_mps"`
	PeakSpeedMPS float64 `json:"peak_speed_mps"`
}

// Summarize builds per-slot summaries ordered by numeric slot key. Slots
// with empty tracks are omitted. Age is measured from now to the newest
// point.
func Summarize(ts TrackSet, now time.Time) []Summary {
	out := make([]Summary, 0, len(ts))
	for _, key := range ts.Keys() {
		tr := ts[key]
		latest, ok := tr.Latest()
		if !ok {
			continue
		}
		s := Summary{
			Slot:   key,
			Age:    now.Sub(latest.Timestamp),
			Points: len(tr),
		}
		for i := len(tr) - 1; i >= 0 && len(s.RecentDistancesMM) < detailDepth; i-- {
			s.RecentDistancesMM = append(s.RecentDistancesMM, tr[i].DistanceMM)
		}
		s.MeanSpeedMPS, s.P85SpeedMPS, s.PeakSpeedMPS = speedStats(tr)
		out = append(out, s)
	}
	return out
}

// speedStats returns mean, 85th percentile and peak absolute speed.
func speedStats(tr Track) (mean, p85, peak float64) {
	speeds := make([]float64, len(tr))
	for i, p := range tr {
		v := p.SpeedMPS
		if v < 0 {
			v = -v
		}
		speeds[i] = v
	}
	sort.Float64s(speeds)
	mean = stat.Mean(speeds, nil)
	p85 = stat.Quantile(0.85, stat.Empirical, speeds, nil)
	peak = speeds[len(speeds)-1]
	return mean, p85, peak
}
