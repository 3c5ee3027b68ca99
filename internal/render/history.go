package render

import (
	"strings"
	"time"

	"github.com/banshee-data/radarview/internal/trails"
	"github.com/banshee-data/radarview/internal/units"
)

// HistoryRow is one slot in the history details panel.
type HistoryRow struct {
	Slot      string `json:"slot"`
	Label     string `json:"label"`
	Distances string `json:"distances"`
	Age       string `json:"age"`
	Points    int    `json:"points"`
	MeanSpeed string `json:"mean_speed"`
	P85Speed  string `json:"p85_speed"`
	PeakSpeed string `json:"peak_speed"`
}

// HistoryDetails summarises every non-empty slot, ordered by numeric slot
// key. It returns nil when details are turned off.
func HistoryDetails(ts trails.TrackSet, now time.Time, show bool, speedUnits string) []HistoryRow {
	if !show {
		return nil
	}
	summaries := trails.Summarize(ts, now)
	rows := make([]HistoryRow, 0, len(summaries))
	for _, s := range summaries {
		dist := make([]string, len(s.RecentDistancesMM))
		for i, mm := range s.RecentDistancesMM {
			dist[i] = units.FormatDistance(mm)
		}
		rows = append(rows, HistoryRow{
			Slot:      s.Slot,
			Label:     "T" + s.Slot,
			Distances: strings.Join(dist, " → "),
			Age:       units.FormatAge(s.Age),
			Points:    s.Points,
			MeanSpeed: units.FormatSpeed(s.MeanSpeedMPS, speedUnits),
			P85Speed:  units.FormatSpeed(s.P85SpeedMPS, speedUnits),
			PeakSpeed: units.FormatSpeed(s.PeakSpeedMPS, speedUnits),
		})
	}
	return rows
}
