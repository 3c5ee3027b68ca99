package render

import (
	"time"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/snapshot"
	"github.com/banshee-data/radarview/internal/trails"
)

// View is everything a front end needs to draw one sensor panel.
type View struct {
	SensorID  string            `json:"sensor_id"`
	Name      string            `json:"name"`
	Accent    string            `json:"accent"`
	At        time.Time         `json:"at"`
	Status    session.Status    `json:"status"`
	Recovered bool              `json:"recovered"`
	Snapshot  snapshot.Snapshot `json:"snapshot"`
	Tracks    trails.TrackSet   `json:"tracks"`
	Legend    []Legend          `json:"legend"`
	History   []HistoryRow      `json:"history,omitempty"`
	Plan      Plan              `json:"plan"`
	Scene     Scene             `json:"scene"`
}

// BuildView composes a frame with its sensor's configuration. History age
// is measured at now.
func BuildView(f session.Frame, cfg *config.ViewerConfig, now time.Time) View {
	opts := PlanOptionsFor(cfg, f.SensorID)
	return View{
		SensorID:  f.SensorID,
		Name:      opts.Name,
		Accent:    opts.Accent,
		At:        f.At,
		Status:    f.Status,
		Recovered: f.Recovered,
		Snapshot:  f.Snapshot,
		Tracks:    f.Tracks,
		Legend:    LegendRows(f.Snapshot, opts.ShowVelocity, opts.SpeedUnits),
		History:   HistoryDetails(f.Tracks, now, cfg.ShowHistoryDetailsFor(f.SensorID), opts.SpeedUnits),
		Plan:      BuildPlan(f, opts),
		Scene:     BuildScene(f, cfg.GetMaxTrail(), opts.Accent),
	}
}
