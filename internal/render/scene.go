package render

import (
	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/projection"
	"github.com/banshee-data/radarview/internal/session"
)

// SceneTarget is one positional target slot in the 3D scene.
type SceneTarget struct {
	Slot         string               `json:"slot"`
	Visible      bool                 `json:"visible"`
	Position     projection.Point3D   `json:"position"`
	Color        string               `json:"color"`
	TrailVisible bool                 `json:"trail_visible"`
	Trail        []projection.Point3D `json:"trail,omitempty"`
}

// Scene is the 3D drawing model of one frame.
type Scene struct {
	SensorID string             `json:"sensor_id"`
	Drawable bool               `json:"drawable"`
	Extent   projection.Point3D `json:"extent"`
	Sensor   projection.Point3D `json:"sensor"`
	Accent   string             `json:"accent"`
	Targets  []SceneTarget      `json:"targets"`
}

// BuildScene lays out one frame for a 3D client. Each visible trail holds
// exactly maxTrail points: the newest track points, padded with the last one.
// Invalid slots hide both marker and trail.
func BuildScene(f session.Frame, maxTrail int, accent string) Scene {
	if maxTrail <= 0 {
		maxTrail = config.DefaultMaxTrail
	}
	cfg := f.Projection
	sc := Scene{
		SensorID: f.SensorID,
		Drawable: cfg.Drawable(),
		Accent:   accent,
		Targets:  []SceneTarget{},
	}
	if !sc.Drawable {
		return sc
	}
	sc.Extent = projection.SceneExtent(cfg)
	sc.Sensor = projection.ProjectOrigin3D(cfg)

	for i, t := range f.Snapshot.Targets {
		st := SceneTarget{Slot: t.Slot, Color: slotColor(t.Slot, i)}
		if !t.Present || !t.Valid {
			sc.Targets = append(sc.Targets, st)
			continue
		}
		st.Visible = true
		st.Position = projection.Project3D(t.XMM, t.YMM, t.SpeedMPS, cfg)

		tr := f.Tracks[t.Slot]
		if len(tr) > maxTrail {
			tr = tr[len(tr)-maxTrail:]
		}
		if len(tr) > 1 {
			st.TrailVisible = true
			st.Trail = make([]projection.Point3D, maxTrail)
			for j := range st.Trail {
				if j < len(tr) {
					st.Trail[j] = tr[j].Scene
				} else {
					st.Trail[j] = tr[len(tr)-1].Scene
				}
			}
		}
		sc.Targets = append(sc.Targets, st)
	}
	return sc
}
