// Package render turns session frames into drawable models and images.
//
// The plan and scene models are plain data shared by every front end; the
// PNG and HTML adapters draw a plan with gonum/plot and go-echarts.
package render

import (
	"fmt"
	"math"
	"strconv"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/projection"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/snapshot"
	"github.com/banshee-data/radarview/internal/units"
)

// GridStepMM is the spacing of plan grid lines.
const GridStepMM = 500.0

// MaxGridLines bounds the grid divisions per axis. Larger rooms get a
// coarser step.
const MaxGridLines = 200

// ColorMode selects how plan markers are coloured.
type ColorMode string

const (
	// ModeSlot colours each slot from the accent palette.
	ModeSlot ColorMode = "slot"
	// ModeVelocity colours markers from green (still) to red (fast).
	ModeVelocity ColorMode = "velocity"
)

// Line is a plan segment.
type Line struct {
	From projection.Point2D `json:"from"`
	To   projection.Point2D `json:"to"`
}

// Marker is one valid target on the plan.
type Marker struct {
	Slot       string             `json:"slot"`
	Label      string             `json:"label"`
	Position   projection.Point2D `json:"position"`
	Radius     float64            `json:"radius"`
	Ring       float64            `json:"ring,omitempty"` // distance ring radius, 0 when absent
	Color      string             `json:"color"`
	SpeedLabel string             `json:"speed_label,omitempty"`
}

// Polyline is a slot's trail on the plan.
type Polyline struct {
	Slot   string               `json:"slot"`
	Points []projection.Point2D `json:"points"`
	Color  string               `json:"color"`
}

// Plan is the 2D drawing model of one frame.
type Plan struct {
	SensorID     string             `json:"sensor_id"`
	Name         string             `json:"name"`
	Accent       string             `json:"accent"`
	Drawable     bool               `json:"drawable"`
	Width        float64            `json:"width"`
	Height       float64            `json:"height"`
	Grid         []Line             `json:"grid"`
	Sensor       projection.Point2D `json:"sensor"`
	SensorRadius float64            `json:"sensor_radius"`
	Markers      []Marker           `json:"markers"`
	Trails       []Polyline         `json:"trails"`
}

// PlanOptions controls plan styling.
type PlanOptions struct {
	Name         string
	Accent       string
	Mode         ColorMode
	ShowVelocity bool
	SpeedUnits   string
}

// PlanOptionsFor resolves plan options for a sensor from cfg.
func PlanOptionsFor(cfg *config.ViewerConfig, sensorID string) PlanOptions {
	return PlanOptions{
		Name:         cfg.NameFor(sensorID),
		Accent:       cfg.AccentFor(sensorID),
		Mode:         ModeSlot,
		ShowVelocity: cfg.ShowVelocityFor(sensorID),
		SpeedUnits:   cfg.GetSpeedUnits(),
	}
}

// BuildPlan lays out one frame. A frame whose room cannot be drawn yields a
// plan with Drawable false and nothing else.
func BuildPlan(f session.Frame, opts PlanOptions) Plan {
	cfg := f.Projection
	p := Plan{
		SensorID: f.SensorID,
		Name:     opts.Name,
		Accent:   opts.Accent,
		Drawable: cfg.Drawable(),
	}
	if p.Accent == "" {
		p.Accent = config.AccentPalette[0]
	}
	if !p.Drawable {
		return p
	}
	p.Width, p.Height = cfg.PlanSize()
	room := cfg.Room
	longest := math.Max(room.WidthMM, room.DepthMM)

	sx := p.Width / room.WidthMM
	sy := p.Height / room.DepthMM
	step := gridStep(longest)
	for i, n := 0, int(room.WidthMM/step); i <= n; i++ {
		x := float64(i) * step
		p.Grid = append(p.Grid, Line{
			From: projection.Point2D{X: x * sx, Y: 0},
			To:   projection.Point2D{X: x * sx, Y: p.Height},
		})
	}
	for i, n := 0, int(room.DepthMM/step); i <= n; i++ {
		py := p.Height - float64(i)*step*sy
		p.Grid = append(p.Grid, Line{
			From: projection.Point2D{X: 0, Y: py},
			To:   projection.Point2D{X: p.Width, Y: py},
		})
	}

	p.Sensor = projection.ProjectOrigin(cfg)
	p.SensorRadius = projection.ScaleLength(longest*0.015, cfg)

	for i, t := range f.Snapshot.ValidTargets() {
		m := Marker{
			Slot:     t.Slot,
			Label:    "T" + strconv.Itoa(t.Index),
			Position: projection.Project(t.XMM, t.YMM, cfg),
			Radius:   projection.ScaleLength(longest*0.02, cfg),
			Color:    slotColor(t.Slot, i),
		}
		if opts.Mode == ModeVelocity {
			m.Color = VelocityColor(t.SpeedMPS)
		}
		if t.DistanceMM != 0 {
			m.Ring = projection.ScaleLength(RingRadiusMM(room.WidthMM, room.DepthMM, t.DistanceMM), cfg)
		}
		if opts.ShowVelocity && t.HasSpeed {
			m.SpeedLabel = units.FormatSpeed(t.SpeedMPS, opts.SpeedUnits)
		}
		p.Markers = append(p.Markers, m)
	}

	for i, key := range f.Tracks.Keys() {
		tr := f.Tracks[key]
		if len(tr) < 2 {
			continue
		}
		pts := make([]projection.Point2D, len(tr))
		for j, pt := range tr {
			pts[j] = pt.Plan
		}
		p.Trails = append(p.Trails, Polyline{Slot: key, Points: pts, Color: slotColor(key, i)})
	}
	return p
}

// RingRadiusMM is the distance ring drawn around a target.
func RingRadiusMM(widthMM, depthMM, distanceMM float64) float64 {
	return math.Min(math.Max(widthMM, depthMM)*0.35, math.Max(150, distanceMM))
}

// VelocityColor maps a speed onto a hue from 120 (green) downwards.
func VelocityColor(speedMPS float64) string {
	hue := 120 - math.Min(120, speedMPS*80)
	return fmt.Sprintf("hsl(%.0f,70%%,55%%)", hue)
}

// slotColor picks a palette colour by numeric slot key, falling back to
// position for non-numeric keys. Slot keys map to the palette directly,
// not offset by one, so slot 0 gets the first accent and slots 0 and 1
// never share a colour.
func slotColor(slot string, position int) string {
	idx := position
	if n, err := strconv.Atoi(slot); err == nil && n >= 0 {
		idx = n
	}
	return config.AccentPalette[idx%len(config.AccentPalette)]
}

// Legend is one valid target's legend row.
type Legend struct {
	Label    string `json:"label"`
	Distance string `json:"distance"`
	Speed    string `json:"speed,omitempty"`
}

// LegendRows lists the valid targets of snap in order.
func LegendRows(snap snapshot.Snapshot, showVelocity bool, speedUnits string) []Legend {
	valid := snap.ValidTargets()
	rows := make([]Legend, 0, len(valid))
	for _, t := range valid {
		row := Legend{
			Label:    "T" + strconv.Itoa(t.Index),
			Distance: units.FormatDistance(t.DistanceMM),
		}
		if showVelocity {
			row.Speed = units.FormatSpeed(t.SpeedMPS, speedUnits)
		}
		rows = append(rows, row)
	}
	return rows
}

func gridStep(longest float64) float64 {
	if longest/GridStepMM <= MaxGridLines {
		return GridStepMM
	}
	return longest / MaxGridLines
}
