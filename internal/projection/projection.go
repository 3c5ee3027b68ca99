// Package projection maps physical sensor coordinates (millimetres, relative
// to the sensor origin) into drawing space.
//
// Two drawing spaces are supported: a 2D floor plan whose vertical axis is
// inverted (physical "forward" from the sensor points up the screen), and a
// 3D scene centred on the room midpoint in which the vertical axis encodes
// target speed rather than physical height.
//
// Everything in this package is pure. A Config is supplied per call and never
// retained.
package projection

import "math"

// Default scene scaling, matching the standalone viewer's scene units.
const (
	DefaultSceneDivisor    = 10.0
	DefaultSceneSpeedScale = 5.0
)

// Room describes the physical room and the sensor position within it.
type Room struct {
	WidthMM   float64
	DepthMM   float64
	OriginXMM float64
	OriginYMM float64
}

// Surface is the 2D drawing surface. A zero Surface draws in room
// millimetres (the dashboard widget's SVG viewBox).
type Surface struct {
	Width  float64
	Height float64
}

// Scene controls the 3D scene mapping.
type Scene struct {
	Divisor    float64 // mm per scene unit
	SpeedScale float64 // scene units per m/s on the vertical axis
}

// Config is the full projection configuration for one sensor.
type Config struct {
	Room    Room
	Surface Surface
	Scene   Scene
}

// Point2D is a position on the plan surface.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Point3D is a position in the 3D scene. Y is the vertical axis.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Drawable reports whether the room dimensions allow anything to be drawn.
// Callers should check this before rendering; projection itself never fails.
func (c Config) Drawable() bool {
	return validDim(c.Room.WidthMM) && validDim(c.Room.DepthMM)
}

// PlanSize returns the effective drawing surface size.
func (c Config) PlanSize() (w, h float64) {
	if !c.Drawable() {
		return 0, 0
	}
	w, h = c.Surface.Width, c.Surface.Height
	if !validDim(w) || !validDim(h) {
		return c.Room.WidthMM, c.Room.DepthMM
	}
	return w, h
}

func (c Config) scene() Scene {
	s := c.Scene
	if !validDim(s.Divisor) {
		s.Divisor = DefaultSceneDivisor
	}
	if s.SpeedScale == 0 || math.IsNaN(s.SpeedScale) || math.IsInf(s.SpeedScale, 0) {
		s.SpeedScale = DefaultSceneSpeedScale
	}
	return s
}

// Absolute returns the room-absolute position of an offset, clamped to the
// room outline.
func Absolute(xOffsetMM, yOffsetMM float64, room Room) (x, y float64) {
	x = clamp(room.OriginXMM+finite(xOffsetMM), 0, room.WidthMM)
	y = clamp(room.OriginYMM+finite(yOffsetMM), 0, room.DepthMM)
	return x, y
}

// Project maps a sensor-relative offset onto the plan surface.
func Project(xOffsetMM, yOffsetMM float64, cfg Config) Point2D {
	if !cfg.Drawable() {
		return Point2D{}
	}
	absX, absY := Absolute(xOffsetMM, yOffsetMM, cfg.Room)
	return planFromAbsolute(absX, absY, cfg)
}

// ProjectOrigin returns the sensor marker position on the plan surface.
func ProjectOrigin(cfg Config) Point2D {
	return Project(0, 0, cfg)
}

func planFromAbsolute(absX, absY float64, cfg Config) Point2D {
	w, h := cfg.PlanSize()
	p := Point2D{
		X: absX * w / cfg.Room.WidthMM,
		Y: h - absY*h/cfg.Room.DepthMM,
	}
	return ClampToSurface(p, cfg)
}

// Project3D maps a sensor-relative offset into the 3D scene. The vertical
// axis is driven by speed.
func Project3D(xOffsetMM, yOffsetMM, speedMPS float64, cfg Config) Point3D {
	if !cfg.Drawable() {
		return Point3D{}
	}
	s := cfg.scene()
	absX, absY := Absolute(xOffsetMM, yOffsetMM, cfg.Room)
	return Point3D{
		X: (absX - cfg.Room.WidthMM/2) / s.Divisor,
		Y: finite(speedMPS) * s.SpeedScale,
		Z: (absY - cfg.Room.DepthMM/2) / s.Divisor,
	}
}

// ProjectOrigin3D returns the sensor marker position in the 3D scene.
func ProjectOrigin3D(cfg Config) Point3D {
	return Project3D(0, 0, 0, cfg)
}

// SceneExtent returns the room scale factors applied to the scene group
// (width/100, 1, depth/100).
func SceneExtent(cfg Config) Point3D {
	if !cfg.Drawable() {
		return Point3D{}
	}
	return Point3D{X: cfg.Room.WidthMM / 100, Y: 1, Z: cfg.Room.DepthMM / 100}
}

// ClampToSurface keeps a plan point inside the drawing surface.
func ClampToSurface(p Point2D, cfg Config) Point2D {
	w, h := cfg.PlanSize()
	return Point2D{X: clamp(p.X, 0, w), Y: clamp(p.Y, 0, h)}
}

// ScaleLength converts a physical length in mm into plan units using the mean
// of the horizontal and vertical scale factors.
func ScaleLength(mm float64, cfg Config) float64 {
	if !cfg.Drawable() {
		return 0
	}
	w, h := cfg.PlanSize()
	return mm * (w/cfg.Room.WidthMM + h/cfg.Room.DepthMM) / 2
}

func validDim(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	return math.Max(lo, math.Min(hi, v))
}
