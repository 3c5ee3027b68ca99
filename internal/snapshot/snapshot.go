// Package snapshot parses one sensor reading into a typed Snapshot.
//
// Payloads arrive either already decoded (a JSON object from a poll or a
// host-provided state object) or as a serialised string. Missing or
// non-numeric geometry resolves to documented fallbacks; a payload that
// cannot be decoded at all yields ErrMalformedSnapshot.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/banshee-data/radarview/internal/projection"
)

// Fallback geometry used when neither the payload nor the sensor
// configuration supplies a value.
const (
	DefaultRoomWidthMM = 4000.0
	DefaultRoomDepthMM = 4000.0
	DefaultOriginYMM   = 0.0
)

// ErrMalformedSnapshot is returned when a payload cannot be decoded.
var ErrMalformedSnapshot = errors.New("malformed snapshot")

// Snapshot is one reading from one sensor at one instant.
type Snapshot struct {
	RoomWidthMM     float64  `json:"room_width_mm"`
	RoomDepthMM     float64  `json:"room_depth_mm"`
	SensorOriginXMM float64  `json:"sensor_origin_x_mm"`
	SensorOriginYMM float64  `json:"sensor_origin_y_mm"`
	Targets         []Target `json:"targets"`
}

// Target is one tracked object (slot) within a Snapshot.
type Target struct {
	// Slot is the stable key for this target's track: the stringified
	// index, or the positional index when the payload carries none.
	Slot     string `json:"slot"`
	Index    int    `json:"index"`
	HasIndex bool   `json:"-"`

	// Present is false for a null entry in the payload's target list.
	Present bool `json:"-"`
	Valid   bool `json:"valid"`

	XMM         float64 `json:"x_mm"`
	YMM         float64 `json:"y_mm"`
	DistanceMM  float64 `json:"distance_mm"`
	HasDistance bool    `json:"-"`
	SpeedMPS    float64 `json:"speed_mps"`
	HasSpeed    bool    `json:"-"`
}

// Defaults are per-sensor geometry values consulted before the constant
// fallbacks. Nil fields are unset.
type Defaults struct {
	RoomWidthMM     *float64
	RoomDepthMM     *float64
	SensorOriginXMM *float64
	SensorOriginYMM *float64
}

// Room returns the snapshot's room geometry in projection terms.
func (s Snapshot) Room() projection.Room {
	return projection.Room{
		WidthMM:   s.RoomWidthMM,
		DepthMM:   s.RoomDepthMM,
		OriginXMM: s.SensorOriginXMM,
		OriginYMM: s.SensorOriginYMM,
	}
}

// Projection builds a projection config for this snapshot on the given
// surface and scene.
func (s Snapshot) Projection(surface projection.Surface, scene projection.Scene) projection.Config {
	return projection.Config{Room: s.Room(), Surface: surface, Scene: scene}
}

// ValidTargets returns the targets that are present and valid, in order.
func (s Snapshot) ValidTargets() []Target {
	out := make([]Target, 0, len(s.Targets))
	for _, t := range s.Targets {
		if t.Present && t.Valid {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.Targets != nil {
		c.Targets = make([]Target, len(s.Targets))
		copy(c.Targets, s.Targets)
	}
	return c
}

// Empty returns a snapshot with fallback geometry and no targets.
func Empty(d Defaults) Snapshot {
	s, _ := fromObject(nil, d)
	return s
}

// Parse converts a raw payload into a Snapshot using constant fallbacks.
func Parse(raw any) (Snapshot, error) {
	return ParseWithDefaults(raw, Defaults{})
}

// ParseWithDefaults converts a raw payload into a Snapshot. Accepted inputs
// are a decoded JSON object, a JSON string or byte slice, json.RawMessage, or
// an already typed Snapshot.
func ParseWithDefaults(raw any, d Defaults) (Snapshot, error) {
	switch v := raw.(type) {
	case nil:
		return fromObject(nil, d)
	case Snapshot:
		return v.Clone(), nil
	case *Snapshot:
		if v == nil {
			return fromObject(nil, d)
		}
		return v.Clone(), nil
	case map[string]any:
		return fromObject(v, d)
	case string:
		return decode([]byte(v), d)
	case []byte:
		return decode(v, d)
	case json.RawMessage:
		return decode(v, d)
	default:
		return Snapshot{}, fmt.Errorf("%w: unsupported payload type %T", ErrMalformedSnapshot, raw)
	}
}

func decode(data []byte, d Defaults) (Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Snapshot{}, fmt.Errorf("%w: empty payload", ErrMalformedSnapshot)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj any
	if err := dec.Decode(&obj); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: payload is %T, not an object", ErrMalformedSnapshot, obj)
	}
	return fromObject(m, d)
}

func fromObject(m map[string]any, d Defaults) (Snapshot, error) {
	s := Snapshot{}

	s.RoomWidthMM = firstPositive(m["room_width_mm"], d.RoomWidthMM, DefaultRoomWidthMM)
	s.RoomDepthMM = firstPositive(m["room_depth_mm"], d.RoomDepthMM, DefaultRoomDepthMM)

	if v, ok := number(m["sensor_origin_x_mm"]); ok {
		s.SensorOriginXMM = v
	} else if d.SensorOriginXMM != nil && isFinite(*d.SensorOriginXMM) {
		s.SensorOriginXMM = *d.SensorOriginXMM
	} else {
		s.SensorOriginXMM = s.RoomWidthMM / 2
	}
	if v, ok := number(m["sensor_origin_y_mm"]); ok {
		s.SensorOriginYMM = v
	} else if d.SensorOriginYMM != nil && isFinite(*d.SensorOriginYMM) {
		s.SensorOriginYMM = *d.SensorOriginYMM
	} else {
		s.SensorOriginYMM = DefaultOriginYMM
	}

	list, _ := m["targets"].([]any)
	s.Targets = make([]Target, 0, len(list))
	for i, item := range list {
		s.Targets = append(s.Targets, parseTarget(item, i))
	}
	return s, nil
}

func parseTarget(item any, position int) Target {
	t := Target{Index: position, Slot: strconv.Itoa(position)}
	obj, ok := item.(map[string]any)
	if !ok {
		return t
	}
	t.Present = true

	if v, ok := number(obj["index"]); ok && v == math.Trunc(v) && math.Abs(v) <= math.MaxInt32 {
		t.Index = int(v)
		t.HasIndex = true
		t.Slot = strconv.Itoa(t.Index)
	}
	t.Valid, _ = obj["valid"].(bool)
	t.XMM, _ = number(obj["x_mm"])
	t.YMM, _ = number(obj["y_mm"])
	if v, ok := number(obj["distance_mm"]); ok {
		t.DistanceMM = v
		t.HasDistance = true
	} else {
		t.DistanceMM = math.Hypot(t.XMM, t.YMM)
	}
	if v, ok := number(obj["speed_mps"]); ok {
		t.SpeedMPS = v
		t.HasSpeed = true
	}
	return t
}

// firstPositive picks the payload value, then the configured default, then
// the constant fallback; only finite positive values qualify.
func firstPositive(raw any, configured *float64, fallback float64) float64 {
	if v, ok := number(raw); ok && v > 0 {
		return v
	}
	if configured != nil && isFinite(*configured) && *configured > 0 {
		return *configured
	}
	return fallback
}

// number extracts a finite numeric value. Strings, booleans and other types
// are treated as missing rather than zero.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if !isFinite(f) {
		return 0, false
	}
	return f, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
