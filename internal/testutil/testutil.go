// Package testutil provides shared snapshot fixtures for tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Room geometry used by the fixtures.
const (
	RoomWidthMM = 5000
	RoomDepthMM = 4000
	OriginXMM   = 2500
	OriginYMM   = 0
)

// Target is a fixture target. Nil fields are omitted from the payload.
type Target struct {
	Index    int      `json:"index"`
	Valid    bool     `json:"valid"`
	XMM      float64  `json:"x_mm"`
	YMM      float64  `json:"y_mm"`
	Distance *float64 `json:"distance_mm,omitempty"`
	Speed    *float64 `json:"speed_mps,omitempty"`
}

// Seen returns a valid target at (x, y) moving at speed.
func Seen(index int, x, y, speed float64) Target {
	return Target{Index: index, Valid: true, XMM: x, YMM: y, Speed: &speed}
}

// Snapshot encodes targets in the fixture room.
func Snapshot(t testing.TB, targets ...Target) string {
	t.Helper()
	if targets == nil {
		targets = []Target{}
	}
	data, err := json.Marshal(map[string]any{
		"room_width_mm":      RoomWidthMM,
		"room_depth_mm":      RoomDepthMM,
		"sensor_origin_x_mm": OriginXMM,
		"sensor_origin_y_mm": OriginYMM,
		"targets":            targets,
	})
	if err != nil {
		t.Fatalf("failed to encode snapshot fixture: %v", err)
	}
	return string(data)
}

// RecordedFrame encodes one line of a recorded capture.
func RecordedFrame(t testing.TB, sensorID string, at time.Time, snapshot string) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"sensor_id": sensorID,
		"at":        at,
		"snapshot":  json.RawMessage(snapshot),
	})
	if err != nil {
		t.Fatalf("failed to encode recorded frame: %v", err)
	}
	return string(data)
}

// WriteLines writes lines to name under a fresh temp dir and returns the path.
func WriteLines(t testing.TB, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
