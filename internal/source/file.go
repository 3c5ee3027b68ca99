package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/radarview/internal/timeutil"
)

// FileSource replays newline-delimited JSON recordings. Each line is either
// a bare snapshot object or a recorded frame:
//
//	{"sensor_id": "lounge", "at": "2025-05-01T08:00:00Z", "snapshot": {...}}
//
// Recorded frames keep their sensor and timestamp; bare snapshots are
// attributed to the source's sensor and stamped with the clock.
type FileSource struct {
	sensorID string
	path     string
	clock    timeutil.Clock

	// Interval spaces bare snapshots during replay. Recorded frames are
	// paced by their own timestamps when Realtime is set.
	Interval time.Duration
	Realtime bool
}

// NewFileSource creates a replay source for path.
func NewFileSource(sensorID, path string, clock timeutil.Clock) *FileSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FileSource{sensorID: sensorID, path: path, clock: clock}
}

// SensorID implements Source.
func (s *FileSource) SensorID() string { return s.sensorID }

type recordedFrame struct {
	SensorID string          `json:"sensor_id"`
	At       time.Time       `json:"at"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// Run replays the file and returns nil at end of file.
func (s *FileSource) Run(ctx context.Context, emit EmitFunc) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open recording %s: %w", s.path, err)
	}
	defer f.Close()
	return s.replay(ctx, f, emit)
}

func (s *FileSource) replay(ctx context.Context, r io.Reader, emit EmitFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxPayloadBytes)

	var prev time.Time
	lineNo := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		reading := s.parseLine(line)

		if s.Realtime && !prev.IsZero() {
			if !sleep(ctx, reading.At.Sub(prev)) {
				return ctx.Err()
			}
		} else if s.Interval > 0 && lineNo > 1 {
			if !sleep(ctx, s.Interval) {
				return ctx.Err()
			}
		}
		prev = reading.At
		emit(reading)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read recording %s at line %d: %w", s.path, lineNo+1, err)
	}
	return nil
}

// parseLine never fails: an undecodable line is passed through as the
// payload so the session records it as malformed.
func (s *FileSource) parseLine(line []byte) Reading {
	payload := make([]byte, len(line))
	copy(payload, line)
	r := Reading{SensorID: s.sensorID, Payload: payload, At: s.clock.Now()}

	var rec recordedFrame
	if err := json.Unmarshal(line, &rec); err != nil || len(rec.Snapshot) == 0 {
		return r
	}
	r.Payload = []byte(rec.Snapshot)
	if rec.SensorID != "" {
		r.SensorID = rec.SensorID
	}
	if !rec.At.IsZero() {
		r.At = rec.At
	}
	return r
}
