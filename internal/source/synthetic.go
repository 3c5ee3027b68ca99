package source

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/radarview/internal/timeutil"
)

// SyntheticSource generates plausible snapshots for demos and development
// without hardware: targets walk elliptical paths around the room and
// occasionally drop out.
type SyntheticSource struct {
	sensorID string
	clock    timeutil.Clock
	rng      *rand.Rand
	start    time.Time

	Interval    time.Duration
	TargetCount int     // slots reported per frame, at most 3 on an LD2450
	RoomWidthMM float64 // room geometry reported in each snapshot
	RoomDepthMM float64
	WalkMPS     float64 // path speed
	DropoutRate float64 // probability a target is reported invalid
}

// NewSyntheticSource creates a generator. The seed makes output repeatable.
func NewSyntheticSource(sensorID string, seed int64, clock timeutil.Clock) *SyntheticSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SyntheticSource{
		sensorID:    sensorID,
		clock:       clock,
		rng:         rand.New(rand.NewSource(seed)),
		start:       clock.Now(),
		Interval:    300 * time.Millisecond,
		TargetCount: 3,
		RoomWidthMM: 5000,
		RoomDepthMM: 4000,
		WalkMPS:     0.8,
		DropoutRate: 0.05,
	}
}

// SensorID implements Source.
func (s *SyntheticSource) SensorID() string { return s.sensorID }

// Run emits one snapshot per interval until ctx is done.
func (s *SyntheticSource) Run(ctx context.Context, emit EmitFunc) error {
	ticker := s.clock.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			now := s.clock.Now()
			payload, err := json.Marshal(s.Next(now))
			if err != nil {
				emit(Reading{SensorID: s.sensorID, At: now, Err: err})
				continue
			}
			emit(Reading{SensorID: s.sensorID, Payload: payload, At: now})
		}
	}
}

type syntheticTarget struct {
	Index      int     `json:"index"`
	Valid      bool    `json:"valid"`
	XMM        float64 `json:"x_mm"`
	YMM        float64 `json:"y_mm"`
	DistanceMM float64 `json:"distance_mm"`
	SpeedMPS   float64 `json:"speed_mps"`
}

type syntheticSnapshot struct {
	RoomWidthMM     float64           `json:"room_width_mm"`
	RoomDepthMM     float64           `json:"room_depth_mm"`
	SensorOriginXMM float64           `json:"sensor_origin_x_mm"`
	SensorOriginYMM float64           `json:"sensor_origin_y_mm"`
	Targets         []syntheticTarget `json:"targets"`
}

// Next builds the snapshot for instant now.
func (s *SyntheticSource) Next(now time.Time) any {
	elapsed := now.Sub(s.start).Seconds()
	snap := syntheticSnapshot{
		RoomWidthMM:     s.RoomWidthMM,
		RoomDepthMM:     s.RoomDepthMM,
		SensorOriginXMM: s.RoomWidthMM / 2,
		Targets:         make([]syntheticTarget, 0, s.TargetCount),
	}

	// Each target follows its own ellipse inside the room, in sensor-relative
	// coordinates.
	rx := s.RoomWidthMM * 0.35
	ry := s.RoomDepthMM * 0.35
	cy := s.RoomDepthMM / 2
	meanRadius := (rx + ry) / 2 / 1000
	for i := 0; i < s.TargetCount; i++ {
		phase := float64(i) * 2 * math.Pi / float64(s.TargetCount)
		angularSpeed := s.WalkMPS / meanRadius
		if i%2 == 1 {
			angularSpeed = -angularSpeed
		}
		angle := phase + elapsed*angularSpeed

		x := rx * math.Cos(angle) * (1 - 0.15*float64(i))
		y := cy + ry*math.Sin(angle)*(1-0.15*float64(i))

		// Radial speed: positive when receding from the sensor.
		vx := -rx * math.Sin(angle) * angularSpeed
		vy := ry * math.Cos(angle) * angularSpeed
		dist := math.Hypot(x, y)
		radial := 0.0
		if dist > 0 {
			radial = (x*vx + y*vy) / dist / 1000
		}

		t := syntheticTarget{
			Index:      i,
			Valid:      s.rng.Float64() >= s.DropoutRate,
			XMM:        math.Round(x),
			YMM:        math.Round(y),
			DistanceMM: math.Round(dist),
			SpeedMPS:   math.Round(radial*100) / 100,
		}
		if !t.Valid {
			t.XMM, t.YMM, t.DistanceMM, t.SpeedMPS = 0, 0, 0, 0
		}
		snap.Targets = append(snap.Targets, t)
	}
	return snap
}
