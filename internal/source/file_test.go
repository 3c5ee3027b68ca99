package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/radarview/internal/timeutil"
)

func TestFileSource_Replay(t *testing.T) {
	recording := strings.Join([]string{
		`# recorded 2025-05-01`,
		`{"targets":[{"index":0,"valid":true,"x_mm":100,"y_mm":200}]}`,
		``,
		`{"sensor_id":"hallway","at":"2025-05-01T08:00:05Z","snapshot":{"targets":[]}}`,
		`not json at all`,
	}, "\n")
	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(recording), 0644))

	src := NewFileSource("lounge", path, timeutil.NewMockClock(t0))
	var got collector
	require.NoError(t, src.Run(context.Background(), got.emit))

	readings := got.all()
	require.Len(t, readings, 3)

	assert.Equal(t, "lounge", readings[0].SensorID)
	assert.Equal(t, t0, readings[0].At)
	assert.Contains(t, string(readings[0].Payload), `"x_mm":100`)

	assert.Equal(t, "hallway", readings[1].SensorID)
	assert.Equal(t, t0.Add(5*time.Second), readings[1].At)
	assert.Equal(t, `{"targets":[]}`, string(readings[1].Payload))

	assert.Equal(t, "not json at all", string(readings[2].Payload), "undecodable lines pass through")
	assert.False(t, readings[2].Failed())
}

func TestFileSource_Missing(t *testing.T) {
	src := NewFileSource("a", filepath.Join(t.TempDir(), "absent.jsonl"), nil)
	err := src.Run(context.Background(), func(Reading) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open recording")
}

func TestFileSource_CancelDuringInterval(t *testing.T) {
	src := NewFileSource("a", "", timeutil.NewMockClock(t0))
	src.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	var got collector
	emit := func(r Reading) {
		got.emit(r)
		cancel()
	}
	err := src.replay(ctx, strings.NewReader("{}\n{}\n"), emit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, got.count())
}
