package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/eventlog"
	"github.com/banshee-data/radarview/internal/monitoring"
	"github.com/banshee-data/radarview/internal/source"
	"github.com/banshee-data/radarview/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

const roomPayload = `{"room_width_mm":5000,"room_depth_mm":4000,"sensor_origin_x_mm":2500,"sensor_origin_y_mm":0,"targets":[%s]}`

func payload(targets string) string {
	return fmt.Sprintf(roomPayload, targets)
}

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }

func testConfig() *config.ViewerConfig {
	return &config.ViewerConfig{Sensors: []config.SensorConfig{{ID: "lounge"}, {ID: "hallway"}}}
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := New(testConfig(), append([]Option{WithClock(timeutil.NewMockClock(t0))}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = New(&config.ViewerConfig{HistoryPoints: intp(0), Sensors: []config.SensorConfig{{ID: "a"}}})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSessionsAreIndependent(t *testing.T) {
	a := newSession(t)
	b := newSession(t)
	assert.NotEqual(t, a.ID(), b.ID())

	_, err := a.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":3000}`), t0, 0)
	require.NoError(t, err)
	assert.Len(t, a.Tracks("lounge"), 1)
	assert.Empty(t, b.Tracks("lounge"))
}

func TestIngest_BuildsFrame(t *testing.T) {
	s := newSession(t)
	f, err := s.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":3000,"speed_mps":-0.4},null`), t0, 25*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, "lounge", f.SensorID)
	assert.False(t, f.Recovered)
	assert.Equal(t, Status{Connected: true, LastUpdate: t0, Latency: 25 * time.Millisecond}, f.Status)
	require.Len(t, f.Tracks["0"], 1)
	p := f.Tracks["0"][0]
	assert.InDelta(t, 2500, p.Plan.X, 1e-9)
	assert.InDelta(t, 1000, p.Plan.Y, 1e-9)
	assert.Equal(t, 3000.0, p.DistanceMM)
	assert.Contains(t, f.Tracks, "1", "null entry keeps an empty slot")
	assert.Empty(t, f.Tracks["1"])

	got, ok := s.Frame("lounge")
	require.True(t, ok)
	if diff := cmp.Diff(f.Tracks, got.Tracks); diff != "" {
		t.Errorf("stored frame tracks mismatch (-want +got):\n%s", diff)
	}
}

func TestIngest_ZeroTimeUsesClock(t *testing.T) {
	clock := timeutil.NewMockClock(t0.Add(time.Minute))
	s, err := New(testConfig(), WithClock(clock))
	require.NoError(t, err)

	f, err := s.Ingest("lounge", payload(""), time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), f.At)
}

func TestIngest_RecoversMalformed(t *testing.T) {
	s := newSession(t)
	_, err := s.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":100,"y_mm":1000}`), t0, 0)
	require.NoError(t, err)

	f, err := s.Ingest("lounge", "{not json", t0.Add(time.Second), 0)
	require.NoError(t, err)
	assert.True(t, f.Recovered)
	assert.True(t, f.Status.Connected)
	assert.NotEmpty(t, f.Status.Reason)
	assert.Equal(t, 5000.0, f.Snapshot.RoomWidthMM, "last good snapshot is reused")
	assert.Len(t, f.Tracks["0"], 1, "a recovered snapshot adds no sighting")
}

func TestIngest_RecoveredFramesOnlyAgeTracks(t *testing.T) {
	s := newSession(t)
	_, err := s.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":100,"y_mm":1000}`), t0, 0)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		f, err := s.Ingest("lounge", "{not json", t0.Add(time.Duration(i)*time.Second), 0)
		require.NoError(t, err)
		assert.True(t, f.Recovered)
		assert.Len(t, f.Tracks["0"], 1)
		assert.Len(t, f.Snapshot.Targets, 1, "frame still shows the last good reading")
	}

	f, err := s.Ingest("lounge", "{not json", t0.Add(46*time.Second), 0)
	require.NoError(t, err)
	assert.True(t, f.Recovered)
	assert.NotContains(t, f.Tracks, "0", "slot ages out while the sensor sends garbage")
	assert.Empty(t, s.Tracks("lounge"))
}

func TestIngest_UsesSensorGeometry(t *testing.T) {
	width := 6000.0
	cfg := &config.ViewerConfig{Sensors: []config.SensorConfig{{ID: "a", RoomWidthMM: &width}}}
	s, err := New(cfg)
	require.NoError(t, err)

	f, err := s.Ingest("a", `{"targets":[]}`, t0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6000.0, f.Snapshot.RoomWidthMM)
	assert.Equal(t, 3000.0, f.Snapshot.SensorOriginXMM)
}

func TestIngest_PlanSurfaceFromConfig(t *testing.T) {
	w, h := 500.0, 400.0
	cfg := &config.ViewerConfig{PlanWidth: &w, PlanHeight: &h, Sensors: []config.SensorConfig{{ID: "a"}}}
	s, err := New(cfg)
	require.NoError(t, err)

	f, err := s.Ingest("a", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":3000}`), t0, 0)
	require.NoError(t, err)
	p := f.Tracks["0"][0].Plan
	assert.InDelta(t, 250, p.X, 1e-9)
	assert.InDelta(t, 100, p.Y, 1e-9)
}

func TestIngestEntity(t *testing.T) {
	s := newSession(t)
	f, err := s.IngestEntity("lounge", "unavailable", map[string]any{
		"snapshot": map[string]any{
			"room_width_mm": 3000.0,
			"targets":       []any{map[string]any{"index": 2.0, "valid": true, "x_mm": 0.0, "y_mm": 500.0}},
		},
	}, t0)
	require.NoError(t, err)
	assert.Equal(t, 3000.0, f.Snapshot.RoomWidthMM)
	assert.Len(t, f.Tracks["2"], 1)

	f, err = s.IngestEntity("lounge", payload(""), nil, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5000.0, f.Snapshot.RoomWidthMM)
}

func TestIngestEntity_MalformedStateIsLogged(t *testing.T) {
	ctx := context.Background()
	log, err := eventlog.Open("")
	require.NoError(t, err)
	defer log.Close()

	s := newSession(t, WithEventLog(log))
	_, err = s.IngestEntity("lounge", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":1000}`), nil, t0)
	require.NoError(t, err)

	f, err := s.IngestEntity("lounge", "{broken", nil, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, f.Recovered)
	assert.NotEmpty(t, f.Status.Reason)
	assert.Len(t, f.Tracks["0"], 1)

	events, err := log.RecentEvents(ctx, "lounge", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, eventlog.KindMalformed, events[0].Kind)
	assert.Equal(t, eventlog.KindConnected, events[1].Kind)
}

func TestIngest_RequiresSensorID(t *testing.T) {
	s := newSession(t)
	_, err := s.Ingest("", payload(""), t0, 0)
	assert.Error(t, err)
}

func TestSetConfig(t *testing.T) {
	s := newSession(t)
	for i := 0; i < 5; i++ {
		_, err := s.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":1000}`), t0.Add(time.Duration(i)*time.Second), 0)
		require.NoError(t, err)
	}
	require.Len(t, s.Tracks("lounge")["0"], 5)

	bad := testConfig()
	bad.HistoryWindowMS = int64p(-5)
	assert.ErrorIs(t, s.SetConfig(bad), config.ErrInvalidConfig)
	assert.ErrorIs(t, s.SetConfig(nil), config.ErrInvalidConfig)

	next := testConfig()
	next.HistoryPoints = intp(2)
	require.NoError(t, s.SetConfig(next))
	assert.Same(t, next, s.Config())
	assert.Len(t, s.Tracks("lounge")["0"], 5, "history survives a config change")

	_, err := s.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":1000}`), t0.Add(5*time.Second), 0)
	require.NoError(t, err)
	assert.Len(t, s.Tracks("lounge")["0"], 2, "new limits apply on the next update")
}

func TestMarkDisconnected(t *testing.T) {
	s := newSession(t)
	_, err := s.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":1000}`), t0, 10*time.Millisecond)
	require.NoError(t, err)

	f := s.MarkDisconnected("lounge", "HTTP 503", t0.Add(time.Second))
	assert.False(t, f.Status.Connected)
	assert.Equal(t, "HTTP 503", f.Status.Reason)
	assert.Equal(t, t0, f.Status.LastUpdate, "last update is the last good reading")
	assert.Len(t, f.Tracks["0"], 1, "history is not cleared")

	st, ok := s.Status("lounge")
	require.True(t, ok)
	assert.False(t, st.Connected)

	never := s.MarkDisconnected("hallway", "connection refused", t0)
	assert.Equal(t, 4000.0, never.Snapshot.RoomWidthMM)
	assert.Empty(t, never.Tracks)
}

func TestFrames_ConfigOrder(t *testing.T) {
	s := newSession(t)
	for _, id := range []string{"zeta", "hallway", "lounge", "alpha"} {
		_, err := s.Ingest(id, payload(""), t0, 0)
		require.NoError(t, err)
	}
	var ids []string
	for _, f := range s.Frames() {
		ids = append(ids, f.SensorID)
	}
	assert.Equal(t, []string{"lounge", "hallway", "alpha", "zeta"}, ids)

	s.Reset()
	assert.Empty(t, s.Frames())
	assert.Empty(t, s.Tracks("lounge"))
}

func TestSubscribe(t *testing.T) {
	s := newSession(t)
	id, ch := s.Subscribe()

	_, err := s.Ingest("lounge", payload(""), t0, 0)
	require.NoError(t, err)
	select {
	case f := <-ch:
		assert.Equal(t, "lounge", f.SensorID)
	case <-time.After(time.Second):
		t.Fatal("no frame published")
	}

	s.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	s.Unsubscribe(id)

	// A full subscriber does not block ingestion.
	_, slow := s.Subscribe()
	for i := 0; i < subscriberBuffer+5; i++ {
		_, err := s.Ingest("lounge", payload(""), t0.Add(time.Duration(i)*time.Second), 0)
		require.NoError(t, err)
	}
	assert.Len(t, slow, subscriberBuffer)
}

func TestEventLogIntegration(t *testing.T) {
	ctx := context.Background()
	log, err := eventlog.Open("")
	require.NoError(t, err)
	defer log.Close()

	s := newSession(t, WithEventLog(log))
	_, err = s.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":1000}`), t0, 20*time.Millisecond)
	require.NoError(t, err)
	_, err = s.Ingest("lounge", payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":1100}`), t0.Add(time.Second), 40*time.Millisecond)
	require.NoError(t, err)
	s.MarkDisconnected("lounge", "timeout", t0.Add(2*time.Second))
	s.MarkDisconnected("lounge", "timeout", t0.Add(3*time.Second))
	_, err = s.Ingest("lounge", "garbage", t0.Add(4*time.Second), 0)
	require.NoError(t, err)

	events, err := log.RecentEvents(ctx, "lounge", 10)
	require.NoError(t, err)
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	// Newest first; repeated failures log one disconnect. Both events at
	// t0+4s share a timestamp so the later insert sorts first.
	assert.Equal(t, []string{
		eventlog.KindMalformed,
		eventlog.KindConnected,
		eventlog.KindDisconnected,
		eventlog.KindConnected,
	}, kinds)

	sum, err := log.Summary(ctx, "lounge")
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.Frames)
	assert.Equal(t, int64(1), sum.Recovered)
	assert.InDelta(t, 20.0, sum.MeanLatencyMS, 1e-9)
}

// fakeSource emits canned readings and then returns err.
type fakeSource struct {
	id       string
	readings []source.Reading
	err      error
}

func (f *fakeSource) SensorID() string { return f.id }

func (f *fakeSource) Run(ctx context.Context, emit source.EmitFunc) error {
	for _, r := range f.readings {
		emit(r)
	}
	return f.err
}

func TestRun(t *testing.T) {
	s := newSession(t)
	sources := []source.Source{
		&fakeSource{id: "lounge", readings: []source.Reading{
			{SensorID: "lounge", Payload: []byte(payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":1000}`)), At: t0},
			{SensorID: "lounge", Payload: []byte(payload(`{"index":0,"valid":true,"x_mm":0,"y_mm":1100}`)), At: t0.Add(time.Second)},
		}},
		&fakeSource{id: "hallway", readings: []source.Reading{
			{SensorID: "hallway", Err: errors.New("HTTP 500"), At: t0},
		}, err: errors.New("capture truncated")},
		&fakeSource{id: "demo", err: context.Canceled},
	}

	err := s.Run(context.Background(), sources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source hallway: capture truncated")
	assert.NotContains(t, err.Error(), "demo")

	assert.Len(t, s.Tracks("lounge")["0"], 2)
	st, ok := s.Status("hallway")
	require.True(t, ok)
	assert.False(t, st.Connected)
	assert.Equal(t, "HTTP 500", st.Reason)
}
