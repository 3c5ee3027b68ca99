package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/eventlog"
	"github.com/banshee-data/radarview/internal/monitoring"
	"github.com/banshee-data/radarview/internal/render"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/timeutil"
	"github.com/banshee-data/radarview/internal/version"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func payload(y int) string {
	return fmt.Sprintf(`{"room_width_mm":5000,"room_depth_mm":4000,"sensor_origin_x_mm":2500,"sensor_origin_y_mm":0,"targets":[{"index":0,"valid":true,"x_mm":0,"y_mm":%d,"speed_mps":0.5}]}`, y)
}

type testEnv struct {
	sess   *session.Session
	clock  *timeutil.MockClock
	events *eventlog.Log
	server *Server
	mux    *http.ServeMux
}

func setupTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	clock := timeutil.NewMockClock(t0)
	events, err := eventlog.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	cfg := &config.ViewerConfig{Sensors: []config.SensorConfig{{ID: "lounge", Name: "Lounge"}, {ID: "hallway"}}}
	sess, err := session.New(cfg, session.WithClock(clock), session.WithEventLog(events))
	require.NoError(t, err)

	opts = append([]Option{WithClock(clock), WithEventLog(events)}, opts...)
	srv := NewServer(sess, opts...)
	return &testEnv{sess: sess, clock: clock, events: events, server: srv, mux: srv.ServeMux()}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) push(t *testing.T, sensorID, body string) {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/sensors/"+sensorID+"/snapshot", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListSensors(t *testing.T) {
	env := setupTestServer(t)

	rows := decode[[]SensorSummary](t, env.do(http.MethodGet, "/api/sensors", ""))
	require.Len(t, rows, 2)
	assert.Equal(t, "Lounge", rows[0].Name)
	assert.Equal(t, "Sensor 2", rows[1].Name)
	assert.Equal(t, BadgeOff, rows[0].Badge)
	assert.Equal(t, "#ff6df5", rows[1].Accent)

	env.push(t, "lounge", payload(3000))
	env.push(t, "porch", payload(1000))

	rows = decode[[]SensorSummary](t, env.do(http.MethodGet, "/api/sensors", ""))
	require.Len(t, rows, 3)
	assert.Equal(t, BadgeLive, rows[0].Badge)
	assert.True(t, rows[0].Connected)
	assert.Equal(t, 1, rows[0].Targets)
	assert.Equal(t, 1, rows[0].Slots)
	assert.Equal(t, t0, rows[0].LastUpdate)
	assert.Equal(t, BadgeOff, rows[1].Badge)
	assert.Equal(t, "porch", rows[2].ID, "pushed sensors follow configured ones")

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodPost, "/api/sensors", "").Code)
}

func TestShowSensor(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(http.MethodGet, "/api/sensors/attic", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	v := decode[render.View](t, env.do(http.MethodGet, "/api/sensors/hallway", ""))
	assert.Equal(t, "hallway", v.SensorID)
	assert.False(t, v.Status.Connected)
	assert.Equal(t, "awaiting first snapshot", v.Status.Reason)
	assert.Empty(t, v.Plan.Markers)

	env.push(t, "lounge", payload(3000))
	env.clock.Advance(300 * time.Millisecond)
	env.push(t, "lounge", payload(2800))

	v = decode[render.View](t, env.do(http.MethodGet, "/api/sensors/lounge", ""))
	assert.True(t, v.Status.Connected)
	assert.Len(t, v.Tracks["0"], 2)
	require.Len(t, v.Legend, 1)
	assert.Equal(t, "T0", v.Legend[0].Label)
	require.Len(t, v.Plan.Markers, 1)
	require.Len(t, v.Plan.Trails, 1)
}

func TestShowHistory(t *testing.T) {
	env := setupTestServer(t)
	env.push(t, "lounge", payload(3000))
	env.clock.Advance(300 * time.Millisecond)
	env.push(t, "lounge", payload(2800))
	env.clock.Advance(350 * time.Millisecond)

	rows := decode[[]render.HistoryRow](t, env.do(http.MethodGet, "/api/sensors/lounge/history", ""))
	require.Len(t, rows, 1)
	assert.Equal(t, "T0", rows[0].Label)
	assert.Equal(t, 2, rows[0].Points)
	assert.Equal(t, "350 ms", rows[0].Age)
	assert.Contains(t, rows[0].Distances, " → ")

	rows = decode[[]render.HistoryRow](t, env.do(http.MethodGet, "/api/sensors/hallway/history", ""))
	assert.Empty(t, rows)
}

func TestShowScene(t *testing.T) {
	env := setupTestServer(t)
	env.push(t, "lounge", payload(3000))

	scene := decode[render.Scene](t, env.do(http.MethodGet, "/api/sensors/lounge/scene", ""))
	assert.True(t, scene.Drawable)
	assert.Equal(t, "#7df0ff", scene.Accent)
	require.Len(t, scene.Targets, 1)
	assert.True(t, scene.Targets[0].Visible)
	assert.False(t, scene.Targets[0].TrailVisible, "a single point draws no trail")

	env.clock.Advance(300 * time.Millisecond)
	env.push(t, "lounge", payload(2800))
	scene = decode[render.Scene](t, env.do(http.MethodGet, "/api/sensors/lounge/scene", ""))
	require.Len(t, scene.Targets, 1)
	assert.True(t, scene.Targets[0].TrailVisible)
	assert.Len(t, scene.Targets[0].Trail, config.DefaultMaxTrail)
}

func TestPlanRenders(t *testing.T) {
	env := setupTestServer(t)
	env.push(t, "lounge", payload(3000))
	env.clock.Advance(300 * time.Millisecond)
	env.push(t, "lounge", payload(2800))

	rec := env.do(http.MethodGet, "/api/sensors/lounge/plan.png?mode=velocity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)

	rec = env.do(http.MethodGet, "/api/sensors/lounge/plan.svg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")

	rec = env.do(http.MethodGet, "/api/sensors/lounge/plan.html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "trail T0")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/sensors/attic/plan.png", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodPost, "/api/sensors/lounge/plan.html", "").Code)
}

func TestListEvents(t *testing.T) {
	env := setupTestServer(t)
	env.push(t, "lounge", payload(3000))
	env.clock.Advance(time.Second)
	env.push(t, "lounge", "not json")

	resp := decode[EventsResponse](t, env.do(http.MethodGet, "/api/sensors/lounge/events", ""))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, eventlog.KindMalformed, resp.Events[0].Kind)
	assert.Equal(t, eventlog.KindConnected, resp.Events[1].Kind)
	assert.Equal(t, int64(2), resp.Summary.Frames)
	assert.Equal(t, int64(1), resp.Summary.Recovered)

	resp = decode[EventsResponse](t, env.do(http.MethodGet, "/api/sensors/lounge/events?limit=1", ""))
	assert.Len(t, resp.Events, 1)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/sensors/lounge/events?limit=x", "").Code)
}

func TestListEvents_Disabled(t *testing.T) {
	env := setupTestServer(t, WithEventLog(nil))
	rec := env.do(http.MethodGet, "/api/sensors/lounge/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPushSnapshot(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(http.MethodPost, "/api/sensors/lounge/snapshot", payload(3000))
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[render.View](t, rec)
	assert.Len(t, v.Tracks["0"], 1)
	assert.False(t, v.Recovered)

	state, err := json.Marshal(payload(2800))
	require.NoError(t, err)
	env.clock.Advance(300 * time.Millisecond)
	rec = env.do(http.MethodPost, "/api/sensors/lounge/snapshot", `{"state":`+string(state)+`,"attributes":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v = decode[render.View](t, rec)
	assert.Len(t, v.Tracks["0"], 2)

	rec = env.do(http.MethodPost, "/api/sensors/lounge/snapshot", "{broken")
	require.Equal(t, http.StatusOK, rec.Code)
	v = decode[render.View](t, rec)
	assert.True(t, v.Recovered, "malformed pushes fall back to the last good snapshot")
	assert.Len(t, v.Tracks["0"], 2, "recovered pushes add no sighting")
	assert.NotEmpty(t, v.Status.Reason)

	rec = env.do(http.MethodPost, "/api/sensors/lounge/snapshot", strings.Repeat(" ", maxSnapshotBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/api/sensors/lounge/snapshot", "").Code)
}

func TestResetHistory(t *testing.T) {
	env := setupTestServer(t)
	env.push(t, "lounge", payload(3000))

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/api/reset", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/reset", "").Code)

	assert.Empty(t, env.sess.Tracks("lounge"))
	rows := decode[[]SensorSummary](t, env.do(http.MethodGet, "/api/sensors", ""))
	assert.Equal(t, BadgeOff, rows[0].Badge)
}

func TestReloadConfig(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		env := setupTestServer(t)
		rec := env.do(http.MethodPost, "/api/config/reload", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.False(t, decode[ReloadResult](t, rec).Success)
	})

	t.Run("reloads", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "viewer.yaml")
		require.NoError(t, os.WriteFile(path, []byte("title: Porch\nsensors:\n  - id: porch\n    name: Porch\n"), 0644))
		env := setupTestServer(t, WithConfigPath(path))

		rec := env.do(http.MethodPost, "/api/config/reload", "")
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[ReloadResult](t, rec)
		assert.True(t, res.Success)
		assert.Equal(t, []string{"porch"}, res.Sensors)
		assert.Equal(t, "Porch", env.sess.Config().GetTitle())
	})

	t.Run("invalid file keeps config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "viewer.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"sensors": []}`), 0644))
		env := setupTestServer(t, WithConfigPath(path))

		rec := env.do(http.MethodPost, "/api/config/reload", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, []string{"lounge", "hallway"}, env.sess.Config().SensorIDs())
	})
}

func TestShowVersion(t *testing.T) {
	env := setupTestServer(t)
	info := decode[version.Info](t, env.do(http.MethodGet, "/api/version", ""))
	assert.Equal(t, version.Current(), info)
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sensors", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	assert.Contains(t, statusCodeColor(200), colorBoldGreen)
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(503), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}

func TestWebsocketThroughMiddleware(t *testing.T) {
	env := setupTestServer(t)
	env.push(t, "lounge", payload(3000))

	srv := httptest.NewServer(LoggingMiddleware(env.mux))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?sensor=lounge", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var v render.View
	require.NoError(t, json.Unmarshal(data, &v))
	assert.Equal(t, "Lounge", v.Name)
	assert.Equal(t, int64(1), env.server.Hub().Clients())
}
