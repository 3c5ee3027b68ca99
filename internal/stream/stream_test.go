package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/monitoring"
	"github.com/banshee-data/radarview/internal/render"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func payload(y int) string {
	return fmt.Sprintf(`{"room_width_mm":5000,"room_depth_mm":4000,"sensor_origin_x_mm":2500,"sensor_origin_y_mm":0,"targets":[{"index":0,"valid":true,"x_mm":0,"y_mm":%d}]}`, y)
}

func newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(&config.ViewerConfig{Sensors: []config.SensorConfig{{ID: "lounge"}, {ID: "hallway"}}})
	require.NoError(t, err)
	return s
}

func ingest(t *testing.T, s *session.Session, sensorID string, y int, at time.Time) {
	t.Helper()
	_, err := s.Ingest(sensorID, payload(y), at, 0)
	require.NoError(t, err)
}

func dialBufconn(t *testing.T, sess *session.Session) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	Register(gs, NewServer(sess, timeutil.NewMockClock(t0.Add(time.Second))))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamTracks(t *testing.T) {
	sess := newSession(t)
	ingest(t, sess, "lounge", 1000, t0)
	conn := dialBufconn(t, sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := StreamTracks(ctx, conn, "lounge")
	require.NoError(t, err)

	first, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lounge", first.GetFields()["sensor_id"].GetStringValue())
	assert.Equal(t, "Sensor 1", first.GetFields()["name"].GetStringValue())
	tracks := first.GetFields()["tracks"].GetStructValue().GetFields()
	assert.Len(t, tracks["0"].GetListValue().GetValues(), 1)

	ingest(t, sess, "hallway", 500, t0.Add(100*time.Millisecond))
	ingest(t, sess, "lounge", 1100, t0.Add(300*time.Millisecond))

	next, err := st.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lounge", next.GetFields()["sensor_id"].GetStringValue(), "other sensors are filtered out")
	tracks = next.GetFields()["tracks"].GetStructValue().GetFields()
	assert.Len(t, tracks["0"].GetListValue().GetValues(), 2)

	scene := next.GetFields()["scene"].GetStructValue().GetFields()
	targets := scene["targets"].GetListValue().GetValues()
	require.Len(t, targets, 1)
	assert.True(t, targets[0].GetStructValue().GetFields()["visible"].GetBoolValue())
}

func TestStreamTracks_AllSensors(t *testing.T) {
	sess := newSession(t)
	ingest(t, sess, "hallway", 500, t0)
	ingest(t, sess, "lounge", 1000, t0)
	conn := dialBufconn(t, sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := StreamTracks(ctx, conn, "")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 2; i++ {
		m, err := st.Recv()
		require.NoError(t, err)
		ids = append(ids, m.GetFields()["sensor_id"].GetStringValue())
	}
	assert.Equal(t, []string{"lounge", "hallway"}, ids, "configuration order")
}

func TestStreamTracks_UnknownSensor(t *testing.T) {
	conn := dialBufconn(t, newSession(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := StreamTracks(ctx, conn, "attic")
	require.NoError(t, err)
	_, err = st.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestViewToStruct(t *testing.T) {
	sess := newSession(t)
	ingest(t, sess, "lounge", 1000, t0)
	f, ok := sess.Frame("lounge")
	require.True(t, ok)

	s, err := ViewToStruct(render.BuildView(f, sess.Config(), t0))
	require.NoError(t, err)
	st := s.GetFields()["status"].GetStructValue().GetFields()
	assert.True(t, st["connected"].GetBoolValue())
	legend := s.GetFields()["legend"].GetListValue().GetValues()
	require.Len(t, legend, 1)
	assert.Equal(t, "T0", legend[0].GetStructValue().GetFields()["label"].GetStringValue())
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + query
}

func readView(t *testing.T, conn *websocket.Conn) render.View {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var v render.View
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestHub(t *testing.T) {
	sess := newSession(t)
	ingest(t, sess, "lounge", 1000, t0)
	hub := NewHub(sess, timeutil.NewMockClock(t0))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?sensor=lounge"), nil)
	require.NoError(t, err)
	defer conn.Close()

	v := readView(t, conn)
	assert.Equal(t, "lounge", v.SensorID)
	assert.Len(t, v.Tracks["0"], 1)
	assert.True(t, v.Plan.Drawable)
	assert.Equal(t, int64(1), hub.Clients())

	ingest(t, sess, "hallway", 500, t0.Add(100*time.Millisecond))
	ingest(t, sess, "lounge", 1100, t0.Add(300*time.Millisecond))
	v = readView(t, conn)
	assert.Equal(t, "lounge", v.SensorID)
	assert.Len(t, v.Tracks["0"], 2)
}

func TestHub_UnknownSensor(t *testing.T) {
	srv := httptest.NewServer(NewHub(newSession(t), nil))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?sensor=attic"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
