package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/serialmux"
	"github.com/banshee-data/radarview/internal/source"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Empty(t, *grpcListen)
	assert.False(t, *devMode)
	assert.Empty(t, *pcapFile)
	assert.Equal(t, uint(0), *pcapPort)
	assert.True(t, *pcapRealtime)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"radar"}, cfg.SensorIDs())

	cfg, err = loadConfig(filepath.Join("..", "..", config.ExampleConfigPath))
	require.NoError(t, err)
	assert.Equal(t, []string{"lounge", "hallway"}, cfg.SensorIDs())

	_, err = loadConfig("viewer.toml")
	assert.Error(t, err)
}

func TestSourcesFor(t *testing.T) {
	cfg := &config.ViewerConfig{Sensors: []config.SensorConfig{
		{ID: "lounge", Endpoint: "http://radar.local/api/snapshot"},
		{ID: "hallway"},
	}}

	t.Run("configured", func(t *testing.T) {
		srcs, err := sourcesFor(cfg, pcapReplay{}, session.SourceOptions{})
		require.NoError(t, err)
		require.Len(t, srcs, 1)
		assert.IsType(t, &source.HTTPSource{}, srcs[0])
	})

	t.Run("synthetic", func(t *testing.T) {
		srcs, err := sourcesFor(cfg, pcapReplay{}, session.SourceOptions{Synthetic: true})
		require.NoError(t, err)
		require.Len(t, srcs, 2)
		assert.Equal(t, "hallway", srcs[1].SensorID())
	})

	t.Run("pcap", func(t *testing.T) {
		srcs, err := sourcesFor(cfg, pcapReplay{Path: "capture.pcap", Port: 9000, Realtime: true}, session.SourceOptions{})
		require.NoError(t, err)
		require.Len(t, srcs, 1)
		p, ok := srcs[0].(*source.PCAPSource)
		require.True(t, ok)
		assert.Equal(t, "lounge", p.SensorID())
		assert.True(t, p.Realtime)

		srcs, err = sourcesFor(cfg, pcapReplay{Path: "capture.pcap", SensorID: "hallway"}, session.SourceOptions{})
		require.NoError(t, err)
		assert.Equal(t, "hallway", srcs[0].SensorID())
	})

	t.Run("bad port", func(t *testing.T) {
		_, err := sourcesFor(cfg, pcapReplay{Path: "capture.pcap", Port: 70000}, session.SourceOptions{})
		assert.Error(t, err)
	})
}

func postCommand(mux *http.ServeMux, path, command string) *httptest.ResponseRecorder {
	form := url.Values{"command": {command}}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSerialAdmin_FollowsReopenedPort(t *testing.T) {
	mux := http.NewServeMux()
	admin := newSerialAdmin(mux)

	first, firstPort := serialmux.NewTestableMux()
	admin.attach("hallway", first)
	rec := postCommand(mux, "/serial/hallway/debug/serial-command", "reset")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "reset\n", firstPort.Written())

	second, secondPort := serialmux.NewTestableMux()
	admin.attach("hallway", second)
	rec = postCommand(mux, "/serial/hallway/debug/serial-command", "snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "snapshot\n", secondPort.Written())
	assert.Equal(t, "reset\n", firstPort.Written())
}
