// Package api serves the sensor views, renders and controls over HTTP.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/radarview/internal/eventlog"
	"github.com/banshee-data/radarview/internal/httputil"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/stream"
	"github.com/banshee-data/radarview/internal/timeutil"
	"github.com/banshee-data/radarview/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxSnapshotBytes caps pushed snapshot bodies.
const maxSnapshotBytes = 1 << 20

// Server exposes one session over HTTP.
type Server struct {
	sess       *session.Session
	events     *eventlog.Log
	hub        *stream.Hub
	clock      timeutil.Clock
	configPath string
}

// Option configures a Server.
type Option func(*Server)

// WithEventLog serves connectivity events from l.
func WithEventLog(l *eventlog.Log) Option {
	return func(s *Server) { s.events = l }
}

// WithClock sets the clock used for ingestion and history ages.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithConfigPath enables configuration reloads from path.
func WithConfigPath(path string) Option {
	return func(s *Server) { s.configPath = path }
}

func NewServer(sess *session.Session, opts ...Option) *Server {
	s := &Server{sess: sess, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = stream.NewHub(sess, s.clock)
	return s
}

// Hub returns the websocket hub behind /ws.
func (s *Server) Hub() *stream.Hub { return s.hub }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration. The
// websocket route is passed through untouched so the upgrade can hijack the
// connection.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sensors", s.listSensors)
	mux.HandleFunc("/api/sensors/{id}", s.showSensor)
	mux.HandleFunc("/api/sensors/{id}/history", s.showHistory)
	mux.HandleFunc("/api/sensors/{id}/scene", s.showScene)
	mux.HandleFunc("/api/sensors/{id}/plan.png", s.planPNG)
	mux.HandleFunc("/api/sensors/{id}/plan.svg", s.planSVG)
	mux.HandleFunc("/api/sensors/{id}/plan.html", s.planHTML)
	mux.HandleFunc("/api/sensors/{id}/events", s.listEvents)
	mux.HandleFunc("/api/sensors/{id}/snapshot", s.pushSnapshot)
	mux.HandleFunc("/api/reset", s.resetHistory)
	mux.HandleFunc("/api/config/reload", s.reloadConfig)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.Handle("/ws", s.hub)
	return mux
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
