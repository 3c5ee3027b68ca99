package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/eventlog"
	"github.com/banshee-data/radarview/internal/httputil"
	"github.com/banshee-data/radarview/internal/render"
	"github.com/banshee-data/radarview/internal/session"
	"github.com/banshee-data/radarview/internal/snapshot"
	"github.com/banshee-data/radarview/internal/trails"
)

// Sensor badges in the node list.
const (
	BadgeLive = "LIVE"
	BadgeOff  = "OFF"
)

// SensorSummary is one row of the node list.
type SensorSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Accent     string    `json:"accent"`
	Badge      string    `json:"badge"`
	Connected  bool      `json:"connected"`
	Reason     string    `json:"reason,omitempty"`
	LastUpdate time.Time `json:"last_update,omitempty"`
	LatencyMS  float64   `json:"latency_ms"`
	Targets    int       `json:"targets"`
	Slots      int       `json:"slots"`
}

// EventsResponse is the body of the per-sensor events endpoint.
type EventsResponse struct {
	Events  []eventlog.Event      `json:"events"`
	Summary eventlog.FrameSummary `json:"summary"`
}

// ReloadResult is returned when a configuration reload is processed.
type ReloadResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Sensors []string `json:"sensors,omitempty"`
}

// sensorIDs lists configured sensors, then any that only pushed frames.
func (s *Server) sensorIDs() []string {
	ids := s.sess.Config().SensorIDs()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, f := range s.sess.Frames() {
		if !seen[f.SensorID] {
			ids = append(ids, f.SensorID)
		}
	}
	return ids
}

// frameFor resolves the {id} path value. Configured sensors without data
// get an empty frame; unknown ones a 404.
func (s *Server) frameFor(w http.ResponseWriter, r *http.Request) (session.Frame, bool) {
	id := r.PathValue("id")
	if f, ok := s.sess.Frame(id); ok {
		return f, true
	}
	cfg := s.sess.Config()
	if _, ok := cfg.Sensor(id); !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown sensor %q", id))
		return session.Frame{}, false
	}
	snap := snapshot.Empty(cfg.GeometryFor(id))
	return session.Frame{
		SensorID:   id,
		Snapshot:   snap,
		Tracks:     trails.TrackSet{},
		Status:     session.Status{Reason: "awaiting first snapshot"},
		Projection: s.sess.ProjectionFor(snap),
	}, true
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg := s.sess.Config()
	out := make([]SensorSummary, 0)
	for _, id := range s.sensorIDs() {
		row := SensorSummary{ID: id, Name: cfg.NameFor(id), Accent: cfg.AccentFor(id), Badge: BadgeOff}
		if f, ok := s.sess.Frame(id); ok {
			row.Connected = f.Status.Connected
			row.Reason = f.Status.Reason
			row.LastUpdate = f.Status.LastUpdate
			row.LatencyMS = float64(f.Status.Latency) / float64(time.Millisecond)
			row.Targets = len(f.Snapshot.ValidTargets())
			row.Slots = len(f.Tracks.Keys())
			if f.Status.Connected {
				row.Badge = BadgeLive
			}
		}
		out = append(out, row)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showSensor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, ok := s.frameFor(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, render.BuildView(f, s.sess.Config(), s.clock.Now()))
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, ok := s.frameFor(w, r)
	if !ok {
		return
	}
	cfg := s.sess.Config()
	rows := render.HistoryDetails(f.Tracks, s.clock.Now(), cfg.ShowHistoryDetailsFor(f.SensorID), cfg.GetSpeedUnits())
	if rows == nil {
		rows = []render.HistoryRow{}
	}
	httputil.WriteJSONOK(w, rows)
}

func (s *Server) showScene(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, ok := s.frameFor(w, r)
	if !ok {
		return
	}
	cfg := s.sess.Config()
	httputil.WriteJSONOK(w, render.BuildScene(f, cfg.GetMaxTrail(), cfg.AccentFor(f.SensorID)))
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request) (render.Plan, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return render.Plan{}, false
	}
	f, ok := s.frameFor(w, r)
	if !ok {
		return render.Plan{}, false
	}
	opts := render.PlanOptionsFor(s.sess.Config(), f.SensorID)
	if r.URL.Query().Get("mode") == string(render.ModeVelocity) {
		opts.Mode = render.ModeVelocity
	}
	return render.BuildPlan(f, opts), true
}

func (s *Server) planPNG(w http.ResponseWriter, r *http.Request) {
	p, ok := s.plan(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.WritePlanPNG(&buf, p, 0, 0); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render plan: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) planSVG(w http.ResponseWriter, r *http.Request) {
	p, ok := s.plan(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.WritePlanSVG(&buf, p, 0, 0); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render plan: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(buf.Bytes())
}

func (s *Server) planHTML(w http.ResponseWriter, r *http.Request) {
	p, ok := s.plan(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.WritePlanHTML(&buf, p, s.sess.Config().GetTitle()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render plan: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, ok := s.frameFor(w, r)
	if !ok {
		return
	}
	if s.events == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "event log is disabled")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 1000 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}

	events, err := s.events.RecentEvents(r.Context(), f.SensorID, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	summary, err := s.events.Summary(r.Context(), f.SensorID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to summarise frames: %v", err))
		return
	}
	httputil.WriteJSONOK(w, EventsResponse{Events: events, Summary: summary})
}

// entityPayload is the host-entity form of a pushed snapshot.
type entityPayload struct {
	State      *string        `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// pushSnapshot ingests a snapshot for any sensor id, either as a raw
// snapshot object or as a host entity {state, attributes}. Malformed
// snapshots are recovered like any other source, so the response is the
// resulting view.
func (s *Server) pushSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	body, err := httputil.ReadBody(r, maxSnapshotBytes)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}

	var frame session.Frame
	var entity entityPayload
	if json.Unmarshal(body, &entity) == nil && entity.State != nil {
		frame, err = s.sess.IngestEntity(id, *entity.State, entity.Attributes, s.clock.Now())
	} else {
		frame, err = s.sess.Ingest(id, body, s.clock.Now(), 0)
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, render.BuildView(frame, s.sess.Config(), s.clock.Now()))
}

func (s *Server) resetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.sess.Reset()
	httputil.WriteJSONOK(w, map[string]bool{"success": true})
}

// reloadConfig re-reads the configuration file. Presentation settings and
// history limits apply to the next frame; transports keep running as
// started.
func (s *Server) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.configPath == "" {
		httputil.WriteJSON(w, http.StatusConflict, ReloadResult{Message: "no configuration file to reload"})
		return
	}
	cfg, err := config.Load(s.configPath)
	if err == nil {
		err = s.sess.SetConfig(cfg)
	}
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, ReloadResult{Message: err.Error()})
		return
	}
	httputil.WriteJSONOK(w, ReloadResult{Success: true, Message: "configuration reloaded", Sensors: cfg.SensorIDs()})
}
