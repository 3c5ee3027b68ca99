// Package session is the trail-tracking engine shared by every front end.
//
// A Session owns one configuration, one track store and one decoder. Sources
// feed it readings; it decodes them, updates trails, tracks connectivity and
// publishes a Frame per update to subscribers. There is no package-level
// state: independent sessions never share history.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/radarview/internal/config"
	"github.com/banshee-data/radarview/internal/eventlog"
	"github.com/banshee-data/radarview/internal/monitoring"
	"github.com/banshee-data/radarview/internal/projection"
	"github.com/banshee-data/radarview/internal/snapshot"
	"github.com/banshee-data/radarview/internal/source"
	"github.com/banshee-data/radarview/internal/timeutil"
	"github.com/banshee-data/radarview/internal/trails"
)

var logf = monitoring.Component("session")

const subscriberBuffer = 16

// Status is the connectivity state of one sensor.
type Status struct {
	Connected  bool          `json:"connected"`
	Reason     string        `json:"reason,omitempty"`
	LastUpdate time.Time     `json:"last_update,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
}

// Frame is the engine output for one sensor after one update.
type Frame struct {
	SensorID string            `json:"sensor_id"`
	Snapshot snapshot.Snapshot `json:"snapshot"`
	Tracks   trails.TrackSet   `json:"tracks"`
	Status   Status            `json:"status"`
	// Recovered is set when the payload was unusable and Snapshot is the
	// last known good reading.
	Recovered bool `json:"recovered"`
	// Projection is the mapping the tracks were projected with.
	Projection projection.Config `json:"-"`
	At         time.Time         `json:"at"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used when a reading carries no timestamp.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithEventLog records connectivity events and frame statistics.
func WithEventLog(l *eventlog.Log) Option {
	return func(s *Session) { s.events = l }
}

// WithScene overrides the 3D scene mapping.
func WithScene(sc projection.Scene) Option {
	return func(s *Session) { s.scene = sc }
}

// Session is one visualisation session.
type Session struct {
	id      string
	cfg     atomic.Pointer[config.ViewerConfig]
	clock   timeutil.Clock
	events  *eventlog.Log
	scene   projection.Scene
	store   *trails.Store
	decoder *snapshot.Decoder

	mu     sync.RWMutex
	frames map[string]Frame
	status map[string]Status

	subMu sync.Mutex
	subs  map[string]chan Frame
}

// New creates a session for cfg, which must be valid.
func New(cfg *config.ViewerConfig, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:      uuid.NewString(),
		clock:   timeutil.RealClock{},
		decoder: snapshot.NewDecoder(),
		frames:  make(map[string]Frame),
		status:  make(map[string]Status),
		subs:    make(map[string]chan Frame),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg.Store(cfg)
	s.store = trails.NewStore(s.limitsFor)
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Config returns the active configuration.
func (s *Session) Config() *config.ViewerConfig { return s.cfg.Load() }

// SetConfig swaps the configuration. Invalid configurations are refused and
// the previous one stays active. History is kept; new limits apply from the
// next update.
func (s *Session) SetConfig(cfg *config.ViewerConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil configuration", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg.Store(cfg)
	logf("session=%s configuration updated (%d sensors)", s.id, len(cfg.Sensors))
	return nil
}

func (s *Session) limitsFor(sensorID string) trails.Limits {
	cfg := s.Config()
	return trails.Limits{
		MaxPoints: cfg.HistoryPointsFor(sensorID),
		MaxAge:    cfg.HistoryWindowFor(sensorID),
	}
}

// ProjectionFor builds the projection of snap for sensorID on the configured
// plan surface.
func (s *Session) ProjectionFor(snap snapshot.Snapshot) projection.Config {
	w, h := s.Config().GetPlanSurface()
	return snap.Projection(projection.Surface{Width: w, Height: h}, s.scene)
}

// Ingest decodes raw for sensorID and applies it at time at. A zero at uses
// the session clock. Malformed payloads are recovered, never rejected.
func (s *Session) Ingest(sensorID string, raw any, at time.Time, latency time.Duration) (Frame, error) {
	res := s.decoder.Decode(sensorID, raw, s.Config().GeometryFor(sensorID))
	return s.apply(sensorID, res, at, latency)
}

// IngestEntity applies a host entity: a serialised snapshot in state plus an
// attributes map that may carry a decoded "snapshot".
func (s *Session) IngestEntity(sensorID, state string, attributes map[string]any, at time.Time) (Frame, error) {
	res := s.decoder.DecodeEntity(sensorID, state, attributes, s.Config().GeometryFor(sensorID))
	return s.apply(sensorID, res, at, 0)
}

func (s *Session) apply(sensorID string, res snapshot.Result, at time.Time, latency time.Duration) (Frame, error) {
	if sensorID == "" {
		return Frame{}, errors.New("sensor id is required")
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	proj := s.ProjectionFor(res.Snapshot)
	// Recovered snapshots replay the last good reading and add no sightings.
	var tracks trails.TrackSet
	var err error
	if res.Recovered {
		tracks, err = s.store.Prune(sensorID, at)
	} else {
		tracks, err = s.store.Update(sensorID, res.Snapshot, proj, at)
	}
	if err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	prev, known := s.status[sensorID]
	st := Status{Connected: true, LastUpdate: at, Latency: latency}
	if res.Err != nil {
		st.Reason = res.Err.Error()
	}
	s.status[sensorID] = st
	frame := Frame{
		SensorID:   sensorID,
		Snapshot:   res.Snapshot,
		Tracks:     tracks,
		Status:     st,
		Recovered:  res.Recovered,
		Projection: proj,
		At:         at,
	}
	s.frames[sensorID] = frame
	s.mu.Unlock()

	if !known || !prev.Connected {
		s.recordEvent(sensorID, eventlog.KindConnected, "", at)
	}
	if res.Err != nil {
		s.recordEvent(sensorID, eventlog.KindMalformed, res.Err.Error(), at)
	}
	s.recordFrame(frame)
	s.publish(frame)
	return frame.clone(), nil
}

// MarkDisconnected records a transport failure. History is kept; it ages
// out on later updates.
func (s *Session) MarkDisconnected(sensorID, reason string, at time.Time) Frame {
	if at.IsZero() {
		at = s.clock.Now()
	}
	s.mu.Lock()
	prev, known := s.status[sensorID]
	st := prev
	st.Connected = false
	st.Reason = reason
	s.status[sensorID] = st

	frame, ok := s.frames[sensorID]
	if !ok {
		snap, ok := s.decoder.LastGood(sensorID)
		if !ok {
			snap = snapshot.Empty(s.Config().GeometryFor(sensorID))
		}
		frame = Frame{SensorID: sensorID, Snapshot: snap, Projection: s.ProjectionFor(snap)}
	}
	frame.Tracks = s.store.Tracks(sensorID)
	frame.Status = st
	frame.At = at
	s.frames[sensorID] = frame
	s.mu.Unlock()

	if !known || prev.Connected {
		s.recordEvent(sensorID, eventlog.KindDisconnected, reason, at)
	}
	s.publish(frame)
	return frame.clone()
}

// Frame returns the latest frame for sensorID.
func (s *Session) Frame(sensorID string) (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[sensorID]
	if !ok {
		return Frame{}, false
	}
	return f.clone(), true
}

// Frames returns the latest frame of every sensor: configured sensors in
// configuration order, then any others sorted by id.
func (s *Session) Frames() []Frame {
	order := s.Config().SensorIDs()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Frame, 0, len(s.frames))
	listed := make(map[string]bool, len(order))
	for _, id := range order {
		listed[id] = true
		if f, ok := s.frames[id]; ok {
			out = append(out, f.clone())
		}
	}
	var extra []string
	for id := range s.frames {
		if !listed[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		out = append(out, s.frames[id].clone())
	}
	return out
}

// Status returns the connectivity state of sensorID.
func (s *Session) Status(sensorID string) (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[sensorID]
	return st, ok
}

// Tracks returns a copy of sensorID's current tracks.
func (s *Session) Tracks(sensorID string) trails.TrackSet {
	return s.store.Tracks(sensorID)
}

// Reset drops all history, frames and status.
func (s *Session) Reset() {
	s.store.Reset()
	s.mu.Lock()
	s.frames = make(map[string]Frame)
	s.status = make(map[string]Status)
	s.mu.Unlock()
}

// Subscribe registers for frames. Slow subscribers miss frames rather than
// stall ingestion.
func (s *Session) Subscribe() (string, <-chan Frame) {
	id := uuid.NewString()
	ch := make(chan Frame, subscriberBuffer)
	s.subMu.Lock()
	s.subs[id] = ch
	s.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (s *Session) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Session) publish(f Frame) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- f.clone():
		default:
		}
	}
}

// Handle applies one source reading.
func (s *Session) Handle(r source.Reading) {
	if r.Failed() {
		s.MarkDisconnected(r.SensorID, r.Err.Error(), r.At)
		return
	}
	if _, err := s.Ingest(r.SensorID, r.Payload, r.At, r.Latency); err != nil {
		logf("session=%s sensor=%s ingest failed: %v", s.id, r.SensorID, err)
	}
}

// Run drives every source until ctx is done or all sources finish. Source
// errors other than cancellation are joined and returned.
func (s *Session) Run(ctx context.Context, sources []source.Source) error {
	var wg sync.WaitGroup
	errs := make([]error, len(sources))
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src source.Source) {
			defer wg.Done()
			err := src.Run(ctx, s.Handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				logf("session=%s source %s stopped: %v", s.id, src.SensorID(), err)
				errs[i] = fmt.Errorf("source %s: %w", src.SensorID(), err)
			}
		}(i, src)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *Session) recordEvent(sensorID, kind, reason string, at time.Time) {
	if s.events == nil {
		return
	}
	if err := s.events.RecordEvent(context.Background(), sensorID, kind, reason, at); err != nil {
		logf("session=%s %v", s.id, err)
	}
}

func (s *Session) recordFrame(f Frame) {
	if s.events == nil {
		return
	}
	points := 0
	for _, tr := range f.Tracks {
		points += len(tr)
	}
	stat := eventlog.FrameStat{
		SensorID:     f.SensorID,
		ObservedAt:   f.At,
		Targets:      len(f.Snapshot.Targets),
		ValidTargets: len(f.Snapshot.ValidTargets()),
		Slots:        len(f.Tracks),
		Points:       points,
		Recovered:    f.Recovered,
		Latency:      f.Status.Latency,
	}
	if err := s.events.RecordFrame(context.Background(), stat); err != nil {
		logf("session=%s %v", s.id, err)
	}
}

func (f Frame) clone() Frame {
	c := f
	c.Snapshot = f.Snapshot.Clone()
	c.Tracks = f.Tracks.Clone()
	return c
}
