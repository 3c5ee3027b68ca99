// Package eventlog keeps a queryable, process-lifetime record of session
// events: sensor connectivity changes and per-frame statistics.
//
// The log lives in an in-memory SQLite database. It is never written to disk,
// so nothing survives a restart; it exists for live diagnostics through the
// API and the /debug/tailsql/ console.
package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/radarview/internal/httputil"
	"github.com/banshee-data/radarview/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Event kinds.
const (
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
	KindMalformed    = "malformed"
)

// Event is one connectivity or decode event.
type Event struct {
	ID         int64     `json:"id"`
	SensorID   string    `json:"sensor_id"`
	Kind       string    `json:"kind"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FrameStat summarises one ingested frame.
type FrameStat struct {
	SensorID     string
	ObservedAt   time.Time
	Targets      int
	ValidTargets int
	Slots        int
	Points       int
	Recovered    bool
	Latency      time.Duration
}

// FrameSummary aggregates the frame statistics of one sensor.
type FrameSummary struct {
	SensorID      string    `json:"sensor_id"`
	Frames        int64     `json:"frames"`
	Recovered     int64     `json:"recovered"`
	MaxPoints     int64     `json:"max_points"`
	MeanLatencyMS float64   `json:"mean_latency_ms"`
	LastAt        time.Time `json:"last_at,omitempty"`
}

// DefaultRetention is the number of rows kept per sensor in each table.
// At the default 300 ms interval this is about five minutes of frames.
const DefaultRetention = 1000

// Log is the session event log.
type Log struct {
	db        *sql.DB
	name      string
	label     string
	retention atomic.Int64
}

// Open creates an in-memory event log and applies its schema. An empty name
// picks a unique one, so each session gets an isolated database.
func Open(name string) (*Log, error) {
	if name == "" {
		name = "radarview-" + uuid.NewString()
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	// A shared in-memory database is dropped when its last connection
	// closes, and SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	l := &Log{db: db, name: name, label: "Session events"}
	l.retention.Store(DefaultRetention)
	if err := l.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load event log migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close the shared *sql.DB.
	m.Log = &migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("event log migration failed: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (l *Log) SchemaVersion(ctx context.Context) (uint, error) {
	var v uint
	err := l.db.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Close releases the database. The in-memory contents are discarded.
func (l *Log) Close() error {
	return l.db.Close()
}

// SetRetention sets how many event and frame rows are kept per sensor.
// Values below one are ignored.
func (l *Log) SetRetention(n int) {
	if n > 0 {
		l.retention.Store(int64(n))
	}
}

// trim deletes all but the newest retained rows of sensorID in table.
func (l *Log) trim(ctx context.Context, table, idColumn, sensorID string) error {
	q := fmt.Sprintf(`
		DELETE FROM %[1]s WHERE sensor_id = ? AND %[2]s <= (
			SELECT %[2]s FROM %[1]s WHERE sensor_id = ?
			ORDER BY %[2]s DESC LIMIT 1 OFFSET ?)`, table, idColumn)
	if _, err := l.db.ExecContext(ctx, q, sensorID, sensorID, l.retention.Load()); err != nil {
		return fmt.Errorf("failed to trim %s for %s: %w", table, sensorID, err)
	}
	return nil
}

// RecordEvent stores a connectivity or decode event.
func (l *Log) RecordEvent(ctx context.Context, sensorID, kind, reason string, at time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO connectivity_events (sensor_id, kind, reason, occurred_at_ns) VALUES (?, ?, ?, ?)`,
		sensorID, kind, reason, at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record %s event for %s: %w", kind, sensorID, err)
	}
	return l.trim(ctx, "connectivity_events", "event_id", sensorID)
}

// RecordFrame stores one frame's statistics.
func (l *Log) RecordFrame(ctx context.Context, f FrameStat) error {
	recovered := 0
	if f.Recovered {
		recovered = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO frame_stats (sensor_id, observed_at_ns, targets, valid_targets, slots, points, recovered, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.SensorID, f.ObservedAt.UnixNano(), f.Targets, f.ValidTargets, f.Slots, f.Points, recovered,
		float64(f.Latency)/float64(time.Millisecond))
	if err != nil {
		return fmt.Errorf("failed to record frame for %s: %w", f.SensorID, err)
	}
	return l.trim(ctx, "frame_stats", "frame_id", f.SensorID)
}

// RecentEvents returns up to limit events for sensorID, newest first. An
// empty sensorID matches every sensor.
func (l *Log) RecentEvents(ctx context.Context, sensorID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, sensor_id, kind, reason, occurred_at_ns
		FROM connectivity_events
		WHERE ? = '' OR sensor_id = ?
		ORDER BY occurred_at_ns DESC, event_id DESC
		LIMIT ?`, sensorID, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var ns int64
		if err := rows.Scan(&e.ID, &e.SensorID, &e.Kind, &e.Reason, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OccurredAt = time.Unix(0, ns).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Summary aggregates the retained frame statistics for sensorID.
func (l *Log) Summary(ctx context.Context, sensorID string) (FrameSummary, error) {
	s := FrameSummary{SensorID: sensorID}
	var last sql.NullInt64
	var maxPoints sql.NullInt64
	var meanLatency sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(recovered), 0), MAX(points), AVG(latency_ms), MAX(observed_at_ns)
		FROM frame_stats WHERE sensor_id = ?`, sensorID).
		Scan(&s.Frames, &s.Recovered, &maxPoints, &meanLatency, &last)
	if err != nil {
		return s, fmt.Errorf("failed to summarise frames for %s: %w", sensorID, err)
	}
	s.MaxPoints = maxPoints.Int64
	s.MeanLatencyMS = meanLatency.Float64
	if last.Valid {
		s.LastAt = time.Unix(0, last.Int64).UTC()
	}
	return s, nil
}

// AttachAdminRoutes mounts a tailsql console over the event log and a JSON
// dump of recent events under /debug/.
func (l *Log) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+l.name, l.db, &tailsql.DBOptions{
		Label: l.label,
	})
	debug.Handle("tailsql/", "Live SQL over the session event log", tsql.NewMux())
	debug.Handle("events", "Recent connectivity events (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		events, err := l.RecentEvents(r.Context(), r.URL.Query().Get("sensor"), 200)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, events)
	}))
	return nil
}
