package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/radarview/internal/monitoring"
	"github.com/banshee-data/radarview/internal/serialmux"
	"github.com/banshee-data/radarview/internal/timeutil"
)

var logSerial = monitoring.Component("serial")

// DefaultReconnectDelay is the wait between serial reconnect attempts.
const DefaultReconnectDelay = 2 * time.Second

// SerialSource reads newline-delimited snapshot JSON from a serial port,
// reopening the port after failures.
type SerialSource struct {
	sensorID string
	path     string
	opts     serialmux.PortOptions
	open     serialmux.Opener
	clock    timeutil.Clock

	ReconnectDelay time.Duration
	// OnOpen is called with each newly opened mux, e.g. to attach admin
	// routes. It may be nil.
	OnOpen func(serialmux.Mux)
}

// NewSerialSource creates a serial source. A nil opener uses the real port.
func NewSerialSource(sensorID, path string, opts serialmux.PortOptions, open serialmux.Opener, clock timeutil.Clock) *SerialSource {
	if open == nil {
		open = serialmux.OpenReal
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialSource{
		sensorID:       sensorID,
		path:           path,
		opts:           opts,
		open:           open,
		clock:          clock,
		ReconnectDelay: DefaultReconnectDelay,
	}
}

// SensorID implements Source.
func (s *SerialSource) SensorID() string { return s.sensorID }

// Run reads until ctx is done. Port failures are emitted as failed readings
// and followed by a reconnect.
func (s *SerialSource) Run(ctx context.Context, emit EmitFunc) error {
	for {
		err := s.session(ctx, emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logSerial("sensor=%s %s: %v", s.sensorID, s.path, err)
			emit(Reading{SensorID: s.sensorID, At: s.clock.Now(), Err: err})
		}
		if !sleep(ctx, s.ReconnectDelay) {
			return ctx.Err()
		}
	}
}

// session runs one open-read-close cycle.
func (s *SerialSource) session(ctx context.Context, emit EmitFunc) error {
	mux, err := s.open(s.path, s.opts)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer mux.Close()
	if s.OnOpen != nil {
		s.OnOpen(mux)
	}

	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	monitorErr := make(chan error, 1)
	go func() { monitorErr <- mux.Monitor(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-monitorErr:
			// Lines broadcast before the failure are still buffered.
			for drained := false; !drained; {
				select {
				case line, ok := <-lines:
					if !ok {
						drained = true
						break
					}
					s.handleLine(line, emit)
				default:
					drained = true
				}
			}
			if err == nil || errors.Is(err, context.Canceled) {
				return errors.New("port closed")
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return errors.New("port closed")
			}
			s.handleLine(line, emit)
		}
	}
}

func (s *SerialSource) handleLine(line string, emit EmitFunc) {
	switch serialmux.ClassifyLine(line) {
	case serialmux.LineSnapshot:
		emit(Reading{SensorID: s.sensorID, Payload: []byte(line), At: s.clock.Now()})
	case serialmux.LineLog:
		logSerial("sensor=%s firmware: %s", s.sensorID, line)
	}
}
