package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/radarview/internal/httputil"
	"github.com/banshee-data/radarview/internal/monitoring"
	"github.com/banshee-data/radarview/internal/timeutil"
)

var logHTTP = monitoring.Component("poller")

// HTTPSource polls a sensor endpoint on a fixed interval.
type HTTPSource struct {
	sensorID string
	endpoint string
	interval time.Duration
	client   httputil.HTTPClient
	clock    timeutil.Clock

	// Timeout bounds one poll. Zero uses the interval, at least one second.
	Timeout time.Duration
}

// NewHTTPSource creates a poller. Nil client and clock use the defaults.
func NewHTTPSource(sensorID, endpoint string, interval time.Duration, client httputil.HTTPClient, clock timeutil.Clock) *HTTPSource {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HTTPSource{
		sensorID: sensorID,
		endpoint: endpoint,
		interval: interval,
		client:   client,
		clock:    clock,
	}
}

// SensorID implements Source.
func (s *HTTPSource) SensorID() string { return s.sensorID }

// Run polls once immediately and then on every tick.
func (s *HTTPSource) Run(ctx context.Context, emit EmitFunc) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		emit(s.Poll(ctx))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

// Poll performs one request.
func (s *HTTPSource) Poll(ctx context.Context) Reading {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = s.interval
		if timeout < time.Second {
			timeout = time.Second
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.clock.Now()
	r := Reading{SensorID: s.sensorID}

	payload, err := s.fetch(ctx)
	r.At = s.clock.Now()
	r.Latency = r.At.Sub(start)
	if err != nil {
		logHTTP("sensor=%s poll failed: %v", s.sensorID, err)
		r.Err = err
		return r
	}
	r.Payload = payload
	return r
}

func (s *HTTPSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("bad endpoint: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxPayloadBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)
	}
	return UnwrapEnvelope(body), nil
}

// textSensorEnvelope is the REST shape of an ESPHome text sensor, which
// carries the snapshot serialised in its state.
type textSensorEnvelope struct {
	ID    string  `json:"id"`
	State *string `json:"state"`
	Value *string `json:"value"`
}

// UnwrapEnvelope returns the embedded snapshot string when body is a text
// sensor envelope, and body unchanged otherwise.
func UnwrapEnvelope(body []byte) []byte {
	var env textSensorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return body
	}
	if !strings.HasPrefix(env.ID, "text_sensor-") {
		return body
	}
	switch {
	case env.State != nil:
		return []byte(*env.State)
	case env.Value != nil:
		return []byte(*env.Value)
	default:
		return body
	}
}
