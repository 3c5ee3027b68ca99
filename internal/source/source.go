// Package source produces raw snapshot payloads for the session engine.
//
// Every source emits Readings: either a payload (a serialised snapshot) or a
// transport error. Decoding is left to the session so malformed payloads are
// recovered in one place.
package source

import (
	"context"
	"time"
)

// maxPayloadBytes bounds one snapshot payload from any transport.
const maxPayloadBytes = 1 << 20

// Reading is one payload, or one failure, from a sensor.
type Reading struct {
	SensorID string
	Payload  []byte
	// At is the observation time: the poll completion, serial arrival, or
	// capture timestamp on replay.
	At      time.Time
	Latency time.Duration
	// Err is set when the transport failed; Payload is then empty.
	Err error
}

// Failed reports whether the reading carries a transport error.
func (r Reading) Failed() bool { return r.Err != nil }

// EmitFunc receives readings. It is called from the source's goroutine.
type EmitFunc func(Reading)

// Source produces readings until ctx is done or the input is exhausted.
type Source interface {
	// SensorID is the sensor readings are attributed to by default.
	SensorID() string
	// Run blocks, calling emit for each reading. Finite sources return nil
	// when exhausted.
	Run(ctx context.Context, emit EmitFunc) error
}

// sleep waits for d or ctx, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
