package snapshot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/radarview/internal/monitoring"
)

// Entity states that carry no usable reading.
const (
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

// Result is the outcome of a recovering decode.
type Result struct {
	Snapshot Snapshot
	// Recovered is true when the payload was unusable and Snapshot is the
	// last known good reading (or an empty snapshot).
	Recovered bool
	// Err is the decode error, if any. It is also set without Recovered when
	// an entity state was unparseable but its attributes were usable.
	Err error
}

// Decoder decodes payloads and falls back to the last known good snapshot
// per sensor. It never returns an error to its caller.
type Decoder struct {
	mu       sync.Mutex
	lastGood map[string]Snapshot
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{lastGood: make(map[string]Snapshot)}
}

// Decode parses raw for sensorID. On failure the last good snapshot for the
// sensor is returned, or an empty snapshot built from d.
func (dec *Decoder) Decode(sensorID string, raw any, d Defaults) Result {
	snap, err := ParseWithDefaults(raw, d)
	dec.mu.Lock()
	defer dec.mu.Unlock()
	if err != nil {
		monitoring.Logf("[snapshot] sensor=%s unable to parse snapshot: %v", sensorID, err)
		return dec.recoverLocked(sensorID, d, err)
	}
	dec.lastGood[sensorID] = snap.Clone()
	return Result{Snapshot: snap}
}

// DecodeEntity is Decode for a host entity (see ParseEntity). A usable
// attribute snapshot is applied even when the state was unparseable; the
// state error is still reported in Result.Err.
func (dec *Decoder) DecodeEntity(sensorID, state string, attributes map[string]any, d Defaults) Result {
	snap, usable, err := parseEntity(state, attributes, d)
	dec.mu.Lock()
	defer dec.mu.Unlock()
	if !usable {
		monitoring.Logf("[snapshot] sensor=%s unable to parse entity: %v", sensorID, err)
		return dec.recoverLocked(sensorID, d, err)
	}
	dec.lastGood[sensorID] = snap.Clone()
	return Result{Snapshot: snap, Err: err}
}

func (dec *Decoder) recoverLocked(sensorID string, d Defaults, err error) Result {
	if last, ok := dec.lastGood[sensorID]; ok {
		return Result{Snapshot: last.Clone(), Recovered: true, Err: err}
	}
	return Result{Snapshot: Empty(d), Recovered: true, Err: err}
}

// LastGood returns the last successfully decoded snapshot for sensorID.
func (dec *Decoder) LastGood(sensorID string) (Snapshot, bool) {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	s, ok := dec.lastGood[sensorID]
	if !ok {
		return Snapshot{}, false
	}
	return s.Clone(), true
}

// ParseEntity handles a host-provided entity: a state string holding the
// serialised snapshot plus an attributes map that may carry a decoded
// "snapshot" object. Unusable states fall back to the attribute snapshot.
// An unparseable state is reported as an error wrapping
// ErrMalformedSnapshot; the returned snapshot is then the attribute fallback,
// or an empty one.
func ParseEntity(state string, attributes map[string]any, d Defaults) (Snapshot, error) {
	snap, _, err := parseEntity(state, attributes, d)
	return snap, err
}

// parseEntity also reports whether the returned snapshot carries real data.
func parseEntity(state string, attributes map[string]any, d Defaults) (Snapshot, bool, error) {
	fromAttributes := func(stateErr error) (Snapshot, bool, error) {
		attrs, ok := attributes["snapshot"].(map[string]any)
		if !ok {
			return Empty(d), stateErr == nil, stateErr
		}
		snap, err := fromObject(attrs, d)
		if err != nil {
			return Empty(d), false, errors.Join(stateErr, err)
		}
		return snap, true, stateErr
	}
	if state == "" || state == StateUnknown || state == StateUnavailable {
		return fromAttributes(nil)
	}
	snap, err := ParseWithDefaults(state, d)
	if err != nil {
		monitoring.Logf("[snapshot] entity state unparseable, using attributes: %v", err)
		return fromAttributes(fmt.Errorf("entity state: %w", err))
	}
	return snap, true, nil
}
