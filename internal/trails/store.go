// Package trails owns the per-sensor, per-slot target history.
//
// Responsibilities: appending projected sightings to each slot's track,
// clearing a slot the frame its target goes invalid, bounding each track by
// point count, and pruning by age. Key types: Store, Track, TrackPoint.
//
// The store never reads a clock. Every mutation is driven by the "now" passed
// to Update, so identical call sequences produce identical tracks.
package trails

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/radarview/internal/projection"
	"github.com/banshee-data/radarview/internal/snapshot"
)

// Documented history defaults.
const (
	DefaultMaxPoints = 60
	DefaultMaxAge    = 45 * time.Second
)

// ErrInvalidLimits is returned when a sensor's history limits are not
// positive. The store is left untouched.
var ErrInvalidLimits = errors.New("invalid history limits")

// Limits bound one sensor's tracks.
type Limits struct {
	MaxPoints int
	MaxAge    time.Duration
}

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{MaxPoints: DefaultMaxPoints, MaxAge: DefaultMaxAge}
}

// Validate reports whether both limits are positive.
func (l Limits) Validate() error {
	if l.MaxPoints <= 0 {
		return fmt.Errorf("%w: max points must be positive, got %d", ErrInvalidLimits, l.MaxPoints)
	}
	if l.MaxAge <= 0 {
		return fmt.Errorf("%w: max age must be positive, got %v", ErrInvalidLimits, l.MaxAge)
	}
	return nil
}

// LimitsFunc resolves the current limits for a sensor. It is called on every
// Update so configuration changes take effect immediately.
type LimitsFunc func(sensorID string) Limits

// TrackPoint is one sighting of a slot.
type TrackPoint struct {
	Plan       projection.Point2D `json:"plan"`
	Scene      projection.Point3D `json:"scene"`
	DistanceMM float64            `json:"distance_mm"`
	SpeedMPS   float64            `json:"speed_mps"`
	Timestamp  time.Time          `json:"ts"`
}

// Track is a slot's history, oldest first.
type Track []TrackPoint

// Latest returns the newest point.
func (t Track) Latest() (TrackPoint, bool) {
	if len(t) == 0 {
		return TrackPoint{}, false
	}
	return t[len(t)-1], true
}

// TrackSet maps slot keys to tracks for one sensor.
type TrackSet map[string]Track

// Clone returns a deep copy.
func (ts TrackSet) Clone() TrackSet {
	out := make(TrackSet, len(ts))
	for k, tr := range ts {
		c := make(Track, len(tr))
		copy(c, tr)
		out[k] = c
	}
	return out
}

// Keys returns the slot keys ordered numerically, with non-numeric keys last
// in lexical order.
func (ts TrackSet) Keys() []string {
	keys := make([]string, 0, len(ts))
	for k := range ts {
		keys = append(keys, k)
	}
	SortSlotKeys(keys)
	return keys
}

// SortSlotKeys orders slot keys numerically where possible.
func SortSlotKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}

// sensorTracks is the slot table of one sensor.
type sensorTracks struct {
	slots map[string]Track
}

// ensureSlot returns the track for key, creating an empty one if absent.
func (s *sensorTracks) ensureSlot(key string) Track {
	tr, ok := s.slots[key]
	if !ok {
		tr = Track{}
		s.slots[key] = tr
	}
	return tr
}

// Store holds every sensor's tracks for one visualisation session.
type Store struct {
	mu      sync.RWMutex
	sensors map[string]*sensorTracks
	limits  LimitsFunc
}

// NewStore creates a store. A nil limits func uses DefaultLimits.
func NewStore(limits LimitsFunc) *Store {
	if limits == nil {
		limits = func(string) Limits { return DefaultLimits() }
	}
	return &Store{
		sensors: make(map[string]*sensorTracks),
		limits:  limits,
	}
}

// Update applies one snapshot for sensorID at time now and returns a copy of
// the sensor's resulting track set.
func (s *Store) Update(sensorID string, snap snapshot.Snapshot, cfg projection.Config, now time.Time) (TrackSet, error) {
	limits := s.limits(sensorID)
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("sensor %s: %w", sensorID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.sensorLocked(sensorID)
	seen := make(map[string]struct{}, len(snap.Targets))

	for _, target := range snap.Targets {
		key := target.Slot
		seen[key] = struct{}{}
		tr := st.ensureSlot(key)

		if !target.Present || !target.Valid {
			st.slots[key] = tr[:0]
			continue
		}

		tr = append(tr, sighting(target, cfg, now))
		if over := len(tr) - limits.MaxPoints; over > 0 {
			tr = append(Track{}, tr[over:]...)
		}
		st.slots[key] = tr
	}

	st.prune(now, limits.MaxAge, seen)
	return st.clone(), nil
}

// Prune ages out points for sensorID at time now without recording any
// sightings. Slots left empty are removed.
func (s *Store) Prune(sensorID string, now time.Time) (TrackSet, error) {
	limits := s.limits(sensorID)
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("sensor %s: %w", sensorID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.sensorLocked(sensorID)
	st.prune(now, limits.MaxAge, nil)
	return st.clone(), nil
}

func sighting(target snapshot.Target, cfg projection.Config, now time.Time) TrackPoint {
	distance := target.DistanceMM
	if !target.HasDistance {
		distance = math.Hypot(target.XMM, target.YMM)
	}
	speed := 0.0
	if target.HasSpeed {
		speed = target.SpeedMPS
	}
	return TrackPoint{
		Plan:       projection.ClampToSurface(projection.Project(target.XMM, target.YMM, cfg), cfg),
		Scene:      projection.Project3D(target.XMM, target.YMM, speed, cfg),
		DistanceMM: distance,
		SpeedMPS:   speed,
		Timestamp:  now,
	}
}

// prune drops aged points and removes empty slots that were not seen.
func (st *sensorTracks) prune(now time.Time, maxAge time.Duration, seen map[string]struct{}) {
	for key, tr := range st.slots {
		kept := tr[:0]
		for _, p := range tr {
			if now.Sub(p.Timestamp) <= maxAge {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			if _, ok := seen[key]; !ok {
				delete(st.slots, key)
				continue
			}
		}
		st.slots[key] = kept
	}
}

func (st *sensorTracks) clone() TrackSet {
	return TrackSet(st.slots).Clone()
}

func (s *Store) sensorLocked(sensorID string) *sensorTracks {
	st, ok := s.sensors[sensorID]
	if !ok {
		st = &sensorTracks{slots: make(map[string]Track)}
		s.sensors[sensorID] = st
	}
	return st
}

// Tracks returns a copy of the current track set for sensorID. Unknown
// sensors yield an empty set.
func (s *Store) Tracks(sensorID string) TrackSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sensors[sensorID]
	if !ok {
		return TrackSet{}
	}
	return st.clone()
}

// Sensors returns the known sensor ids, sorted.
func (s *Store) Sensors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sensors))
	for id := range s.sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset drops all history. Used on full reload only.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors = make(map[string]*sensorTracks)
}
