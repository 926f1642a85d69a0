package timeline

import (
	"sync"

	"github.com/OCAP2/choreograph/pkg/core"
)

// Snapshot is an immutable view of the engine at one instant. Readers may
// hold on to it for as long as they like; writers never touch it again.
type Snapshot struct {
	version     uint64
	performers  []core.Performer
	keyframes   []core.Keyframe // sorted by timestamp
	currentTime float64
	duration    int64
	playing     bool

	once      sync.Once
	positions map[core.PerformerID]core.Position
}

// Version increases by one with every published change.
func (s *Snapshot) Version() uint64 { return s.version }

// CurrentTime is the playhead in milliseconds.
func (s *Snapshot) CurrentTime() float64 { return s.currentTime }

// Duration is the timeline length in milliseconds.
func (s *Snapshot) Duration() int64 { return s.duration }

// Playing reports the play/pause flag.
func (s *Snapshot) Playing() bool { return s.playing }

// Performers returns a copy of the cast.
func (s *Snapshot) Performers() []core.Performer {
	return append([]core.Performer(nil), s.performers...)
}

// Keyframes returns deep copies of the keyframes in timestamp order.
func (s *Snapshot) Keyframes() []core.Keyframe {
	out := make([]core.Keyframe, len(s.keyframes))
	for i, k := range s.keyframes {
		out[i] = k.Clone()
	}
	return out
}

// Positions returns the interpolated positions at the snapshot's current
// time. The result is computed once per snapshot.
func (s *Snapshot) Positions() map[core.PerformerID]core.Position {
	s.once.Do(func() {
		s.positions = positionsSorted(s.currentTime, s.keyframes, s.performers)
	})
	out := make(map[core.PerformerID]core.Position, len(s.positions))
	for id, p := range s.positions {
		out[id] = p
	}
	return out
}

// PositionsAt interpolates at an arbitrary time without touching the playhead.
func (s *Snapshot) PositionsAt(t float64) map[core.PerformerID]core.Position {
	return positionsSorted(t, s.keyframes, s.performers)
}

// KeyframeNear returns the keyframe within tolerance of t, if any.
func (s *Snapshot) KeyframeNear(t float64) (core.Keyframe, bool) {
	if i := nearestWithin(s.keyframes, t, -1); i >= 0 {
		return s.keyframes[i].Clone(), true
	}
	return core.Keyframe{}, false
}

// NextKeyframeTime is the first timestamp strictly after t+tolerance, or 0.
func (s *Snapshot) NextKeyframeTime(t float64) int64 {
	for _, k := range s.keyframes {
		if float64(k.Timestamp) > t+float64(core.MatchTolerance) {
			return k.Timestamp
		}
	}
	return 0
}

// PrevKeyframeTime is the last timestamp strictly before t-tolerance, or 0.
func (s *Snapshot) PrevKeyframeTime(t float64) int64 {
	var found int64
	for _, k := range s.keyframes {
		if float64(k.Timestamp) < t-float64(core.MatchTolerance) {
			found = k.Timestamp
		}
	}
	return found
}

// nearestWithin returns the index of the keyframe closest to t among those
// within tolerance, skipping index skip. -1 when none qualifies.
func nearestWithin(keyframes []core.Keyframe, t float64, skip int) int {
	best := -1
	bestDist := 0.0
	for i, k := range keyframes {
		if i == skip || !WithinTolerance(k.Timestamp, t) {
			continue
		}
		d := float64(k.Timestamp) - t
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
