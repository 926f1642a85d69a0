// pkg/core/keyframe.go
package core

// KeyframeID identifies a keyframe. It never changes once assigned.
type KeyframeID string

// Keyframe is a timestamped formation. Positions need not hold every
// performer; missing entries are resolved when the timeline is read.
type Keyframe struct {
	ID        KeyframeID               `json:"id"`
	Timestamp int64                    `json:"timestamp"` // milliseconds
	Positions map[PerformerID]Position `json:"positions"`
}

// IsOrigin reports whether k is the permanent keyframe at t=0.
func (k Keyframe) IsOrigin() bool {
	return k.Timestamp == 0
}

// Clone returns a copy of k that shares no map with it.
func (k Keyframe) Clone() Keyframe {
	out := Keyframe{
		ID:        k.ID,
		Timestamp: k.Timestamp,
		Positions: make(map[PerformerID]Position, len(k.Positions)),
	}
	for id, p := range k.Positions {
		out.Positions[id] = p
	}
	return out
}

// Equal reports whether two keyframes carry the same id, time and positions.
func (k Keyframe) Equal(o Keyframe) bool {
	if k.ID != o.ID || k.Timestamp != o.Timestamp || len(k.Positions) != len(o.Positions) {
		return false
	}
	for id, p := range k.Positions {
		if q, ok := o.Positions[id]; !ok || q != p {
			return false
		}
	}
	return true
}
