package timeline

import (
	"sort"

	"github.com/OCAP2/choreograph/pkg/core"
)

// WithinTolerance reports whether a keyframe at ts counts as being at time t.
// Every merge decision and keyframe jump goes through this predicate.
func WithinTolerance(ts int64, t float64) bool {
	d := float64(ts) - t
	if d < 0 {
		d = -d
	}
	return d < float64(core.MatchTolerance)
}

// SortKeyframes returns a copy of keyframes ordered by timestamp. Ties keep
// their input order.
func SortKeyframes(keyframes []core.Keyframe) []core.Keyframe {
	sorted := make([]core.Keyframe, len(keyframes))
	copy(sorted, keyframes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	return sorted
}

// PositionsAtTime derives every performer's position at time t (ms) from
// the keyframe set. It is pure: equal inputs always give equal outputs.
func PositionsAtTime(t float64, keyframes []core.Keyframe, performers []core.Performer) map[core.PerformerID]core.Position {
	return positionsSorted(t, SortKeyframes(keyframes), performers)
}

// bracket finds the keyframes surrounding t in an already sorted slice.
func bracket(t float64, sorted []core.Keyframe) (prev, next int) {
	prev, next = 0, len(sorted)-1
	for i, k := range sorted {
		if float64(k.Timestamp) <= t {
			prev = i
		}
		if float64(k.Timestamp) >= t {
			next = i
			break
		}
	}
	return prev, next
}

func positionsSorted(t float64, sorted []core.Keyframe, performers []core.Performer) map[core.PerformerID]core.Position {
	if len(sorted) == 0 {
		return map[core.PerformerID]core.Position{}
	}

	pi, ni := bracket(t, sorted)
	prev, next := sorted[pi], sorted[ni]

	if pi == ni {
		out := make(map[core.PerformerID]core.Position, len(prev.Positions))
		for id, p := range prev.Positions {
			out[id] = p
		}
		return out
	}

	// Equal timestamps only happen transiently; snap to the later keyframe.
	progress := 1.0
	if span := float64(next.Timestamp - prev.Timestamp); span > 0 {
		progress = clamp((t-float64(prev.Timestamp))/span, 0, 1)
	}

	out := make(map[core.PerformerID]core.Position, len(performers))
	for _, perf := range performers {
		end, hasEnd := next.Positions[perf.ID]
		start, hasStart := prev.Positions[perf.ID]
		if !hasStart && hasEnd {
			// A performer missing from prev appears at next's position.
			start = end
		}
		if !hasEnd {
			end = start
		}
		out[perf.ID] = start.Lerp(end, progress)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
