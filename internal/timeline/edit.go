package timeline

import (
	"context"
	"math"
	"slices"
	"strconv"

	"github.com/OCAP2/choreograph/pkg/core"
)

// AddKeyframe freezes the current formation at the playhead. If a keyframe
// already sits within tolerance it is returned untouched.
func (e *Engine) AddKeyframe() core.KeyframeID {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i := nearestWithin(e.keyframes, e.currentTime, -1); i >= 0 {
		return e.keyframes[i].ID
	}
	id := e.mergeAt(nil)
	e.count(context.Background(), "add_keyframe")
	e.publish()
	return id
}

// MovePerformer writes pos for one performer into the keyframe at the
// playhead, creating that keyframe if needed. Dragging pauses playback.
func (e *Engine) MovePerformer(id core.PerformerID, pos core.Position) (core.KeyframeID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasPerformer(id) {
		e.reject(context.Background(), "move_performer", "performer", id)
		return "", false
	}
	e.playing = false
	kf := e.mergeAt(map[core.PerformerID]core.Position{id: pos})
	e.count(context.Background(), "move_performer")
	e.publish()
	return kf, true
}

// ApplyFormation merges a whole proposed formation at the playhead in one
// step. Entries for unknown performers are dropped; if none remain the
// keyframe set is left alone.
func (e *Engine) ApplyFormation(positions map[core.PerformerID]core.Position) (core.KeyframeID, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	accepted := make(map[core.PerformerID]core.Position, len(positions))
	for id, p := range positions {
		if e.hasPerformer(id) && !math.IsNaN(p.X) && !math.IsNaN(p.Y) {
			accepted[id] = p
		}
	}
	if len(accepted) == 0 {
		e.reject(context.Background(), "apply_formation", "proposed", len(positions))
		return "", 0
	}
	e.playing = false
	kf := e.mergeAt(accepted)
	e.count(context.Background(), "apply_formation")
	e.publish()
	return kf, len(accepted)
}

// mergeAt implements the one reconciliation rule: edits land on the
// keyframe near the playhead, or on a new keyframe seeded with the full
// interpolated formation. Callers hold e.mu.
func (e *Engine) mergeAt(positions map[core.PerformerID]core.Position) core.KeyframeID {
	if i := nearestWithin(e.keyframes, e.currentTime, -1); i >= 0 {
		for id, p := range positions {
			e.keyframes[i].Positions[id] = p
		}
		return e.keyframes[i].ID
	}

	ts := int64(math.Round(e.currentTime))
	kf := core.Keyframe{
		ID:        e.uniqueKeyframeID(),
		Timestamp: ts,
		Positions: positionsSorted(float64(ts), e.keyframes, e.performers),
	}
	for id, p := range positions {
		kf.Positions[id] = p
	}
	e.keyframes = SortKeyframes(append(e.keyframes, kf))
	return kf.ID
}

// DeleteKeyframe removes a keyframe. The origin keyframe is protected.
func (e *Engine) DeleteKeyframe(id core.KeyframeID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.keyframeIndex(id)
	if i < 0 || e.keyframes[i].IsOrigin() {
		e.reject(context.Background(), "delete_keyframe", "keyframe", id)
		return false
	}
	e.keyframes = slices.Delete(e.keyframes, i, i+1)
	e.count(context.Background(), "delete_keyframe")
	e.publish()
	return true
}

// RetimeKeyframe moves a keyframe to ts and puts the playhead there.
// Negative times clamp to 0 and the origin keyframe never leaves 0.
// Landing within tolerance of another keyframe merges the moved keyframe
// into it, the moved positions winning.
func (e *Engine) RetimeKeyframe(id core.KeyframeID, ts int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := context.Background()
	i := e.keyframeIndex(id)
	if i < 0 {
		e.reject(ctx, "retime_keyframe", "keyframe", id)
		return false
	}
	ts = max(ts, 0)

	if e.keyframes[i].IsOrigin() {
		if ts != 0 {
			e.reject(ctx, "retime_keyframe", "keyframe", id, "timestamp", ts)
			return false
		}
		e.currentTime = 0
		e.publish()
		return true
	}

	if j := nearestWithin(e.keyframes, float64(ts), i); j >= 0 {
		target := e.keyframes[j]
		for pid, p := range e.keyframes[i].Positions {
			target.Positions[pid] = p
		}
		e.keyframes = slices.Delete(e.keyframes, i, i+1)
		e.currentTime = e.clampTime(float64(target.Timestamp))
		e.count(ctx, "retime_merge")
		e.publish()
		return true
	}

	e.keyframes[i].Timestamp = ts
	e.keyframes = SortKeyframes(e.keyframes)
	e.currentTime = e.clampTime(float64(ts))
	e.count(ctx, "retime_keyframe")
	e.publish()
	return true
}

// AddPerformer appends a performer named after the cast size and places it
// at stage center in every keyframe so it shows up across the whole timeline.
func (e *Engine) AddPerformer() core.Performer {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := core.Performer{
		ID:    e.uniquePerformerID(),
		Name:  "Dancer " + strconv.Itoa(len(e.performers)+1),
		Color: e.randomColor(),
	}
	e.performers = append(e.performers, p)
	center := core.StageCenter()
	for i := range e.keyframes {
		e.keyframes[i].Positions[p.ID] = center
	}
	e.count(context.Background(), "add_performer")
	e.publish()
	return p
}

// RemovePerformer drops a performer from the cast. Keyframes keep their
// entries for it; nothing reads them again.
func (e *Engine) RemovePerformer(id core.PerformerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := slices.IndexFunc(e.performers, func(p core.Performer) bool { return p.ID == id })
	if i < 0 {
		e.reject(context.Background(), "remove_performer", "performer", id)
		return false
	}
	e.performers = slices.Delete(e.performers, i, i+1)
	e.count(context.Background(), "remove_performer")
	e.publish()
	return true
}

// UpdatePerformer changes display attributes. Nil leaves a field as is.
func (e *Engine) UpdatePerformer(id core.PerformerID, name, color *string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := slices.IndexFunc(e.performers, func(p core.Performer) bool { return p.ID == id })
	if i < 0 {
		return false
	}
	if name != nil {
		e.performers[i].Name = *name
	}
	if color != nil {
		e.performers[i].Color = *color
	}
	e.count(context.Background(), "update_performer")
	e.publish()
	return true
}

func (e *Engine) hasPerformer(id core.PerformerID) bool {
	return slices.ContainsFunc(e.performers, func(p core.Performer) bool { return p.ID == id })
}

func (e *Engine) keyframeIndex(id core.KeyframeID) int {
	return slices.IndexFunc(e.keyframes, func(k core.Keyframe) bool { return k.ID == id })
}

func (e *Engine) uniqueKeyframeID() core.KeyframeID {
	for {
		id := e.newKeyframeID()
		if e.keyframeIndex(id) < 0 {
			return id
		}
	}
}

func (e *Engine) uniquePerformerID() core.PerformerID {
	for {
		id := e.newPerformerID()
		if !e.hasPerformer(id) {
			return id
		}
	}
}
