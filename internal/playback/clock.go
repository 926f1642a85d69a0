package playback

// ClockSource names where a tick reads the new current time from.
type ClockSource int

const (
	// SourceDelta advances by wall-clock time elapsed since the previous tick.
	SourceDelta ClockSource = iota
	// SourceAudio follows the audio output position.
	SourceAudio
)

func (s ClockSource) String() string {
	switch s {
	case SourceAudio:
		return "audio"
	default:
		return "delta"
	}
}

// SelectSource picks the clock for one tick. Audio drives time only when a
// track is loaded, actually running and no capture is in progress; capture
// always steps by frame delta so every frame is produced.
func SelectSource(hasAudio, audioRunning, capturing bool) ClockSource {
	if hasAudio && audioRunning && !capturing {
		return SourceAudio
	}
	return SourceDelta
}

// AudioClock is the narrow contract the controller needs from an audio
// output. Positions are milliseconds.
type AudioClock interface {
	Available() bool
	Running() bool
	PositionMs() float64
	Seek(ms float64)
	Play()
	Pause()
}

// NoAudio is the clock used when no track is attached.
type NoAudio struct{}

func (NoAudio) Available() bool { return false }
func (NoAudio) Running() bool { return false }
func (NoAudio) PositionMs() float64 { return 0 }
func (NoAudio) Seek(float64) {}
func (NoAudio) Play() {}
func (NoAudio) Pause() {}
