// Package audio probes and decodes soundtrack files through ffprobe/ffmpeg
// and reduces decoded samples to waveform peaks.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
)

// ErrNoAudioStream is returned when a file carries no audio stream.
var ErrNoAudioStream = errors.New("no audio stream")

// Runner runs an external tool and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Info describes a probed file.
type Info struct {
	DurationMs int64
	SampleRate int
	Channels   int
}

// Tools locates ffprobe and ffmpeg.
type Tools struct {
	FFmpeg  string
	FFprobe string
	Run     Runner
}

// NewTools returns tools invoking the given binaries.
func NewTools(ffmpeg, ffprobe string) *Tools {
	return &Tools{FFmpeg: ffmpeg, FFprobe: ffprobe, Run: execRunner}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}

// DurationFromSeconds converts a decoded duration to whole milliseconds,
// rounding up so the timeline always covers the last sample.
func DurationFromSeconds(s float64) int64 {
	return int64(math.Ceil(s * 1000))
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration and stream layout of the first audio stream.
func (t *Tools) Probe(ctx context.Context, path string) (Info, error) {
	out, err := t.Run(ctx, t.FFprobe,
		"-v", "error",
		"-of", "json",
		"-show_entries", "format=duration:stream=codec_type,sample_rate,channels",
		path,
	)
	if err != nil {
		return Info{}, fmt.Errorf("probe %s: %w", path, err)
	}

	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return Info{}, fmt.Errorf("probe %s: decoding ffprobe output: %w", path, err)
	}

	info := Info{}
	found := false
	for _, s := range po.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info.Channels = s.Channels
		if sr, err := strconv.Atoi(s.SampleRate); err == nil {
			info.SampleRate = sr
		}
		found = true
		break
	}
	if !found {
		return Info{}, fmt.Errorf("probe %s: %w", path, ErrNoAudioStream)
	}

	secs, err := strconv.ParseFloat(po.Format.Duration, 64)
	if err != nil || secs < 0 || math.IsNaN(secs) {
		return Info{}, fmt.Errorf("probe %s: invalid duration %q", path, po.Format.Duration)
	}
	info.DurationMs = DurationFromSeconds(secs)
	return info, nil
}

// DecodeMono decodes path to mono 32-bit float samples at sampleRate.
func (t *Tools) DecodeMono(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("decode %s: invalid sample rate %d", path, sampleRate)
	}
	out, err := t.Run(ctx, t.FFmpeg,
		"-v", "error",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return samplesFromF32LE(out), nil
}

func samplesFromF32LE(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
