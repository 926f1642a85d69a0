// Package export captures a choreography to a video file: frames are
// rendered at a fixed rate while the timeline advances and piped into an
// encoder.
package export

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strings"
)

var (
	// ErrEmptyOutput is returned when the encoder produced no bytes.
	ErrEmptyOutput = errors.New("export produced no output")
	// ErrNoEncoder is returned when none of the preferred encoders exist.
	ErrNoEncoder = errors.New("no supported video encoder")
)

// Container is one output format the exporter can produce.
type Container struct {
	Format     string // ffmpeg muxer
	Ext        string
	VideoCodec string
	AudioCodec string
	MimeType   string
	// Extra output options, e.g. fragmenting so the muxer can write to a pipe.
	Options []string
}

// Preferred lists containers in the order they are tried.
var Preferred = []Container{
	{
		Format: "mp4", Ext: "mp4", VideoCodec: "libx264", AudioCodec: "aac",
		MimeType: "video/mp4;codecs=avc1.42E01E",
		Options:  []string{"-profile:v", "baseline", "-movflags", "frag_keyframe+empty_moov+default_base_moof"},
	},
	{
		Format: "webm", Ext: "webm", VideoCodec: "libvpx-vp9", AudioCodec: "libopus",
		MimeType: "video/webm;codecs=vp9",
	},
	{
		Format: "webm", Ext: "webm", VideoCodec: "libvpx", AudioCodec: "libvorbis",
		MimeType: "video/webm",
	},
}

// Spec describes the stream handed to an encoder.
type Spec struct {
	Width, Height int
	FPS           int
	// AudioPath is muxed as the second input when set.
	AudioPath string
	Container Container
}

// FrameInterval is the fixed clock step between frames in milliseconds.
func (s Spec) FrameInterval() float64 {
	return 1000 / float64(s.FPS)
}

func (s Spec) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}
	if s.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %d", s.FPS)
	}
	if s.Container.VideoCodec == "" {
		return errors.New("no container selected")
	}
	return nil
}

// Encoder consumes frames and produces the encoded file.
type Encoder interface {
	Start(ctx context.Context, spec Spec) error
	WriteFrame(img *image.RGBA) error
	// Finish flushes the encoder and returns everything it produced.
	Finish() ([]byte, error)
}

// Runner runs an external tool and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ListEncoders returns the encoder names ffmpeg reports.
func ListEncoders(ctx context.Context, run Runner, ffmpeg string) ([]string, error) {
	if run == nil {
		run = execRunner
	}
	out, err := run(ctx, ffmpeg, "-hide_banner", "-encoders")
	if err != nil {
		return nil, fmt.Errorf("listing encoders: %w", err)
	}
	return parseEncoders(out), nil
}

// parseEncoders reads "ffmpeg -encoders" output. Encoder lines start with a
// six character capability field such as " V....D".
func parseEncoders(out []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	pastHeader := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "------") {
			pastHeader = true
			continue
		}
		if !pastHeader {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		names = append(names, fields[1])
	}
	return names
}

// Negotiate picks the first preferred container whose video codec is available.
func Negotiate(available []string) (Container, error) {
	have := make(map[string]bool, len(available))
	for _, a := range available {
		have[a] = true
	}
	for _, c := range Preferred {
		if have[c.VideoCodec] {
			return c, nil
		}
	}
	return Container{}, ErrNoEncoder
}
