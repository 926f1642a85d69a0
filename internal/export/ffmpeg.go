package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/OCAP2/choreograph/internal/queue"
)

const readChunk = 64 * 1024

// FFmpegEncoder pipes raw RGBA frames into ffmpeg's stdin and collects the
// muxed output from its stdout.
type FFmpegEncoder struct {
	Path   string
	Logger *slog.Logger

	command func(ctx context.Context, name string, args ...string) *exec.Cmd

	spec     Spec
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   bytes.Buffer
	chunks   *queue.Queue[[]byte]
	readDone chan error
}

// NewFFmpegEncoder returns an encoder running the ffmpeg binary at path.
func NewFFmpegEncoder(path string, logger *slog.Logger) *FFmpegEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegEncoder{Path: path, Logger: logger, command: exec.CommandContext}
}

// Args builds the ffmpeg command line for spec.
func (e *FFmpegEncoder) Args(spec Spec) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-framerate", strconv.Itoa(spec.FPS),
		"-i", "-",
	}
	if spec.AudioPath != "" {
		args = append(args, "-i", spec.AudioPath, "-map", "0:v:0", "-map", "1:a:0", "-c:a", spec.Container.AudioCodec, "-shortest")
	}
	args = append(args,
		"-c:v", spec.Container.VideoCodec,
		"-pix_fmt", "yuv420p",
		"-b:v", "2500k",
	)
	args = append(args, spec.Container.Options...)
	args = append(args, "-f", spec.Container.Format, "pipe:1")
	return args
}

// Start launches ffmpeg.
func (e *FFmpegEncoder) Start(ctx context.Context, spec Spec) error {
	if err := spec.validate(); err != nil {
		return err
	}
	if e.cmd != nil {
		return errors.New("encoder already started")
	}
	e.spec = spec

	cmd := e.command(ctx, e.Path, e.Args(spec)...)
	cmd.Stderr = &e.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start error: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.chunks = queue.New[[]byte]()
	e.readDone = make(chan error, 1)
	go e.collect(stdout)

	e.Logger.Debug("ffmpeg started", "codec", spec.Container.VideoCodec, "size", fmt.Sprintf("%dx%d", spec.Width, spec.Height), "fps", spec.FPS)
	return nil
}

func (e *FFmpegEncoder) collect(r io.Reader) {
	for {
		buf := make([]byte, readChunk)
		n, err := r.Read(buf)
		if n > 0 {
			e.chunks.Push(buf[:n])
		}
		if err == io.EOF {
			e.readDone <- nil
			return
		}
		if err != nil {
			e.readDone <- err
			return
		}
	}
}

// WriteFrame sends one frame. The image must match the started size.
func (e *FFmpegEncoder) WriteFrame(img *image.RGBA) error {
	if e.stdin == nil {
		return errors.New("encoder not started")
	}
	b := img.Bounds()
	if b.Dx() != e.spec.Width || b.Dy() != e.spec.Height {
		return fmt.Errorf("frame is %dx%d, want %dx%d", b.Dx(), b.Dy(), e.spec.Width, e.spec.Height)
	}
	if img.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		packed := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(packed, packed.Bounds(), img, b.Min, draw.Src)
		img = packed
	}
	if _, err := e.stdin.Write(img.Pix); err != nil {
		return fmt.Errorf("write frame error: %w", err)
	}
	return nil
}

// Finish closes the input, waits for ffmpeg and returns its output.
func (e *FFmpegEncoder) Finish() ([]byte, error) {
	if e.cmd == nil {
		return nil, errors.New("encoder not started")
	}
	e.stdin.Close()
	readErr := <-e.readDone
	waitErr := e.cmd.Wait()
	e.cmd = nil

	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg wait error: %w: %s", waitErr, bytes.TrimSpace(e.stderr.Bytes()))
	}
	if readErr != nil {
		return nil, fmt.Errorf("reading ffmpeg output: %w", readErr)
	}
	return bytes.Join(e.chunks.Drain(), nil), nil
}

// Abort kills a running ffmpeg and discards its output.
func (e *FFmpegEncoder) Abort() {
	if e.cmd == nil {
		return
	}
	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	<-e.readDone
	e.cmd.Wait()
	e.cmd = nil
	e.chunks.Clear()
}
