package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/OCAP2/choreograph/internal/audio"
	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/internal/dispatcher"
	"github.com/OCAP2/choreograph/internal/export"
	"github.com/OCAP2/choreograph/internal/formation"
	"github.com/OCAP2/choreograph/internal/influx"
	"github.com/OCAP2/choreograph/internal/logging"
	"github.com/OCAP2/choreograph/internal/monitor"
	"github.com/OCAP2/choreograph/internal/parser"
	"github.com/OCAP2/choreograph/internal/playback"
	"github.com/OCAP2/choreograph/internal/project"
	"github.com/OCAP2/choreograph/internal/session"
	"github.com/OCAP2/choreograph/internal/stream"
	"github.com/OCAP2/choreograph/internal/timeline"
	"github.com/OCAP2/choreograph/pkg/core"
)

var errUsage = errors.New("invalid usage")

// peakSampleRate is the decode rate used for waveform peaks.
const peakSampleRate = 8000

func usage(w io.Writer) {
	fmt.Fprintf(w, `usage: %s <command> [args]

commands:
  new <file> [name]                  create a project with the default cast
  info <file>                        summarize a project
  positions <file> <ms>              print interpolated positions at a time
  run <file> <script>                apply a command script and save the project
  formation <file> <ms> <prompt...>  generate a formation and save the project
  export <file> [audio]              render the timeline to a video file
  play <file> [audio]                play headless, reading commands from stdin
  peaks <audio> <width>              print waveform peaks
  version                            print the version
`, AppName)
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch strings.ToLower(cmd) {
	case "new":
		return a.cmdNew(args)
	case "info":
		return a.cmdInfo(args)
	case "positions":
		return a.cmdPositions(args)
	case "run":
		return a.cmdRun(ctx, args)
	case "formation":
		return a.cmdFormation(ctx, args)
	case "export":
		return a.cmdExport(ctx, args)
	case "play":
		return a.cmdPlay(ctx, args)
	case "peaks":
		return a.cmdPeaks(ctx, args)
	case "version":
		fmt.Fprintf(a.stdout, "%s %s (%s)\n", AppName, Version, BuildDate)
		return nil
	case "help", "-h", "--help":
		usage(a.stdout)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openSession loads a project file into a fresh engine, controller and
// dispatcher. The returned func releases the dispatcher.
func (a *app) openSession(path string, opts ...session.Option) (*session.Session, func(), error) {
	p, err := project.Load(path)
	if err != nil {
		return nil, nil, err
	}

	var sess *session.Session
	logger := slog.New(logging.NewContextHandler(a.logger.Handler(), func() []slog.Attr {
		if sess == nil {
			return nil
		}
		return sess.LogContext()()
	}))

	engine, err := timeline.FromProject(p, timeline.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	ctrl := playback.New(engine, playback.WithLogger(logger))
	disp, err := dispatcher.New(logging.NewDispatcherLogger(a.zlog))
	if err != nil {
		return nil, nil, err
	}

	opts = append([]session.Option{session.WithLogger(logger)}, opts...)
	sess = session.New(engine, ctrl, disp, opts...)
	sess.SetProject(p.ProjectName, p.AudioFileName)
	a.logger = logger
	return sess, disp.Close, nil
}

func (a *app) saveSession(path string, sess *session.Session) error {
	if err := project.Save(path, sess.Project()); err != nil {
		return err
	}
	a.logger.Info("Project saved", "path", path)
	return nil
}

func (a *app) recordEdits(ctx context.Context, name string) {
	if a.metrics == nil {
		return
	}
	if err := a.metrics.RecordEdits(name, a.editCounts(ctx), time.Now()); err != nil {
		a.logger.Warn("Failed to record edit metrics", "error", err)
	}
}

func (a *app) cmdNew(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: new <file> [name]", errUsage)
	}
	path := args[0]
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(args) == 2 {
		name = args[1]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := project.Save(path, core.NewProject(name)); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, path)
	return nil
}

type keyframeInfo struct {
	ID        core.KeyframeID `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Placed    int             `json:"placed"`
}

type projectInfo struct {
	Name       string           `json:"name"`
	Version    int              `json:"version"`
	Duration   int64            `json:"duration"`
	Audio      *string          `json:"audio,omitempty"`
	Performers []core.Performer `json:"performers"`
	Keyframes  []keyframeInfo   `json:"keyframes"`
}

func (a *app) cmdInfo(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: info <file>", errUsage)
	}
	p, err := project.Load(args[0])
	if err != nil {
		return err
	}
	info := projectInfo{
		Name:       p.ProjectName,
		Version:    p.Version,
		Duration:   p.Duration,
		Audio:      p.AudioFileName,
		Performers: p.Dancers,
	}
	for _, k := range timeline.SortKeyframes(p.Keyframes) {
		info.Keyframes = append(info.Keyframes, keyframeInfo{ID: k.ID, Timestamp: k.Timestamp, Placed: len(k.Positions)})
	}
	return a.writeJSON(info)
}

func (a *app) cmdPositions(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: positions <file> <ms>", errUsage)
	}
	p, err := project.Load(args[0])
	if err != nil {
		return err
	}
	t, err := parser.ParseTime(args[1:])
	if err != nil {
		return err
	}
	return a.writeJSON(timeline.PositionsAtTime(t, p.Keyframes, p.Dancers))
}

func (a *app) printResult(command string, result any) {
	if result == nil {
		return
	}
	out, err := json.Marshal(map[string]any{"command": command, "result": result})
	if err != nil {
		a.logger.Warn("Failed to encode result", "command", command, "error", err)
		return
	}
	fmt.Fprintln(a.stdout, string(out))
}

// sessionOptions wires the configured storage backend and formation service.
// The returned func closes the backend.
func (a *app) sessionOptions() ([]session.Option, func()) {
	opts := []session.Option{session.WithResults(a.printResult)}
	closer := func() {}

	backend, err := createStorageBackend(config.GetStorageConfig(), a.started, a.logger, a.zlog)
	if err == nil {
		err = backend.Init()
	}
	if err != nil {
		a.logger.Warn("Storage unavailable, project commands disabled", "error", err)
	} else {
		opts = append(opts, session.WithStorage(backend))
		closer = func() {
			if err := backend.Close(); err != nil {
				a.logger.Warn("Failed to close storage", "error", err)
			}
		}
	}

	if fc := config.GetFormationConfig(); fc.APIKey != "" {
		opts = append(opts, session.WithProposer(formation.New(fc)))
	}
	return opts, closer
}

func (a *app) cmdRun(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: run <file> <script>", errUsage)
	}
	script, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer script.Close()

	opts, closeStore := a.sessionOptions()
	defer closeStore()
	sess, release, err := a.openSession(args[0], opts...)
	if err != nil {
		return err
	}
	defer release()

	if err := sess.RunScript(ctx, script); err != nil {
		return err
	}
	a.recordEdits(ctx, sess.Name())
	return a.saveSession(args[0], sess)
}

func (a *app) cmdFormation(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: formation <file> <ms> <prompt...>", errUsage)
	}
	fc := config.GetFormationConfig()
	if fc.APIKey == "" {
		return fmt.Errorf("formation.apiKey is not configured: %w", formation.ErrNoAPIKey)
	}

	sess, release, err := a.openSession(args[0], session.WithProposer(formation.New(fc)))
	if err != nil {
		return err
	}
	defer release()

	if _, err := sess.Exec(ctx, session.CmdSeek, args[1]); err != nil {
		return err
	}
	res, err := sess.Exec(ctx, session.CmdFormationGenerate, strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	if n, _ := res.(int); n == 0 {
		return fmt.Errorf("formation was not applied")
	}
	fmt.Fprintf(a.stdout, "moved %v performers\n", res)
	a.recordEdits(ctx, sess.Name())
	return a.saveSession(args[0], sess)
}

// attachAudio probes a soundtrack and stretches the timeline to its length.
// A file that cannot be probed leaves the project without audio.
func (a *app) attachAudio(ctx context.Context, sess *session.Session, path string) (audio.Info, bool) {
	ec := config.GetExportConfig()
	info, err := audio.NewTools(ec.FFmpeg, ec.FFprobe).Probe(ctx, path)
	if err != nil {
		a.logger.Warn("Failed to decode audio, continuing without it", "path", path, "error", err)
		return audio.Info{}, false
	}
	sess.Engine().SetDuration(info.DurationMs)
	name := filepath.Base(path)
	sess.SetProject(sess.Name(), &name)
	a.logger.Info("Audio attached", "path", path, "durationMs", info.DurationMs)
	return info, true
}

func (a *app) cmdExport(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: export <file> [audio]", errUsage)
	}
	sess, release, err := a.openSession(args[0])
	if err != nil {
		return err
	}
	defer release()

	ec := config.GetExportConfig()
	var audioPath string
	if len(args) == 2 {
		if _, ok := a.attachAudio(ctx, sess, args[1]); ok {
			audioPath = args[1]
		}
	}

	available, err := export.ListEncoders(ctx, nil, ec.FFmpeg)
	if err != nil {
		return err
	}
	container, err := export.Negotiate(available)
	if err != nil {
		return err
	}

	enc := export.NewFFmpegEncoder(ec.FFmpeg, a.logger)
	es := export.NewSession(sess.Engine(), sess.Controller(), enc, export.Options{
		OutputDir: ec.OutputDir,
		FPS:       ec.FPS,
		Width:     ec.Width,
		Height:    ec.Height,
		Grid:      ec.Grid,
		AudioPath: audioPath,
		Container: container,
	}, a.logger)

	res, err := es.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, res.Path)

	if a.metrics != nil {
		err := a.metrics.RecordExport(influx.ExportStats{
			Project:    sess.Name(),
			Container:  res.Container.Format,
			Codec:      res.Container.VideoCodec,
			Frames:     res.Frames,
			Bytes:      res.Bytes,
			DurationMs: res.Duration.Milliseconds(),
			Elapsed:    res.Elapsed,
			At:         time.Now(),
		})
		if err != nil {
			a.logger.Warn("Failed to record export metrics", "error", err)
		}
	}
	a.recordEdits(ctx, sess.Name())
	return nil
}

func (a *app) cmdPlay(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: play <file> [audio]", errUsage)
	}

	opts, closeStore := a.sessionOptions()
	defer closeStore()

	var pub *stream.Publisher
	if sc := config.GetStreamConfig(); sc.Enabled {
		pub = stream.New(stream.Config{URL: sc.URL, Secret: sc.Secret}, a.logger)
		if err := pub.Connect(); err != nil {
			a.logger.Warn("Renderer unavailable, streaming disabled", "url", sc.URL, "error", err)
			pub = nil
		} else {
			defer pub.Close()
			opts = append(opts, session.WithPublisher(pub))
		}
	}

	sess, release, err := a.openSession(args[0], opts...)
	if err != nil {
		return err
	}
	defer release()

	ctrl := sess.Controller()
	if len(args) == 2 {
		if info, ok := a.attachAudio(ctx, sess, args[1]); ok {
			ctrl.SetAudio(audio.NewFileClock(info.DurationMs, time.Now))
		}
	}

	if pub != nil {
		snap := sess.Engine().Snapshot()
		if err := pub.StartSession(ctx, sess.Name(), snap.Duration(), snap.Performers()); err != nil {
			a.logger.Warn("Renderer did not acknowledge session", "error", err)
		}
		defer func() {
			endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := pub.EndSession(endCtx); err != nil {
				a.logger.Warn("Failed to end stream session", "error", err)
			}
			frames, dropped := pub.Stats()
			a.logger.Info("Stream closed", "frames", frames, "dropped", dropped)
		}()
	}

	deps := monitor.Dependencies{
		Status:     sess.Status,
		StatusFile: filepath.Join(config.GetString("logsDir"), "status.json"),
		Logger:     a.logger,
	}
	if pub != nil {
		deps.Stream = pub.Stats
	}
	mon := monitor.NewService(deps)
	if err := mon.Start(); err != nil {
		a.logger.Warn("Status monitor disabled", "error", err)
	} else {
		defer mon.Stop()
	}

	sess.EnableQueue(16)
	go a.readCommands(ctx, sess)

	ctrl.Play()
	if err := a.playUntilEnd(ctx, sess, config.GetDuration("playback.tickInterval")); err != nil {
		return err
	}
	a.recordEdits(ctx, sess.Name())
	return a.writeJSON(sess.Status())
}

// readCommands feeds stdin lines to the session queue until EOF.
func (a *app) readCommands(ctx context.Context, sess *session.Session) {
	sc := bufio.NewScanner(a.stdin)
	for sc.Scan() {
		if err := sess.Enqueue(ctx, sc.Text()); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("Command rejected", "line", sc.Text(), "error", err)
		}
	}
}

// playUntilEnd drives the controller until the end of the timeline or an
// interrupt. A pause from stdin holds the playhead until the next play.
func (a *app) playUntilEnd(ctx context.Context, sess *session.Session, interval time.Duration) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ctrl := sess.Controller()
	wait := time.NewTicker(interval)
	defer wait.Stop()

	for {
		if err := ctrl.Run(ctx, interval); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		snap := sess.Engine().Snapshot()
		if snap.CurrentTime() >= float64(snap.Duration()) {
			return nil
		}
		for ctrl.State() != playback.Playing {
			select {
			case <-ctx.Done():
				return nil
			case <-wait.C:
			}
		}
	}
}

type peaksOutput struct {
	SampleRate int       `json:"sampleRate"`
	Mins       []float32 `json:"mins"`
	Maxs       []float32 `json:"maxs"`
}

func (a *app) cmdPeaks(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: peaks <audio> <width>", errUsage)
	}
	width, err := strconv.Atoi(args[1])
	if err != nil || width <= 0 {
		return fmt.Errorf("%w: width must be a positive integer", errUsage)
	}
	ec := config.GetExportConfig()
	samples, err := audio.NewTools(ec.FFmpeg, ec.FFprobe).DecodeMono(ctx, args[0], peakSampleRate)
	if err != nil {
		return err
	}
	mins, maxs := audio.Peaks(samples, width, float64(len(samples))/float64(width))
	return a.writeJSON(peaksOutput{SampleRate: peakSampleRate, Mins: mins, Maxs: maxs})
}
