package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/internal/dispatcher"
	"github.com/OCAP2/choreograph/internal/parser"
	"github.com/OCAP2/choreograph/internal/playback"
	"github.com/OCAP2/choreograph/internal/storage"
	"github.com/OCAP2/choreograph/internal/storage/memory"
	"github.com/OCAP2/choreograph/internal/timeline"
	"github.com/OCAP2/choreograph/pkg/core"
)

type fakeProposer struct {
	positions map[core.PerformerID]core.Position
	err       error
	prompt    string
}

func (f *fakeProposer) Generate(_ context.Context, prompt string, _ []core.Performer) (map[core.PerformerID]core.Position, error) {
	f.prompt = prompt
	return f.positions, f.err
}

type fakePublisher struct {
	mu         sync.Mutex
	frames     []float64
	performers int
}

func (f *fakePublisher) Frame(t float64, _ map[core.PerformerID]core.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, t)
	return nil
}

func (f *fakePublisher) Performers(context.Context, []core.Performer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.performers++
	return nil
}

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	n := 0
	engine, err := timeline.New(timeline.WithKeyframeIDs(func() core.KeyframeID {
		n++
		return core.KeyframeID("kf" + string(rune('0'+n)))
	}))
	require.NoError(t, err)

	disp, err := dispatcher.New(slog.Default())
	require.NoError(t, err)
	t.Cleanup(disp.Close)

	return New(engine, playback.New(engine), disp, opts...)
}

func exec(t *testing.T, s *Session, cmd string, args ...string) any {
	t.Helper()
	res, err := s.Exec(context.Background(), cmd, args...)
	require.NoError(t, err)
	return res
}

func TestRegistersEveryCommand(t *testing.T) {
	s := newSession(t)
	for _, cmd := range []string{
		CmdSeek, CmdPlay, CmdPause, CmdToggle, CmdNext, CmdPrev, CmdStart, CmdDuration,
		CmdKeyframeAdd, CmdKeyframeDelete, CmdKeyframeRetime,
		CmdPerformerAdd, CmdPerformerRemove, CmdPerformerMove, CmdPerformerRename, CmdPerformerColor,
		CmdFormationApply, CmdFormationGenerate,
		CmdProjectSave, CmdProjectLoad, CmdProjectNew, CmdProjectList,
		CmdPositions, CmdStatus,
	} {
		assert.True(t, s.disp.HasHandler(cmd), cmd)
	}
}

func TestSeekAndMoveCreatesKeyframe(t *testing.T) {
	s := newSession(t)

	assert.Equal(t, 2000.0, exec(t, s, CmdSeek, "2000"))
	kf := exec(t, s, CmdPerformerMove, "d1", "100", "150")
	assert.Equal(t, core.KeyframeID("kf1"), kf)

	snap := s.Engine().Snapshot()
	require.Len(t, snap.Keyframes(), 2)
	assert.Equal(t, int64(2000), snap.Keyframes()[1].Timestamp)
	assert.Equal(t, core.Position{X: 100, Y: 150}, snap.Positions()["d1"])

	// halfway back to the origin
	pos := exec(t, s, CmdPositions, "1000").(map[core.PerformerID]core.Position)
	assert.Equal(t, core.Position{X: 150, Y: 225}, pos["d1"])
}

func TestMovePausesPlayback(t *testing.T) {
	s := newSession(t)
	assert.Equal(t, "playing", exec(t, s, CmdPlay))
	exec(t, s, CmdPerformerMove, "d2", "10", "10")
	assert.Equal(t, playback.Paused, s.Controller().State())
}

func TestInvariantRejectionsAreSilent(t *testing.T) {
	s := newSession(t)

	assert.Equal(t, false, exec(t, s, CmdKeyframeDelete, string(core.OriginKeyframeID)))
	assert.Equal(t, false, exec(t, s, CmdKeyframeRetime, string(core.OriginKeyframeID), "500"))
	assert.Nil(t, exec(t, s, CmdPerformerMove, "ghost", "1", "1"))
	assert.Equal(t, false, exec(t, s, CmdPerformerRemove, "ghost"))
	assert.Equal(t, 0, exec(t, s, CmdFormationApply, "ghost:1,1"))
	assert.Len(t, s.Engine().Snapshot().Keyframes(), 1)
}

func TestBadArgsAreErrors(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, CmdSeek, "soon")
	assert.ErrorIs(t, err, parser.ErrBadArgs)
	_, err = s.Exec(ctx, CmdPlay, "now")
	assert.ErrorIs(t, err, parser.ErrBadArgs)
	_, err = s.Exec(ctx, CmdPerformerColor, "d1", "red")
	assert.ErrorIs(t, err, parser.ErrBadArgs)
	_, err = s.Exec(ctx, ":NOPE:")
	assert.ErrorIs(t, err, dispatcher.ErrUnknownCommand)
}

func TestKeyframeCommands(t *testing.T) {
	s := newSession(t)
	exec(t, s, CmdSeek, "3000")
	id := exec(t, s, CmdKeyframeAdd).(core.KeyframeID)

	assert.Equal(t, true, exec(t, s, CmdKeyframeRetime, string(id), "4500"))
	assert.Equal(t, int64(4500), s.Engine().Snapshot().Keyframes()[1].Timestamp)
	assert.Equal(t, 4500.0, s.Engine().Snapshot().CurrentTime(), "retime follows the playhead")
	assert.Equal(t, 0.0, exec(t, s, CmdNext), "no later keyframe falls back to 0")

	exec(t, s, CmdSeek, "1000")
	assert.Equal(t, 4500.0, exec(t, s, CmdNext))
	assert.Equal(t, 0.0, exec(t, s, CmdPrev))
	assert.Equal(t, true, exec(t, s, CmdKeyframeDelete, string(id)))
	assert.Len(t, s.Engine().Snapshot().Keyframes(), 1)
}

func TestPerformerCommands(t *testing.T) {
	pub := &fakePublisher{}
	s := newSession(t, WithPublisher(pub))

	p := exec(t, s, CmdPerformerAdd).(core.Performer)
	assert.Equal(t, "Dancer 6", p.Name)
	assert.Equal(t, true, exec(t, s, CmdPerformerRename, string(p.ID), "Mary", "Jane"))
	assert.Equal(t, true, exec(t, s, CmdPerformerColor, string(p.ID), "#ABCDEF"))

	cast := s.Engine().Snapshot().Performers()
	require.Len(t, cast, 6)
	assert.Equal(t, "Mary Jane", cast[5].Name)
	assert.Equal(t, "#abcdef", cast[5].Color)

	assert.Equal(t, true, exec(t, s, CmdPerformerRemove, "d1"))
	assert.Len(t, s.Engine().Snapshot().Performers(), 5)
	assert.Equal(t, 4, pub.performers)
}

func TestPlaybackCommands(t *testing.T) {
	s := newSession(t)
	assert.Equal(t, "playing", exec(t, s, CmdToggle))
	assert.Equal(t, "paused", exec(t, s, CmdToggle))
	assert.Equal(t, "playing", exec(t, s, CmdPlay))
	assert.Equal(t, "paused", exec(t, s, CmdPause))

	exec(t, s, CmdSeek, "1e9")
	assert.Equal(t, "paused", exec(t, s, CmdPlay), "play at the end does nothing")
	assert.Equal(t, 0.0, exec(t, s, CmdStart))

	assert.Equal(t, int64(1000), exec(t, s, CmdDuration, "10"))
}

func TestFormationApply(t *testing.T) {
	s := newSession(t)
	exec(t, s, CmdSeek, "1000")
	assert.Equal(t, 2, exec(t, s, CmdFormationApply, `{"d1":{"x":1,"y":2},"d2":{"x":3,"y":4},"zz":{"x":0,"y":0}}`))

	pos := s.Engine().Snapshot().Positions()
	assert.Equal(t, core.Position{X: 1, Y: 2}, pos["d1"])
	assert.Equal(t, core.Position{X: 3, Y: 4}, pos["d2"])
}

func TestFormationGenerate(t *testing.T) {
	fp := &fakeProposer{positions: map[core.PerformerID]core.Position{"d3": {X: 50, Y: 60}}}
	s := newSession(t, WithProposer(fp))

	assert.Equal(t, 1, exec(t, s, CmdFormationGenerate, "a", "tight", "circle"))
	assert.Equal(t, "a tight circle", fp.prompt)
	assert.Equal(t, core.Position{X: 50, Y: 60}, s.Engine().Snapshot().Positions()["d3"])
}

func TestFormationGenerate_FailureLeavesTimeline(t *testing.T) {
	fp := &fakeProposer{err: errors.New("503")}
	s := newSession(t, WithProposer(fp))
	exec(t, s, CmdSeek, "1000")

	_, err := s.Exec(context.Background(), CmdFormationGenerate, "line")
	require.Error(t, err)
	assert.Len(t, s.Engine().Snapshot().Keyframes(), 1)

	_, err = newSession(t).Exec(context.Background(), CmdFormationGenerate, "line")
	assert.ErrorIs(t, err, ErrNoProposer)
}

func newStore(t *testing.T) storage.Backend {
	t.Helper()
	b := memory.New(config.MemoryConfig{OutputDir: t.TempDir()}, nil)
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })
	return b
}

func TestProjectSaveLoad(t *testing.T) {
	store := newStore(t)
	s := newSession(t, WithStorage(store))

	exec(t, s, CmdSeek, "5000")
	exec(t, s, CmdPerformerMove, "d4", "700", "100")
	assert.Equal(t, DefaultProjectName, exec(t, s, CmdProjectSave))
	assert.Equal(t, "Finale", exec(t, s, CmdProjectSave, "Finale"))
	assert.Equal(t, "Finale", s.Name())

	st := exec(t, s, CmdProjectNew, "Scratch").(Status)
	assert.Equal(t, "Scratch", st.Project)
	assert.Equal(t, 1, st.Keyframes)

	st = exec(t, s, CmdProjectLoad, "Finale").(Status)
	assert.Equal(t, "Finale", st.Project)
	assert.Equal(t, 2, st.Keyframes)
	assert.Equal(t, 0.0, st.TimeMs)

	names := exec(t, s, CmdProjectList).([]string)
	assert.ElementsMatch(t, []string{"Finale", DefaultProjectName}, names)

	_, err := s.Exec(context.Background(), CmdProjectLoad, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, "Finale", s.Name(), "failed load keeps the open project")
}

func TestProjectCommandsWithoutStorage(t *testing.T) {
	s := newSession(t)
	_, err := s.Exec(context.Background(), CmdProjectSave)
	assert.ErrorIs(t, err, ErrNoStorage)
	_, err = s.Exec(context.Background(), CmdProjectLoad, "x")
	assert.ErrorIs(t, err, ErrNoStorage)
}

func TestOpenRejectsInvalidProject(t *testing.T) {
	s := newSession(t)
	p := core.NewProject("broken")
	p.Keyframes = nil
	assert.Error(t, s.Open(context.Background(), p))
	assert.Len(t, s.Engine().Snapshot().Keyframes(), 1)
}

func TestStatus(t *testing.T) {
	s := newSession(t)
	audio := "song.mp3"
	s.SetProject("Show", &audio)

	st := exec(t, s, CmdStatus).(Status)
	assert.Equal(t, Status{
		Project:    "Show",
		Duration:   core.DefaultDuration,
		Keyframes:  1,
		Performers: 5,
		Audio:      "song.mp3",
	}, st)
	assert.Equal(t, "Show", s.Project().ProjectName)
}

func TestLogContext(t *testing.T) {
	s := newSession(t)
	s.SetProject("Show", nil)
	exec(t, s, CmdSeek, "1234")

	attrs := s.LogContext()()
	require.Len(t, attrs, 2)
	assert.Equal(t, "Show", attrs[0].Value.String())
	assert.Equal(t, int64(1234), attrs[1].Value.Int64())
}

func TestPublisherReceivesTicks(t *testing.T) {
	pub := &fakePublisher{}
	s := newSession(t, WithPublisher(pub))

	exec(t, s, CmdPlay)
	s.Controller().Advance(100)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Contains(t, pub.frames, 100.0)
}

func TestRunScript(t *testing.T) {
	var seen []string
	s := newSession(t, WithResults(func(cmd string, _ any) { seen = append(seen, cmd) }))

	script := `# build the opening
seek 2000
performer:move d1 100 100
:PERFORMER:RENAME: d1 "Alice ""Ace"" Smith"

status
`
	require.NoError(t, s.RunScript(context.Background(), strings.NewReader(script)))
	assert.Equal(t, []string{CmdSeek, CmdPerformerMove, CmdPerformerRename, CmdStatus}, seen)
	assert.Equal(t, `Alice "Ace" Smith`, s.Engine().Snapshot().Performers()[0].Name)
}

func TestRunScript_StopsAtFirstError(t *testing.T) {
	s := newSession(t)
	err := s.RunScript(context.Background(), strings.NewReader("seek 100\nseek later\nseek 300\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.ErrorIs(t, err, parser.ErrBadArgs)
	assert.Equal(t, 100.0, s.Engine().Snapshot().CurrentTime())
}

func TestRunScript_Canceled(t *testing.T) {
	s := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.RunScript(ctx, strings.NewReader("seek 100\n")), context.Canceled)
}

func TestEnqueue(t *testing.T) {
	s := newSession(t)
	s.EnableQueue(4)

	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, "seek 1500"))
	require.NoError(t, s.Enqueue(ctx, "performer:move d5 10 20"))

	assert.Eventually(t, func() bool {
		return s.Engine().Snapshot().Positions()["d5"] == core.Position{X: 10, Y: 20}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1500.0, s.Engine().Snapshot().CurrentTime())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, ":KEYFRAME:ADD:", normalize("keyframe:add"))
	assert.Equal(t, ":SEEK:", normalize(":seek:"))
	assert.Equal(t, ":STATUS:", normalize("STATUS"))
}
