package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/OCAP2/choreograph/internal/dispatcher"
	"github.com/OCAP2/choreograph/internal/parser"
	"github.com/OCAP2/choreograph/internal/project"
	"github.com/OCAP2/choreograph/pkg/core"
)

// Command names understood by the session.
const (
	CmdSeek              = ":SEEK:"
	CmdPlay              = ":PLAY:"
	CmdPause             = ":PAUSE:"
	CmdToggle            = ":TOGGLE:"
	CmdNext              = ":NEXT:"
	CmdPrev              = ":PREV:"
	CmdStart             = ":START:"
	CmdDuration          = ":DURATION:"
	CmdKeyframeAdd       = ":KEYFRAME:ADD:"
	CmdKeyframeDelete    = ":KEYFRAME:DELETE:"
	CmdKeyframeRetime    = ":KEYFRAME:RETIME:"
	CmdPerformerAdd      = ":PERFORMER:ADD:"
	CmdPerformerRemove   = ":PERFORMER:REMOVE:"
	CmdPerformerMove     = ":PERFORMER:MOVE:"
	CmdPerformerRename   = ":PERFORMER:RENAME:"
	CmdPerformerColor    = ":PERFORMER:COLOR:"
	CmdFormationApply    = ":FORMATION:APPLY:"
	CmdFormationGenerate = ":FORMATION:GENERATE:"
	CmdProjectSave       = ":PROJECT:SAVE:"
	CmdProjectLoad       = ":PROJECT:LOAD:"
	CmdProjectNew        = ":PROJECT:NEW:"
	CmdProjectList       = ":PROJECT:LIST:"
	CmdPositions         = ":POSITIONS:"
	CmdStatus            = ":STATUS:"
)

func (s *Session) register() {
	handlers := map[string]dispatcher.HandlerFunc{
		CmdSeek:              s.handleSeek,
		CmdPlay:              s.handlePlay,
		CmdPause:             s.handlePause,
		CmdToggle:            s.handleToggle,
		CmdNext:              s.handleNext,
		CmdPrev:              s.handlePrev,
		CmdStart:             s.handleStart,
		CmdDuration:          s.handleDuration,
		CmdKeyframeAdd:       s.handleKeyframeAdd,
		CmdKeyframeDelete:    s.handleKeyframeDelete,
		CmdKeyframeRetime:    s.handleKeyframeRetime,
		CmdPerformerAdd:      s.handlePerformerAdd,
		CmdPerformerRemove:   s.handlePerformerRemove,
		CmdPerformerMove:     s.handlePerformerMove,
		CmdPerformerRename:   s.handlePerformerRename,
		CmdPerformerColor:    s.handlePerformerColor,
		CmdFormationApply:    s.handleFormationApply,
		CmdFormationGenerate: s.handleFormationGenerate,
		CmdProjectSave:       s.handleProjectSave,
		CmdProjectLoad:       s.handleProjectLoad,
		CmdProjectNew:        s.handleProjectNew,
		CmdProjectList:       s.handleProjectList,
		CmdPositions:         s.handlePositions,
		CmdStatus:            s.handleStatus,
	}
	for cmd, h := range handlers {
		s.disp.Register(cmd, h, dispatcher.Logged())
	}
}

// rejected logs an edit the timeline refused. Rejections are not errors.
func (s *Session) rejected(cmd string, args ...any) {
	s.logger.Debug("edit rejected", append([]any{"command", cmd}, args...)...)
}

func noArgs(e dispatcher.Event) error {
	if len(e.Args) > 0 {
		return fmt.Errorf("%w: %s takes no arguments", parser.ErrBadArgs, e.Command)
	}
	return nil
}

func (s *Session) handleSeek(_ context.Context, e dispatcher.Event) (any, error) {
	t, err := parser.ParseTime(e.Args)
	if err != nil {
		return nil, err
	}
	t = s.ctrl.Seek(t)
	s.publishFrame(t)
	return t, nil
}

func (s *Session) handlePlay(_ context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	if !s.ctrl.Play() {
		s.rejected(e.Command, "reason", "at end")
	}
	return s.ctrl.State().String(), nil
}

func (s *Session) handlePause(_ context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	s.ctrl.Pause()
	return s.ctrl.State().String(), nil
}

func (s *Session) handleToggle(_ context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	return s.ctrl.Toggle().String(), nil
}

func (s *Session) handleNext(_ context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	t := s.ctrl.JumpNext()
	s.publishFrame(t)
	return t, nil
}

func (s *Session) handlePrev(_ context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	t := s.ctrl.JumpPrev()
	s.publishFrame(t)
	return t, nil
}

func (s *Session) handleStart(_ context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	t := s.ctrl.SeekStart()
	s.publishFrame(t)
	return t, nil
}

func (s *Session) handleDuration(_ context.Context, e dispatcher.Event) (any, error) {
	ms, err := parser.ParseDuration(e.Args)
	if err != nil {
		return nil, err
	}
	return s.engine.SetDuration(ms), nil
}

func (s *Session) handleKeyframeAdd(_ context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	return s.engine.AddKeyframe(), nil
}

func (s *Session) handleKeyframeDelete(_ context.Context, e dispatcher.Event) (any, error) {
	id, err := parser.ParseID(e.Args)
	if err != nil {
		return nil, err
	}
	ok := s.engine.DeleteKeyframe(core.KeyframeID(id))
	if !ok {
		s.rejected(e.Command, "keyframe", id)
	} else {
		s.publishFrame(s.engine.Snapshot().CurrentTime())
	}
	return ok, nil
}

func (s *Session) handleKeyframeRetime(_ context.Context, e dispatcher.Event) (any, error) {
	id, ts, err := parser.ParseRetime(e.Args)
	if err != nil {
		return nil, err
	}
	ok := s.engine.RetimeKeyframe(id, ts)
	if !ok {
		s.rejected(e.Command, "keyframe", id, "timestamp", ts)
	} else {
		s.publishFrame(s.engine.Snapshot().CurrentTime())
	}
	return ok, nil
}

func (s *Session) handlePerformerAdd(ctx context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	p := s.engine.AddPerformer()
	s.publishPerformers(ctx)
	return p, nil
}

func (s *Session) handlePerformerRemove(ctx context.Context, e dispatcher.Event) (any, error) {
	id, err := parser.ParseID(e.Args)
	if err != nil {
		return nil, err
	}
	ok := s.engine.RemovePerformer(core.PerformerID(id))
	if !ok {
		s.rejected(e.Command, "performer", id)
	} else {
		s.publishPerformers(ctx)
	}
	return ok, nil
}

func (s *Session) handlePerformerMove(_ context.Context, e dispatcher.Event) (any, error) {
	id, pos, err := parser.ParseMove(e.Args)
	if err != nil {
		return nil, err
	}
	// Dragging stops playback and its audio.
	s.ctrl.Pause()
	kf, ok := s.engine.MovePerformer(id, pos)
	if !ok {
		s.rejected(e.Command, "performer", id)
		return nil, nil
	}
	s.publishFrame(s.engine.Snapshot().CurrentTime())
	return kf, nil
}

func (s *Session) handlePerformerRename(ctx context.Context, e dispatcher.Event) (any, error) {
	id, name, err := parser.ParseRename(e.Args)
	if err != nil {
		return nil, err
	}
	ok := s.engine.UpdatePerformer(id, &name, nil)
	if !ok {
		s.rejected(e.Command, "performer", id)
	} else {
		s.publishPerformers(ctx)
	}
	return ok, nil
}

func (s *Session) handlePerformerColor(ctx context.Context, e dispatcher.Event) (any, error) {
	id, color, err := parser.ParseColor(e.Args)
	if err != nil {
		return nil, err
	}
	ok := s.engine.UpdatePerformer(id, nil, &color)
	if !ok {
		s.rejected(e.Command, "performer", id)
	} else {
		s.publishPerformers(ctx)
	}
	return ok, nil
}

func (s *Session) applyFormation(cmd string, positions map[core.PerformerID]core.Position) any {
	s.ctrl.Pause()
	kf, n := s.engine.ApplyFormation(positions)
	if n == 0 {
		s.rejected(cmd, "proposed", len(positions))
		return 0
	}
	s.logger.Info("formation applied", "keyframe", kf, "performers", n)
	s.publishFrame(s.engine.Snapshot().CurrentTime())
	return n
}

func (s *Session) handleFormationApply(_ context.Context, e dispatcher.Event) (any, error) {
	positions, err := parser.ParseFormation(e.Args)
	if err != nil {
		return nil, err
	}
	return s.applyFormation(e.Command, positions), nil
}

// handleFormationGenerate asks the formation service for positions and
// merges them at the playhead. Any failure leaves the timeline untouched.
func (s *Session) handleFormationGenerate(ctx context.Context, e dispatcher.Event) (any, error) {
	if s.proposer == nil {
		return nil, ErrNoProposer
	}
	prompt := strings.TrimSpace(strings.Join(e.Args, " "))
	if prompt == "" {
		return nil, fmt.Errorf("%w: want a prompt", parser.ErrBadArgs)
	}
	positions, err := s.proposer.Generate(ctx, prompt, s.engine.Snapshot().Performers())
	if err != nil {
		return nil, fmt.Errorf("generating formation: %w", err)
	}
	return s.applyFormation(e.Command, positions), nil
}

func (s *Session) handleProjectSave(ctx context.Context, e dispatcher.Event) (any, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	name := strings.TrimSpace(strings.Join(e.Args, " "))
	if name == "" {
		name = s.Name()
	}
	if name == "" {
		name = DefaultProjectName
	}
	p := s.engine.ToProject(name, s.AudioFileName())
	if err := s.store.SaveProject(ctx, p); err != nil {
		return nil, fmt.Errorf("saving project %q: %w", name, err)
	}
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	s.logger.Info("project saved", "project", name, "keyframes", len(p.Keyframes))
	return name, nil
}

func (s *Session) handleProjectLoad(ctx context.Context, e dispatcher.Event) (any, error) {
	if s.store == nil {
		return nil, ErrNoStorage
	}
	name, err := parser.ParseID(e.Args)
	if err != nil {
		return nil, err
	}
	p, err := s.store.LoadProject(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading project %q: %w", name, err)
	}
	if err := s.open(ctx, p); err != nil {
		return nil, fmt.Errorf("loading project %q: %w", name, err)
	}
	return s.Status(), nil
}

func (s *Session) handleProjectNew(ctx context.Context, e dispatcher.Event) (any, error) {
	name := strings.TrimSpace(strings.Join(e.Args, " "))
	if err := s.open(ctx, core.NewProject(name)); err != nil {
		return nil, err
	}
	return s.Status(), nil
}

func (s *Session) handleProjectList(ctx context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, ErrNoStorage
	}
	return s.store.ListProjects(ctx)
}

// Open replaces the session's project. An invalid project leaves the
// current one in place.
func (s *Session) Open(ctx context.Context, p *core.Project) error {
	return s.open(ctx, p)
}

func (s *Session) open(ctx context.Context, p *core.Project) error {
	if err := project.Validate(p); err != nil {
		return err
	}
	s.ctrl.Pause()
	if err := s.engine.Replace(p); err != nil {
		return err
	}
	s.SetProject(p.ProjectName, p.AudioFileName)
	s.ctrl.Seek(0)
	s.publishPerformers(ctx)
	s.publishFrame(0)
	return nil
}

func (s *Session) handlePositions(_ context.Context, e dispatcher.Event) (any, error) {
	snap := s.engine.Snapshot()
	if len(e.Args) == 0 {
		return snap.Positions(), nil
	}
	t, err := parser.ParseTime(e.Args)
	if err != nil {
		return nil, err
	}
	return snap.PositionsAt(t), nil
}

func (s *Session) handleStatus(_ context.Context, e dispatcher.Event) (any, error) {
	if err := noArgs(e); err != nil {
		return nil, err
	}
	return s.Status(), nil
}
