// Package session is the editing surface a host drives: it owns the
// timeline and playback controller and exposes every edit as a dispatcher
// command.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/OCAP2/choreograph/internal/dispatcher"
	"github.com/OCAP2/choreograph/internal/formation"
	"github.com/OCAP2/choreograph/internal/logging"
	"github.com/OCAP2/choreograph/internal/playback"
	"github.com/OCAP2/choreograph/internal/storage"
	"github.com/OCAP2/choreograph/internal/timeline"
	"github.com/OCAP2/choreograph/pkg/core"
)

// DefaultProjectName is used when saving a project that was never named.
const DefaultProjectName = "untitled"

var (
	// ErrNoStorage is returned by project commands without a backend.
	ErrNoStorage = errors.New("no storage backend configured")
	// ErrNoProposer is returned by formation generation without a client.
	ErrNoProposer = errors.New("no formation service configured")
)

// Publisher receives live stage updates.
type Publisher interface {
	Frame(timeMs float64, positions map[core.PerformerID]core.Position) error
	Performers(ctx context.Context, performers []core.Performer) error
}

// Status summarizes the session for the :STATUS: command.
type Status struct {
	Project    string  `json:"project"`
	TimeMs     float64 `json:"timeMs"`
	Duration   int64   `json:"duration"`
	Playing    bool    `json:"playing"`
	Keyframes  int     `json:"keyframes"`
	Performers int     `json:"performers"`
	Audio      string  `json:"audio,omitempty"`
}

// Option configures a Session.
type Option func(*Session)

// WithStorage enables the project commands.
func WithStorage(b storage.Backend) Option {
	return func(s *Session) { s.store = b }
}

// WithProposer enables :FORMATION:GENERATE:.
func WithProposer(p formation.Proposer) Option {
	return func(s *Session) { s.proposer = p }
}

// WithPublisher streams frames and cast changes.
func WithPublisher(p Publisher) Option {
	return func(s *Session) { s.publisher = p }
}

// WithLogger sets the session's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithResults receives the result of every command a script runs.
func WithResults(fn func(command string, result any)) Option {
	return func(s *Session) { s.onResult = fn }
}

// Session binds one engine and controller to a dispatcher.
type Session struct {
	engine    *timeline.Engine
	ctrl      *playback.Controller
	disp      *dispatcher.Dispatcher
	store     storage.Backend
	proposer  formation.Proposer
	publisher Publisher
	logger    *slog.Logger
	onResult  func(string, any)

	mu    sync.RWMutex
	name  string
	audio *string
}

// New registers the session's commands on disp.
func New(engine *timeline.Engine, ctrl *playback.Controller, disp *dispatcher.Dispatcher, opts ...Option) *Session {
	s := &Session{
		engine: engine,
		ctrl:   ctrl,
		disp:   disp,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher != nil {
		ctrl.OnTick(func(r playback.TickResult) {
			s.publishFrame(r.Time)
		})
	}
	s.register()
	return s
}

// Engine returns the session's timeline.
func (s *Session) Engine() *timeline.Engine { return s.engine }

// Controller returns the session's playback controller.
func (s *Session) Controller() *playback.Controller { return s.ctrl }

// Name returns the current project name.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetProject names the open project and its audio file.
func (s *Session) SetProject(name string, audio *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.audio = audio
}

// AudioFileName returns the audio file recorded in the project, if any.
func (s *Session) AudioFileName() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audio
}

// Project returns the persisted form of the open project.
func (s *Session) Project() *core.Project {
	s.mu.RLock()
	name, audio := s.name, s.audio
	s.mu.RUnlock()
	return s.engine.ToProject(name, audio)
}

// LogContext adds the project name and playhead to every log record.
func (s *Session) LogContext() logging.ContextProvider {
	return logging.SessionContext(s.Name, func() float64 {
		return s.engine.Snapshot().CurrentTime()
	})
}

// Status reports the current session state.
func (s *Session) Status() Status {
	snap := s.engine.Snapshot()
	st := Status{
		Project:    s.Name(),
		TimeMs:     snap.CurrentTime(),
		Duration:   snap.Duration(),
		Playing:    snap.Playing(),
		Keyframes:  len(snap.Keyframes()),
		Performers: len(snap.Performers()),
	}
	if a := s.AudioFileName(); a != nil {
		st.Audio = *a
	}
	return st
}

// Exec dispatches one command.
func (s *Session) Exec(ctx context.Context, command string, args ...string) (any, error) {
	return s.disp.Dispatch(ctx, dispatcher.Event{Command: command, Args: args})
}

func (s *Session) publishFrame(t float64) {
	if s.publisher == nil {
		return
	}
	snap := s.engine.Snapshot()
	if err := s.publisher.Frame(t, snap.PositionsAt(t)); err != nil {
		s.logger.Warn("failed to publish frame", "error", err)
	}
}

func (s *Session) publishPerformers(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Performers(ctx, s.engine.Snapshot().Performers()); err != nil {
		s.logger.Warn("failed to publish performers", "error", err)
	}
}
