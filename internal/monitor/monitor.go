package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/OCAP2/choreograph/internal/session"
)

// DefaultInterval is how often the status file is rewritten.
const DefaultInterval = time.Second

// StreamStats reports renderer stream counters.
type StreamStats func() (frames, dropped uint64)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Status     func() session.Status
	Stream     StreamStats // optional
	StatusFile string
	Interval   time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Report is one status file snapshot.
type Report struct {
	Time          time.Time      `json:"time"`
	Session       session.Status `json:"session"`
	FramesSent    uint64         `json:"framesSent"`
	FramesDropped uint64         `json:"framesDropped"`
	UptimeSeconds float64        `json:"uptimeSeconds"`
	RSSBytes      uint64         `json:"rssBytes"`
	CPUPercent    float64        `json:"cpuPercent"`
}

// Service manages status monitoring
type Service struct {
	deps    Dependencies
	started time.Time
	proc    *process.Process

	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Service{deps: deps}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		deps.Logger.Debug("Process stats unavailable", "error", err)
	} else {
		s.proc = proc
	}
	return s
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus builds the current report.
func (s *Service) GetStatus() Report {
	now := s.deps.Now()
	r := Report{Time: now}
	if s.deps.Status != nil {
		r.Session = s.deps.Status()
	}
	if s.deps.Stream != nil {
		r.FramesSent, r.FramesDropped = s.deps.Stream()
	}
	if !s.started.IsZero() {
		r.UptimeSeconds = now.Sub(s.started).Seconds()
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfo(); err == nil {
			r.RSSBytes = mem.RSS
		}
		if cpu, err := s.proc.CPUPercent(); err == nil {
			r.CPUPercent = cpu
		}
	}
	return r
}

// WriteStatus replaces the status file with the current report.
func (s *Service) WriteStatus() error {
	data, err := json.MarshalIndent(s.GetStatus(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	dir := filepath.Dir(s.deps.StatusFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}
	tmp := s.deps.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.deps.StatusFile)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.StatusFile == "" {
		s.mu.Unlock()
		return fmt.Errorf("no status file configured")
	}
	s.isRunning = true
	s.started = s.deps.Now()
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "file", s.deps.StatusFile)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor after a final write and waits for it.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
