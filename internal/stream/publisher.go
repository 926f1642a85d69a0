// Package stream publishes live stage positions to an external renderer
// over WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/OCAP2/choreograph/pkg/core"
	"github.com/OCAP2/choreograph/pkg/streaming"
)

// ErrClosed is returned after the publisher has been closed.
var ErrClosed = errors.New("stream closed")

const defaultAckTimeout = 10 * time.Second

// Config holds the renderer endpoint.
type Config struct {
	URL    string
	Secret string
	// AckTimeout bounds session_start and session_end; zero means 10s.
	AckTimeout time.Duration
}

// Publisher streams one session at a time.
type Publisher struct {
	conn       *connection
	cfg        Config
	ackTimeout time.Duration

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a publisher. Call Connect before sending.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.AckTimeout
	if timeout <= 0 {
		timeout = defaultAckTimeout
	}
	return &Publisher{
		conn:       newConnection(logger),
		cfg:        cfg,
		ackTimeout: timeout,
	}
}

// Connect dials the renderer.
func (p *Publisher) Connect() error {
	return p.conn.dial(p.cfg.URL, p.cfg.Secret)
}

// Close disconnects.
func (p *Publisher) Close() error {
	return p.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// StartSession announces a project and waits for the renderer's ack. The
// message is replayed after every reconnect until EndSession.
func (p *Publisher) StartSession(ctx context.Context, project string, duration int64, performers []core.Performer) error {
	data, err := marshalEnvelope(streaming.TypeSessionStart, streaming.SessionStartPayload{
		Project:    project,
		Duration:   duration,
		Stage:      streaming.Stage{Width: core.StageWidth, Height: core.StageHeight},
		Performers: performers,
	})
	if err != nil {
		return err
	}

	p.conn.mu.Lock()
	p.conn.cachedStart = data
	p.conn.mu.Unlock()

	return p.conn.sendAndWait(ctx, data, streaming.TypeSessionStart, p.ackTimeout)
}

// EndSession sends session_end and waits for the ack.
func (p *Publisher) EndSession(ctx context.Context) error {
	data, err := marshalEnvelope(streaming.TypeSessionEnd, nil)
	if err != nil {
		return err
	}
	err = p.conn.sendAndWait(ctx, data, streaming.TypeSessionEnd, p.ackTimeout)

	p.conn.mu.Lock()
	p.conn.cachedStart = nil
	p.conn.mu.Unlock()
	return err
}

// Frame publishes positions at timeMs. It never blocks; an unsent older
// frame is replaced.
func (p *Publisher) Frame(timeMs float64, positions map[core.PerformerID]core.Position) error {
	data, err := marshalEnvelope(streaming.TypeFrame, streaming.FramePayload{TimeMs: timeMs, Positions: positions})
	if err != nil {
		return err
	}
	p.frames.Add(1)
	if p.conn.sendFrame(data) {
		p.dropped.Add(1)
	}
	return nil
}

// Performers publishes the current cast.
func (p *Publisher) Performers(ctx context.Context, performers []core.Performer) error {
	data, err := marshalEnvelope(streaming.TypePerformers, streaming.PerformersPayload{Performers: performers})
	if err != nil {
		return err
	}
	return p.conn.sendControl(ctx, data)
}

// Stats reports frames published and frames superseded before being sent.
func (p *Publisher) Stats() (frames, dropped uint64) {
	return p.frames.Load(), p.dropped.Load()
}
