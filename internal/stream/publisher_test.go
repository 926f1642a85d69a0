package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/choreograph/pkg/core"
	"github.com/OCAP2/choreograph/pkg/streaming"
)

// testServer upgrades to WebSocket, records every envelope and acks
// session_start/session_end unless ack is false.
func testServer(t *testing.T, ack bool) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if ack && (env.Type == streaming.TypeSessionStart || env.Type == streaming.TypeSessionEnd) {
				data, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))
	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	secret   string
	messages []streaming.Envelope
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) count(msgType string) int {
	n := 0
	for _, e := range m.all() {
		if e.Type == msgType {
			n++
		}
	}
	return n
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStartAndEndSession(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	p := New(Config{URL: wsURL(srv), Secret: "test"}, nil)
	require.NoError(t, p.Connect())
	defer p.Close()

	cast, _ := core.DefaultCast()
	ctx := context.Background()
	require.NoError(t, p.StartSession(ctx, "Finale", 30000, cast))
	require.NoError(t, p.EndSession(ctx))

	msgs := ml.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, streaming.TypeSessionStart, msgs[0].Type)
	assert.Equal(t, streaming.TypeSessionEnd, msgs[1].Type)

	var start streaming.SessionStartPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, "Finale", start.Project)
	assert.Equal(t, int64(30000), start.Duration)
	assert.Equal(t, 800.0, start.Stage.Width)
	assert.Len(t, start.Performers, 5)

	ml.mu.Lock()
	assert.Equal(t, "test", ml.secret)
	ml.mu.Unlock()

	p.conn.mu.Lock()
	assert.Nil(t, p.conn.cachedStart)
	p.conn.mu.Unlock()
}

func TestFramesAndPerformers(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	p := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, p.Connect())
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.StartSession(ctx, "", 1000, nil))
	require.NoError(t, p.Frame(250, map[core.PerformerID]core.Position{"d1": {X: 10, Y: 20}}))
	require.NoError(t, p.Performers(ctx, []core.Performer{{ID: "d1", Name: "Alice", Color: "#ef4444"}}))

	assert.Eventually(t, func() bool {
		return ml.count(streaming.TypeFrame) == 1 && ml.count(streaming.TypePerformers) == 1
	}, time.Second, 10*time.Millisecond)

	for _, env := range ml.all() {
		if env.Type != streaming.TypeFrame {
			continue
		}
		var f streaming.FramePayload
		require.NoError(t, json.Unmarshal(env.Payload, &f))
		assert.Equal(t, 250.0, f.TimeMs)
		assert.Equal(t, core.Position{X: 10, Y: 20}, f.Positions["d1"])
	}

	frames, _ := p.Stats()
	assert.Equal(t, uint64(1), frames)
}

func TestSendFrame_ReplacesPending(t *testing.T) {
	c := newConnection(nil)
	assert.False(t, c.sendFrame([]byte("a")))
	assert.True(t, c.sendFrame([]byte("b")))
	assert.Equal(t, []byte("b"), c.frame)
	assert.Len(t, c.frameCh, 1)
}

func TestStartSession_AckTimeout(t *testing.T) {
	srv, _ := testServer(t, false)
	defer srv.Close()

	p := New(Config{URL: wsURL(srv), AckTimeout: 50 * time.Millisecond}, nil)
	require.NoError(t, p.Connect())
	defer p.Close()

	err := p.StartSession(context.Background(), "x", 1000, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for ack")
}

func TestStartSession_ContextCanceled(t *testing.T) {
	srv, _ := testServer(t, false)
	defer srv.Close()

	p := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, p.Connect())
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.StartSession(ctx, "x", 1000, nil), context.DeadlineExceeded)
}

func TestConnect_Unreachable(t *testing.T) {
	p := New(Config{URL: "ws://127.0.0.1:1"}, nil)
	err := p.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket dial failed")
}

func TestClosed(t *testing.T) {
	srv, _ := testServer(t, true)
	defer srv.Close()

	p := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, p.Connect())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Performers(context.Background(), nil), ErrClosed)
}

func TestReconnectReplaysSessionStart(t *testing.T) {
	var mu sync.Mutex
	var conns []*ws.Conn
	starts := make(chan struct{}, 4)
	upgrader := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if json.Unmarshal(msg, &env) == nil && env.Type == streaming.TypeSessionStart {
				starts <- struct{}{}
				data, _ := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: env.Type})
				c.WriteMessage(ws.TextMessage, data)
			}
		}
	}))
	defer srv.Close()

	p := New(Config{URL: wsURL(srv)}, nil)
	p.conn.backoff = 10 * time.Millisecond
	require.NoError(t, p.Connect())
	defer p.Close()

	require.NoError(t, p.StartSession(context.Background(), "Finale", 1000, nil))
	<-starts

	mu.Lock()
	conns[0].Close()
	mu.Unlock()

	select {
	case <-starts:
	case <-time.After(2 * time.Second):
		t.Fatal("session_start was not replayed after reconnect")
	}
}
