// Package streaming defines the wire messages sent to an external renderer
// over WebSocket.
package streaming

import (
	"encoding/json"

	"github.com/OCAP2/choreograph/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeSessionStart = "session_start"
	TypeSessionEnd   = "session_end"
	TypeFrame        = "frame"
	TypePerformers   = "performers"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// Stage gives the renderer the coordinate space positions are in.
type Stage struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SessionStartPayload describes the project about to be streamed.
type SessionStartPayload struct {
	Project    string           `json:"project"`
	Duration   int64            `json:"duration"`
	Stage      Stage            `json:"stage"`
	Performers []core.Performer `json:"performers"`
}

// FramePayload is the resolved stage at one instant.
type FramePayload struct {
	TimeMs    float64                            `json:"timeMs"`
	Positions map[core.PerformerID]core.Position `json:"positions"`
}

// PerformersPayload replaces the renderer's cast list.
type PerformersPayload struct {
	Performers []core.Performer `json:"performers"`
}
