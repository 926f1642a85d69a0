// Package formation asks a generative model to arrange the cast on stage
// from a free-text description.
package formation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/OCAP2/choreograph/internal/config"
	"github.com/OCAP2/choreograph/pkg/core"
)

// Padding keeps proposed positions this far inside the stage edges.
const Padding = 20

// ErrNoAPIKey is returned by Generate when no key is configured.
var ErrNoAPIKey = errors.New("formation: API key not configured")

// Proposer proposes positions for a cast from a description.
type Proposer interface {
	Generate(ctx context.Context, prompt string, performers []core.Performer) (map[core.PerformerID]core.Position, error)
}

// Client talks to the Gemini generateContent endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a client from the formation settings.
func New(cfg config.FormationConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type proposal struct {
	Positions []struct {
		DancerID string   `json:"dancerId"`
		X        *float64 `json:"x"`
		Y        *float64 `json:"y"`
	} `json:"positions"`
}

var responseSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"positions": map[string]any{
			"type": "ARRAY",
			"items": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"dancerId": map[string]any{"type": "STRING"},
					"x":        map[string]any{"type": "NUMBER"},
					"y":        map[string]any{"type": "NUMBER"},
				},
				"required": []string{"dancerId", "x", "y"},
			},
		},
	},
}

func systemInstruction() string {
	return fmt.Sprintf(`You are a professional choreographer assistant.
Your task is to arrange dancers on a stage based on a description.
The stage is %d units wide and %d units tall.
(0,0) is top-left. Center is (%d, %d).
Keep dancers within bounds with a %d unit padding.
Return a JSON object with a "positions" array of {dancerId, x, y}.
Only return the JSON.`,
		core.StageWidth, core.StageHeight, core.StageWidth/2, core.StageHeight/2, Padding)
}

func userPrompt(prompt string, performers []core.Performer) string {
	ids := make([]string, len(performers))
	for i, p := range performers {
		ids[i] = string(p.ID)
	}
	return fmt.Sprintf("Create a formation for these dancer IDs: [%s].\nDescription of formation: %q.",
		strings.Join(ids, ", "), prompt)
}

// Generate requests a formation. Entries for unknown ids or without both
// coordinates are dropped; the rest are clamped into the padded stage.
func (c *Client) Generate(ctx context.Context, prompt string, performers []core.Performer) (map[core.PerformerID]core.Position, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	body, err := json.Marshal(generateRequest{
		SystemInstruction: content{Parts: []part{{Text: systemInstruction()}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: userPrompt(prompt, performers)}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   responseSchema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("formation request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("formation request returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if gr.Error != nil {
		return nil, fmt.Errorf("formation request returned status %d: %s", gr.Error.Code, gr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("formation request returned status %d", resp.StatusCode)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("formation response has no candidates")
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	var prop proposal
	if err := json.Unmarshal([]byte(text.String()), &prop); err != nil {
		return nil, fmt.Errorf("failed to decode formation: %w", err)
	}
	return accept(prop, performers), nil
}

func accept(prop proposal, performers []core.Performer) map[core.PerformerID]core.Position {
	known := make(map[core.PerformerID]bool, len(performers))
	for _, p := range performers {
		known[p.ID] = true
	}
	out := make(map[core.PerformerID]core.Position, len(prop.Positions))
	for _, item := range prop.Positions {
		id := core.PerformerID(item.DancerID)
		if !known[id] || item.X == nil || item.Y == nil {
			continue
		}
		if !finite(*item.X) || !finite(*item.Y) {
			continue
		}
		out[id] = Clamp(core.Position{X: *item.X, Y: *item.Y})
	}
	return out
}

// Clamp pulls p inside the stage minus Padding on every side.
func Clamp(p core.Position) core.Position {
	return core.Position{
		X: math.Min(math.Max(p.X, Padding), core.StageWidth-Padding),
		Y: math.Min(math.Max(p.Y, Padding), core.StageHeight-Padding),
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
