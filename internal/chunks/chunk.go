package chunks

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event type discriminators emitted by the browser SDK.
const (
	TypePointerDown = "pointerdown"
	TypePointerUp   = "pointerup"
	TypeClick       = "click"
	TypeMoves       = "moves"
	TypeMovesFree   = "moves_free"
)

// Rect is a reference rectangle from the SDK's roi_map, in page pixels.
type Rect struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

func (r Rect) Valid() bool {
	return r.W > 0 && r.H > 0
}

// Meta describes the client environment a session's events were captured in.
// It is identical across all chunks of one session.
type Meta struct {
	Device         string          `json:"device,omitempty"`
	ROIMap         map[string]Rect `json:"roi_map,omitempty"`
	ScratchPercent *float64        `json:"scratch_percent,omitempty"`
	Viewport       *Rect           `json:"viewport,omitempty"`
}

// Rect returns the named roi_map rectangle, or ok=false when it is absent
// or degenerate.
func (m Meta) Rect(name string) (Rect, bool) {
	r, ok := m.ROIMap[name]
	if !ok || !r.Valid() {
		return Rect{}, false
	}
	return r, true
}

func (m Meta) IsTouchDevice() bool {
	return m.Device == "touch"
}

// MovesPayload carries a delta-encoded run of pointer moves: absolute
// coordinates sampled at base_t + cumulative dts.
type MovesPayload struct {
	BaseT int64     `json:"base_t"`
	DTs   []int64   `json:"dts"`
	XRs   []float64 `json:"xrs"`
	YRs   []float64 `json:"yrs"`
}

// Event is one behavioral event. Which fields are meaningful depends on
// Type: pointerdown/pointerup/click carry T/XRaw/YRaw, moves carries
// Payload. Decoding keeps unknown variants so callers can skip them
// instead of failing the whole chunk.
type Event struct {
	Type         string        `json:"type"`
	T            *int64        `json:"t,omitempty"`
	XRaw         *float64      `json:"x_raw,omitempty"`
	YRaw         *float64      `json:"y_raw,omitempty"`
	TargetRole   string        `json:"target_role,omitempty"`
	TargetAnswer string        `json:"target_answer,omitempty"`
	Payload      *MovesPayload `json:"payload,omitempty"`
}

// Point returns the absolute sample of a pointerdown/pointerup/click event.
// ok is false for move runs, unknown types, and events missing a required
// field.
func (e Event) Point() (t int64, x, y float64, ok bool) {
	switch e.Type {
	case TypePointerDown, TypePointerUp, TypeClick:
	default:
		return 0, 0, 0, false
	}
	if e.T == nil || e.XRaw == nil || e.YRaw == nil {
		return 0, 0, 0, false
	}
	return *e.T, *e.XRaw, *e.YRaw, true
}

// Moves returns the delta run of a moves/moves_free event, or ok=false.
func (e Event) Moves() (*MovesPayload, bool) {
	switch e.Type {
	case TypeMoves, TypeMovesFree:
	default:
		return nil, false
	}
	if e.Payload == nil {
		return nil, false
	}
	return e.Payload, true
}

// Chunk is one slice of a session's event stream. Chunks arrive out of
// order and at least once; SessionID is the session's opaque client token.
type Chunk struct {
	SessionID   string  `json:"session_id"`
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	Events      []Event `json:"events"`
	Meta        Meta    `json:"meta"`
	TimestampMs int64   `json:"timestamp"`
}

func ParseChunk(raw []byte) (Chunk, error) {
	var chunk Chunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return Chunk{}, fmt.Errorf("unmarshal chunk: %w", err)
	}
	if err := chunk.Validate(); err != nil {
		return Chunk{}, fmt.Errorf("invalid chunk: %w", err)
	}
	return chunk, nil
}

func (c Chunk) Validate() error {
	if c.SessionID == "" {
		return errors.New("session_id is required")
	}
	if c.TotalChunks <= 0 {
		return errors.New("total_chunks must be positive")
	}
	if c.ChunkIndex < 0 || c.ChunkIndex >= c.TotalChunks {
		return fmt.Errorf("chunk_index %d out of range [0,%d)", c.ChunkIndex, c.TotalChunks)
	}
	return nil
}
