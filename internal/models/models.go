package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

/*** Signaling channel ***/

// Signaling message types. The hub never interprets payloads beyond
// Type, To and Context; everything else is relayed verbatim.
const (
	SignalAssignID    = "assign-id"
	SignalJoin        = "join"
	SignalOffer       = "offer"
	SignalAnswer      = "answer"
	SignalCandidate   = "candidate"
	SignalLeave       = "leave"
	SignalMediaUpdate = "media-update"
)

// Media contexts. A peer negotiates webcam and screen-share as two
// independent exchanges under the same peer id.
const (
	ContextWebcam = "webcam"
	ContextScreen = "screen"
)

// SignalEnvelope is the JSON envelope exchanged on the signaling socket.
// From and Name are stamped by the hub and never trusted from the client.
type SignalEnvelope struct {
	Type    string          `json:"type"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Name    string          `json:"name,omitempty"`
	Context string          `json:"context,omitempty"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// MediaState is the payload of a media-update envelope.
type MediaState struct {
	Mic    bool `json:"mic"`
	Camera bool `json:"camera"`
}

// PeerInfo is the roster entry kept for every participant of a room.
type PeerInfo struct {
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
	MicOn       bool   `json:"micOn"`
	CameraOn    bool   `json:"cameraOn"`
}

// PresenceEvent is published on Redis so that sibling service instances
// can keep their rosters in sync.
type PresenceEvent struct {
	Type       string `json:"type"` // "peer-joined", "peer-left", "media-update"
	RoomID     string `json:"roomId"`
	PeerID     string `json:"peerId"`
	Name       string `json:"name,omitempty"`
	Mic        bool   `json:"mic,omitempty"`
	Camera     bool   `json:"camera,omitempty"`
	InstanceID string `json:"instanceId"`
	Timestamp  int64  `json:"timestamp"`
}

/*** Document channel ***/

// Document field names. Each field is a single-element sequence so
// operations address them uniformly as [field, 0].
const (
	FieldContent = "content"
	FieldInput   = "input"
	FieldOutput  = "output"
	FieldLang    = "lang"
)

// OpPath is the [field, index] address of an operation. A nil Index
// addresses the field container itself (a parent-level operation).
type OpPath struct {
	Field string
	Index *int
}

func PathTo(field string) OpPath {
	idx := 0
	return OpPath{Field: field, Index: &idx}
}

func (p OpPath) MarshalJSON() ([]byte, error) {
	if p.Index == nil {
		return json.Marshal([]any{p.Field})
	}
	return json.Marshal([]any{p.Field, *p.Index})
}

func (p *OpPath) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return errors.New("empty op path")
	}
	if err := json.Unmarshal(raw[0], &p.Field); err != nil {
		return fmt.Errorf("op path field: %w", err)
	}
	p.Index = nil
	if len(raw) > 1 {
		var idx int
		if err := json.Unmarshal(raw[1], &idx); err != nil {
			return fmt.Errorf("op path index: %w", err)
		}
		p.Index = &idx
	}
	return nil
}

// Operation is a minimal field-scoped change descriptor. A replace carries
// both LI (new value) and LD (previous value); a content change carries SI
// or SD anchored at RangeOffset.
type Operation struct {
	P           OpPath  `json:"p"`
	LI          *string `json:"li,omitempty"`
	LD          *string `json:"ld,omitempty"`
	SI          string  `json:"si,omitempty"`
	SD          string  `json:"sd,omitempty"`
	RangeOffset int     `json:"rangeOffset,omitempty"`
}

// IsReplace reports whether the operation replaces a whole field value.
func (o Operation) IsReplace() bool { return o.LI != nil }

// CursorRange is an editor selection; a zero-width range is a caret.
type CursorRange struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// IsCaret reports whether the range is zero-width.
func (r CursorRange) IsCaret() bool {
	return r.StartLine == r.EndLine && r.StartCol == r.EndCol
}

// DocSnapshot is the full document state sent on subscription.
type DocSnapshot struct {
	Content string `json:"content"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	Lang    string `json:"lang"`
	Version int    `json:"version"`
}

// Document socket frame types.
const (
	DocFrameInit     = "init"
	DocFrameOp       = "op"
	DocFramePresence = "presence"
	DocFrameError    = "error"
)

// DocFrame is the JSON frame exchanged on the document socket. Op frames
// carry the submitting binding's Source tag so clients can drop echoes; a
// presence frame with a nil Range clears that peer's cursor.
type DocFrame struct {
	Type     string       `json:"type"`
	Snapshot *DocSnapshot `json:"snapshot,omitempty"`
	Op       *Operation   `json:"op,omitempty"`
	Source   string       `json:"source,omitempty"`
	ID       string       `json:"id,omitempty"`
	Range    *CursorRange `json:"range,omitempty"`
	Error    string       `json:"error,omitempty"`
}

/*** Code execution ***/

type Language string

const (
	LangPython Language = "python"
	LangJava   Language = "java"
	LangCPP    Language = "cpp"
)

type RunRequest struct {
	SessionID string   `json:"id"`
	Language  Language `json:"lang"`
	Code      string   `json:"code"`
	Stdin     string   `json:"input,omitempty"`
}

type RunResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Exit     int    `json:"exit"`
	TimedOut bool   `json:"timedOut"`
}

/*** Session management ***/

type CreateSessionRequest struct {
	ID string `json:"id"`
}

type CreateSessionResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}
