package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vpaquet/readalong/internal/document"
	"github.com/vpaquet/readalong/internal/highlight"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client -> server.
	TypeClientControl MessageType = "client_control"

	// Server -> client.
	TypePlaybackState  MessageType = "playback_state"
	TypeBufferingState MessageType = "buffering_state"
	TypeTimeUpdate     MessageType = "time_update"
	TypeDurationUpdate MessageType = "duration_update"
	TypeChapterAdded   MessageType = "chapter_added"
	TypeHighlight      MessageType = "highlight"
	TypeScroll         MessageType = "scroll"
	TypeErrorEvent     MessageType = "error_event"
)

// Control actions a client may request.
const (
	ActionPlay           = "play"
	ActionPause          = "pause"
	ActionSeek           = "seek"
	ActionPlaySegment    = "play_segment"
	ActionPlayFromOffset = "play_from_offset"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl carries one playback command. Seconds is used by seek,
// Index by play_segment, Offset by play_from_offset.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Seconds   float64     `json:"seconds,omitempty"`
	Index     int         `json:"index,omitempty"`
	Offset    int         `json:"offset,omitempty"`
}

type PlaybackState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

type BufferingState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Buffering bool        `json:"buffering"`
}

type TimeUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Seconds   float64     `json:"seconds"`
}

type DurationUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Seconds   float64     `json:"seconds"`
}

type ChapterAdded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Index     int         `json:"index"`
	Start     float64     `json:"start"`
	End       float64     `json:"end"`
}

type HighlightEvent struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"session_id"`
	Chapter   int                  `json:"chapter"`
	Word      string               `json:"word"`
	Runs      []document.RunRange  `json:"runs"`
}

type ScrollEvent struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"session_id"`
	Hint      highlight.ScrollHint `json:"hint"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if err := validateControl(msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validateControl(msg ClientControl) error {
	switch msg.Action {
	case ActionPlay, ActionPause:
		return nil
	case ActionSeek:
		if msg.Seconds < 0 {
			return errors.New("seek seconds must not be negative")
		}
		return nil
	case ActionPlaySegment:
		if msg.Index < 0 {
			return errors.New("play_segment index must not be negative")
		}
		return nil
	case ActionPlayFromOffset:
		if msg.Offset < 0 {
			return errors.New("play_from_offset offset must not be negative")
		}
		return nil
	case "":
		return errors.New("invalid client_control")
	default:
		return fmt.Errorf("unknown control action %q", msg.Action)
	}
}
